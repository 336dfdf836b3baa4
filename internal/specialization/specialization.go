// Package specialization implements C7: a read-mostly lookup of which
// (provider, model) excels or struggles at which query type, seeded from a
// YAML file and optionally live-reloaded, grounded on
// original_source/src/services/intelligent_query_router.py's
// ModelSpecializationRegistry (a fixed seed dict keyed by
// "<provider>_<model>") and on the teacher's config-reload idiom.
package specialization

import (
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ish-automation/fleet-control-plane/internal/classifier"
	"github.com/ish-automation/fleet-control-plane/internal/model"
)

// Specialization is the per-(provider,model) knowledge record (spec §4.4).
type Specialization struct {
	Provider          model.Provider         `yaml:"-"`
	ModelName         string                 `yaml:"-"`
	Strengths         []classifier.QueryType `yaml:"strengths"`
	Weaknesses        []classifier.QueryType `yaml:"weaknesses"`
	CostPer1kTokens   float64                `yaml:"cost_per_1k_tokens"`
	AverageResponseMS float64                `yaml:"average_response_ms"`
	QualityScore      float64                `yaml:"quality_score"`
	MaxTokens         int                    `yaml:"max_tokens"`
	SupportsStreaming bool                   `yaml:"supports_streaming"`
	SupportsFunctions bool                   `yaml:"supports_functions"`
}

// defaultSpecialization is returned for any (provider, model) with no
// seeded entry (spec §4.4: "tolerate missing entries... default cost
// 0.01").
var defaultSpecialization = Specialization{CostPer1kTokens: 0.01}

func (s Specialization) hasStrength(qt classifier.QueryType) bool {
	for _, t := range s.Strengths {
		if t == qt {
			return true
		}
	}
	return false
}

func (s Specialization) hasWeakness(qt classifier.QueryType) bool {
	for _, t := range s.Weaknesses {
		if t == qt {
			return true
		}
	}
	return false
}

// HasStrength/HasWeakness are exported for the Router's Specialization and
// Balanced strategies.
func (s Specialization) HasStrength(qt classifier.QueryType) bool  { return s.hasStrength(qt) }
func (s Specialization) HasWeakness(qt classifier.QueryType) bool  { return s.hasWeakness(qt) }

type seedFile struct {
	Models map[string]Specialization `yaml:"models"`
}

func key(provider model.Provider, m string) string {
	return string(provider) + "_" + m
}

// splitKey reverses key: seed entries are named "<provider>_<model>" where
// model itself may contain underscores, so split on the first one.
func splitKey(k string) (model.Provider, string) {
	idx := strings.IndexByte(k, '_')
	if idx < 0 {
		return model.ProviderOther, k
	}
	return model.Provider(k[:idx]), k[idx+1:]
}

// Registry is the C7 read-mostly lookup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Specialization
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	path    string
}

// New builds an empty Registry; call LoadFile to seed it.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{entries: make(map[string]Specialization), logger: logger}
}

// LoadFile parses a YAML seed file of the shape:
//
//	models:
//	  openai_gpt-4:
//	    strengths: [complex_reasoning, code_generation]
//	    cost_per_1k_tokens: 0.03
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return err
	}

	entries := make(map[string]Specialization, len(seed.Models))
	for k, spec := range seed.Models {
		spec.Provider, spec.ModelName = splitKey(k)
		entries[k] = spec
	}

	r.mu.Lock()
	r.entries = entries
	r.path = path
	r.mu.Unlock()

	r.logger.Info("specialization registry loaded", zap.String("path", path), zap.Int("entries", len(seed.Models)))
	return nil
}

// Get looks up a (provider, model) pair, returning the tolerant default
// when no entry is seeded.
func (r *Registry) Get(provider model.Provider, modelName string) Specialization {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if spec, ok := r.entries[key(provider, modelName)]; ok {
		return spec
	}
	return defaultSpecialization
}

// BestFor returns every seeded specialization that lists qt as a strength,
// matching original_source's get_best_models_for_query_type.
func (r *Registry) BestFor(qt classifier.QueryType) []Specialization {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Specialization
	for _, s := range r.entries {
		if s.hasStrength(qt) {
			out = append(out, s)
		}
	}
	return out
}

// WatchFile starts an fsnotify watch on the seed file and reloads on
// write, per spec §4.4 ("may be reloaded live"). Call Close to stop.
func (r *Registry) WatchFile(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := r.LoadFile(path); err != nil {
						r.logger.Warn("specialization reload failed", zap.Error(err))
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("specialization watch error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the live-reload watch, if any.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}
