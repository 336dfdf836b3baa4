// Package selector implements C5: the load-balancing disciplines applied to
// an already-filtered candidate set, grounded on
// internal/global/loadbalancing.go's algorithm switch (round robin,
// weighted round robin, least connections, least response time, random)
// generalized from network backends to fleet instances and extended with
// the spec's HealthBased strategy.
package selector

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/ish-automation/fleet-control-plane/internal/model"
)

// Strategy names one of the six disciplines from spec §4.2.
type Strategy string

const (
	RoundRobin        Strategy = "round_robin"
	Weighted          Strategy = "weighted"
	LeastConnections  Strategy = "least_connections"
	LeastResponseTime Strategy = "least_response_time"
	HealthBased       Strategy = "health_based"
	Random            Strategy = "random"
)

// Decision is the outcome of one Pick call.
type Decision struct {
	Chosen *model.Instance
	Reason string
}

// Selector holds the per-key round-robin counters (spec §5: "per-key atomic
// integers") and a source of randomness for Weighted/Random. It never
// writes through the Registry; Pick is pure given its inputs and counter
// state (spec P3).
type Selector struct {
	mu       sync.Mutex
	counters map[string]uint64
	rng      *rand.Rand
}

// New builds a Selector. Pass a seeded rand.Rand for deterministic tests
// (spec P3: "Weighted with fixed RNG seed are deterministic"); nil uses a
// private source seeded with 1.
func New(rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Selector{counters: make(map[string]uint64), rng: rng}
}

// ordered returns candidates sorted by the tie-break rule shared by every
// strategy: higher priority first, then lower instance_id.
func ordered(candidates []*model.Instance) []*model.Instance {
	out := make([]*model.Instance, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].InstanceID < out[j].InstanceID
	})
	return out
}

// Pick applies strategy over candidates. counterKey scopes RoundRobin's
// monotone counter, conventionally "(provider, model)".
func (s *Selector) Pick(candidates []*model.Instance, strategy Strategy, counterKey string) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{}, errNoCandidates
	}
	sorted := ordered(candidates)

	switch strategy {
	case RoundRobin:
		return s.roundRobin(sorted, counterKey), nil
	case Weighted:
		return s.weighted(sorted), nil
	case LeastConnections:
		return s.leastConnections(sorted), nil
	case LeastResponseTime:
		return s.leastResponseTime(sorted), nil
	case HealthBased:
		return s.healthBased(sorted), nil
	case Random:
		return s.random(sorted), nil
	default:
		return s.healthBased(sorted), nil
	}
}

func (s *Selector) roundRobin(candidates []*model.Instance, key string) Decision {
	s.mu.Lock()
	idx := s.counters[key]
	s.counters[key] = idx + 1
	s.mu.Unlock()

	chosen := candidates[int(idx)%len(candidates)]
	return Decision{Chosen: chosen, Reason: "round_robin"}
}

func (s *Selector) weighted(candidates []*model.Instance) Decision {
	weights := make([]float64, len(candidates))
	var total float64
	for i, c := range candidates {
		w := float64(c.Priority) * c.SuccessRatePct / 100
		weights[i] = w
		total += w
	}
	if total == 0 {
		for i, c := range candidates {
			weights[i] = float64(c.Priority)
			total += weights[i]
		}
	}
	if total == 0 {
		return Decision{Chosen: candidates[0], Reason: "weighted (no weight signal, first candidate)"}
	}

	draw := s.rng.Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if draw < cum {
			return Decision{Chosen: candidates[i], Reason: "weighted"}
		}
	}
	return Decision{Chosen: candidates[len(candidates)-1], Reason: "weighted"}
}

func (s *Selector) leastConnections(candidates []*model.Instance) Decision {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.CurrentLoad < best.CurrentLoad {
			best = c
		}
	}
	return Decision{Chosen: best, Reason: "least_connections"}
}

func (s *Selector) leastResponseTime(candidates []*model.Instance) Decision {
	var best *model.Instance
	for _, c := range candidates {
		if c.AvgResponseMS <= 0 {
			continue
		}
		if best == nil || c.AvgResponseMS < best.AvgResponseMS {
			best = c
		}
	}
	if best == nil {
		return Decision{Chosen: candidates[0], Reason: "least_response_time (no latency data, first candidate)"}
	}
	return Decision{Chosen: best, Reason: "least_response_time"}
}

func healthScore(c *model.Instance) float64 {
	healthy := 0.0
	if c.IsHealthy {
		healthy = 1.0
	}
	latencyTerm := 1 - c.AvgResponseMS/5000
	if latencyTerm < 0 {
		latencyTerm = 0
	}
	loadTerm := 0.0
	if c.MaxConcurrent > 0 {
		loadTerm = 1 - float64(c.CurrentLoad)/float64(c.MaxConcurrent)
	}
	return 0.4*c.SuccessRatePct/100 + 0.3*healthy + 0.2*latencyTerm + 0.1*loadTerm
}

func (s *Selector) healthBased(candidates []*model.Instance) Decision {
	best := candidates[0]
	bestScore := healthScore(best)
	for _, c := range candidates[1:] {
		score := healthScore(c)
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	return Decision{Chosen: best, Reason: fmt.Sprintf("health_based score=%.3f", bestScore)}
}

func (s *Selector) random(candidates []*model.Instance) Decision {
	idx := s.rng.Intn(len(candidates))
	return Decision{Chosen: candidates[idx], Reason: "random"}
}

var errNoCandidates = noCandidatesError{}

type noCandidatesError struct{}

func (noCandidatesError) Error() string { return "selector: empty candidate set" }
