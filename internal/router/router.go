// Package router implements C9: turning a raw query into a RoutingDecision
// by classifying it, filtering the fleet down to eligible candidates, and
// applying one of five routing strategies, grounded on
// original_source/src/services/intelligent_query_router.py's
// IntelligentQueryRouter.route_query (the Cost/Performance/Specialization/
// Balanced/RoundRobin strategy switch and its response caching) and on
// internal/global/loadbalancing.go for the underlying candidate selection.
package router

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ish-automation/fleet-control-plane/internal/breaker"
	"github.com/ish-automation/fleet-control-plane/internal/classifier"
	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/ctrlerr"
	"github.com/ish-automation/fleet-control-plane/internal/model"
	"github.com/ish-automation/fleet-control-plane/internal/registry"
	"github.com/ish-automation/fleet-control-plane/internal/selector"
	"github.com/ish-automation/fleet-control-plane/internal/specialization"
)

// Strategy is one of the five routing strategies from spec §4.6. It is
// distinct from selector.Strategy: a Router Strategy is a higher-level
// policy that may delegate to a selector.Strategy (Performance) or apply
// its own scoring (Cost, Specialization, Balanced, RoundRobin).
type Strategy string

const (
	Performance    Strategy = "performance"
	Cost           Strategy = "cost"
	Specialization Strategy = "specialization"
	Balanced       Strategy = "balanced"
	RoundRobin     Strategy = "round_robin"
)

const (
	defaultClassifyTimeout = 100 * time.Millisecond
	defaultCacheTTL        = 300 * time.Second
	defaultMinHealthPct    = 50.0
	defaultMaxAlternatives = 3
	assumedCostCeiling     = 0.05 // spec §4.6 balanced formula's cost normalizer
)

// Query is the inbound request to Route.
type Query struct {
	Text              string
	PreferredProvider model.Provider
	PreferredModel    string
	Strategy          Strategy
	MinHealthPct      float64 // 0 means defaultMinHealthPct
}

// Decision is the Router's output (spec §4.6's RoutingDecision).
type Decision struct {
	QueryAnalysis       classifier.Analysis
	Chosen              *model.Instance
	Alternatives        []*model.Instance
	Reason              string
	Confidence          float64
	EstimatedCost       float64
	EstimatedResponseMS float64
	RoutingMS           float64
	WasFallback         bool
	Strategy            Strategy
}

type cacheKey struct {
	queryType  classifier.QueryType
	complexity classifier.Complexity
	language   string
	strategy   Strategy
}

type cacheEntry struct {
	decision  Decision
	expiresAt time.Time
}

// Router is C9.
type Router struct {
	registry       *registry.Registry
	breaker        *breaker.Manager
	specialization *specialization.Registry
	selector       *selector.Selector
	clock          clock.Clock
	logger         *zap.Logger

	classifyTimeout time.Duration
	cacheTTL        time.Duration

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// Option configures a Router at construction, following the teacher's
// functional-options idiom.
type Option func(*Router)

func WithClassifyTimeout(d time.Duration) Option { return func(r *Router) { r.classifyTimeout = d } }
func WithCacheTTL(d time.Duration) Option        { return func(r *Router) { r.cacheTTL = d } }

func New(reg *registry.Registry, br *breaker.Manager, spec *specialization.Registry, sel *selector.Selector, clk clock.Clock, logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	r := &Router{
		registry:        reg,
		breaker:         br,
		specialization:  spec,
		selector:        sel,
		clock:           clk,
		logger:          logger,
		classifyTimeout: defaultClassifyTimeout,
		cacheTTL:        defaultCacheTTL,
		cache:           make(map[cacheKey]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ClearCache discards every cached decision (admin surface: "Clear router
// cache").
func (r *Router) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[cacheKey]cacheEntry)
	r.mu.Unlock()
}

// Route is the C9 entry point (spec §4.6).
func (r *Router) Route(ctx context.Context, q Query) (Decision, error) {
	start := r.clock.Now()

	analysis, fellBack := r.classifyWithTimeout(ctx, q.Text)

	strategy := q.Strategy
	if strategy == "" {
		strategy = Balanced
	}
	key := cacheKey{queryType: analysis.QueryType, complexity: analysis.Complexity, language: analysis.Language, strategy: strategy}

	if cached, ok := r.cacheLookup(key); ok {
		cached.QueryAnalysis = analysis
		cached.RoutingMS = msSince(r.clock, start)
		return cached, nil
	}

	minHealth := q.MinHealthPct
	if minHealth <= 0 {
		minHealth = defaultMinHealthPct
	}

	candidates := r.registry.List(registry.ListFilter{
		Provider:           q.PreferredProvider,
		Model:              q.PreferredModel,
		ActiveOnly:         true,
		ExcludeMaintenance: true,
		MinHealthPct:       minHealth,
	})
	candidates = r.excludeCircuitOpen(candidates)
	candidates = r.narrowBySpecialization(candidates, q.PreferredModel, analysis.QueryType)

	if len(candidates) == 0 {
		// Supplemented fallback routing: pick the best health-based score
		// among all active, non-maintenance instances whose circuit is not
		// open, regardless of provider/model preference and the min-health
		// floor, before giving up (spec is silent on this; a pure NoCapacity error on every
		// narrow miss makes the system brittle under real fleets).
		fallback := r.registry.List(registry.ListFilter{ActiveOnly: true, ExcludeMaintenance: true})
		fallback = r.excludeCircuitOpen(fallback)
		if len(fallback) == 0 {
			return Decision{}, ctrlerr.ErrNoCapacity(string(q.PreferredProvider), q.PreferredModel)
		}
		d, err := r.selector.Pick(fallback, selector.HealthBased, "")
		if err != nil {
			return Decision{}, ctrlerr.ErrNoCapacity(string(q.PreferredProvider), q.PreferredModel)
		}
		decision := Decision{
			QueryAnalysis: analysis,
			Chosen:        d.Chosen,
			Reason:        "fallback: no candidates matched preferences or strategy filters",
			Confidence:    analysis.Confidence * 0.5,
			WasFallback:   true,
			RoutingMS:     msSince(r.clock, start),
			Strategy:      strategy,
		}
		return decision, nil
	}

	decision, err := r.applyStrategy(candidates, analysis, strategy)
	if err != nil {
		return Decision{}, err
	}
	decision.QueryAnalysis = analysis
	decision.WasFallback = fellBack
	decision.Strategy = strategy
	decision.RoutingMS = msSince(r.clock, start)
	if decision.EstimatedCost == 0 {
		decision.EstimatedCost = r.estimateCost(decision.Chosen, analysis.EstimatedTokens)
	}
	if decision.EstimatedResponseMS == 0 {
		decision.EstimatedResponseMS = decision.Chosen.AvgResponseMS
	}

	r.cacheStore(key, decision)
	return decision, nil
}

// SelectCandidate is the lower-level primitive reused by the failover
// executor's re-selection step (spec §4.7: "re-select using the same
// strategy, excluding instances already tried").
func (r *Router) SelectCandidate(candidates []*model.Instance, analysis classifier.Analysis, strategy Strategy) (Decision, error) {
	return r.applyStrategy(candidates, analysis, strategy)
}

func (r *Router) classifyWithTimeout(ctx context.Context, text string) (classifier.Analysis, bool) {
	timeout := r.classifyTimeout
	if timeout <= 0 {
		timeout = defaultClassifyTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan classifier.Analysis, 1)
	go func() { result <- classifier.Classify(text) }()

	select {
	case a := <-result:
		return a, false
	case <-cctx.Done():
		r.logger.Warn("classification exceeded soft timeout, falling back", zap.Duration("timeout", timeout))
		return classifier.Analysis{
			QueryType:       classifier.General,
			Complexity:      classifier.Medium,
			Language:        "english",
			EstimatedTokens: 100,
			Confidence:      0.3,
		}, true
	}
}

func (r *Router) cacheLookup(key cacheKey) (Decision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[key]
	if !ok || r.clock.Now().After(e.expiresAt) {
		return Decision{}, false
	}
	return e.decision, true
}

func (r *Router) cacheStore(key cacheKey, d Decision) {
	ttl := r.cacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	r.mu.Lock()
	r.cache[key] = cacheEntry{decision: d, expiresAt: r.clock.Now().Add(ttl)}
	r.mu.Unlock()
}

func (r *Router) excludeCircuitOpen(candidates []*model.Instance) []*model.Instance {
	if r.breaker == nil {
		return candidates
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if r.breaker.IsAvailable(c.InstanceID) {
			out = append(out, c)
		}
	}
	return out
}

// narrowBySpecialization is a soft hint, not a hard filter: when no
// explicit model was requested, prefer candidates whose (provider, model)
// is a seeded strength for this query type, but fall back to the full
// candidate set if the hint matches nothing currently in the fleet.
func (r *Router) narrowBySpecialization(candidates []*model.Instance, preferredModel string, qType classifier.QueryType) []*model.Instance {
	if preferredModel != "" || r.specialization == nil {
		return candidates
	}
	best := r.specialization.BestFor(qType)
	if len(best) == 0 {
		return candidates
	}
	wanted := make(map[string]bool, len(best))
	for _, s := range best {
		wanted[string(s.Provider)+"/"+s.ModelName] = true
	}
	var narrowed []*model.Instance
	for _, c := range candidates {
		if wanted[string(c.Provider)+"/"+c.Model] {
			narrowed = append(narrowed, c)
		}
	}
	if len(narrowed) == 0 {
		return candidates
	}
	return narrowed
}

func (r *Router) applyStrategy(candidates []*model.Instance, analysis classifier.Analysis, strategy Strategy) (Decision, error) {
	switch strategy {
	case Performance:
		return r.byPerformance(candidates)
	case Cost:
		return r.byCost(candidates, analysis.EstimatedTokens)
	case Specialization:
		return r.bySpecialization(candidates, analysis)
	case RoundRobin:
		return r.byRoundRobin(candidates, analysis.QueryID)
	default:
		return r.byBalanced(candidates, analysis)
	}
}

func (r *Router) byPerformance(candidates []*model.Instance) (Decision, error) {
	d, err := r.selector.Pick(candidates, selector.HealthBased, "")
	if err != nil {
		return Decision{}, ctrlerr.ErrNoCapacity("", "")
	}
	return Decision{Chosen: d.Chosen, Alternatives: alternativesOf(candidates, d.Chosen), Reason: "performance: " + d.Reason, Confidence: 0.9}, nil
}

func (r *Router) byCost(candidates []*model.Instance, estimatedTokens int) (Decision, error) {
	best := candidates[0]
	bestCost := r.estimateCost(best, estimatedTokens)
	for _, c := range candidates[1:] {
		cost := r.estimateCost(c, estimatedTokens)
		if cost < bestCost {
			best = c
			bestCost = cost
		}
	}
	return Decision{Chosen: best, Alternatives: alternativesOf(candidates, best), Reason: "cost: lowest estimated spend", Confidence: 0.85, EstimatedCost: bestCost}, nil
}

func (r *Router) bySpecialization(candidates []*model.Instance, analysis classifier.Analysis) (Decision, error) {
	var strong []*model.Instance
	for _, c := range candidates {
		spec := r.specializationOf(c)
		if spec.HasStrength(analysis.QueryType) {
			strong = append(strong, c)
		}
	}
	if len(strong) == 0 {
		// spec §4.6: Specialization falls back to Performance when no
		// candidate lists the query type as a strength.
		d, err := r.byPerformance(candidates)
		if err != nil {
			return Decision{}, err
		}
		d.Reason = "specialization: no strength match, fell back to performance"
		return d, nil
	}
	d, err := r.selector.Pick(strong, selector.HealthBased, "")
	if err != nil {
		return Decision{}, ctrlerr.ErrNoCapacity("", "")
	}
	return Decision{Chosen: d.Chosen, Alternatives: alternativesOf(strong, d.Chosen), Reason: "specialization: strength match", Confidence: 0.95}, nil
}

func (r *Router) byRoundRobin(candidates []*model.Instance, queryID string) (Decision, error) {
	ordered := make([]*model.Instance, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].InstanceID < ordered[j].InstanceID })

	h := fnv.New32a()
	_, _ = h.Write([]byte(queryID))
	idx := int(h.Sum32()) % len(ordered)
	if idx < 0 {
		idx += len(ordered)
	}
	chosen := ordered[idx]
	return Decision{Chosen: chosen, Alternatives: alternativesOf(ordered, chosen), Reason: "round_robin: hash(query_id)", Confidence: 0.7}, nil
}

func (r *Router) byBalanced(candidates []*model.Instance, analysis classifier.Analysis) (Decision, error) {
	best := candidates[0]
	bestScore := r.balancedScore(best, analysis.QueryType)
	for _, c := range candidates[1:] {
		score := r.balancedScore(c, analysis.QueryType)
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	return Decision{Chosen: best, Alternatives: alternativesOf(candidates, best), Reason: "balanced: weighted composite score", Confidence: 0.8}, nil
}

// balancedScore implements spec §4.6's exact formula:
//
//	0.4*spec_bonus + 0.3*success_rate/100 + 0.2*(1-cost_per_1k/0.05) + 0.1*(1-load/max_concurrent)
func (r *Router) balancedScore(c *model.Instance, qType classifier.QueryType) float64 {
	spec := r.specializationOf(c)
	specBonus := 0.0
	switch {
	case spec.HasStrength(qType):
		specBonus = spec.QualityScore
	case spec.HasWeakness(qType):
		specBonus = -0.2
	}

	costTerm := 1 - spec.CostPer1kTokens/assumedCostCeiling
	loadTerm := 0.0
	if c.MaxConcurrent > 0 {
		loadTerm = 1 - float64(c.CurrentLoad)/float64(c.MaxConcurrent)
	}
	return 0.4*specBonus + 0.3*c.SuccessRatePct/100 + 0.2*costTerm + 0.1*loadTerm
}

func (r *Router) specializationOf(c *model.Instance) specialization.Specialization {
	if r.specialization == nil {
		return specialization.Specialization{CostPer1kTokens: 0.01}
	}
	return r.specialization.Get(c.Provider, c.Model)
}

func (r *Router) estimateCost(c *model.Instance, estimatedTokens int) float64 {
	spec := r.specializationOf(c)
	return float64(estimatedTokens) / 1000 * spec.CostPer1kTokens
}

func alternativesOf(candidates []*model.Instance, chosen *model.Instance) []*model.Instance {
	var out []*model.Instance
	for _, c := range candidates {
		if c.InstanceID == chosen.InstanceID {
			continue
		}
		out = append(out, c)
		if len(out) >= defaultMaxAlternatives {
			break
		}
	}
	return out
}

func msSince(clk clock.Clock, start time.Time) float64 {
	return float64(clk.Now().Sub(start).Microseconds()) / 1000
}

// Statistics is the supplemented admin-surface summary (SPEC_FULL.md:
// "routing statistics surface").
type Statistics struct {
	CacheSize int
}

// Statistics reports the current cache occupancy only; no strategy or
// query-type distributions and no circuit-breaker status are tracked.
func (r *Router) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Statistics{CacheSize: len(r.cache)}
}
