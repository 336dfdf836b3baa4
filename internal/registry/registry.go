// Package registry implements C4: the in-memory + backing-store view of
// fleet instances. It is the sole owner of live Instance mutation (spec §3
// "Ownership") and of the per-instance CircuitBreaker (spec §9, "breaker
// is owned by Registry, keyed by instance_id").
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ish-automation/fleet-control-plane/internal/breaker"
	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/ctrlerr"
	"github.com/ish-automation/fleet-control-plane/internal/model"
	"github.com/ish-automation/fleet-control-plane/internal/store"
)

// RegisterRequest is the payload for Register.
type RegisterRequest struct {
	Instance *model.Instance
}

// liveInstance bundles an Instance with its per-record lock (spec §4.1:
// "Writes are per-record serialized") and a token-bucket limiter for
// max_tokens_per_minute, grounded on internal/drivers/throttle.go's use of
// golang.org/x/time/rate.
type liveInstance struct {
	mu       sync.Mutex
	instance *model.Instance
	limiter  *rate.Limiter
}

// Registry is C4.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*liveInstance

	store   store.Store
	breaker *breaker.Manager
	clock   clock.Clock
	logger  *zap.Logger

	// ScaleUpHintFn is invoked when UpdateLoad detects the advisory
	// scale-up condition (spec §4.1); nil is a no-op.
	ScaleUpHintFn func(ctx context.Context, instanceID string)
}

func New(st store.Store, br *breaker.Manager, clk clock.Clock, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		instances: make(map[string]*liveInstance),
		store:     st,
		breaker:   br,
		clock:     clk,
		logger:    logger,
	}
}

func newLimiter(in *model.Instance) *rate.Limiter {
	if in.MaxTokensPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	perSecond := float64(in.MaxTokensPerMinute) / 60.0
	return rate.NewLimiter(rate.Limit(perSecond), in.MaxTokensPerMinute)
}

// Register upserts by instance_id. New instances land in Starting; a
// second register of the same ID is treated as an update (spec §4.1
// "Failure semantics").
func (r *Registry) Register(ctx context.Context, in *model.Instance) (*model.Instance, error) {
	now := r.clock.Now()

	r.mu.Lock()
	existing, already := r.instances[in.InstanceID]
	r.mu.Unlock()

	if already {
		existing.mu.Lock()
		prev := *existing.instance
		merged := *in
		merged.CreatedAt = existing.instance.CreatedAt
		merged.Status = existing.instance.Status
		merged.CurrentLoad = existing.instance.CurrentLoad
		merged.UpdatedAt = now
		existing.instance = &merged
		existing.mu.Unlock()

		if err := r.store.UpsertInstance(ctx, existing.instance); err != nil {
			existing.mu.Lock()
			existing.instance = &prev
			existing.mu.Unlock()
			return nil, ctrlerr.Wrap(err, "register (update)")
		}
		cp := *existing.instance
		return &cp, nil
	}

	cp := *in
	cp.Status = model.StatusStarting
	cp.IsActive = true
	cp.CreatedAt = now
	cp.UpdatedAt = now
	if cp.MaxConcurrent <= 0 {
		cp.MaxConcurrent = 10
	}

	if err := r.store.UpsertInstance(ctx, &cp); err != nil {
		return nil, ctrlerr.Wrap(err, "register (create)")
	}

	li := &liveInstance{instance: &cp, limiter: newLimiter(&cp)}
	r.mu.Lock()
	r.instances[cp.InstanceID] = li
	r.mu.Unlock()

	out := cp
	return &out, nil
}

// Deregister marks an instance Stopped and removes it from live selection.
func (r *Registry) Deregister(ctx context.Context, instanceID string) error {
	r.mu.RLock()
	li, ok := r.instances[instanceID]
	r.mu.RUnlock()
	if !ok {
		return ctrlerr.ErrNotFound
	}

	li.mu.Lock()
	prev := *li.instance
	li.instance.Status = model.StatusStopped
	li.instance.IsActive = false
	li.instance.UpdatedAt = r.clock.Now()
	snapshot := *li.instance
	li.mu.Unlock()

	if err := r.store.UpsertInstance(ctx, &snapshot); err != nil {
		li.mu.Lock()
		*li.instance = prev
		li.mu.Unlock()
		return ctrlerr.Wrap(err, "deregister")
	}
	return nil
}

func (r *Registry) Get(instanceID string) (*model.Instance, error) {
	r.mu.RLock()
	li, ok := r.instances[instanceID]
	r.mu.RUnlock()
	if !ok {
		return nil, ctrlerr.ErrNotFound
	}
	li.mu.Lock()
	defer li.mu.Unlock()
	cp := *li.instance
	return &cp, nil
}

// ListFilter narrows List; zero values mean "no filter."
type ListFilter struct {
	Provider         model.Provider
	Model            string
	ActiveOnly       bool
	ExcludeMaintenance bool
	MinHealthPct     float64 // success_rate floor, e.g. 50 for min_health=0.5
}

// List returns a point-in-time snapshot (spec §5: "no atomicity; the
// candidate snapshot... is a point-in-time view").
func (r *Registry) List(filter ListFilter) []*model.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Instance
	for _, li := range r.instances {
		li.mu.Lock()
		in := *li.instance
		li.mu.Unlock()

		if filter.Provider != "" && in.Provider != filter.Provider {
			continue
		}
		if filter.Model != "" && in.Model != filter.Model {
			continue
		}
		if filter.ActiveOnly && !in.IsActive {
			continue
		}
		if filter.ExcludeMaintenance && in.Status == model.StatusMaintenance {
			continue
		}
		if filter.MinHealthPct > 0 && in.SuccessRatePct < filter.MinHealthPct {
			continue
		}
		cp := in
		out = append(out, &cp)
	}
	return out
}

// UpdateLoad adjusts current_load by a signed delta and emits a scale-up
// hint (spec §4.1) when the resulting load crosses 80% of capacity and
// enough time has passed since the last scaling action.
func (r *Registry) UpdateLoad(ctx context.Context, instanceID string, delta int) error {
	r.mu.RLock()
	li, ok := r.instances[instanceID]
	r.mu.RUnlock()
	if !ok {
		return ctrlerr.ErrNotFound
	}

	li.mu.Lock()
	li.instance.CurrentLoad += delta
	if li.instance.CurrentLoad < 0 {
		li.instance.CurrentLoad = 0
	}
	load := li.instance.CurrentLoad
	cap := li.instance.MaxConcurrent
	lastScaled := li.instance.LastScaledAt
	li.mu.Unlock()

	if cap > 0 && float64(load) >= 0.8*float64(cap) && r.clock.Now().Sub(lastScaled) > 5*time.Minute {
		if r.ScaleUpHintFn != nil {
			r.ScaleUpHintFn(ctx, instanceID)
		}
	}
	return nil
}

// ProbeOrRequestResult feeds UpdateRollingMetrics: either a probe outcome
// or a completed request's outcome.
type ProbeOrRequestResult struct {
	Success    bool
	ResponseMS *float64
}

// UpdateRollingMetrics folds one result into the success rate and average
// response time (spec §4.1). The success rate is successful/total over all
// results since registration, and the response time is an exponential
// moving average (the first sample as-is, then 0.9*old + 0.1*new); no time
// window is applied to either. Writes are serialized per instance.
func (r *Registry) UpdateRollingMetrics(ctx context.Context, instanceID string, result ProbeOrRequestResult) error {
	r.mu.RLock()
	li, ok := r.instances[instanceID]
	r.mu.RUnlock()
	if !ok {
		return ctrlerr.ErrNotFound
	}

	li.mu.Lock()
	prev := *li.instance
	li.instance.TotalRequests++
	if result.Success {
		li.instance.SuccessfulRequests++
		li.instance.LastSuccess = r.clock.Now()
	} else {
		li.instance.FailedRequests++
	}
	li.instance.SuccessRatePct = li.instance.SuccessRate()
	if result.ResponseMS != nil {
		if li.instance.AvgResponseMS == 0 {
			li.instance.AvgResponseMS = *result.ResponseMS
		} else {
			// incremental-average fast path, grounded on
			// original_source's update_routing_metrics.
			li.instance.AvgResponseMS = li.instance.AvgResponseMS*0.9 + *result.ResponseMS*0.1
		}
	}
	li.instance.UpdatedAt = r.clock.Now()
	snapshot := *li.instance
	li.mu.Unlock()

	if err := r.store.UpsertInstance(ctx, &snapshot); err != nil {
		li.mu.Lock()
		*li.instance = prev
		li.mu.Unlock()
		return ctrlerr.Wrap(err, "update_rolling_metrics")
	}
	return nil
}

// SetStatus transitions an instance's lifecycle status (spec §3 lifecycle).
func (r *Registry) SetStatus(ctx context.Context, instanceID string, status model.InstanceStatus) error {
	r.mu.RLock()
	li, ok := r.instances[instanceID]
	r.mu.RUnlock()
	if !ok {
		return ctrlerr.ErrNotFound
	}
	li.mu.Lock()
	li.instance.Status = status
	if status == model.StatusHealthy {
		li.instance.IsHealthy = true
	} else if status == model.StatusUnhealthy {
		li.instance.IsHealthy = false
	}
	li.instance.UpdatedAt = r.clock.Now()
	snapshot := *li.instance
	li.mu.Unlock()

	if err := r.store.UpsertInstance(ctx, &snapshot); err != nil {
		return ctrlerr.Wrap(err, "set_status")
	}
	return nil
}

// ReserveTokens attempts to admit estimatedTokens against the instance's
// token-bucket budget, returning false (without error) if the budget is
// exhausted so callers can treat the instance as ineligible rather than
// queueing (spec §5 "Backpressure").
func (r *Registry) ReserveTokens(instanceID string, estimatedTokens int) bool {
	r.mu.RLock()
	li, ok := r.instances[instanceID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return li.limiter.AllowN(r.clock.Now(), estimatedTokens)
}

// Breaker exposes the shared circuit breaker manager to Router/FailoverExecutor
// without those packages needing their own handle on the Registry's internals.
func (r *Registry) Breaker() *breaker.Manager { return r.breaker }
