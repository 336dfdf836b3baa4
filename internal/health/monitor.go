// Package health implements C11: one cooperative probe loop per active
// instance, grounded on internal/global/loadbalancing.go's
// healthCheckLoop/checkAllBackends (ticker-driven, per-target goroutine,
// timeout-bounded check, state transition under lock) and
// internal/drivers/health.go's timeout-enforced-check-via-goroutine-and-
// select idiom, generalized from a static up/down health checker to the
// multi-probe-type, scored health state machine spec §4.8 requires.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/model"
	"github.com/ish-automation/fleet-control-plane/internal/probe"
	"github.com/ish-automation/fleet-control-plane/internal/registry"
	"github.com/ish-automation/fleet-control-plane/internal/store"
)

const (
	defaultInterval    = 30 * time.Second
	defaultProbeTimeout = 10 * time.Second
	defaultMaxFailures = 3
	failureWindow      = 10 * time.Minute
	latencyMinInterval = 2 * time.Minute
	comprehensiveMinInterval = 5 * time.Minute
	loadThresholdRatio = 0.7
)

// Option configures a Monitor, following the teacher's functional-options
// idiom (WithCheckTimeout in internal/drivers/health.go).
type Option func(*Monitor)

func WithInterval(d time.Duration) Option    { return func(m *Monitor) { m.interval = d } }
func WithProbeTimeout(d time.Duration) Option { return func(m *Monitor) { m.probeTimeout = d } }
func WithMaxFailures(n int) Option           { return func(m *Monitor) { m.maxFailures = n } }

// instanceState tracks the per-instance scheduling state the loop needs
// between ticks: when each probe type last ran and the recent failure
// history used by the demotion rule.
type instanceState struct {
	mu               sync.Mutex
	lastLatency      time.Time
	lastComprehensive time.Time
	recentFailures   []time.Time
	cancel           context.CancelFunc
}

// Monitor is C11.
type Monitor struct {
	registry *registry.Registry
	prober   probe.Prober
	store    store.Store
	clock    clock.Clock
	logger   *zap.Logger

	interval     time.Duration
	probeTimeout time.Duration
	maxFailures  int

	mu     sync.Mutex
	states map[string]*instanceState
	wg     sync.WaitGroup
}

func New(reg *registry.Registry, prober probe.Prober, st store.Store, clk clock.Clock, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	m := &Monitor{
		registry:     reg,
		prober:       prober,
		store:        st,
		clock:        clk,
		logger:       logger,
		interval:     defaultInterval,
		probeTimeout: defaultProbeTimeout,
		maxFailures:  defaultMaxFailures,
		states:       make(map[string]*instanceState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches one cooperative loop per currently-registered active,
// non-Maintenance instance. Instances registered later are not picked up
// until the next Start call (spec's admin surface exposes Start/Stop
// explicitly rather than having the Monitor self-discover new instances
// mid-run).
func (m *Monitor) Start(ctx context.Context) {
	candidates := m.registry.List(registry.ListFilter{ActiveOnly: true})
	for _, in := range candidates {
		if in.Status == model.StatusMaintenance {
			continue
		}
		m.startOne(ctx, in.InstanceID)
	}
}

func (m *Monitor) startOne(ctx context.Context, instanceID string) {
	m.mu.Lock()
	st, exists := m.states[instanceID]
	if exists && st.cancel != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	if !exists {
		st = &instanceState{}
		m.states[instanceID] = st
	}
	st.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(loopCtx, instanceID, st)
}

// Stop cancels every running loop and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	for _, st := range m.states {
		if st.cancel != nil {
			st.cancel()
		}
	}
	m.states = make(map[string]*instanceState)
	m.mu.Unlock()
	m.wg.Wait()
}

// TriggerNow runs one immediate comprehensive check of instanceID, for the
// admin surface's "trigger ad-hoc health check" operation. It shares the
// same instanceState a running loop would use, so an ad-hoc failure counts
// toward the consecutive-failure demotion window alongside ticked ones.
func (m *Monitor) TriggerNow(ctx context.Context, instanceID string) error {
	in, err := m.registry.Get(instanceID)
	if err != nil {
		return err
	}
	m.runProbe(ctx, in, model.ProbeComprehensive, m.stateFor(instanceID))
	return nil
}

// stateFor returns the instanceID's tracked scheduling state, creating one
// with no cancel func (not loop-owned) if none exists yet.
func (m *Monitor) stateFor(instanceID string) *instanceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[instanceID]
	if !ok {
		st = &instanceState{}
		m.states[instanceID] = st
	}
	return st
}

func (m *Monitor) loop(ctx context.Context, instanceID string, st *instanceState) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in, err := m.registry.Get(instanceID)
			if err != nil {
				return // unknown instance
			}
			if !in.IsActive || in.Status == model.StatusMaintenance {
				continue
			}
			m.tick(ctx, in, st)
		}
	}
}

func (m *Monitor) tick(ctx context.Context, in *model.Instance, st *instanceState) {
	now := m.clock.Now()

	st.mu.Lock()
	dueLatency := now.Sub(st.lastLatency) >= latencyMinInterval
	dueComprehensive := now.Sub(st.lastComprehensive) >= comprehensiveMinInterval
	st.mu.Unlock()

	dueLoad := in.MaxConcurrent > 0 && float64(in.CurrentLoad) > loadThresholdRatio*float64(in.MaxConcurrent)

	m.runProbe(ctx, in, model.ProbeBasic, st)
	if dueLatency {
		m.runProbe(ctx, in, model.ProbeLatency, st)
		st.mu.Lock()
		st.lastLatency = now
		st.mu.Unlock()
	}
	if dueComprehensive {
		m.runProbe(ctx, in, model.ProbeComprehensive, st)
		st.mu.Lock()
		st.lastComprehensive = now
		st.mu.Unlock()
	}
	if dueLoad {
		m.runLoadProbe(ctx, in, st)
	}
}

// runProbe issues one probe, records the HealthEvent, and drives the
// Healthy/Unhealthy transition (spec §4.8 step 3-4). Latency probes
// re-derive their score from three sub-probes rather than trusting the
// Prober's single-shot score; Comprehensive probes use the score the
// Prober aggregates from its own sub-probes.
func (m *Monitor) runProbe(ctx context.Context, in *model.Instance, kind model.ProbeKind, st *instanceState) {
	cctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	var result probe.ProbeResult
	var err error
	switch kind {
	case model.ProbeLatency:
		result, err = m.latencyProbe(cctx, in)
	case model.ProbeComprehensive:
		result, err = m.prober.Probe(cctx, in, model.ProbeComprehensive)
	default:
		result, err = m.prober.Probe(cctx, in, kind)
	}

	ok := err == nil && result.OK
	m.record(ctx, in, kind, ok, result, err, st)
}

// latencyProbe runs three rapid Basic probes and applies spec §4.8's
// latency scoring bucket table.
func (m *Monitor) latencyProbe(ctx context.Context, in *model.Instance) (probe.ProbeResult, error) {
	var total float64
	for i := 0; i < 3; i++ {
		r, err := m.prober.Probe(ctx, in, model.ProbeBasic)
		if err != nil {
			return probe.ProbeResult{}, err
		}
		if r.ResponseMS > 10000 {
			return probe.ProbeResult{OK: false, ResponseMS: r.ResponseMS, Detail: "single probe exceeded 10s"}, nil
		}
		total += r.ResponseMS
	}
	avg := total / 3
	score := latencyScore(avg)
	return probe.ProbeResult{OK: true, ResponseMS: avg, Score: score}, nil
}

func latencyScore(avgMS float64) float64 {
	switch {
	case avgMS < 500:
		return 100
	case avgMS < 1000:
		return 80
	case avgMS < 2000:
		return 60
	case avgMS < 5000:
		return 40
	default:
		return 20
	}
}

// runLoadProbe issues min(5, max_concurrent-current_load) concurrent
// probes and applies spec §4.8's load scoring bucket table.
func (m *Monitor) runLoadProbe(ctx context.Context, in *model.Instance, st *instanceState) {
	n := in.MaxConcurrent - in.CurrentLoad
	if n > 5 {
		n = 5
	}
	if n < 1 {
		n = 1
	}

	cctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	var lastDetail string
	var totalMS float64

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := m.prober.Probe(cctx, in, model.ProbeBasic)
			mu.Lock()
			defer mu.Unlock()
			totalMS += r.ResponseMS
			if err == nil && r.OK {
				successes++
			} else if err != nil {
				lastDetail = err.Error()
			}
		}()
	}
	wg.Wait()

	successRate := float64(successes) / float64(n)
	ok := successRate >= 0.5
	score := loadScore(successRate)
	result := probe.ProbeResult{OK: ok, ResponseMS: totalMS / float64(n), Score: score, Detail: lastDetail}
	m.record(ctx, in, model.ProbeLoad, ok, result, nil, st)
}

func loadScore(successRate float64) float64 {
	switch {
	case successRate >= 0.95:
		return 100
	case successRate >= 0.80:
		return 80
	case successRate >= 0.60:
		return 60
	default:
		return 40
	}
}

// record persists the HealthEvent and applies the Healthy/Unhealthy
// transition rule (spec §4.8 step 4), with Comprehensive additionally
// applying the Degraded carve-out (score >= 60 keeps is_healthy true).
func (m *Monitor) record(ctx context.Context, in *model.Instance, kind model.ProbeKind, ok bool, result probe.ProbeResult, probeErr error, st *instanceState) {
	now := m.clock.Now()
	status := model.HealthCheckHealthy
	detail := result.Detail
	if !ok {
		status = model.HealthCheckUnhealthy
		if probeErr != nil {
			status = model.HealthCheckError
			detail = probeErr.Error()
		}
	}

	var responseMS *float64
	if result.ResponseMS > 0 {
		ms := result.ResponseMS
		responseMS = &ms
	}

	event := &model.HealthEvent{
		InstanceID: in.InstanceID,
		Timestamp:  now,
		Status:     status,
		ResponseMS: responseMS,
		Error:      detail,
		CheckType:  kind,
		Score:      result.Score,
	}
	if err := m.store.AppendHealthEvent(ctx, event); err != nil {
		m.logger.Warn("failed to append health event", zap.String("instance_id", in.InstanceID), zap.Error(err))
	}

	wasHealthy := in.IsHealthy
	keepHealthy := ok
	if kind == model.ProbeComprehensive {
		keepHealthy = result.Score >= 60
	}

	if keepHealthy {
		st.mu.Lock()
		st.recentFailures = nil
		st.mu.Unlock()

		newStatus := model.StatusHealthy
		if err := m.registry.SetStatus(ctx, in.InstanceID, newStatus); err != nil {
			m.logger.Warn("failed to set instance healthy", zap.String("instance_id", in.InstanceID), zap.Error(err))
		}
		if !wasHealthy {
			m.logger.Info("instance transitioned to healthy", zap.String("instance_id", in.InstanceID), zap.String("probe", string(kind)))
		}
		return
	}

	st.mu.Lock()
	st.recentFailures = append(pruneFailures(st.recentFailures, now), now)
	failures := len(st.recentFailures)
	st.mu.Unlock()

	if failures >= m.maxFailures {
		if err := m.registry.SetStatus(ctx, in.InstanceID, model.StatusUnhealthy); err != nil {
			m.logger.Warn("failed to set instance unhealthy", zap.String("instance_id", in.InstanceID), zap.Error(err))
		}
		if wasHealthy {
			m.logger.Error("instance transitioned to unhealthy",
				zap.String("instance_id", in.InstanceID),
				zap.Int("consecutive_failures", failures),
				zap.String("detail", detail))
		}
	}
}

func pruneFailures(failures []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-failureWindow)
	out := failures[:0]
	for _, f := range failures {
		if f.After(cutoff) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
