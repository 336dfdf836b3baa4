// Package scaler implements C12: one cooperative evaluation loop per
// enabled ProviderGroup that decides whether its instance count should
// grow, shrink, or stay put, grounded on
// original_source/src/services/auto_scaling_service.py's AutoScalingService
// (four independent signal evaluators reconciled into one decision) and,
// for the loop's shape, internal/health/monitor.go's ticker-driven,
// per-target goroutine scheduling (itself grounded on
// internal/global/loadbalancing.go's healthCheckLoop).
package scaler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/model"
	"github.com/ish-automation/fleet-control-plane/internal/registry"
	"github.com/ish-automation/fleet-control-plane/internal/store"
)

const (
	defaultEvalInterval   = 60 * time.Second
	defaultMetricsWindow  = 300 * time.Second
	defaultScaleUpCooldown = 300 * time.Second
	defaultScaleDownCooldown = 600 * time.Second

	maxResponseMS   = 5000.0
	maxErrorRate    = 0.1
	healthFloor     = 70.0
	queueBacklogMin = 10.0
	loadCapacityFrac = 0.8
)

// Direction is the outcome of one evaluation round.
type Direction string

const (
	Maintain Direction = "maintain"
	ScaleUp   Direction = "scale_up"
	ScaleDown Direction = "scale_down"
)

// Signals are the aggregated metrics a group's evaluators score against,
// collected over the policy's metrics window (spec §4.9).
type Signals struct {
	AvgLoad        float64
	MaxLoad        float64
	AvgResponseMS  float64
	P95ResponseMS  float64
	ErrorRate      float64
	SuccessRate    float64
	QueueLength    float64
	RequestsPerMin float64
	HealthScore    float64
}

// Policy carries the subset of a ProviderGroup's configuration the
// evaluators need, kept separate from model.ProviderGroup so the
// evaluators are pure functions testable without a registry.
type Policy struct {
	MinInstances       int
	MaxInstances       int
	ScaleUpThreshold   float64
	ScaleDownThreshold float64

	// UseRatioScaleDown opts into the proportional scale-down target
	// (target = count * avgLoad/downThreshold) instead of the spec-pinned
	// default of decrementing by one (target = max(min, count-1)).
	UseRatioScaleDown bool
}

// Decision is one evaluator's (or the reconciled) recommendation.
type Decision struct {
	Direction       Direction
	Trigger         model.ScalingTrigger
	CurrentCount    int
	TargetCount     int
	Confidence      float64
	MetricValue     float64
	Threshold       float64
	Recommendation  string
}

func maintainDecision(count int, reason string) Decision {
	return Decision{Direction: Maintain, CurrentCount: count, TargetCount: count, Recommendation: reason}
}

// groupState tracks a running loop's cancel func, mirroring health.Monitor's
// instanceState.
type groupState struct {
	cancel context.CancelFunc
}

// Scaler is C12.
type Scaler struct {
	registry *registry.Registry
	store    store.Store
	clock    clock.Clock
	logger   *zap.Logger

	interval      time.Duration
	metricsWindow time.Duration

	mu     sync.Mutex
	states map[int64]*groupState
	wg     sync.WaitGroup
}

// Option configures a Scaler, following the teacher's functional-options idiom.
type Option func(*Scaler)

func WithInterval(d time.Duration) Option      { return func(s *Scaler) { s.interval = d } }
func WithMetricsWindow(d time.Duration) Option { return func(s *Scaler) { s.metricsWindow = d } }

func New(reg *registry.Registry, st store.Store, clk clock.Clock, logger *zap.Logger, opts ...Option) *Scaler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	s := &Scaler{
		registry:      reg,
		store:         st,
		clock:         clk,
		logger:        logger,
		interval:      defaultEvalInterval,
		metricsWindow: defaultMetricsWindow,
		states:        make(map[int64]*groupState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches one cooperative loop per currently active,
// auto-scaling-enabled provider group.
func (s *Scaler) Start(ctx context.Context) error {
	groups, err := s.store.ListProviderGroups(ctx, true)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if !g.AutoScalingEnabled {
			continue
		}
		s.startOne(ctx, g.ID)
	}
	return nil
}

func (s *Scaler) startOne(ctx context.Context, groupID int64) {
	s.mu.Lock()
	if _, exists := s.states[groupID]; exists {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.states[groupID] = &groupState{cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(loopCtx, groupID)
}

// Stop cancels every running loop and waits for them to exit.
func (s *Scaler) Stop() {
	s.mu.Lock()
	for _, st := range s.states {
		st.cancel()
	}
	s.states = make(map[int64]*groupState)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scaler) loop(ctx context.Context, groupID int64) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			group, err := s.store.GetProviderGroup(ctx, groupID)
			if err != nil || !group.IsActive || !group.AutoScalingEnabled {
				return
			}
			if _, err := s.EvaluateAndExecute(ctx, group); err != nil {
				s.logger.Warn("scaling evaluation failed", zap.Int64("group_id", groupID), zap.Error(err))
			}
		}
	}
}

// EvaluateAndExecute runs one full evaluate-then-act cycle for group; the
// tick-driven loop calls it once per group per tick.
func (s *Scaler) EvaluateAndExecute(ctx context.Context, group *model.ProviderGroup) (Decision, error) {
	decision, instances, err := s.Evaluate(ctx, group)
	if err != nil {
		return Decision{}, err
	}
	if decision.Direction == Maintain {
		return decision, nil
	}
	if err := s.execute(ctx, group, decision, instances); err != nil {
		return decision, err
	}
	return decision, nil
}

// Evaluate collects signals and reconciles the four candidate evaluators
// into one decision, gated by per-direction cooldown (spec §4.9).
func (s *Scaler) Evaluate(ctx context.Context, group *model.ProviderGroup) (Decision, []*model.Instance, error) {
	instances := s.registry.List(registry.ListFilter{Provider: group.Provider, Model: group.Model, ActiveOnly: true})
	count := len(instances)

	sig, err := s.collectSignals(ctx, instances)
	if err != nil {
		return Decision{}, nil, err
	}

	policy := Policy{
		MinInstances:       group.MinInstances,
		MaxInstances:       group.MaxInstances,
		ScaleUpThreshold:   group.ScaleUpThreshold,
		ScaleDownThreshold: group.ScaleDownThreshold,
		UseRatioScaleDown:  group.UseRatioScaleDown,
	}

	candidates := []Decision{
		evaluateLoad(sig, count, policy),
		evaluatePerformance(sig, count, policy),
		evaluateHealth(sig, count, policy),
		evaluateQueue(sig, count, policy),
	}
	decision := reconcile(candidates, count, policy)

	if decision.Direction != Maintain {
		inCooldown, err := s.inCooldown(ctx, group, decision.Direction)
		if err != nil {
			return Decision{}, nil, err
		}
		if inCooldown {
			decision = maintainDecision(count, string(decision.Direction)+"_cooldown")
		}
	}

	return decision, instances, nil
}

func (s *Scaler) inCooldown(ctx context.Context, group *model.ProviderGroup, dir Direction) (bool, error) {
	eventType := model.ScalingUp
	cooldown := group.ScaleUpCooldown
	if cooldown <= 0 {
		cooldown = defaultScaleUpCooldown
	}
	if dir == ScaleDown {
		eventType = model.ScalingDown
		cooldown = group.ScaleDownCooldown
		if cooldown <= 0 {
			cooldown = defaultScaleDownCooldown
		}
	}

	last, err := s.store.LatestScalingEvent(ctx, store.ScalingEventQuery{
		GroupID:   group.ID,
		EventType: eventType,
		Status:    model.ScalingCompleted,
	})
	if err != nil {
		return false, nil
	}
	if last.CompletedAt == nil {
		return false, nil
	}
	return s.clock.Now().Before(last.CompletedAt.Add(cooldown)), nil
}

func (s *Scaler) collectSignals(ctx context.Context, instances []*model.Instance) (Signals, error) {
	if len(instances) == 0 {
		return Signals{}, nil
	}
	since := s.clock.Now().Add(-s.metricsWindow)

	var loads []float64
	for _, in := range instances {
		cap := in.MaxConcurrent
		if cap <= 0 {
			cap = 1
		}
		loads = append(loads, float64(in.CurrentLoad)/float64(cap))
	}
	avgLoad := mean(loads)
	maxLoad := maxOf(loads)

	var responseTimes []float64
	var total, errCount int
	for _, in := range instances {
		logs, err := s.store.RangeRequestLogs(ctx, in.InstanceID, since)
		if err != nil {
			return Signals{}, err
		}
		for _, rl := range logs {
			if rl.ResponseMS != nil {
				responseTimes = append(responseTimes, *rl.ResponseMS)
			}
			total++
			if rl.Status == model.RequestError {
				errCount++
			}
		}
	}
	avgResponseMS := mean(responseTimes)
	p95ResponseMS := percentile95(responseTimes)
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(errCount) / float64(total)
	}
	requestsPerMin := float64(total) / (s.metricsWindow.Seconds() / 60.0)

	var healthScores []float64
	for _, in := range instances {
		events, err := s.store.RangeHealthEvents(ctx, in.InstanceID, since)
		if err != nil {
			return Signals{}, err
		}
		if len(events) == 0 {
			continue
		}
		latest := events[0]
		for _, ev := range events {
			if ev.Timestamp.After(latest.Timestamp) {
				latest = ev
			}
		}
		healthScores = append(healthScores, latest.Score)
	}
	healthScore := mean(healthScores)

	var queueLength float64
	for _, in := range instances {
		queueLength += math.Max(0, float64(in.CurrentLoad)-float64(in.MaxConcurrent)*loadCapacityFrac)
	}

	return Signals{
		AvgLoad:        avgLoad,
		MaxLoad:        maxLoad,
		AvgResponseMS:  avgResponseMS,
		P95ResponseMS:  p95ResponseMS,
		ErrorRate:      errorRate,
		SuccessRate:    1 - errorRate,
		QueueLength:    queueLength,
		RequestsPerMin: requestsPerMin,
		HealthScore:    healthScore,
	}, nil
}

// evaluateLoad is the LoadBased evaluator (spec §4.9).
func evaluateLoad(sig Signals, count int, p Policy) Decision {
	upThreshold := p.ScaleUpThreshold
	if upThreshold <= 0 {
		upThreshold = 0.8
	}
	downThreshold := p.ScaleDownThreshold
	if downThreshold <= 0 {
		downThreshold = 0.2
	}

	if sig.AvgLoad >= upThreshold {
		if count >= p.MaxInstances {
			return maintainDecision(count, "max_instances_reached")
		}
		target := int(float64(count) * (sig.AvgLoad / upThreshold))
		if target > p.MaxInstances {
			target = p.MaxInstances
		}
		if target <= count {
			target = count + 1
		}
		confidence := clamp01((sig.AvgLoad - upThreshold) / 0.2)
		return Decision{
			Direction: ScaleUp, Trigger: model.TriggerHighLoad,
			CurrentCount: count, TargetCount: target, Confidence: confidence,
			MetricValue: sig.AvgLoad, Threshold: upThreshold,
			Recommendation: fmt.Sprintf("scale up: avg load %.2f >= %.2f", sig.AvgLoad, upThreshold),
		}
	}

	if sig.AvgLoad <= downThreshold && count > p.MinInstances {
		var target int
		if p.UseRatioScaleDown {
			target = count
			if downThreshold > 0 {
				target = int(float64(count) * (sig.AvgLoad / downThreshold))
			}
		} else {
			target = count - 1
		}
		if target < p.MinInstances {
			target = p.MinInstances
		}
		if target >= count {
			target = count - 1
			if target < p.MinInstances {
				target = p.MinInstances
			}
		}
		confidence := clamp01((downThreshold - sig.AvgLoad) / 0.1)
		return Decision{
			Direction: ScaleDown, Trigger: model.TriggerLowLoad,
			CurrentCount: count, TargetCount: target, Confidence: confidence,
			MetricValue: sig.AvgLoad, Threshold: downThreshold,
			Recommendation: fmt.Sprintf("scale down: avg load %.2f <= %.2f", sig.AvgLoad, downThreshold),
		}
	}

	return maintainDecision(count, "load_normal")
}

// evaluatePerformance is the PerformanceBased evaluator.
func evaluatePerformance(sig Signals, count int, p Policy) Decision {
	if sig.AvgResponseMS > maxResponseMS {
		if count >= p.MaxInstances {
			return maintainDecision(count, "max_instances_reached")
		}
		target := count + 1
		if target > p.MaxInstances {
			target = p.MaxInstances
		}
		confidence := clamp01(sig.AvgResponseMS/maxResponseMS - 1)
		return Decision{
			Direction: ScaleUp, Trigger: model.TriggerHighResponseTime,
			CurrentCount: count, TargetCount: target, Confidence: confidence,
			MetricValue: sig.AvgResponseMS, Threshold: maxResponseMS,
			Recommendation: fmt.Sprintf("scale up: avg response %.0fms > %.0fms", sig.AvgResponseMS, maxResponseMS),
		}
	}

	if sig.ErrorRate > maxErrorRate {
		if count >= p.MaxInstances {
			return maintainDecision(count, "max_instances_reached")
		}
		target := count + 1
		if target > p.MaxInstances {
			target = p.MaxInstances
		}
		confidence := clamp01(sig.ErrorRate/maxErrorRate - 1)
		return Decision{
			Direction: ScaleUp, Trigger: model.TriggerHighErrorRate,
			CurrentCount: count, TargetCount: target, Confidence: confidence,
			MetricValue: sig.ErrorRate, Threshold: maxErrorRate,
			Recommendation: fmt.Sprintf("scale up: error rate %.1f%% > %.1f%%", sig.ErrorRate*100, maxErrorRate*100),
		}
	}

	return maintainDecision(count, "performance_good")
}

// evaluateHealth is the HealthBased evaluator.
func evaluateHealth(sig Signals, count int, p Policy) Decision {
	if sig.HealthScore > 0 && sig.HealthScore < healthFloor && count < p.MaxInstances {
		target := count + 1
		confidence := clamp01((healthFloor - sig.HealthScore) / healthFloor)
		return Decision{
			Direction: ScaleUp, Trigger: model.TriggerHealthIssues,
			CurrentCount: count, TargetCount: target, Confidence: confidence,
			MetricValue: sig.HealthScore, Threshold: healthFloor,
			Recommendation: fmt.Sprintf("scale up: health score %.1f < %.1f", sig.HealthScore, healthFloor),
		}
	}
	return maintainDecision(count, "health_good")
}

// evaluateQueue is the QueueBased evaluator.
func evaluateQueue(sig Signals, count int, p Policy) Decision {
	if sig.QueueLength > queueBacklogMin && count < p.MaxInstances {
		additional := int(sig.QueueLength / 10)
		if additional < 1 {
			additional = 1
		}
		if additional > p.MaxInstances-count {
			additional = p.MaxInstances - count
		}
		confidence := clamp01(sig.QueueLength / 50)
		return Decision{
			Direction: ScaleUp, Trigger: model.TriggerQueueBacklog,
			CurrentCount: count, TargetCount: count + additional, Confidence: confidence,
			MetricValue: sig.QueueLength, Threshold: queueBacklogMin,
			Recommendation: fmt.Sprintf("scale up: queue length %.0f", sig.QueueLength),
		}
	}
	return maintainDecision(count, "queue_normal")
}

// reconcile picks the most urgent candidate: scale-up beats scale-down,
// ties broken by highest confidence, clamped to [min,max] (spec §4.9).
func reconcile(candidates []Decision, count int, p Policy) Decision {
	var ups, downs []Decision
	for _, d := range candidates {
		switch d.Direction {
		case ScaleUp:
			ups = append(ups, d)
		case ScaleDown:
			downs = append(downs, d)
		}
	}

	var chosen *Decision
	if len(ups) > 0 {
		sort.Slice(ups, func(i, j int) bool { return ups[i].Confidence > ups[j].Confidence })
		chosen = &ups[0]
		if chosen.TargetCount > p.MaxInstances {
			chosen.TargetCount = p.MaxInstances
		}
	} else if len(downs) > 0 {
		sort.Slice(downs, func(i, j int) bool { return downs[i].Confidence > downs[j].Confidence })
		chosen = &downs[0]
		if chosen.TargetCount < p.MinInstances {
			chosen.TargetCount = p.MinInstances
		}
	}

	if chosen == nil {
		return maintainDecision(count, "all_signals_normal")
	}
	return *chosen
}

// execute records a ScalingEvent and performs the registration/deregistration
// needed to move the group from its current instance count to the decision's
// target (spec §4.9: Pending -> InProgress -> Completed/Failed).
func (s *Scaler) execute(ctx context.Context, group *model.ProviderGroup, decision Decision, instances []*model.Instance) error {
	now := s.clock.Now()
	eventType := model.ScalingUp
	if decision.Direction == ScaleDown {
		eventType = model.ScalingDown
	}

	eventID, err := s.store.AppendScalingEvent(ctx, &model.ScalingEvent{
		GroupID:     group.ID,
		EventType:   eventType,
		OldReplicas: decision.CurrentCount,
		NewReplicas: decision.TargetCount,
		Trigger:     decision.Trigger,
		MetricValue: decision.MetricValue,
		Threshold:   decision.Threshold,
		Status:      model.ScalingPending,
		StartedAt:   now,
	})
	if err != nil {
		return err
	}
	if err := s.store.UpdateScalingEventStatus(ctx, eventID, model.ScalingInProgress, "", nil); err != nil {
		return err
	}

	opErr := s.performScaling(ctx, group, decision, instances)

	completedAt := s.clock.Now()
	if opErr != nil {
		_ = s.store.UpdateScalingEventStatus(ctx, eventID, model.ScalingFailed, opErr.Error(), &completedAt)
		return opErr
	}
	if err := s.store.UpdateScalingEventStatus(ctx, eventID, model.ScalingCompleted, "", &completedAt); err != nil {
		return err
	}

	group.DesiredInstances = decision.TargetCount
	group.UpdatedAt = completedAt
	return s.store.UpsertProviderGroup(ctx, group)
}

func (s *Scaler) performScaling(ctx context.Context, group *model.ProviderGroup, decision Decision, instances []*model.Instance) error {
	switch decision.Direction {
	case ScaleUp:
		toAdd := decision.TargetCount - decision.CurrentCount
		modelName := group.Model
		if modelName == "" {
			modelName = "default-model"
		}
		for i := 0; i < toAdd; i++ {
			newID := fmt.Sprintf("%s-auto-%s", group.Provider, uuid.NewString()[:8])
			if _, err := s.registry.Register(ctx, &model.Instance{
				InstanceID:         newID,
				Provider:           group.Provider,
				Model:              modelName,
				Name:               newID,
				MaxConcurrent:      10,
				MaxTokensPerMinute: 10000,
			}); err != nil {
				return err
			}
			s.logger.Info("auto-scaling created instance", zap.String("instance_id", newID), zap.Int64("group_id", group.ID))
		}
		return nil

	case ScaleDown:
		toRemove := decision.CurrentCount - decision.TargetCount
		if toRemove <= 0 {
			return nil
		}
		sorted := append([]*model.Instance{}, instances...)
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].CurrentLoad != sorted[j].CurrentLoad {
				return sorted[i].CurrentLoad < sorted[j].CurrentLoad
			}
			return sorted[i].SuccessRatePct > sorted[j].SuccessRatePct
		})
		for i := 0; i < toRemove && i < len(sorted); i++ {
			if err := s.registry.Deregister(ctx, sorted[i].InstanceID); err != nil {
				return err
			}
			s.logger.Info("auto-scaling removed instance", zap.String("instance_id", sorted[i].InstanceID), zap.Int64("group_id", group.ID))
		}
		return nil
	}
	return nil
}

// History returns the group's scaling events since the given time, for the
// admin surface's scaling history view.
func (s *Scaler) History(ctx context.Context, groupID int64, since time.Time) ([]*model.ScalingEvent, error) {
	return s.store.RangeScalingEvents(ctx, groupID, since)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func maxOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func percentile95(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64{}, xs...)
	sort.Float64s(sorted)
	if len(sorted) < 20 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
