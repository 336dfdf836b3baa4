// Package failover implements C10: executing a RoutingDecision against a
// live provider with retries and automatic re-selection, grounded on
// internal/drivers/retry.go's exponential-backoff Execute loop (generalized
// from "retry the same backend" to "retry, re-selecting a fresh instance on
// each failure") and internal/global/failover.go's event-recording idiom
// (structured before/after logging of what was tried and why).
package failover

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ish-automation/fleet-control-plane/internal/breaker"
	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/ctrlerr"
	"github.com/ish-automation/fleet-control-plane/internal/model"
	"github.com/ish-automation/fleet-control-plane/internal/probe"
	"github.com/ish-automation/fleet-control-plane/internal/registry"
	"github.com/ish-automation/fleet-control-plane/internal/router"
	"github.com/ish-automation/fleet-control-plane/internal/store"
)

const (
	defaultMaxAttempts    = 3
	defaultAttemptTimeout = 30 * time.Second
)

// Result is what Execute returns on success (spec §4.7).
type Result struct {
	Text         string
	TokensUsed   int
	InstanceID   string
	WasFailover  bool
	Attempts     int
	ResponseMS   float64
}

// Executor is C10.
type Executor struct {
	registry *registry.Registry
	router   *router.Router
	invokers *probe.Registry
	store    store.Store
	clock    clock.Clock
	logger   *zap.Logger

	maxAttempts    int
	attemptTimeout time.Duration
}

// Option configures an Executor, following the teacher's retry-policy
// functional-options idiom.
type Option func(*Executor)

func WithMaxAttempts(n int) Option           { return func(e *Executor) { e.maxAttempts = n } }
func WithAttemptTimeout(d time.Duration) Option { return func(e *Executor) { e.attemptTimeout = d } }

func New(reg *registry.Registry, rt *router.Router, invokers *probe.Registry, st store.Store, clk clock.Clock, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	e := &Executor{
		registry:       reg,
		router:         rt,
		invokers:       invokers,
		store:          st,
		clock:          clk,
		logger:         logger,
		maxAttempts:    defaultMaxAttempts,
		attemptTimeout: defaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute dispatches decision's prompt, retrying against fresh instances on
// failure up to maxAttempts, per spec §4.7.
func (e *Executor) Execute(ctx context.Context, decision router.Decision, requestID, prompt string) (Result, error) {
	current := decision.Chosen
	pool := append([]*model.Instance{}, decision.Alternatives...)
	tried := make(map[string]bool, e.maxAttempts)

	originalInstanceID := ""
	if decision.Chosen != nil {
		originalInstanceID = decision.Chosen.InstanceID
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if current == nil {
			break
		}
		tried[current.InstanceID] = true
		wasFailover := attempt > 1

		result, err := e.attempt(ctx, current, prompt)
		if err == nil {
			e.logger.Info("failover attempt succeeded",
				zap.String("request_id", requestID),
				zap.String("instance_id", current.InstanceID),
				zap.Int("attempt", attempt))
			if requestID != "" {
				e.appendLog(ctx, requestID, current, model.RequestSuccess,
					&result.ResponseMS, &result.TokensUsed, wasFailover, originalInstanceID, "")
			}
			return Result{
				Text:        result.Text,
				TokensUsed:  result.TokensUsed,
				InstanceID:  current.InstanceID,
				WasFailover: wasFailover,
				Attempts:    attempt,
				ResponseMS:  result.ResponseMS,
			}, nil
		}

		lastErr = err
		e.logger.Warn("failover attempt failed",
			zap.String("request_id", requestID),
			zap.String("instance_id", current.InstanceID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if requestID != "" {
			status := model.RequestError
			if ctx.Err() == context.DeadlineExceeded {
				status = model.RequestTimeout
			}
			e.appendLog(ctx, requestID, current, status, nil, nil, wasFailover, originalInstanceID, err.Error())
		}

		next, remaining := pickNext(pool, tried)
		pool = remaining
		if next == nil {
			break
		}
		reselected, rerr := e.router.SelectCandidate(append([]*model.Instance{next}, remaining...), decision.QueryAnalysis, decision.Strategy)
		if rerr != nil {
			current = next
		} else {
			current = reselected.Chosen
		}
	}

	if lastErr == nil {
		lastErr = ctrlerr.ErrNoCapacity(string(decision.QueryAnalysis.QueryType), "")
	}
	return Result{}, ctrlerr.Wrap(lastErr, "failover exhausted")
}

// attemptOutcome is the internal result of one dispatch.
type attemptOutcome struct {
	Text       string
	TokensUsed int
	ResponseMS float64
}

// attempt runs one dispatch to in, guaranteeing the load counter is
// released on every exit path (spec §5: "load increment/decrement balanced
// on every exit path").
func (e *Executor) attempt(ctx context.Context, in *model.Instance, prompt string) (attemptOutcome, error) {
	if err := e.registry.Breaker().Allow(in.InstanceID); err != nil {
		return attemptOutcome{}, err
	}

	inv, ok := e.invokers.For(in.Provider)
	if !ok {
		return attemptOutcome{}, ctrlerr.ErrConfig("no invoker registered for provider " + string(in.Provider))
	}

	_ = e.registry.UpdateLoad(ctx, in.InstanceID, 1)
	defer func() { _ = e.registry.UpdateLoad(ctx, in.InstanceID, -1) }()

	timeout := e.attemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := e.clock.Now()
	res, err := inv.Invoke(cctx, in, prompt, probe.InvokeOptions{
		MaxTokens: in.DefaultMaxTokens,
		Timeout:   timeout,
	})
	elapsed := float64(e.clock.Now().Sub(start).Milliseconds())

	if err != nil {
		e.registry.Breaker().RecordFailure(in.InstanceID)
		_ = e.registry.UpdateRollingMetrics(ctx, in.InstanceID, registry.ProbeOrRequestResult{Success: false})
		return attemptOutcome{}, ctrlerr.ErrInstanceFailure(in.InstanceID, err)
	}

	e.registry.Breaker().RecordSuccess(in.InstanceID)
	responseMS := res.ResponseMS
	if responseMS == 0 {
		responseMS = elapsed
	}
	_ = e.registry.UpdateRollingMetrics(ctx, in.InstanceID, registry.ProbeOrRequestResult{Success: true, ResponseMS: &responseMS})

	return attemptOutcome{Text: res.Text, TokensUsed: res.TokensUsed, ResponseMS: responseMS}, nil
}

// pickNext returns the first untried instance from pool and the remaining
// slice with it removed, so the caller can pass the remainder back into the
// Router's strategy-aware re-selection (spec §4.7: "re-select using the
// same strategy, excluding instances already tried").
func pickNext(pool []*model.Instance, tried map[string]bool) (*model.Instance, []*model.Instance) {
	for i, c := range pool {
		if tried[c.InstanceID] {
			continue
		}
		remaining := append([]*model.Instance{}, pool[:i]...)
		remaining = append(remaining, pool[i+1:]...)
		return c, remaining
	}
	return nil, pool
}

// appendLog records one attempt's outcome as a RequestLog row — exactly one
// per attempt, per spec §4.7 steps 3-4 and P7 ("a request that succeeds
// yields exactly one Success log row; a request that fails all attempts
// yields max_attempts failure rows").
func (e *Executor) appendLog(ctx context.Context, requestID string, in *model.Instance, status model.RequestStatus, responseMS *float64, tokens *int, wasFailover bool, originalInstanceID, detail string) {
	now := e.clock.Now()
	log := &model.RequestLog{
		RequestID:          requestID,
		InstanceID:         in.InstanceID,
		Provider:           in.Provider,
		Model:              in.Model,
		Status:             status,
		ResponseMS:         responseMS,
		Tokens:             tokens,
		WasFailover:        wasFailover,
		OriginalInstanceID: originalInstanceID,
		Detail:             detail,
		CreatedAt:          now,
		CompletedAt:        &now,
	}
	if err := e.store.AppendRequestLog(ctx, log); err != nil {
		e.logger.Warn("failed to append request log", zap.String("request_id", requestID), zap.Error(err))
	}
}
