package failover

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ish-automation/fleet-control-plane/internal/breaker"
	"github.com/ish-automation/fleet-control-plane/internal/classifier"
	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/model"
	"github.com/ish-automation/fleet-control-plane/internal/probe"
	"github.com/ish-automation/fleet-control-plane/internal/registry"
	"github.com/ish-automation/fleet-control-plane/internal/router"
	"github.com/ish-automation/fleet-control-plane/internal/selector"
	"github.com/ish-automation/fleet-control-plane/internal/specialization"
	"github.com/ish-automation/fleet-control-plane/internal/store"
)

// scriptedInvoker returns, in order, a canned result or error per
// instance_id, so tests can script "first instance fails, second succeeds."
type scriptedInvoker struct {
	failFor map[string]bool
}

func (s *scriptedInvoker) Invoke(ctx context.Context, in *model.Instance, prompt string, opts probe.InvokeOptions) (*probe.InvokeResult, error) {
	if s.failFor[in.InstanceID] {
		return nil, assertErr{}
	}
	return &probe.InvokeResult{Text: "ok from " + in.InstanceID, TokensUsed: 10, ResponseMS: 50}, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated upstream failure" }

func newTestExecutor(t *testing.T, failFor map[string]bool) (*Executor, *registry.Registry, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	br := breaker.NewManager(breaker.WithClock(fake))
	st := store.NewMemory()
	reg := registry.New(st, br, fake, nil)
	spec := specialization.New(nil)
	sel := selector.New(rand.New(rand.NewSource(3)))
	rt := router.New(reg, br, spec, sel, fake, nil)

	invokers := probe.NewRegistry()
	invokers.Register(model.ProviderOpenAI, &scriptedInvoker{failFor: failFor})

	ex := New(reg, rt, invokers, st, fake, nil)
	return ex, reg, fake
}

func registerInstance(t *testing.T, reg *registry.Registry, id string) *model.Instance {
	t.Helper()
	in, err := reg.Register(context.Background(), &model.Instance{
		InstanceID:     id,
		Provider:       model.ProviderOpenAI,
		Model:          "gpt-4",
		Status:         model.StatusHealthy,
		IsHealthy:      true,
		SuccessRatePct: 99,
		MaxConcurrent:  10,
		Priority:       1,
	})
	require.NoError(t, err)
	require.NoError(t, reg.SetStatus(context.Background(), id, model.StatusHealthy))
	return in
}

func TestExecutor_SucceedsOnFirstAttempt(t *testing.T) {
	ex, reg, _ := newTestExecutor(t, nil)
	a := registerInstance(t, reg, "a")

	decision := router.Decision{
		Chosen:        a,
		QueryAnalysis: classifier.Analysis{QueryType: classifier.General, QueryID: "q1"},
		Strategy:      router.Performance,
	}

	result, err := ex.Execute(context.Background(), decision, "req-1", "hello")

	require.NoError(t, err)
	assert.Equal(t, "a", result.InstanceID)
	assert.False(t, result.WasFailover)
	assert.Equal(t, 1, result.Attempts)
}

func TestExecutor_FailsOverToAlternativeOnFirstFailure(t *testing.T) {
	ex, reg, _ := newTestExecutor(t, map[string]bool{"a": true})
	a := registerInstance(t, reg, "a")
	b := registerInstance(t, reg, "b")

	decision := router.Decision{
		Chosen:        a,
		Alternatives:  []*model.Instance{b},
		QueryAnalysis: classifier.Analysis{QueryType: classifier.General, QueryID: "q2"},
		Strategy:      router.Performance,
	}

	result, err := ex.Execute(context.Background(), decision, "req-2", "hello")

	require.NoError(t, err)
	assert.Equal(t, "b", result.InstanceID)
	assert.True(t, result.WasFailover)
	assert.Equal(t, 2, result.Attempts)
}

func TestExecutor_ExhaustsAttemptsReturnsError(t *testing.T) {
	ex, reg, _ := newTestExecutor(t, map[string]bool{"a": true, "b": true})
	a := registerInstance(t, reg, "a")
	b := registerInstance(t, reg, "b")

	decision := router.Decision{
		Chosen:        a,
		Alternatives:  []*model.Instance{b},
		QueryAnalysis: classifier.Analysis{QueryType: classifier.General, QueryID: "q3"},
		Strategy:      router.Performance,
	}

	_, err := ex.Execute(context.Background(), decision, "req-3", "hello")

	assert.Error(t, err)
}

func TestExecutor_ReleasesLoadOnFailure(t *testing.T) {
	ex, reg, _ := newTestExecutor(t, map[string]bool{"a": true})
	a := registerInstance(t, reg, "a")
	registerInstance(t, reg, "b")

	decision := router.Decision{
		Chosen:        a,
		Alternatives:  []*model.Instance{},
		QueryAnalysis: classifier.Analysis{QueryType: classifier.General, QueryID: "q4"},
		Strategy:      router.Performance,
	}

	_, _ = ex.Execute(context.Background(), decision, "req-4", "hello")

	after, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 0, after.CurrentLoad)
}

func TestExecutor_SuccessAppendsExactlyOneRequestLog(t *testing.T) {
	ex, reg, _ := newTestExecutor(t, nil)
	a := registerInstance(t, reg, "a")

	decision := router.Decision{
		Chosen:        a,
		QueryAnalysis: classifier.Analysis{QueryType: classifier.General, QueryID: "q6"},
		Strategy:      router.Performance,
	}

	_, err := ex.Execute(context.Background(), decision, "req-6", "hello")
	require.NoError(t, err)

	logs, err := ex.store.RangeRequestLogs(context.Background(), "", time.Time{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "req-6", logs[0].RequestID)
	assert.Equal(t, model.RequestSuccess, logs[0].Status)
	assert.False(t, logs[0].WasFailover)
}

func TestExecutor_ExhaustedAttemptsAppendsOneFailureLogPerAttempt(t *testing.T) {
	ex, reg, _ := newTestExecutor(t, map[string]bool{"a": true, "b": true})
	a := registerInstance(t, reg, "a")
	b := registerInstance(t, reg, "b")

	decision := router.Decision{
		Chosen:        a,
		Alternatives:  []*model.Instance{b},
		QueryAnalysis: classifier.Analysis{QueryType: classifier.General, QueryID: "q7"},
		Strategy:      router.Performance,
	}

	_, err := ex.Execute(context.Background(), decision, "req-7", "hello")
	require.Error(t, err)

	logs, err := ex.store.RangeRequestLogs(context.Background(), "", time.Time{})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, "req-7", l.RequestID)
		assert.Equal(t, model.RequestError, l.Status)
	}
	assert.False(t, logs[0].WasFailover)
	assert.True(t, logs[1].WasFailover)
}

func TestExecutor_CircuitOpenSkipsWithoutInvoking(t *testing.T) {
	ex, reg, _ := newTestExecutor(t, nil)
	a := registerInstance(t, reg, "a")
	b := registerInstance(t, reg, "b")
	require.NoError(t, reg.Breaker().ManualOverride("a", "open"))

	decision := router.Decision{
		Chosen:        a,
		Alternatives:  []*model.Instance{b},
		QueryAnalysis: classifier.Analysis{QueryType: classifier.General, QueryID: "q5"},
		Strategy:      router.Performance,
	}

	result, err := ex.Execute(context.Background(), decision, "req-5", "hello")

	require.NoError(t, err)
	assert.Equal(t, "b", result.InstanceID)
}
