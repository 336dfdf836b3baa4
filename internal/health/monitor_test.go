package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ish-automation/fleet-control-plane/internal/breaker"
	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/model"
	"github.com/ish-automation/fleet-control-plane/internal/probe"
	"github.com/ish-automation/fleet-control-plane/internal/registry"
	"github.com/ish-automation/fleet-control-plane/internal/store"
)

// scriptedProber lets tests dictate exactly what each probe kind returns.
type scriptedProber struct {
	results map[model.ProbeKind]probe.ProbeResult
	errs    map[model.ProbeKind]error
}

func (p *scriptedProber) Probe(ctx context.Context, in *model.Instance, kind model.ProbeKind) (probe.ProbeResult, error) {
	if err, ok := p.errs[kind]; ok && err != nil {
		return probe.ProbeResult{}, err
	}
	if r, ok := p.results[kind]; ok {
		return r, nil
	}
	return probe.ProbeResult{OK: true, ResponseMS: 100, Score: 100}, nil
}

func setup(t *testing.T, prober probe.Prober) (*Monitor, *registry.Registry, *store.Memory, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	br := breaker.NewManager(breaker.WithClock(fake))
	st := store.NewMemory()
	reg := registry.New(st, br, fake, nil)
	m := New(reg, prober, st, fake, nil, WithInterval(time.Millisecond), WithMaxFailures(2))
	return m, reg, st, fake
}

func register(t *testing.T, reg *registry.Registry, id string) {
	t.Helper()
	_, err := reg.Register(context.Background(), &model.Instance{
		InstanceID:    id,
		Provider:      model.ProviderOpenAI,
		Model:         "gpt-4",
		MaxConcurrent: 10,
		IsActive:      true,
	})
	require.NoError(t, err)
}

func TestMonitor_TriggerNowRecordsHealthEvent(t *testing.T) {
	prober := &scriptedProber{results: map[model.ProbeKind]probe.ProbeResult{
		model.ProbeComprehensive: {OK: true, Score: 90},
	}}
	m, reg, st, _ := setup(t, prober)
	register(t, reg, "a")

	require.NoError(t, m.TriggerNow(context.Background(), "a"))

	events, err := st.RangeHealthEvents(context.Background(), "a", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.HealthCheckHealthy, events[0].Status)

	in, err := reg.Get("a")
	require.NoError(t, err)
	assert.True(t, in.IsHealthy)
}

func TestMonitor_ComprehensiveDegradedKeepsHealthyTrue(t *testing.T) {
	prober := &scriptedProber{results: map[model.ProbeKind]probe.ProbeResult{
		model.ProbeComprehensive: {OK: true, Score: 65},
	}}
	m, reg, _, _ := setup(t, prober)
	register(t, reg, "a")

	require.NoError(t, m.TriggerNow(context.Background(), "a"))

	in, err := reg.Get("a")
	require.NoError(t, err)
	assert.True(t, in.IsHealthy)
}

func TestMonitor_ComprehensiveBelowSixtyMarksUnhealthy(t *testing.T) {
	prober := &scriptedProber{results: map[model.ProbeKind]probe.ProbeResult{
		model.ProbeComprehensive: {OK: false, Score: 40},
	}}
	m, reg, _, _ := setup(t, prober)
	register(t, reg, "a")

	require.NoError(t, m.TriggerNow(context.Background(), "a"))
	require.NoError(t, m.TriggerNow(context.Background(), "a"))

	in, err := reg.Get("a")
	require.NoError(t, err)
	assert.False(t, in.IsHealthy)
}

func TestMonitor_LatencyScoreBuckets(t *testing.T) {
	assert.Equal(t, 100.0, latencyScore(200))
	assert.Equal(t, 80.0, latencyScore(700))
	assert.Equal(t, 60.0, latencyScore(1500))
	assert.Equal(t, 40.0, latencyScore(3000))
	assert.Equal(t, 20.0, latencyScore(9000))
}

func TestMonitor_LoadScoreBuckets(t *testing.T) {
	assert.Equal(t, 100.0, loadScore(0.99))
	assert.Equal(t, 80.0, loadScore(0.85))
	assert.Equal(t, 60.0, loadScore(0.65))
	assert.Equal(t, 40.0, loadScore(0.1))
}

func TestMonitor_StopCancelsRunningLoops(t *testing.T) {
	prober := &scriptedProber{}
	m, reg, _, _ := setup(t, prober)
	register(t, reg, "a")

	m.Start(context.Background())
	m.Stop()

	m.mu.Lock()
	count := len(m.states)
	m.mu.Unlock()
	assert.Equal(t, 0, count)
}
