package router

import (
	"context"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ish-automation/fleet-control-plane/internal/breaker"
	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/ctrlerr"
	"github.com/ish-automation/fleet-control-plane/internal/model"
	"github.com/ish-automation/fleet-control-plane/internal/registry"
	"github.com/ish-automation/fleet-control-plane/internal/selector"
	"github.com/ish-automation/fleet-control-plane/internal/specialization"
	"github.com/ish-automation/fleet-control-plane/internal/store"
)

func newTestRouter(t *testing.T) (*Router, *registry.Registry, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	br := breaker.NewManager(breaker.WithClock(fake))
	reg := registry.New(store.NewMemory(), br, fake, nil)
	spec := specialization.New(nil)
	sel := selector.New(rand.New(rand.NewSource(7)))
	r := New(reg, br, spec, sel, fake, nil)
	return r, reg, fake
}

func registerHealthy(t *testing.T, reg *registry.Registry, id string, provider model.Provider, m string, successRate float64) *model.Instance {
	t.Helper()
	in, err := reg.Register(context.Background(), &model.Instance{
		InstanceID:     id,
		Provider:       provider,
		Model:          m,
		Status:         model.StatusHealthy,
		IsHealthy:      true,
		SuccessRatePct: successRate,
		MaxConcurrent:  10,
		Priority:       1,
	})
	require.NoError(t, err)
	require.NoError(t, reg.SetStatus(context.Background(), id, model.StatusHealthy))
	return in
}

func TestRouter_RouteReturnsNoCapacityWithNoInstances(t *testing.T) {
	r, _, _ := newTestRouter(t)

	_, err := r.Route(context.Background(), Query{Text: "hello"})

	assert.Error(t, err)
}

func TestRouter_RoutePicksHealthierInstanceUnderPerformance(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	registerHealthy(t, reg, "a", model.ProviderOpenAI, "gpt-4", 99)
	registerHealthy(t, reg, "b", model.ProviderOpenAI, "gpt-4", 50)

	d, err := r.Route(context.Background(), Query{Text: "hello there", Strategy: Performance})

	require.NoError(t, err)
	assert.Equal(t, "a", d.Chosen.InstanceID)
	assert.False(t, d.WasFallback)
}

func TestRouter_RouteCachesRepeatedQueriesWithinTTL(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	registerHealthy(t, reg, "a", model.ProviderOpenAI, "gpt-4", 99)

	d1, err := r.Route(context.Background(), Query{Text: "hello there", Strategy: Balanced})
	require.NoError(t, err)
	statsBefore := r.Statistics()

	d2, err := r.Route(context.Background(), Query{Text: "hello there", Strategy: Balanced})
	require.NoError(t, err)

	assert.Equal(t, d1.Chosen.InstanceID, d2.Chosen.InstanceID)
	assert.Equal(t, 1, statsBefore.CacheSize)
}

func TestRouter_ClearCacheForcesReroute(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	registerHealthy(t, reg, "a", model.ProviderOpenAI, "gpt-4", 99)

	_, err := r.Route(context.Background(), Query{Text: "hello there"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Statistics().CacheSize)

	r.ClearCache()

	assert.Equal(t, 0, r.Statistics().CacheSize)
}

func TestRouter_CostStrategyPrefersCheaperSpecialization(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	registerHealthy(t, reg, "expensive", model.ProviderOpenAI, "gpt-4", 99)
	registerHealthy(t, reg, "cheap", model.ProviderZAI, "glm-4", 99)

	specFile := r.specialization
	require.NoError(t, specFile.LoadFile(writeCostSeed(t)))

	d, err := r.Route(context.Background(), Query{Text: "hello", Strategy: Cost})

	require.NoError(t, err)
	assert.Equal(t, "cheap", d.Chosen.InstanceID)
}

func TestRouter_CircuitOpenInstanceIsExcluded(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	registerHealthy(t, reg, "a", model.ProviderOpenAI, "gpt-4", 99)
	registerHealthy(t, reg, "b", model.ProviderOpenAI, "gpt-4", 90)

	require.NoError(t, reg.Breaker().ManualOverride("a", "open"))

	d, err := r.Route(context.Background(), Query{Text: "hello", Strategy: Performance})

	require.NoError(t, err)
	assert.Equal(t, "b", d.Chosen.InstanceID)
}

func TestRouter_NoCapacityIsRetriableFalse(t *testing.T) {
	r, _, _ := newTestRouter(t)

	_, err := r.Route(context.Background(), Query{Text: "hello"})

	assert.False(t, ctrlerr.Retriable(err))
}

func writeCostSeed(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/spec.yaml"
	content := []byte(`
models:
  openai_gpt-4:
    cost_per_1k_tokens: 0.03
  zai_glm-4:
    cost_per_1k_tokens: 0.005
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}
