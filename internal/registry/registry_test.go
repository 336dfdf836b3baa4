package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ish-automation/fleet-control-plane/internal/breaker"
	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/model"
	"github.com/ish-automation/fleet-control-plane/internal/store"
)

func newTestRegistry() (*Registry, *clock.Fake) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mem := store.NewMemory()
	br := breaker.NewManager(breaker.WithClock(fake))
	return New(mem, br, fake, zap.NewNop()), fake
}

func TestRegistry_RegisterNewInstanceStartsInStarting(t *testing.T) {
	// Arrange
	r, _ := newTestRegistry()
	ctx := context.Background()

	// Act
	got, err := r.Register(ctx, &model.Instance{InstanceID: "i1", Provider: model.ProviderOpenAI, Model: "gpt-4"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, model.StatusStarting, got.Status)
	assert.True(t, got.IsActive)
	assert.Equal(t, 10, got.MaxConcurrent)
}

func TestRegistry_RegisterExistingPreservesStatusAndLoad(t *testing.T) {
	// Arrange
	r, _ := newTestRegistry()
	ctx := context.Background()
	first, err := r.Register(ctx, &model.Instance{InstanceID: "i1", Provider: model.ProviderOpenAI, Model: "gpt-4"})
	require.NoError(t, err)
	require.NoError(t, r.UpdateLoad(ctx, first.InstanceID, 3))
	require.NoError(t, r.SetStatus(ctx, first.InstanceID, model.StatusHealthy))

	// Act: re-register with a changed field
	updated, err := r.Register(ctx, &model.Instance{InstanceID: "i1", Provider: model.ProviderOpenAI, Model: "gpt-4", Name: "renamed"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, model.StatusHealthy, updated.Status)
	assert.Equal(t, 3, updated.CurrentLoad)
	assert.Equal(t, "renamed", updated.Name)
}

func TestRegistry_DeregisterUnknownInstanceReturnsNotFound(t *testing.T) {
	// Arrange
	r, _ := newTestRegistry()

	// Act
	err := r.Deregister(context.Background(), "missing")

	// Assert
	assert.Error(t, err)
}

func TestRegistry_UpdateLoadTriggersScaleUpHintPastThreshold(t *testing.T) {
	// Arrange
	r, fake := newTestRegistry()
	ctx := context.Background()
	in, err := r.Register(ctx, &model.Instance{InstanceID: "i1", Provider: model.ProviderOpenAI, Model: "gpt-4", MaxConcurrent: 10})
	require.NoError(t, err)

	var hinted string
	r.ScaleUpHintFn = func(_ context.Context, instanceID string) { hinted = instanceID }

	// Act: load crosses 80% of capacity (8/10)
	require.NoError(t, r.UpdateLoad(ctx, in.InstanceID, 8))

	// Assert
	assert.Equal(t, "i1", hinted)
	_ = fake
}

func TestRegistry_UpdateLoadSkipsHintWithinCooldown(t *testing.T) {
	// Arrange
	r, fake := newTestRegistry()
	ctx := context.Background()
	// the instance was last scaled just now, so the 5-minute window is open
	in, err := r.Register(ctx, &model.Instance{InstanceID: "i1", Provider: model.ProviderOpenAI, Model: "gpt-4", MaxConcurrent: 10, LastScaledAt: fake.Now()})
	require.NoError(t, err)

	hints := 0
	r.ScaleUpHintFn = func(_ context.Context, instanceID string) { hints++ }

	// Act: load crosses 80% of capacity twice, one minute apart
	require.NoError(t, r.UpdateLoad(ctx, in.InstanceID, 9))
	fake.Advance(time.Minute)
	require.NoError(t, r.UpdateLoad(ctx, in.InstanceID, -1))
	require.NoError(t, r.UpdateLoad(ctx, in.InstanceID, 1))

	// Assert: both crossings fall inside the cooldown, so no hint fires
	assert.Equal(t, 0, hints)
}

func TestRegistry_UpdateRollingMetricsComputesSuccessRate(t *testing.T) {
	// Arrange
	r, _ := newTestRegistry()
	ctx := context.Background()
	in, err := r.Register(ctx, &model.Instance{InstanceID: "i1", Provider: model.ProviderOpenAI, Model: "gpt-4"})
	require.NoError(t, err)

	ms := 120.0

	// Act
	require.NoError(t, r.UpdateRollingMetrics(ctx, in.InstanceID, ProbeOrRequestResult{Success: true, ResponseMS: &ms}))
	require.NoError(t, r.UpdateRollingMetrics(ctx, in.InstanceID, ProbeOrRequestResult{Success: false}))

	// Assert
	got, err := r.Get(in.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TotalRequests)
	assert.InDelta(t, 50.0, got.SuccessRatePct, 0.001)
	assert.Equal(t, 120.0, got.AvgResponseMS)
}

func TestRegistry_ReserveTokensRespectsBudget(t *testing.T) {
	// Arrange
	r, _ := newTestRegistry()
	ctx := context.Background()
	in, err := r.Register(ctx, &model.Instance{InstanceID: "i1", Provider: model.ProviderOpenAI, Model: "gpt-4", MaxTokensPerMinute: 60})
	require.NoError(t, err)

	// Act & Assert: burst up to the bucket size succeeds, the next reservation fails.
	assert.True(t, r.ReserveTokens(in.InstanceID, 60))
	assert.False(t, r.ReserveTokens(in.InstanceID, 1))
}

func TestRegistry_ReserveTokensUnlimitedWhenUnconfigured(t *testing.T) {
	// Arrange
	r, _ := newTestRegistry()
	ctx := context.Background()
	in, err := r.Register(ctx, &model.Instance{InstanceID: "i1", Provider: model.ProviderOpenAI, Model: "gpt-4"})
	require.NoError(t, err)

	// Act & Assert
	assert.True(t, r.ReserveTokens(in.InstanceID, 1_000_000))
}

func TestRegistry_ListFiltersByProviderAndActive(t *testing.T) {
	// Arrange
	r, _ := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, &model.Instance{InstanceID: "i1", Provider: model.ProviderOpenAI, Model: "gpt-4"})
	require.NoError(t, err)
	_, err = r.Register(ctx, &model.Instance{InstanceID: "i2", Provider: model.ProviderAnthropic, Model: "claude"})
	require.NoError(t, err)
	require.NoError(t, r.Deregister(ctx, "i2"))

	// Act
	openaiOnly := r.List(ListFilter{Provider: model.ProviderOpenAI})
	activeOnly := r.List(ListFilter{ActiveOnly: true})

	// Assert
	require.Len(t, openaiOnly, 1)
	assert.Equal(t, "i1", openaiOnly[0].InstanceID)
	require.Len(t, activeOnly, 1)
	assert.Equal(t, "i1", activeOnly[0].InstanceID)
}
