package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/model"
)

func TestManager_OpensAfterConsecutiveFailures(t *testing.T) {
	// Arrange
	fake := clock.NewFake(time.Now())
	m := NewManager(WithFailureThreshold(3), WithClock(fake))

	// Act
	m.RecordFailure("i1")
	m.RecordFailure("i1")
	assert.NoError(t, m.Allow("i1"))
	m.RecordFailure("i1")

	// Assert
	assert.Error(t, m.Allow("i1"))
	assert.Equal(t, model.CircuitOpen, m.State("i1").State)
}

func TestManager_HalfOpensAfterTimeoutThenClosesOnSuccesses(t *testing.T) {
	// Arrange
	fake := clock.NewFake(time.Now())
	m := NewManager(WithFailureThreshold(3), WithSuccessThreshold(2), WithTimeout(time.Second), WithClock(fake))
	m.RecordFailure("i1")
	m.RecordFailure("i1")
	m.RecordFailure("i1")
	a := assert.New(t)
	a.Error(m.Allow("i1"))

	// Act: advance past timeout -> HalfOpen
	fake.Advance(time.Second)
	err := m.Allow("i1")
	a.NoError(err)
	a.Equal(model.CircuitHalfOpen, m.State("i1").State)

	// two consecutive successes close it
	m.RecordSuccess("i1")
	a.Equal(model.CircuitHalfOpen, m.State("i1").State)
	m.RecordSuccess("i1")

	// Assert
	a.Equal(model.CircuitClosed, m.State("i1").State)
	a.NoError(m.Allow("i1"))
}

func TestManager_FailureInHalfOpenReopens(t *testing.T) {
	// Arrange
	fake := clock.NewFake(time.Now())
	m := NewManager(WithFailureThreshold(1), WithTimeout(time.Second), WithClock(fake))
	m.RecordFailure("i1")
	fake.Advance(time.Second)
	assert.NoError(t, m.Allow("i1"))

	// Act
	m.RecordFailure("i1")

	// Assert
	assert.Equal(t, model.CircuitOpen, m.State("i1").State)
	assert.Error(t, m.Allow("i1"))
}

func TestManager_TracksFailureCountAndResetsOnSuccessWhileClosed(t *testing.T) {
	// Arrange
	m := NewManager(WithFailureThreshold(5))

	// Act
	m.RecordFailure("i1")
	m.RecordFailure("i1")
	m.RecordSuccess("i1")

	// Assert
	state := m.State("i1")
	assert.Equal(t, model.CircuitClosed, state.State)
	assert.Equal(t, 0, state.FailureCount)
}

func TestManager_ManualOverrideOpenAndReset(t *testing.T) {
	// Arrange
	m := NewManager()

	// Act
	assert.NoError(t, m.ManualOverride("i1", "open"))

	// Assert
	assert.Equal(t, model.CircuitOpen, m.State("i1").State)
	assert.Error(t, m.Allow("i1"))

	// Act
	assert.NoError(t, m.ManualOverride("i1", "reset"))

	// Assert
	assert.Equal(t, model.CircuitClosed, m.State("i1").State)
	assert.NoError(t, m.Allow("i1"))
}

func TestManager_ManualOverrideUnknownActionErrors(t *testing.T) {
	m := NewManager()
	assert.Error(t, m.ManualOverride("i1", "bogus"))
}

func TestManager_IsAvailableReflectsOpenStateWithoutTransitioning(t *testing.T) {
	// Arrange
	fake := clock.NewFake(time.Now())
	m := NewManager(WithFailureThreshold(1), WithTimeout(time.Minute), WithClock(fake))
	m.RecordFailure("i1")

	// Act & Assert
	assert.False(t, m.IsAvailable("i1"))
	assert.Equal(t, model.CircuitOpen, m.State("i1").State, "IsAvailable must not itself transition state")

	fake.Advance(time.Minute)
	assert.True(t, m.IsAvailable("i1"))
}
