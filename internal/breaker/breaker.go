// Package breaker implements C8: a per-instance three-state circuit
// breaker, grounded on internal/drivers/circuit_breaker.go and generalized
// from a single gate to a keyed manager (spec §9: "CircuitBreaker is owned
// by Registry, keyed by instance_id").
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/ctrlerr"
	"github.com/ish-automation/fleet-control-plane/internal/model"
)

// Option configures a Manager, following the teacher's functional-options
// idiom (WithFailureThreshold, WithTimeout, ...).
type Option func(*Manager)

func WithFailureThreshold(n int) Option { return func(m *Manager) { m.failureThreshold = n } }
func WithSuccessThreshold(n int) Option { return func(m *Manager) { m.successThreshold = n } }
func WithTimeout(d time.Duration) Option { return func(m *Manager) { m.timeout = d } }
func WithLogger(l *zap.Logger) Option    { return func(m *Manager) { m.logger = l } }
func WithClock(c clock.Clock) Option     { return func(m *Manager) { m.clock = c } }

type breakerEntry struct {
	mu            sync.Mutex
	state         model.CircuitState
	failures      int
	successes     int
	lastFailureAt time.Time
}

// Manager is the per-instance keyed circuit breaker (C8). One Manager is
// shared across the whole fleet; each instance gets its own lock and
// counters, matching spec §5's "CircuitBreaker state is per-instance with
// its own lock."
type Manager struct {
	mu       sync.RWMutex
	entries  map[string]*breakerEntry

	failureThreshold int
	successThreshold int
	timeout          time.Duration

	logger *zap.Logger
	clock  clock.Clock
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		entries:          make(map[string]*breakerEntry),
		failureThreshold: 5,
		successThreshold: 3,
		timeout:          60 * time.Second,
		logger:           zap.NewNop(),
		clock:            clock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) entry(instanceID string) *breakerEntry {
	m.mu.RLock()
	e, ok := m.entries[instanceID]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[instanceID]; ok {
		return e
	}
	e = &breakerEntry{state: model.CircuitClosed}
	m.entries[instanceID] = e
	return e
}

// Allow reports whether a call to instanceID may proceed, performing the
// Open -> HalfOpen transition on timeout elapse (spec §4.5).
func (m *Manager) Allow(instanceID string) error {
	e := m.entry(instanceID)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case model.CircuitOpen:
		if m.clock.Now().Sub(e.lastFailureAt) >= m.timeout {
			e.state = model.CircuitHalfOpen
			e.successes = 0
			m.logger.Info("circuit half-open", zap.String("instance_id", instanceID))
			return nil
		}
		return ctrlerr.ErrCircuitOpenFor(instanceID)
	default:
		return nil
	}
}

// RecordSuccess and RecordFailure drive the state machine (spec §4.5).
func (m *Manager) RecordSuccess(instanceID string) {
	e := m.entry(instanceID)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case model.CircuitHalfOpen:
		e.successes++
		if e.successes >= m.successThreshold {
			e.state = model.CircuitClosed
			e.failures = 0
			e.successes = 0
			m.logger.Info("circuit closed", zap.String("instance_id", instanceID))
		}
	case model.CircuitClosed:
		e.failures = 0
	}
}

func (m *Manager) RecordFailure(instanceID string) {
	e := m.entry(instanceID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastFailureAt = m.clock.Now()
	switch e.state {
	case model.CircuitHalfOpen:
		e.state = model.CircuitOpen
		e.successes = 0
		m.logger.Warn("circuit re-opened from half-open", zap.String("instance_id", instanceID))
	case model.CircuitClosed:
		e.failures++
		if e.failures >= m.failureThreshold {
			e.state = model.CircuitOpen
			m.logger.Warn("circuit opened", zap.String("instance_id", instanceID), zap.Int("failures", e.failures))
		}
	}
}

// State returns the current state for inspection/admin surfaces.
func (m *Manager) State(instanceID string) model.CircuitBreakerState {
	e := m.entry(instanceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.CircuitBreakerState{
		InstanceID:    instanceID,
		State:         e.state,
		FailureCount:  e.failures,
		SuccessCount:  e.successes,
		LastFailureAt: e.lastFailureAt,
	}
}

// ManualOverride bypasses the state machine: "open", "close", "reset" clear
// counters per spec §4.5.
func (m *Manager) ManualOverride(instanceID, action string) error {
	e := m.entry(instanceID)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch action {
	case "open":
		e.state = model.CircuitOpen
		e.failures = 0
		e.successes = 0
		e.lastFailureAt = m.clock.Now()
	case "close":
		e.state = model.CircuitClosed
		e.failures = 0
		e.successes = 0
	case "reset":
		e.state = model.CircuitClosed
		e.failures = 0
		e.successes = 0
		e.lastFailureAt = time.Time{}
	default:
		return ctrlerr.ErrConfig("unknown circuit breaker override: " + action)
	}
	m.logger.Info("circuit manual override", zap.String("instance_id", instanceID), zap.String("action", action))
	return nil
}

// IsAvailable is a read-only convenience used by candidate filtering (it
// does not perform the Open->HalfOpen transition; use Allow for that).
func (m *Manager) IsAvailable(instanceID string) bool {
	e := m.entry(instanceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != model.CircuitOpen {
		return true
	}
	return m.clock.Now().Sub(e.lastFailureAt) >= m.timeout
}
