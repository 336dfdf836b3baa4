// Package retention implements the background sweep that bounds the growth
// of append-only history tables (health_events, request_logs,
// scaling_events), replacing the teacher's policy-CRUD retention service
// (internal/retention/policy.go) with a single ticker-driven horizon, since
// this domain has no per-tenant/per-backend retention policy surface to
// administer.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/store"
)

// Horizon bounds how long each record kind is kept.
type Horizon struct {
	HealthEvents  time.Duration
	RequestLogs   time.Duration
	ScalingEvents time.Duration
}

// DefaultHorizon is 30 days for every kind.
func DefaultHorizon() Horizon {
	d := 30 * 24 * time.Hour
	return Horizon{HealthEvents: d, RequestLogs: d, ScalingEvents: d}
}

// Sweeper periodically deletes records older than its configured horizon.
type Sweeper struct {
	store    store.Store
	clock    clock.Clock
	logger   *zap.Logger
	horizon  Horizon
	interval time.Duration
}

func New(st store.Store, clk clock.Clock, logger *zap.Logger, horizon Horizon) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: st, clock: clk, logger: logger, horizon: horizon, interval: time.Hour}
}

// WithInterval overrides the default hourly sweep cadence.
func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	s.interval = d
	return s
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	now := s.clock.Now()
	kinds := []struct {
		kind    store.RetentionKind
		horizon time.Duration
	}{
		{store.RetentionHealthEvents, s.horizon.HealthEvents},
		{store.RetentionRequestLogs, s.horizon.RequestLogs},
		{store.RetentionScalingEvents, s.horizon.ScalingEvents},
	}
	for _, k := range kinds {
		if k.horizon <= 0 {
			continue
		}
		n, err := s.store.DeleteOld(ctx, k.kind, now.Add(-k.horizon))
		if err != nil {
			s.logger.Warn("retention sweep failed", zap.String("kind", string(k.kind)), zap.Error(err))
			continue
		}
		if n > 0 {
			s.logger.Info("retention sweep", zap.String("kind", string(k.kind)), zap.Int64("deleted", n))
		}
	}
}
