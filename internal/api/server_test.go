package api

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ish-automation/fleet-control-plane/internal/breaker"
	"github.com/ish-automation/fleet-control-plane/internal/clock"
	"github.com/ish-automation/fleet-control-plane/internal/config"
	"github.com/ish-automation/fleet-control-plane/internal/failover"
	"github.com/ish-automation/fleet-control-plane/internal/health"
	"github.com/ish-automation/fleet-control-plane/internal/metrics"
	"github.com/ish-automation/fleet-control-plane/internal/probe"
	"github.com/ish-automation/fleet-control-plane/internal/registry"
	"github.com/ish-automation/fleet-control-plane/internal/router"
	"github.com/ish-automation/fleet-control-plane/internal/scaler"
	"github.com/ish-automation/fleet-control-plane/internal/selector"
	"github.com/ish-automation/fleet-control-plane/internal/specialization"
	"github.com/ish-automation/fleet-control-plane/internal/store"
)

// newTestServer wires a full Server over an in-memory Store, the same way
// cmd/controlplane/main.go wires the production one, for handler tests
// that want to drive requests through the real chi router.
func newTestServer() (*Server, store.Store, *registry.Registry) {
	s, st, reg, _ := newTestServerWithInvokers()
	return s, st, reg
}

// newTestServerWithInvokers also returns the probe.Registry backing the
// Server's failover.Executor, so dispatch tests can register a scripted
// UpstreamInvoker before driving a request through it.
func newTestServerWithInvokers() (*Server, store.Store, *registry.Registry, *probe.Registry) {
	st := store.NewMemory()
	clk := clock.NewFake(time.Unix(0, 0))
	br := breaker.NewManager(breaker.WithClock(clk))
	reg := registry.New(st, br, clk, zap.NewNop())
	sel := selector.New(rand.New(rand.NewSource(1)))
	specReg := specialization.New(zap.NewNop())
	rt := router.New(reg, br, specReg, sel, clk, zap.NewNop())
	invokers := probe.NewRegistry()
	exec := failover.New(reg, rt, invokers, st, clk, zap.NewNop())
	prober := probe.NewInvokerProber(invokers, time.Second)
	monitor := health.New(reg, prober, st, clk, zap.NewNop())
	scl := scaler.New(reg, st, clk, zap.NewNop())
	m := metrics.New()
	auth := NewAuth("test-secret", time.Hour)

	s := NewServer(config.Default(), zap.NewNop(), reg, rt, exec, monitor, scl, st, br, m, auth)
	return s, st, reg, invokers
}

func adminToken(s *Server) string {
	token, err := s.auth.IssueToken("test-admin")
	if err != nil {
		panic(err)
	}
	return token
}
