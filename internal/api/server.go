package api

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ish-automation/fleet-control-plane/internal/breaker"
	"github.com/ish-automation/fleet-control-plane/internal/config"
	"github.com/ish-automation/fleet-control-plane/internal/failover"
	"github.com/ish-automation/fleet-control-plane/internal/health"
	"github.com/ish-automation/fleet-control-plane/internal/metrics"
	"github.com/ish-automation/fleet-control-plane/internal/registry"
	"github.com/ish-automation/fleet-control-plane/internal/router"
	"github.com/ish-automation/fleet-control-plane/internal/scaler"
	"github.com/ish-automation/fleet-control-plane/internal/store"
)

// Server is the chi-based admin + route HTTP edge (spec §6), generalized
// from server.go's S3/tenant/RBAC-laden Server to the two surfaces this
// domain actually needs: a synchronous route endpoint and an admin
// surface over the fleet's Registry/Router/HealthMonitor/AutoScaler.
type Server struct {
	config *config.Config
	logger *zap.Logger
	router chi.Router

	httpServer *http.Server

	registry *registry.Registry
	rt       *router.Router
	exec     *failover.Executor
	monitor  *health.Monitor
	scl      *scaler.Scaler
	st       store.Store
	br       *breaker.Manager
	metrics  *metrics.Metrics
	auth     *Auth

	requestCount int64
	errorCount   int64
	startTime    time.Time
}

// NewServer wires the middleware chain and routes before building the
// underlying http.Server, matching server.go's NewServer ordering
// (router.Use(...) before setupRoutes()).
func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	reg *registry.Registry,
	rt *router.Router,
	exec *failover.Executor,
	monitor *health.Monitor,
	scl *scaler.Scaler,
	st store.Store,
	br *breaker.Manager,
	m *metrics.Metrics,
	auth *Auth,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:    cfg,
		logger:    logger,
		router:    chi.NewRouter(),
		registry:  reg,
		rt:        rt,
		exec:      exec,
		monitor:   monitor,
		scl:       scl,
		st:        st,
		br:        br,
		metrics:   m,
		auth:      auth,
		startTime: time.Now(),
	}

	s.router.Use(loggingMiddleware(logger))
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addrFor(cfg),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

func addrFor(cfg *config.Config) string {
	if cfg == nil || cfg.Server.Port == 0 {
		return ":8080"
	}
	return ":" + strconv.Itoa(cfg.Server.Port)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleLiveness)
	s.router.Get("/readyz", s.handleReadiness)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/route", s.handleRoute)
		r.Post("/dispatch", s.handleDispatch)
	})

	s.router.Route("/admin/v1", func(r chi.Router) {
		r.Use(s.requireJWT)

		r.With(validateJSON(registerInstanceSchema)).Post("/instances", s.handleRegisterInstance)
		r.Delete("/instances/{id}", s.handleDeregisterInstance)
		r.Patch("/instances/{id}/load", s.handleUpdateLoad)
		r.Get("/instances", s.handleListInstances)
		r.Get("/instances/{id}/metrics", s.handleInstanceMetrics)
		r.Post("/instances/{id}/health-check", s.handleTriggerHealthCheck)
		r.Post("/instances/{id}/circuit/reset", s.handleResetCircuit)

		r.Post("/health-monitor/start", s.handleStartHealthMonitor)
		r.Post("/health-monitor/stop", s.handleStopHealthMonitor)

		r.Post("/autoscaler/start", s.handleStartAutoscaler)
		r.Post("/autoscaler/stop", s.handleStopAutoscaler)

		r.With(validateJSON(createGroupSchema)).Post("/groups", s.handleCreateGroup)
		r.Get("/groups", s.handleListGroups)
		r.Patch("/groups/{id}", s.handleConfigureGroup)
		r.Get("/groups/{id}/scaling-history", s.handleScalingHistory)

		r.Post("/router/cache/clear", s.handleClearCache)
		r.Get("/router/stats", s.handleRouterStats)
	})
}

// Start begins serving and blocks until Shutdown is called or the server
// fails, matching server.go's Start/ListenAndServe shape.
func (s *Server) Start() error {
	s.logger.Info("api server starting", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetRouter exposes the chi.Router for tests that want to drive requests
// directly without a listening socket.
func (s *Server) GetRouter() chi.Router {
	return s.router
}

func (s *Server) incRequest() { atomic.AddInt64(&s.requestCount, 1) }
func (s *Server) incError()   { atomic.AddInt64(&s.errorCount, 1) }
