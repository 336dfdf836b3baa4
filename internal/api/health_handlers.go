package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/ish-automation/fleet-control-plane/internal/registry"
)

// livenessResponse/readinessResponse mirror health_handlers.go's
// handleLiveness/handleReadiness shape, generalized from storage-backend
// health to fleet-instance health.
type livenessResponse struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

type readinessResponse struct {
	Status         string `json:"status"`
	HealthyCount   int    `json:"healthy_count"`
	TotalCount     int    `json:"total_count"`
	MemoryUsageMB  uint64 `json:"memory_usage_mb"`
}

// handleLiveness reports the process is up, independent of fleet state,
// matching health_handlers.go's handleLiveness (no backend checks).
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, livenessResponse{
		Status:    "alive",
		Uptime:    time.Since(s.startTime).String(),
		Timestamp: time.Now(),
	})
}

// handleReadiness reports whether the fleet has any healthy, active
// instance. With zero registered instances it still reports ready (the
// "startup phase" grace from health_handlers.go's IsReady), since an
// empty fleet is a valid initial state, not a failure.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	instances := s.registry.List(registry.ListFilter{ActiveOnly: true})
	healthy := 0
	for _, in := range instances {
		if in.IsHealthy {
			healthy++
		}
	}

	status, code := "ready", http.StatusOK
	if len(instances) > 0 && healthy == 0 {
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, code, readinessResponse{
		Status:        status,
		HealthyCount:  healthy,
		TotalCount:    len(instances),
		MemoryUsageMB: mem.Alloc / 1024 / 1024,
	})
}
