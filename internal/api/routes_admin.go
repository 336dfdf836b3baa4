package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ish-automation/fleet-control-plane/internal/ctrlerr"
	"github.com/ish-automation/fleet-control-plane/internal/model"
	"github.com/ish-automation/fleet-control-plane/internal/registry"
)

// instanceDTO is the admin surface's wire shape for model.Instance,
// trimmed to the fields a caller registers or inspects.
type instanceDTO struct {
	InstanceID         string  `json:"instance_id"`
	Provider           string  `json:"provider"`
	Model              string  `json:"model"`
	Name               string  `json:"name,omitempty"`
	Endpoint           string  `json:"endpoint"`
	CredentialRef      string  `json:"credential_ref,omitempty"`
	Status             string  `json:"status,omitempty"`
	IsActive           bool    `json:"is_active,omitempty"`
	IsHealthy          bool    `json:"is_healthy,omitempty"`
	MaxConcurrent      int     `json:"max_concurrent,omitempty"`
	CurrentLoad        int     `json:"current_load,omitempty"`
	MaxTokensPerMinute int     `json:"max_tokens_per_minute,omitempty"`
	SuccessRatePct     float64 `json:"success_rate_pct,omitempty"`
	AvgResponseMS      float64 `json:"avg_response_ms,omitempty"`
}

func toInstanceDTO(in *model.Instance) instanceDTO {
	return instanceDTO{
		InstanceID:         in.InstanceID,
		Provider:           string(in.Provider),
		Model:              in.Model,
		Name:               in.Name,
		Endpoint:           in.Endpoint,
		CredentialRef:      in.CredentialRef,
		Status:             string(in.Status),
		IsActive:           in.IsActive,
		IsHealthy:          in.IsHealthy,
		MaxConcurrent:      in.MaxConcurrent,
		CurrentLoad:        in.CurrentLoad,
		MaxTokensPerMinute: in.MaxTokensPerMinute,
		SuccessRatePct:     in.SuccessRatePct,
		AvgResponseMS:      in.AvgResponseMS,
	}
}

// handleRegisterInstance implements the admin surface's Register
// operation (spec §6).
func (s *Server) handleRegisterInstance(w http.ResponseWriter, r *http.Request) {
	var dto instanceDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "invalid_input"})
		return
	}

	in := &model.Instance{
		InstanceID:         dto.InstanceID,
		Provider:           model.Provider(dto.Provider),
		Model:              dto.Model,
		Name:               dto.Name,
		Endpoint:           dto.Endpoint,
		CredentialRef:      dto.CredentialRef,
		MaxConcurrent:      dto.MaxConcurrent,
		MaxTokensPerMinute: dto.MaxTokensPerMinute,
		Status:             model.StatusStarting,
		IsActive:           true,
	}

	registered, err := s.registry.Register(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.FleetSize.WithLabelValues(string(registered.Provider), string(registered.Status)).Inc()
	}
	writeJSON(w, http.StatusCreated, toInstanceDTO(registered))
}

// handleDeregisterInstance implements Deregister.
func (s *Server) handleDeregisterInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Deregister(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}

type updateLoadRequest struct {
	Delta int `json:"delta"`
}

// handleUpdateLoad implements Update-load.
func (s *Server) handleUpdateLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "invalid_input"})
		return
	}
	if err := s.registry.UpdateLoad(r.Context(), id, req.Delta); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleListInstances implements List instances with the
// {provider, status, is_healthy, pagination} filters from spec §6.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := registry.ListFilter{
		Provider:   model.Provider(q.Get("provider")),
		Model:      q.Get("model"),
		ActiveOnly: q.Get("active_only") == "true",
	}
	if minHealth := q.Get("min_health_pct"); minHealth != "" {
		if v, err := strconv.ParseFloat(minHealth, 64); err == nil {
			filter.MinHealthPct = v
		}
	}

	instances := s.registry.List(filter)

	if statusFilter := q.Get("status"); statusFilter != "" {
		instances = filterByStatus(instances, model.InstanceStatus(statusFilter))
	}
	if healthy := q.Get("is_healthy"); healthy != "" {
		want := healthy == "true"
		instances = filterByHealth(instances, want)
	}

	page, pageSize := paginationFrom(q)
	instances = paginate(instances, page, pageSize)

	dtos := make([]instanceDTO, 0, len(instances))
	for _, in := range instances {
		dtos = append(dtos, toInstanceDTO(in))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"instances": dtos, "page": page, "page_size": pageSize})
}

func filterByStatus(instances []*model.Instance, status model.InstanceStatus) []*model.Instance {
	out := instances[:0:0]
	for _, in := range instances {
		if in.Status == status {
			out = append(out, in)
		}
	}
	return out
}

func filterByHealth(instances []*model.Instance, healthy bool) []*model.Instance {
	out := instances[:0:0]
	for _, in := range instances {
		if in.IsHealthy == healthy {
			out = append(out, in)
		}
	}
	return out
}

func paginationFrom(q map[string][]string) (page, pageSize int) {
	page, pageSize = 1, 50
	if v := q["page"]; len(v) > 0 {
		if n, err := strconv.Atoi(v[0]); err == nil && n > 0 {
			page = n
		}
	}
	if v := q["page_size"]; len(v) > 0 {
		if n, err := strconv.Atoi(v[0]); err == nil && n > 0 {
			pageSize = n
		}
	}
	return page, pageSize
}

func paginate(instances []*model.Instance, page, pageSize int) []*model.Instance {
	start := (page - 1) * pageSize
	if start < 0 || start >= len(instances) {
		return []*model.Instance{}
	}
	end := start + pageSize
	if end > len(instances) {
		end = len(instances)
	}
	return instances[start:end]
}

// handleInstanceMetrics implements "Get per-instance metrics for a time
// window" via Store.RangeRequestLogs/RangeHealthEvents.
func (s *Server) handleInstanceMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	since := sinceFrom(r)

	logs, err := s.st.RangeRequestLogs(r.Context(), id, since)
	if err != nil {
		writeError(w, ctrlerr.ErrStore("range_request_logs", err))
		return
	}
	events, err := s.st.RangeHealthEvents(r.Context(), id, since)
	if err != nil {
		writeError(w, ctrlerr.ErrStore("range_health_events", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instance_id":   id,
		"since":         since,
		"request_logs":  logs,
		"health_events": events,
	})
}

func sinceFrom(r *http.Request) time.Time {
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return time.Now().Add(-1 * time.Hour)
}

// handleTriggerHealthCheck implements "Trigger ad-hoc health check".
func (s *Server) handleTriggerHealthCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.monitor.TriggerNow(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

// handleStartHealthMonitor / handleStopHealthMonitor implement
// "Start/Stop health monitoring".
func (s *Server) handleStartHealthMonitor(w http.ResponseWriter, r *http.Request) {
	s.monitor.Start(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStopHealthMonitor(w http.ResponseWriter, r *http.Request) {
	s.monitor.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleStartAutoscaler / handleStopAutoscaler implement "Start/Stop
// auto-scaling".
func (s *Server) handleStartAutoscaler(w http.ResponseWriter, r *http.Request) {
	if err := s.scl.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStopAutoscaler(w http.ResponseWriter, r *http.Request) {
	s.scl.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleResetCircuit implements "Reset circuit breaker".
func (s *Server) handleResetCircuit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.br.ManualOverride(id, "reset"); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type groupDTO struct {
	ID                 int64   `json:"id,omitempty"`
	Provider           string  `json:"provider"`
	Model              string  `json:"model,omitempty"`
	Name               string  `json:"name"`
	MinInstances       int     `json:"min_instances"`
	MaxInstances       int     `json:"max_instances"`
	DesiredInstances   int     `json:"desired_instances,omitempty"`
	ScaleUpThreshold   float64 `json:"scale_up_threshold,omitempty"`
	ScaleDownThreshold float64 `json:"scale_down_threshold,omitempty"`
	AutoScalingEnabled bool    `json:"auto_scaling_enabled,omitempty"`
	UseRatioScaleDown  bool    `json:"use_ratio_scale_down,omitempty"`
	IsActive           bool    `json:"is_active,omitempty"`
}

func toGroupDTO(g *model.ProviderGroup) groupDTO {
	return groupDTO{
		ID:                 g.ID,
		Provider:           string(g.Provider),
		Model:              g.Model,
		Name:               g.Name,
		MinInstances:       g.MinInstances,
		MaxInstances:       g.MaxInstances,
		DesiredInstances:   g.DesiredInstances,
		ScaleUpThreshold:   g.ScaleUpThreshold,
		ScaleDownThreshold: g.ScaleDownThreshold,
		AutoScalingEnabled: g.AutoScalingEnabled,
		UseRatioScaleDown:  g.UseRatioScaleDown,
		IsActive:           g.IsActive,
	}
}

// handleCreateGroup implements "Create ... provider groups".
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var dto groupDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "invalid_input"})
		return
	}
	g := &model.ProviderGroup{
		Provider:           model.Provider(dto.Provider),
		Model:              dto.Model,
		Name:               dto.Name,
		MinInstances:       dto.MinInstances,
		MaxInstances:       dto.MaxInstances,
		DesiredInstances:   dto.MinInstances,
		ScaleUpThreshold:   dto.ScaleUpThreshold,
		ScaleDownThreshold: dto.ScaleDownThreshold,
		AutoScalingEnabled: dto.AutoScalingEnabled,
		UseRatioScaleDown:  dto.UseRatioScaleDown,
		IsActive:           true,
	}
	if err := s.st.UpsertProviderGroup(r.Context(), g); err != nil {
		writeError(w, ctrlerr.ErrStore("upsert_provider_group", err))
		return
	}
	writeJSON(w, http.StatusCreated, toGroupDTO(g))
}

// handleListGroups implements "list ... provider groups".
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"
	groups, err := s.st.ListProviderGroups(r.Context(), activeOnly)
	if err != nil {
		writeError(w, ctrlerr.ErrStore("list_provider_groups", err))
		return
	}
	dtos := make([]groupDTO, 0, len(groups))
	for _, g := range groups {
		dtos = append(dtos, toGroupDTO(g))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": dtos})
}

// handleConfigureGroup implements "configure provider groups".
func (s *Server) handleConfigureGroup(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid group id", Kind: "invalid_input"})
		return
	}
	g, err := s.st.GetProviderGroup(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var dto groupDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "invalid_input"})
		return
	}
	if dto.MinInstances > 0 {
		g.MinInstances = dto.MinInstances
	}
	if dto.MaxInstances > 0 {
		g.MaxInstances = dto.MaxInstances
	}
	if dto.ScaleUpThreshold > 0 {
		g.ScaleUpThreshold = dto.ScaleUpThreshold
	}
	if dto.ScaleDownThreshold > 0 {
		g.ScaleDownThreshold = dto.ScaleDownThreshold
	}
	g.AutoScalingEnabled = dto.AutoScalingEnabled
	g.UseRatioScaleDown = dto.UseRatioScaleDown

	if err := s.st.UpsertProviderGroup(r.Context(), g); err != nil {
		writeError(w, ctrlerr.ErrStore("upsert_provider_group", err))
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(g))
}

// handleScalingHistory surfaces the supplemented scaling-history feature
// (SPEC_FULL.md "Scaling history / hourly breakdown") via
// Store.RangeScalingEvents.
func (s *Server) handleScalingHistory(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid group id", Kind: "invalid_input"})
		return
	}
	since := sinceFrom(r)
	events, err := s.st.RangeScalingEvents(r.Context(), id, since)
	if err != nil {
		writeError(w, ctrlerr.ErrStore("range_scaling_events", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"group_id": id, "since": since, "events": events})
}
