package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ish-automation/fleet-control-plane/internal/model"
	"github.com/ish-automation/fleet-control-plane/internal/router"
)

// routeRequest is the route-surface's inbound payload (spec §6: "(query,
// optional provider, optional strategy, optional metadata)").
type routeRequest struct {
	Query        string                 `json:"query"`
	Provider     string                 `json:"provider,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Strategy     string                 `json:"strategy,omitempty"`
	MinHealthPct float64                `json:"min_health_pct,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// endpointCoordinates is "the selected endpoint coordinates" spec §6 calls
// for alongside the RoutingDecision: enough for the caller to dispatch the
// request to the chosen instance itself.
type endpointCoordinates struct {
	InstanceID    string `json:"instance_id"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Endpoint      string `json:"endpoint"`
	CredentialRef string `json:"credential_ref"`
}

type routeResponse struct {
	Decision   decisionDTO          `json:"decision"`
	Coordinates *endpointCoordinates `json:"endpoint,omitempty"`
}

type decisionDTO struct {
	QueryType           string   `json:"query_type"`
	Complexity          int      `json:"complexity"`
	Language            string   `json:"language"`
	Reason              string   `json:"reason"`
	Confidence          float64  `json:"confidence"`
	EstimatedCost       float64  `json:"estimated_cost"`
	EstimatedResponseMS float64  `json:"estimated_response_ms"`
	RoutingMS           float64  `json:"routing_ms"`
	WasFallback         bool     `json:"was_fallback"`
	Strategy            string   `json:"strategy"`
	Alternatives        []string `json:"alternatives,omitempty"`
}

// handleRoute implements the request-route surface: classify, select a
// candidate, and return the decision plus the chosen instance's
// coordinates. It is read-only with respect to durable state beyond the
// routing cache and metrics counters (spec §6) — it does not dispatch the
// prompt itself; that is the caller's job against the returned endpoint.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	s.incRequest()

	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.incError()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "invalid_input"})
		return
	}

	q := router.Query{
		Text:              req.Query,
		PreferredProvider: model.Provider(req.Provider),
		PreferredModel:    req.Model,
		Strategy:          router.Strategy(req.Strategy),
		MinHealthPct:      req.MinHealthPct,
	}

	start := time.Now()
	decision, err := s.rt.Route(r.Context(), q)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if s.metrics != nil {
		s.metrics.RoutingDecisions.WithLabelValues(string(q.Strategy), outcome).Inc()
		s.metrics.RoutingLatency.WithLabelValues(string(q.Strategy)).Observe(elapsed.Seconds())
	}

	if err != nil {
		s.incError()
		writeError(w, err)
		return
	}

	resp := routeResponse{Decision: toDecisionDTO(decision)}
	if decision.Chosen != nil {
		resp.Coordinates = &endpointCoordinates{
			InstanceID:    decision.Chosen.InstanceID,
			Provider:      string(decision.Chosen.Provider),
			Model:         decision.Chosen.Model,
			Endpoint:      decision.Chosen.Endpoint,
			CredentialRef: decision.Chosen.CredentialRef,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// dispatchRequest is the request-and-execute surface's inbound payload: a
// route query plus the prompt text to actually hand to the chosen instance.
type dispatchRequest struct {
	routeRequest
	Prompt string `json:"prompt"`
}

type dispatchResponse struct {
	Decision   decisionDTO `json:"decision"`
	RequestID  string      `json:"request_id"`
	InstanceID string      `json:"instance_id"`
	Text       string      `json:"text"`
	TokensUsed int         `json:"tokens_used"`
	WasFailover bool       `json:"was_failover"`
	Attempts   int         `json:"attempts"`
	ResponseMS float64     `json:"response_ms"`
}

// handleDispatch routes a query and immediately executes it against the
// chosen instance via the failover.Executor, re-selecting a fresh instance
// on failure up to its configured attempt budget (spec §4.7). Unlike
// handleRoute, this surface is not read-only: it appends request logs and
// drives the circuit breaker through Execute's attempt outcomes.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	s.incRequest()

	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.incError()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "invalid_input"})
		return
	}

	q := router.Query{
		Text:              req.Query,
		PreferredProvider: model.Provider(req.Provider),
		PreferredModel:    req.Model,
		Strategy:          router.Strategy(req.Strategy),
		MinHealthPct:      req.MinHealthPct,
	}

	decision, err := s.rt.Route(r.Context(), q)
	if err != nil {
		s.incError()
		writeError(w, err)
		return
	}

	requestID := uuid.NewString()
	result, err := s.exec.Execute(r.Context(), decision, requestID, req.Prompt)
	if err != nil {
		s.incError()
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dispatchResponse{
		Decision:    toDecisionDTO(decision),
		RequestID:   requestID,
		InstanceID:  result.InstanceID,
		Text:        result.Text,
		TokensUsed:  result.TokensUsed,
		WasFailover: result.WasFailover,
		Attempts:    result.Attempts,
		ResponseMS:  result.ResponseMS,
	})
}

func toDecisionDTO(d router.Decision) decisionDTO {
	alts := make([]string, 0, len(d.Alternatives))
	for _, a := range d.Alternatives {
		alts = append(alts, a.InstanceID)
	}
	return decisionDTO{
		QueryType:           string(d.QueryAnalysis.QueryType),
		Complexity:          int(d.QueryAnalysis.Complexity),
		Language:            d.QueryAnalysis.Language,
		Reason:              d.Reason,
		Confidence:          d.Confidence,
		EstimatedCost:       d.EstimatedCost,
		EstimatedResponseMS: d.EstimatedResponseMS,
		RoutingMS:           d.RoutingMS,
		WasFallback:         d.WasFallback,
		Strategy:            string(d.Strategy),
		Alternatives:        alts,
	}
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.rt.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Statistics())
}
