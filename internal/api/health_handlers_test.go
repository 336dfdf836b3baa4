package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ish-automation/fleet-control-plane/internal/model"
)

func TestHandleLiveness_AlwaysOK(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp livenessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
}

func TestHandleReadiness_EmptyFleetIsReady(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp readinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, 0, resp.TotalCount)
}

func TestHandleReadiness_UnhealthyFleetIsNotReady(t *testing.T) {
	s, _, reg := newTestServer()

	_, err := reg.Register(context.Background(), &model.Instance{
		InstanceID: "inst-1",
		Provider:   model.ProviderOpenAI,
		Model:      "gpt-4",
		Endpoint:   "https://example.invalid",
		IsActive:   true,
	})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp readinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, 0, resp.HealthyCount)
}
