package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ish-automation/fleet-control-plane/internal/model"
)

func doAdmin(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+adminToken(s))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)
	return rec
}

func TestHandleRegisterInstance_ValidBodySucceeds(t *testing.T) {
	s, _, _ := newTestServer()

	rec := doAdmin(t, s, "POST", "/admin/v1/instances", map[string]interface{}{
		"instance_id": "inst-1",
		"provider":    "openai",
		"model":       "gpt-4",
		"endpoint":    "https://api.openai.com/v1",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var dto instanceDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "inst-1", dto.InstanceID)
	assert.Equal(t, "starting", dto.Status)
}

func TestHandleRegisterInstance_RejectsInvalidSchema(t *testing.T) {
	s, _, _ := newTestServer()

	rec := doAdmin(t, s, "POST", "/admin/v1/instances", map[string]interface{}{
		"provider": "openai",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRegisterInstance_RequiresAuth(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest("POST", "/admin/v1/instances", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleListInstances_FiltersByStatus(t *testing.T) {
	s, _, reg := newTestServer()
	ctx := context.Background()

	_, err := reg.Register(ctx, &model.Instance{InstanceID: "a", Provider: model.ProviderOpenAI, Model: "gpt-4", Endpoint: "e"})
	require.NoError(t, err)
	_, err = reg.Register(ctx, &model.Instance{InstanceID: "b", Provider: model.ProviderAnthropic, Model: "claude", Endpoint: "e"})
	require.NoError(t, err)
	require.NoError(t, reg.SetStatus(ctx, "b", model.StatusMaintenance))

	rec := doAdmin(t, s, "GET", "/admin/v1/instances?status=starting", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Instances []instanceDTO `json:"instances"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Instances, 1)
	assert.Equal(t, "a", resp.Instances[0].InstanceID)
}

func TestHandleDeregisterInstance(t *testing.T) {
	s, _, reg := newTestServer()
	_, err := reg.Register(context.Background(), &model.Instance{InstanceID: "a", Provider: model.ProviderOpenAI, Model: "gpt-4", Endpoint: "e"})
	require.NoError(t, err)

	rec := doAdmin(t, s, "DELETE", "/admin/v1/instances/a", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	in, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusStopped, in.Status)
}

func TestHandleUpdateLoad(t *testing.T) {
	s, _, reg := newTestServer()
	_, err := reg.Register(context.Background(), &model.Instance{InstanceID: "a", Provider: model.ProviderOpenAI, Model: "gpt-4", Endpoint: "e", MaxConcurrent: 10})
	require.NoError(t, err)

	rec := doAdmin(t, s, "PATCH", "/admin/v1/instances/a/load", map[string]int{"delta": 3})
	require.Equal(t, http.StatusOK, rec.Code)

	in, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 3, in.CurrentLoad)
}

func TestHandleResetCircuit(t *testing.T) {
	s, _, reg := newTestServer()
	_, err := reg.Register(context.Background(), &model.Instance{InstanceID: "a", Provider: model.ProviderOpenAI, Model: "gpt-4", Endpoint: "e"})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		reg.Breaker().RecordFailure("a")
	}

	rec := doAdmin(t, s, "POST", "/admin/v1/instances/a/circuit/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, reg.Breaker().IsAvailable("a"))
}

func TestHandleCreateGroup_RejectsInvalidSchema(t *testing.T) {
	s, _, _ := newTestServer()
	rec := doAdmin(t, s, "POST", "/admin/v1/groups", map[string]interface{}{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateGroup_AndList(t *testing.T) {
	s, _, _ := newTestServer()

	rec := doAdmin(t, s, "POST", "/admin/v1/groups", map[string]interface{}{
		"provider":      "openai",
		"name":          "openai-pool",
		"min_instances": 1,
		"max_instances": 5,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doAdmin(t, s, "GET", "/admin/v1/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Groups []groupDTO `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Groups, 1)
	assert.Equal(t, "openai-pool", resp.Groups[0].Name)
}

func TestHandleClearCacheAndRouterStats(t *testing.T) {
	s, _, _ := newTestServer()

	rec := doAdmin(t, s, "POST", "/admin/v1/router/cache/clear", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doAdmin(t, s, "GET", "/admin/v1/router/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
