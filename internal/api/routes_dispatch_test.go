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
	"github.com/ish-automation/fleet-control-plane/internal/probe"
	"github.com/ish-automation/fleet-control-plane/internal/registry"
)

type fakeInvoker struct {
	text string
}

func (f *fakeInvoker) Invoke(ctx context.Context, in *model.Instance, prompt string, opts probe.InvokeOptions) (*probe.InvokeResult, error) {
	return &probe.InvokeResult{Text: f.text, TokensUsed: 42, ResponseMS: 12}, nil
}

func TestHandleDispatch_ExecutesAgainstChosenInstance(t *testing.T) {
	s, _, reg, invokers := newTestServerWithInvokers()
	invokers.Register(model.ProviderOpenAI, &fakeInvoker{text: "hello there"})

	_, err := reg.Register(context.Background(), &model.Instance{
		InstanceID:    "inst-1",
		Provider:      model.ProviderOpenAI,
		Model:         "gpt-4",
		Endpoint:      "https://api.openai.com/v1",
		CredentialRef: "secret-ref",
		MaxConcurrent: 10,
	})
	require.NoError(t, err)
	require.NoError(t, reg.UpdateRollingMetrics(context.Background(), "inst-1", registry.ProbeOrRequestResult{Success: true}))

	body, _ := json.Marshal(dispatchRequest{
		routeRequest: routeRequest{Query: "write a python function to sort a list"},
		Prompt:       "write a python function to sort a list",
	})
	req := httptest.NewRequest("POST", "/v1/dispatch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dispatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "inst-1", resp.InstanceID)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.NotEmpty(t, resp.RequestID)
}

func TestHandleDispatch_NoCapacityReturns503(t *testing.T) {
	s, _, _, _ := newTestServerWithInvokers()

	body, _ := json.Marshal(dispatchRequest{routeRequest: routeRequest{Query: "hello"}, Prompt: "hello"})
	req := httptest.NewRequest("POST", "/v1/dispatch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleDispatch_RejectsMalformedBody(t *testing.T) {
	s, _, _, _ := newTestServerWithInvokers()

	req := httptest.NewRequest("POST", "/v1/dispatch", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
