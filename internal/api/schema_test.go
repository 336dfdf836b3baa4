package api

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateJSON_RejectsMissingRequiredField(t *testing.T) {
	mw := validateJSON(registerInstanceSchema)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/admin/v1/instances", bytes.NewReader([]byte(`{"provider":"openai"}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateJSON_PassesValidBodyThrough(t *testing.T) {
	mw := validateJSON(registerInstanceSchema)
	var gotBody []byte
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	body := []byte(`{"instance_id":"a","provider":"openai","model":"gpt-4","endpoint":"https://e"}`)
	req := httptest.NewRequest("POST", "/admin/v1/instances", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, gotBody)
}

func TestValidateJSON_RejectsUnknownEnumValue(t *testing.T) {
	mw := validateJSON(registerInstanceSchema)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	body := []byte(`{"instance_id":"a","provider":"not-a-provider","model":"gpt-4","endpoint":"https://e"}`)
	req := httptest.NewRequest("POST", "/admin/v1/instances", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
