package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ish-automation/fleet-control-plane/internal/ctrlerr"
)

// errorResponse is the wire shape for every non-2xx response (spec §6:
// "the core exposes named operations with structured errors").
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps a ctrlerr kind onto the HTTP status spec §7's taxonomy
// implies for an edge that surfaces core errors over HTTP.
func statusFor(err error) (int, string) {
	var cfg ctrlerr.ConfigError
	var noCap ctrlerr.NoCapacityError
	var store ctrlerr.StoreError
	switch {
	case errors.As(err, &cfg):
		return http.StatusBadRequest, "config_error"
	case errors.Is(err, ctrlerr.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.As(err, &noCap):
		return http.StatusServiceUnavailable, "no_capacity"
	case errors.Is(err, ctrlerr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ctrlerr.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.As(err, &store):
		return http.StatusInternalServerError, "store_error"
	case errors.Is(err, context.Canceled):
		return 499, "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
