package api

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Request body schemas for the two mutating admin endpoints SPEC_FULL.md's
// DOMAIN STACK table calls out for gojsonschema validation.
var (
	registerInstanceSchema = gojsonschema.NewStringLoader(`{
		"type": "object",
		"required": ["instance_id", "provider", "model", "endpoint"],
		"properties": {
			"instance_id": {"type": "string", "minLength": 1},
			"provider": {"type": "string", "enum": ["openai", "anthropic", "zai", "perplexity", "other"]},
			"model": {"type": "string", "minLength": 1},
			"endpoint": {"type": "string", "minLength": 1},
			"max_concurrent": {"type": "integer", "minimum": 1},
			"max_tokens_per_minute": {"type": "integer", "minimum": 0}
		}
	}`)

	createGroupSchema = gojsonschema.NewStringLoader(`{
		"type": "object",
		"required": ["provider", "name", "min_instances", "max_instances"],
		"properties": {
			"provider": {"type": "string", "enum": ["openai", "anthropic", "zai", "perplexity", "other"]},
			"model": {"type": "string"},
			"name": {"type": "string", "minLength": 1},
			"min_instances": {"type": "integer", "minimum": 0},
			"max_instances": {"type": "integer", "minimum": 1}
		}
	}`)
)

// validateJSON validates the request body against schemaLoader before the
// next handler runs, replacing r.Body so the handler can still decode it.
func validateJSON(schemaLoader gojsonschema.JSONLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cannot read request body", Kind: "invalid_input"})
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body: " + err.Error(), Kind: "invalid_input"})
				return
			}
			if !result.Valid() {
				msgs := make([]string, 0, len(result.Errors()))
				for _, e := range result.Errors() {
					msgs = append(msgs, e.String())
				}
				writeJSON(w, http.StatusBadRequest, errorResponse{
					Error: "validation failed: " + strings.Join(msgs, "; "),
					Kind:  "invalid_input",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
