package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Middleware matches the teacher's function-over-function shape.
type Middleware func(http.Handler) http.Handler

type contextKey string

const subjectKey = contextKey("admin-subject")

// loggingMiddleware times every request and emits one structured log line,
// grounded on server.go's loggingMiddleware (method/path/status/latency
// fields), generalized from per-tenant request counting to a plain
// zap.Logger call since this surface has no tenant dimension.
func loggingMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// requireJWT gates the admin surface behind a bearer token, generalized
// from server.go's requireJWT (Bearer-prefix stripping, claims injected
// into the request context) to a single shared admin secret rather than
// per-tenant claims.
func (s *Server) requireJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token", Kind: "unauthorized"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token: " + err.Error(), Kind: "unauthorized"})
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
