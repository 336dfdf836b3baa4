// Package api exposes the control plane's two HTTP surfaces (spec §6): the
// request-route surface and the admin surface, plus liveness/readiness and
// the Prometheus scrape endpoint, wired with chi.
package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer token payload for the admin surface. There is no
// per-tenant access key here (spec has no tenant concept); every token is
// signed with the single shared admin secret from AuthConfig.JWTSecret.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// Auth issues and validates admin bearer tokens, generalized from the
// teacher's per-tenant AWS-SigV4 Auth to a single HMAC-signed admin secret
// (this domain has no tenant table or per-access-key secret lookup).
type Auth struct {
	secret []byte
	ttl    time.Duration
}

// NewAuth builds an Auth around secret. An empty secret is valid at
// construction time (e.g. local dev without a configured JWT_SECRET) but
// ValidateToken always fails against it, because its key function rejects
// an empty secret. A non-positive ttl is replaced by 24h.
func NewAuth(secret string, ttl time.Duration) *Auth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{secret: []byte(secret), ttl: ttl}
}

// IssueToken signs a new admin token for subject, valid for a's ttl.
func (a *Auth) IssueToken(subject string) (string, error) {
	now := time.Now()
	claims := Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken parses and verifies tokenStr, returning its claims.
func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		if len(a.secret) == 0 {
			return nil, errors.New("no admin secret configured")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
