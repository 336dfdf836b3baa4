package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_IssueAndValidateRoundTrip(t *testing.T) {
	a := NewAuth("super-secret", time.Hour)

	token, err := a.IssueToken("ops-team")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops-team", claims.Subject)
}

func TestAuth_RejectsWrongSecret(t *testing.T) {
	issuer := NewAuth("secret-a", time.Hour)
	verifier := NewAuth("secret-b", time.Hour)

	token, err := issuer.IssueToken("ops-team")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestAuth_RejectsExpiredToken(t *testing.T) {
	// NewAuth replaces a non-positive ttl, so set the negative ttl directly.
	a := NewAuth("secret", time.Hour)
	a.ttl = -time.Minute

	token, err := a.IssueToken("ops-team")
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	assert.Error(t, err)
}

func TestAuth_DefaultsTTLWhenNonPositive(t *testing.T) {
	a := NewAuth("secret", 0)
	assert.Equal(t, 24*time.Hour, a.ttl)
}
