package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmdesk/helmdesk/internal/shared"
)

func TestTokenIssueParseRoundtrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour, 720*time.Hour)
	now := time.Now().UTC()

	signed, jti, expiresAt, err := issuer.Issue("account-1", "ADMIN", false, now)
	require.NoError(t, err)
	require.NotEmpty(t, signed)
	require.NotEmpty(t, jti)
	assert.Equal(t, now.Add(time.Hour), expiresAt)

	claims, err := issuer.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "account-1", claims.Identity)
	assert.Equal(t, "ADMIN", claims.RoleName)
	assert.Equal(t, jti, claims.ID)
}

func TestTokenRememberLifetime(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour, 720*time.Hour)
	now := time.Now().UTC()

	_, _, expiresAt, err := issuer.Issue("account-1", "ADMIN", true, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(720*time.Hour), expiresAt)
}

func TestTokenParseRejectsBadInput(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour, 720*time.Hour)
	now := time.Now().UTC()

	signed, _, _, err := issuer.Issue("account-1", "ADMIN", false, now)
	require.NoError(t, err)

	// Wrong signing key.
	other := NewTokenIssuer("different-secret", time.Hour, 720*time.Hour)
	_, err = other.Parse(signed)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	// Tampered payload.
	_, err = issuer.Parse(signed + "x")
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	_, err = issuer.Parse("")
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestTokenParseRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour, 720*time.Hour)

	signed, _, _, err := issuer.Issue("account-1", "ADMIN", false, time.Now().UTC().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = issuer.Parse(signed)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}
