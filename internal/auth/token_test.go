package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer("access-secret", "refresh-secret")
}

func TestAccessTokenRoundTrip(t *testing.T) {
	issuer := newTestIssuer()

	token, err := issuer.IssueAccessToken("user-1", RoleAdmin)
	require.NoError(t, err)

	claims, err := issuer.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	issuer := newTestIssuer()

	token, err := issuer.IssueRefreshToken("user-1")
	require.NoError(t, err)

	claims, err := issuer.VerifyRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Empty(t, claims.Role)
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	issuer := newTestIssuer()

	refresh, err := issuer.IssueRefreshToken("user-1")
	require.NoError(t, err)
	access, err := issuer.IssueAccessToken("user-1", RoleUser)
	require.NoError(t, err)

	_, err = issuer.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = issuer.VerifyRefreshToken(access)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := newTestIssuer()
	other := NewTokenIssuer("completely", "different")

	token, err := issuer.IssueAccessToken("user-1", RoleUser)
	require.NoError(t, err)

	_, err = other.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyDistinguishesExpiry(t *testing.T) {
	issuer := newTestIssuer()
	issuer.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }

	token, err := issuer.IssueAccessToken("user-1", RoleUser)
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.NotErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := newTestIssuer()

	_, err := issuer.VerifyAccessToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
