package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coscribe/coscribe/pkg/types"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Sign(&types.Principal{ID: "user-1", DisplayName: "Ada"})
	require.NoError(t, err)

	principal, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", principal.ID)
	assert.Equal(t, "Ada", principal.DisplayName)
}

func TestVerifyDisplayNameFallsBackToSubject(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Sign(&types.Principal{ID: "user-2"})
	require.NoError(t, err)

	principal, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-2", principal.DisplayName)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := NewVerifier("test-secret")

	_, err := v.Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Signed under a different secret.
	other := NewVerifier("other-secret")
	token, err := other.Sign(&types.Principal{ID: "user-1"})
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	secret := "test-secret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = NewVerifier(secret).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	secret := "test-secret"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = NewVerifier(secret).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
