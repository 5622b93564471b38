package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTServiceRoundTrip(t *testing.T) {
	svc, err := NewJWTService("test-secret", "quote-api", time.Hour)
	require.NoError(t, err)

	token, err := svc.GenerateToken("ops@example.com", RoleAdmin)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestJWTServiceRejectsForeignSecret(t *testing.T) {
	issuer, err := NewJWTService("secret-a", "quote-api", time.Hour)
	require.NoError(t, err)
	verifier, err := NewJWTService("secret-b", "quote-api", time.Hour)
	require.NoError(t, err)

	token, err := issuer.GenerateToken("ops", RoleAdmin)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTServiceRejectsExpiredToken(t *testing.T) {
	svc, err := NewJWTService("test-secret", "quote-api", time.Minute)
	require.NoError(t, err)
	impl := svc.(*jwtService)
	impl.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := svc.GenerateToken("ops", RoleAdmin)
	require.NoError(t, err)

	impl.now = time.Now
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService("", "quote-api", time.Hour)
	assert.Error(t, err)
}
