package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNewPublicTokenIsRandomAndURLSafe(t *testing.T) {
	a, err := NewPublicToken()
	require.NoError(t, err)
	b, err := NewPublicToken()
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
	assert.NotContains(t, a, "=")
}

func TestBcryptHasherRoundTrip(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("secret-token")
	require.NoError(t, err)
	assert.NotEqual(t, "secret-token", hash)

	assert.NoError(t, h.Compare(hash, "secret-token"))
	assert.ErrorIs(t, h.Compare(hash, "other"), ErrTokenMismatch)
	assert.ErrorIs(t, h.Compare("", "secret-token"), ErrTokenMismatch)
	assert.ErrorIs(t, h.Compare(hash, ""), ErrTokenMismatch)
}

func TestBcryptHasherRejectsEmptyToken(t *testing.T) {
	_, err := NewBcryptHasher(bcrypt.MinCost).Hash("")
	assert.Error(t, err)
}
