package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrHashingFailed = errors.New("token hashing failed")
	ErrTokenMismatch = errors.New("token does not match")

	// publicTokenBytes gives a 43 character base64url token.
	publicTokenBytes = 32
)

// TokenHasher hashes the public access tokens handed to quote submitters so
// only the hash is persisted.
type TokenHasher interface {
	Hash(token string) (string, error)
	Compare(hashedToken, token string) error
}

type bcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a new token hasher using bcrypt
func NewBcryptHasher(cost int) TokenHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) Hash(token string) (string, error) {
	if token == "" {
		return "", errors.New("token is empty")
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(token), b.cost)
	if err != nil {
		return "", ErrHashingFailed
	}
	return string(bytes), nil
}

func (b *bcryptHasher) Compare(hashedToken, token string) error {
	if hashedToken == "" || token == "" {
		return ErrTokenMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashedToken), []byte(token)); err != nil {
		return ErrTokenMismatch
	}
	return nil
}

// NewPublicToken returns an opaque URL-safe token.
func NewPublicToken() (string, error) {
	buf := make([]byte, publicTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
