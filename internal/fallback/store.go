package fallback

import (
	"context"
	"errors"
	"time"
)

// Key names mirror the two browser storage entries of the storefront: the
// JSON array of pending entries and the "retry scheduled" flag.
const (
	DefaultQueueKey = "quote_fallback_queue"
	DefaultFlagKey  = "quote_retry_scheduled"
)

// ErrStoreUnavailable wraps backend failures so callers can tell them apart
// from decoding problems.
var ErrStoreUnavailable = errors.New("fallback store unavailable")

// ErrUpdateConflict is returned when other writers kept changing a key
// through every attempt of Update.
var ErrUpdateConflict = errors.New("fallback store update conflict")

// maxUpdateAttempts bounds the compare-and-set loop of Update.
const maxUpdateAttempts = 16

// UpdateFunc computes the next value of a key from its current one. It may
// run more than once when another writer changes the key in between, so it
// must not have side effects. Returning changed == false skips the write.
type UpdateFunc func(current string, ok bool) (next string, changed bool, err error)

// Store is a small string key/value store. A zero ttl means no expiry.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// Update applies fn atomically with respect to other writers of key,
	// including writers in other processes sharing the backend.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}
