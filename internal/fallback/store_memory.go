package fallback

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps everything in process. Entries do not survive a restart,
// which matches a storefront running in private browsing mode.
type MemoryStore struct {
	mu sync.Mutex
	c  *cache.Cache
}

// NewMemoryStore creates a store; cleanupInterval <= 0 disables the janitor
// goroutine and expired keys are dropped lazily on read.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval < 0 {
		cleanupInterval = 0
	}
	return &MemoryStore{c: cache.New(cache.NoExpiration, cleanupInterval)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Set(key, value, expiration(ttl))
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	// Add fails when an unexpired item already holds the key
	if err := s.c.Add(key, value, expiration(ttl)); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Delete(key)
	return nil
}

// Update holds the store lock across fn so Set and Delete cannot interleave.
func (s *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := ""
	v, ok := s.c.Get(key)
	if ok {
		current = v.(string)
	}
	next, changed, err := fn(current, ok)
	if err != nil || !changed {
		return err
	}
	s.c.Set(key, next, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Close() error {
	s.c.Flush()
	return nil
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return cache.NoExpiration
	}
	return ttl
}
