package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares the queue between API replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	owned  bool
}

// NewRedisStore namespaces every key with prefix. When owned is true Close
// also closes the client.
func NewRedisStore(client *redis.Client, prefix string, owned bool) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, owned: owned}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrStoreUnavailable, key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrStoreUnavailable, key, err)
	}
	return ok, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}

// Update runs fn inside WATCH/MULTI and retries when the key changed before
// EXEC.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	k := s.key(key)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var fnErr error
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, k).Result()
			ok := true
			if errors.Is(err, redis.Nil) {
				current, ok = "", false
			} else if err != nil {
				return err
			}

			next, changed, err := fn(current, ok)
			if err != nil {
				fnErr = err
				return err
			}
			if !changed {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, next, 0)
				return nil
			})
			return err
		}, k)

		switch {
		case fnErr != nil:
			return fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		case err != nil:
			return fmt.Errorf("%w: update %s: %v", ErrStoreUnavailable, key, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUpdateConflict, key)
}

func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
