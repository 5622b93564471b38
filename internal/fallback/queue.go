package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/quote-api/internal/model"
	"github.com/jwalitptl/quote-api/pkg/metrics"
)

// DefaultMaxRetries is the retry budget of an entry before it is dead-lettered.
const DefaultMaxRetries = 5

// Patch is a partial update merged into a queued entry. Nil fields are left alone.
type Patch struct {
	RetryCount  *int
	LastRetryAt *time.Time
	LastError   *string
}

type QueueConfig struct {
	Key        string
	MaxRetries int
}

// Queue holds forward requests that were not confirmed delivered. It is the
// only reader and writer of its store key. Every mutation is a read-modify-
// write of the whole snapshot through Store.Update, so queues in different
// processes sharing one store do not drop each other's entries.
type Queue struct {
	store      Store
	key        string
	maxRetries int
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string

	mu        sync.Mutex
	listeners []func(ctx context.Context)
}

func NewQueue(store Store, config QueueConfig, m *metrics.Metrics) *Queue {
	if config.Key == "" {
		config.Key = DefaultQueueKey
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	return &Queue{
		store:      store,
		key:        config.Key,
		maxRetries: config.MaxRetries,
		metrics:    m,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// OnEnqueue registers fn to run after every successful Enqueue.
func (q *Queue) OnEnqueue(fn func(ctx context.Context)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// Enqueue appends a new entry with a fresh correlation id and retryCount 0.
// The quote is already persisted when this is called, so callers log a
// returned error and carry on.
func (q *Queue) Enqueue(ctx context.Context, req *model.ForwardRequest) (*model.PendingQuote, error) {
	if req == nil {
		return nil, fmt.Errorf("forward request cannot be nil")
	}

	q.mu.Lock()
	entry := &model.PendingQuote{
		ForwardRequest: *req,
		CorrelationID:  q.newID(),
		RetryCount:     0,
		EnqueuedAt:     q.now().UTC(),
	}
	err := q.mutate(ctx, func(entries []*model.PendingQuote) ([]*model.PendingQuote, bool, error) {
		for _, e := range entries {
			if e.CorrelationID == entry.CorrelationID {
				return nil, false, fmt.Errorf("duplicate correlation id %s", entry.CorrelationID)
			}
		}
		added := *entry
		return append(entries, &added), true, nil
	})
	if err != nil {
		q.mu.Unlock()
		return nil, err
	}
	listeners := append([]func(context.Context){}, q.listeners...)
	q.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx)
	}

	out := *entry
	return &out, nil
}

// List returns a snapshot of all entries in insertion order.
func (q *Queue) List(ctx context.Context) ([]*model.PendingQuote, error) {
	raw, ok, err := q.store.Get(ctx, q.key)
	if err != nil {
		return nil, err
	}
	return q.decode(raw, ok)
}

// ListRetryable returns entries still below the retry cap.
func (q *Queue) ListRetryable(ctx context.Context) ([]*model.PendingQuote, error) {
	return q.filter(ctx, func(e *model.PendingQuote) bool { return !e.DeadLettered(q.maxRetries) })
}

// ListDeadLettered returns entries that used their whole retry budget. They
// stay in the queue for inspection and are never retried.
func (q *Queue) ListDeadLettered(ctx context.Context) ([]*model.PendingQuote, error) {
	return q.filter(ctx, func(e *model.PendingQuote) bool { return e.DeadLettered(q.maxRetries) })
}

func (q *Queue) filter(ctx context.Context, keep func(*model.PendingQuote) bool) ([]*model.PendingQuote, error) {
	entries, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.PendingQuote, 0, len(entries))
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Remove deletes the entry with the given correlation id. Removing an
// unknown id is a no-op; the bool reports whether something was removed.
func (q *Queue) Remove(ctx context.Context, correlationID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed bool
	err := q.mutate(ctx, func(entries []*model.PendingQuote) ([]*model.PendingQuote, bool, error) {
		removed = false
		kept := make([]*model.PendingQuote, 0, len(entries))
		for _, e := range entries {
			if e.CorrelationID == correlationID {
				removed = true
				continue
			}
			kept = append(kept, e)
		}
		return kept, removed, nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Update merges patch into the matching entry and returns the result. It is
// a no-op when the entry no longer exists. RetryCount never goes down.
func (q *Queue) Update(ctx context.Context, correlationID string, patch Patch) (*model.PendingQuote, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var updated *model.PendingQuote
	err := q.mutate(ctx, func(entries []*model.PendingQuote) ([]*model.PendingQuote, bool, error) {
		updated = nil
		for _, e := range entries {
			if e.CorrelationID != correlationID {
				continue
			}
			if patch.RetryCount != nil && *patch.RetryCount > e.RetryCount {
				e.RetryCount = *patch.RetryCount
			}
			if patch.LastRetryAt != nil {
				t := patch.LastRetryAt.UTC()
				e.LastRetryAt = &t
			}
			if patch.LastError != nil {
				e.LastError = *patch.LastError
			}
			out := *e
			updated = &out
			return entries, true, nil
		}
		return entries, false, nil
	})
	if err != nil {
		return nil, false, err
	}
	return updated, updated != nil, nil
}

// mutate decodes the stored snapshot, applies fn and writes the result back
// atomically. fn may run several times and must only touch what it returns.
// A snapshot that does not decode is reported and left untouched.
func (q *Queue) mutate(ctx context.Context, fn func([]*model.PendingQuote) ([]*model.PendingQuote, bool, error)) error {
	var written []*model.PendingQuote
	err := q.store.Update(ctx, q.key, func(current string, ok bool) (string, bool, error) {
		written = nil
		entries, err := q.decode(current, ok)
		if err != nil {
			return "", false, err
		}
		next, changed, err := fn(entries)
		if err != nil || !changed {
			return "", false, err
		}
		if next == nil {
			next = []*model.PendingQuote{}
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return "", false, fmt.Errorf("failed to encode fallback queue: %w", err)
		}
		written = next
		return string(raw), true, nil
	})
	if err != nil {
		return err
	}
	if written != nil {
		q.observe(written)
	}
	return nil
}

func (q *Queue) decode(raw string, ok bool) ([]*model.PendingQuote, error) {
	if !ok || raw == "" {
		return []*model.PendingQuote{}, nil
	}
	var entries []*model.PendingQuote
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("corrupt fallback queue %q: %w", q.key, err)
	}
	return entries, nil
}

func (q *Queue) observe(entries []*model.PendingQuote) {
	if q.metrics == nil {
		return
	}
	dead := 0
	for _, e := range entries {
		if e.DeadLettered(q.maxRetries) {
			dead++
		}
	}
	q.metrics.FallbackQueueSize.Set(float64(len(entries)))
	q.metrics.FallbackDeadLettered.Set(float64(dead))
}
