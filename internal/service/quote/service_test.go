package quote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/quote-api/internal/fallback"
	"github.com/jwalitptl/quote-api/internal/forward"
	"github.com/jwalitptl/quote-api/internal/model"
	"github.com/jwalitptl/quote-api/internal/repository"
	apperrors "github.com/jwalitptl/quote-api/pkg/errors"
	"github.com/jwalitptl/quote-api/pkg/messaging"
	"github.com/jwalitptl/quote-api/pkg/security"
)

type memoryRepo struct {
	mu        sync.Mutex
	quotes    map[uuid.UUID]*model.Quote
	images    map[uuid.UUID][]*model.QuoteImage
	createErr error
	// failImages holds publicIds whose insert fails
	failImages map[string]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		quotes:     map[uuid.UUID]*model.Quote{},
		images:     map[uuid.UUID][]*model.QuoteImage{},
		failImages: map[string]bool{},
	}
}

func (r *memoryRepo) Create(_ context.Context, q *model.Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	q.ID = uuid.New()
	q.CreatedAt = time.Now().UTC()
	q.UpdatedAt = q.CreatedAt
	stored := *q
	r.quotes[q.ID] = &stored
	return nil
}

func (r *memoryRepo) AddImage(_ context.Context, img *model.QuoteImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failImages[img.PublicID] {
		return errors.New("insert failed")
	}
	img.ID = uuid.New()
	r.images[img.QuoteID] = append(r.images[img.QuoteID], img)
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id uuid.UUID) (*model.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *q
	out.Images = r.images[id]
	return &out, nil
}

func (r *memoryRepo) ListImages(_ context.Context, id uuid.UUID) ([]*model.QuoteImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images[id], nil
}

func (r *memoryRepo) MarkForwarded(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[id]
	if !ok {
		return repository.ErrNotFound
	}
	if q.Status != model.QuoteStatusForwarded {
		q.Status = model.QuoteStatusForwarded
		q.ForwardedAt = &at
	}
	return nil
}

func (r *memoryRepo) Ping(context.Context) error { return nil }

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.quotes)
}

type scriptedForwarder struct {
	mu    sync.Mutex
	err   error
	calls []*model.ForwardRequest
}

func (f *scriptedForwarder) Forward(_ context.Context, req *model.ForwardRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.err
}

func (f *scriptedForwarder) Mode() forward.Mode { return forward.ModeHTTP }

func (f *scriptedForwarder) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *scriptedForwarder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingNotifier struct {
	mu     sync.Mutex
	err    error
	quotes []*model.Quote
}

func (n *recordingNotifier) NotifyQuoteSubmitted(_ context.Context, q *model.Quote, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.quotes = append(n.quotes, q)
	return n.err
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	messages []messaging.Message
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, message.(messaging.Message))
	return nil
}

type fixture struct {
	svc       *Service
	repo      *memoryRepo
	forwarder *scriptedForwarder
	queue     *fallback.Queue
	store     fallback.Store
	notifier  *recordingNotifier
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := fallback.NewMemoryStore(0)
	f := &fixture{
		repo:      newMemoryRepo(),
		forwarder: &scriptedForwarder{},
		queue:     fallback.NewQueue(store, fallback.QueueConfig{}, nil),
		store:     store,
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	f.svc = NewService(Deps{
		Repo:      f.repo,
		Forwarder: f.forwarder,
		Queue:     f.queue,
		Hasher:    security.NewBcryptHasher(bcrypt.MinCost),
		Notifier:  f.notifier,
		Publisher: f.publisher,
		Channel:   "quote-events",
	})
	return f
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Wait(ctx))
}

func validSubmission() *model.QuoteSubmission {
	width := 640
	return &model.QuoteSubmission{
		Email:       "  ada@example.com ",
		Name:        "Ada",
		Phone:       "555-0100",
		Zip:         "94110",
		ProductID:   "bench-01",
		ProductName: "Garden Bench",
		SKU:         "GB-180",
		Material:    "Oak",
		Dimensions:  "180x45",
		Notes:       "Rounded corners",
		Images: []model.ImageInput{
			{PublicID: "quotes/a", SecureURL: "https://media.example.com/a.jpg", Width: &width},
			{PublicID: "quotes/b", SecureURL: "https://media.example.com/b.jpg"},
		},
	}
}

func TestSubmitPersistsAndForwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Submit(ctx, validSubmission())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, result.QuoteID)
	assert.Len(t, result.PublicToken, 43)
	assert.Empty(t, result.FailedImages)

	f.wait(t)

	stored, err := f.repo.Get(ctx, result.QuoteID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", stored.Email)
	assert.Equal(t, model.QuoteStatusForwarded, stored.Status)
	assert.NotNil(t, stored.ForwardedAt)
	assert.NotEqual(t, result.PublicToken, stored.PublicTokenHash)
	assert.Len(t, stored.Images, 2)

	require.Equal(t, 1, f.forwarder.callCount())
	sent := f.forwarder.calls[0]
	assert.Equal(t, result.QuoteID.String(), sent.QuoteID)
	assert.Equal(t, "Garden Bench", sent.ProductName)
	assert.Len(t, sent.Images, 2)

	entries, err := f.queue.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.Len(t, f.notifier.quotes, 1)
	require.Len(t, f.publisher.messages, 1)
	assert.Equal(t, "quote-events", f.publisher.channels[0])
	assert.Equal(t, EventQuoteSubmitted, f.publisher.messages[0].Type)
	event := f.publisher.messages[0].Payload.(SubmittedEvent)
	assert.Equal(t, result.QuoteID, event.QuoteID)
	assert.Equal(t, 2, event.ImageCount)
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*model.QuoteSubmission)
		message string
	}{
		{"missing email", func(s *model.QuoteSubmission) { s.Email = "" }, "email is required"},
		{"blank email", func(s *model.QuoteSubmission) { s.Email = "   " }, "email is required"},
		{"image without public id", func(s *model.QuoteSubmission) { s.Images[0].PublicID = "" }, ""},
		{"image with bad url", func(s *model.QuoteSubmission) { s.Images[1].SecureURL = "not a url" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sub := validSubmission()
			tt.mutate(sub)

			_, err := f.svc.Submit(context.Background(), sub)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))
			if tt.message != "" {
				appErr, _ := apperrors.As(err)
				assert.Equal(t, tt.message, appErr.Message)
			}

			f.wait(t)
			assert.Equal(t, 0, f.repo.count())
			assert.Equal(t, 0, f.forwarder.callCount())
			entries, err := f.queue.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}

	t.Run("nil body", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Submit(context.Background(), nil)
		assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))
	})
}

func TestSubmitPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.createErr = errors.New("connection refused")

	_, err := f.svc.Submit(context.Background(), validSubmission())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInternal))

	f.wait(t)
	assert.Equal(t, 0, f.forwarder.callCount())
	assert.Empty(t, f.notifier.quotes)
}

func TestSubmitReportsFailedImages(t *testing.T) {
	f := newFixture(t)
	f.repo.failImages["quotes/b"] = true

	result, err := f.svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.Equal(t, []string{"quotes/b"}, result.FailedImages)

	f.wait(t)
	stored, err := f.repo.Get(context.Background(), result.QuoteID)
	require.NoError(t, err)
	assert.Len(t, stored.Images, 1)
}

func TestSubmitQueuesWhenForwardingFails(t *testing.T) {
	f := newFixture(t)
	f.forwarder.setErr(errors.New("downstream unavailable"))
	f.notifier.err = errors.New("smtp down")
	ctx := context.Background()

	const submissions = 4
	submitted := make(map[string]bool, submissions)
	for i := 0; i < submissions; i++ {
		result, err := f.svc.Submit(ctx, validSubmission())
		require.NoError(t, err)
		submitted[result.QuoteID.String()] = true
	}
	f.wait(t)

	entries, err := f.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, submissions)

	correlationIDs := make(map[string]bool, submissions)
	for _, entry := range entries {
		assert.True(t, submitted[entry.QuoteID], "unexpected quote %s", entry.QuoteID)
		assert.Equal(t, 0, entry.RetryCount)
		assert.Nil(t, entry.LastRetryAt)
		assert.NotEmpty(t, entry.CorrelationID)
		assert.Equal(t, "ada@example.com", entry.Email)
		correlationIDs[entry.CorrelationID] = true

		id, err := uuid.Parse(entry.QuoteID)
		require.NoError(t, err)
		stored, err := f.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.QuoteStatusNew, stored.Status)
	}
	assert.Len(t, correlationIDs, submissions)
}

func TestSubmitWithDisabledDownstream(t *testing.T) {
	f := newFixture(t)
	f.svc.forwarder = forward.DisabledForwarder{}
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, validSubmission())
	require.NoError(t, err)
	f.wait(t)

	entries, err := f.queue.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmitSurvivesQueueFailure(t *testing.T) {
	f := newFixture(t)
	f.forwarder.setErr(errors.New("downstream unavailable"))
	require.NoError(t, f.store.Set(context.Background(), fallback.DefaultQueueKey, "corrupt", 0))

	result, err := f.svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, result.QuoteID)
	f.wait(t)
}

func TestForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Submit(ctx, validSubmission())
	require.NoError(t, err)
	f.wait(t)

	req := &model.ForwardRequest{QuoteID: result.QuoteID.String(), QuoteSubmission: *validSubmission()}
	require.NoError(t, f.svc.Forward(ctx, req))

	f.forwarder.setErr(errors.New("downstream unavailable"))
	err = f.svc.Forward(ctx, req)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnavailable))

	err = f.svc.Forward(ctx, &model.ForwardRequest{})
	assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))
}

func TestGetPublic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Submit(ctx, validSubmission())
	require.NoError(t, err)
	f.wait(t)

	q, err := f.svc.GetPublic(ctx, result.QuoteID, result.PublicToken)
	require.NoError(t, err)
	assert.Equal(t, "Garden Bench", q.ProductName)

	_, err = f.svc.GetPublic(ctx, result.QuoteID, "wrong-token")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.GetPublic(ctx, result.QuoteID, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.GetPublic(ctx, uuid.New(), result.PublicToken)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// A quote whose first forward fails ends up forwarded by the retry
// scheduler and leaves the queue empty.
func TestSubmitEventuallyForwardedByScheduler(t *testing.T) {
	f := newFixture(t)
	f.forwarder.setErr(errors.New("downstream unavailable"))
	ctx := context.Background()

	scheduler := fallback.NewScheduler(f.queue, f.store, f.svc, fallback.SchedulerConfig{Delay: 20 * time.Millisecond}, nil, nil)
	defer scheduler.Stop()

	result, err := f.svc.Submit(ctx, validSubmission())
	require.NoError(t, err)
	f.wait(t)

	entries, err := f.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f.forwarder.setErr(nil)

	assert.Eventually(t, func() bool {
		entries, err := f.queue.List(ctx)
		return err == nil && len(entries) == 0
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := f.repo.Get(ctx, result.QuoteID)
	require.NoError(t, err)
	assert.Equal(t, model.QuoteStatusForwarded, stored.Status)
}
