package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jwalitptl/quote-api/internal/forward"
	"github.com/jwalitptl/quote-api/internal/model"
	"github.com/jwalitptl/quote-api/internal/repository"
	apperrors "github.com/jwalitptl/quote-api/pkg/errors"
	"github.com/jwalitptl/quote-api/pkg/logger"
	"github.com/jwalitptl/quote-api/pkg/messaging"
	"github.com/jwalitptl/quote-api/pkg/metrics"
	"github.com/jwalitptl/quote-api/pkg/security"
)

const (
	EventQuoteSubmitted = "quote.submitted"

	defaultDispatchTimeout = 30 * time.Second

	sourceIntake = "intake"
	sourceRetry  = "retry"
)

type QuoteServicer interface {
	Submit(ctx context.Context, submission *model.QuoteSubmission) (*SubmitResult, error)
	Forward(ctx context.Context, req *model.ForwardRequest) error
	GetPublic(ctx context.Context, id uuid.UUID, token string) (*model.Quote, error)
}

// Notifier sends the best-effort emails for a new quote.
type Notifier interface {
	NotifyQuoteSubmitted(ctx context.Context, quote *model.Quote, publicToken string) error
}

// Enqueuer parks a forward request for the retry scheduler.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *model.ForwardRequest) (*model.PendingQuote, error)
}

type SubmitResult struct {
	QuoteID     uuid.UUID
	PublicToken string
	// FailedImages lists the publicIds whose metadata could not be stored.
	FailedImages []string
}

// SubmittedEvent is the payload of the quote.submitted broker message.
type SubmittedEvent struct {
	QuoteID     uuid.UUID `json:"quoteId"`
	Email       string    `json:"email"`
	Name        string    `json:"name,omitempty"`
	ProductID   string    `json:"productId,omitempty"`
	ProductName string    `json:"productName,omitempty"`
	SKU         string    `json:"sku,omitempty"`
	ImageCount  int       `json:"imageCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Deps are the collaborators of Service. Notifier and Publisher are optional.
type Deps struct {
	Repo      repository.QuoteRepository
	Forwarder forward.Forwarder
	Queue     Enqueuer
	Hasher    security.TokenHasher
	Notifier  Notifier
	Publisher messaging.Publisher
	// Channel is the broker channel quote.submitted is published on.
	Channel string
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	// DispatchTimeout bounds the side effects run after a submission.
	DispatchTimeout time.Duration
}

type Service struct {
	repo            repository.QuoteRepository
	forwarder       forward.Forwarder
	queue           Enqueuer
	hasher          security.TokenHasher
	notifier        Notifier
	publisher       messaging.Publisher
	channel         string
	logger          *logger.Logger
	metrics         *metrics.Metrics
	validate        *validator.Validate
	dispatchTimeout time.Duration
	now             func() time.Time
	newToken        func() (string, error)

	dispatches sync.WaitGroup
}

func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Publisher == nil {
		deps.Publisher = messaging.NopPublisher{}
	}
	if deps.Forwarder == nil {
		deps.Forwarder = forward.DisabledForwarder{}
	}
	if deps.DispatchTimeout <= 0 {
		deps.DispatchTimeout = defaultDispatchTimeout
	}

	v := validator.New()
	v.SetTagName("binding")

	return &Service{
		repo:            deps.Repo,
		forwarder:       deps.Forwarder,
		queue:           deps.Queue,
		hasher:          deps.Hasher,
		notifier:        deps.Notifier,
		publisher:       deps.Publisher,
		channel:         deps.Channel,
		logger:          deps.Logger.WithFields(map[string]interface{}{"component": "quote_service"}),
		metrics:         deps.Metrics,
		validate:        v,
		dispatchTimeout: deps.DispatchTimeout,
		now:             time.Now,
		newToken:        security.NewPublicToken,
	}
}

// Submit persists a quote request and hands the side effects to a background
// dispatch. Only validation and persistence failures reach the caller.
func (s *Service) Submit(ctx context.Context, submission *model.QuoteSubmission) (*SubmitResult, error) {
	if err := s.validateSubmission(submission); err != nil {
		s.metrics.QuoteSubmitErrors.WithLabelValues("validation").Inc()
		return nil, err
	}

	token, err := s.newToken()
	if err != nil {
		s.metrics.QuoteSubmitErrors.WithLabelValues("token").Inc()
		return nil, apperrors.Internal(fmt.Errorf("failed to generate public token: %w", err))
	}
	hash, err := s.hasher.Hash(token)
	if err != nil {
		s.metrics.QuoteSubmitErrors.WithLabelValues("token").Inc()
		return nil, apperrors.Internal(fmt.Errorf("failed to hash public token: %w", err))
	}

	quote := model.NewQuote(submission)
	quote.PublicTokenHash = hash

	if err := s.repo.Create(ctx, quote); err != nil {
		s.metrics.QuoteSubmitErrors.WithLabelValues("persist").Inc()
		s.metrics.DatabaseOperations.WithLabelValues("create_quote", "error").Inc()
		return nil, apperrors.Internal(fmt.Errorf("failed to save quote: %w", err))
	}
	s.metrics.DatabaseOperations.WithLabelValues("create_quote", "success").Inc()

	result := &SubmitResult{QuoteID: quote.ID, PublicToken: token}
	for _, img := range submission.Images {
		image := &model.QuoteImage{
			QuoteID:      quote.ID,
			PublicID:     img.PublicID,
			SecureURL:    img.SecureURL,
			Width:        img.Width,
			Height:       img.Height,
			Bytes:        img.Bytes,
			Format:       img.Format,
			OriginalName: img.OriginalName,
		}
		if err := s.repo.AddImage(ctx, image); err != nil {
			s.metrics.ImagePersistErrors.Inc()
			s.metrics.DatabaseOperations.WithLabelValues("add_image", "error").Inc()
			s.logger.Error(err, "Failed to save quote image", "quote_id", quote.ID.String(), "public_id", img.PublicID)
			result.FailedImages = append(result.FailedImages, img.PublicID)
			continue
		}
		s.metrics.DatabaseOperations.WithLabelValues("add_image", "success").Inc()
		quote.Images = append(quote.Images, image)
	}

	s.metrics.QuotesSubmitted.Inc()
	s.logger.Info("Quote submitted", "quote_id", quote.ID.String(), "images", len(quote.Images))

	s.dispatches.Add(1)
	go s.dispatch(quote, token)

	return result, nil
}

// Forward delivers a request to the downstream system. It is the synchronous
// retry path used by clients and by the retry scheduler.
func (s *Service) Forward(ctx context.Context, req *model.ForwardRequest) error {
	if req == nil {
		return apperrors.BadRequest("request body is required", nil)
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validateSubmission(&req.QuoteSubmission); err != nil {
		return err
	}
	if err := s.forward(ctx, req, sourceRetry); err != nil {
		return apperrors.Unavailable("failed to forward quote", err)
	}
	return nil
}

// Deliver lets the retry scheduler reuse the forwarding path.
func (s *Service) Deliver(ctx context.Context, entry *model.PendingQuote) error {
	return s.forward(ctx, &entry.ForwardRequest, sourceRetry)
}

// GetPublic returns a quote only to holders of its public token. Unknown ids
// and wrong tokens look the same to the caller.
func (s *Service) GetPublic(ctx context.Context, id uuid.UUID, token string) (*model.Quote, error) {
	if token == "" {
		return nil, apperrors.NotFound("quote", nil)
	}

	quote, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("quote", err)
	}
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("get_quote", "error").Inc()
		return nil, apperrors.Internal(fmt.Errorf("failed to get quote: %w", err))
	}

	if err := s.hasher.Compare(quote.PublicTokenHash, token); err != nil {
		return nil, apperrors.NotFound("quote", err)
	}
	return quote, nil
}

// Wait blocks until every background dispatch finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.dispatches.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the datastore answers.
func (s *Service) Ready(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) validateSubmission(submission *model.QuoteSubmission) error {
	if submission == nil {
		return apperrors.BadRequest("request body is required", nil)
	}
	submission.Email = strings.TrimSpace(submission.Email)

	if err := s.validate.Struct(submission); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperrors.BadRequest(ValidationMessage(verrs[0]), err)
		}
		return apperrors.BadRequest("invalid quote request", err)
	}
	return nil
}

// ValidationMessage turns the first failed rule into a client facing message.
func ValidationMessage(fe validator.FieldError) string {
	switch {
	case fe.Field() == "Email":
		return "email is required"
	case strings.Contains(fe.Namespace(), "Images"):
		return fmt.Sprintf("invalid image metadata: %s is %s", fe.Field(), fe.Tag())
	default:
		return fmt.Sprintf("invalid field %s", fe.Field())
	}
}

func (s *Service) dispatch(quote *model.Quote, token string) {
	defer s.dispatches.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
	defer cancel()

	req := &model.ForwardRequest{
		QuoteID:         quote.ID.String(),
		CreatedAt:       quote.CreatedAt,
		QuoteSubmission: quote.Submission(),
	}
	if err := s.forward(ctx, req, sourceIntake); err != nil && !errors.Is(err, forward.ErrDisabled) {
		s.logger.Warn(err, "Forwarding failed, queueing for retry", "quote_id", req.QuoteID)
		s.enqueue(ctx, req)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyQuoteSubmitted(ctx, quote, token); err != nil {
			s.metrics.NotificationErrors.WithLabelValues("email").Inc()
			s.logger.Error(err, "Failed to send quote notification", "quote_id", req.QuoteID)
		}
	}

	msg := messaging.Message{
		Type:       EventQuoteSubmitted,
		OccurredAt: s.now().UTC(),
		Payload: SubmittedEvent{
			QuoteID:     quote.ID,
			Email:       quote.Email,
			Name:        quote.Name,
			ProductID:   quote.ProductID,
			ProductName: quote.ProductName,
			SKU:         quote.SKU,
			ImageCount:  len(quote.Images),
			CreatedAt:   quote.CreatedAt,
		},
	}
	if err := s.publisher.Publish(ctx, s.channel, msg); err != nil {
		s.metrics.NotificationErrors.WithLabelValues("broker").Inc()
		s.logger.Error(err, "Failed to publish quote event", "quote_id", req.QuoteID)
	}
}

func (s *Service) enqueue(ctx context.Context, req *model.ForwardRequest) {
	if s.queue == nil {
		s.metrics.FallbackEnqueueError.Inc()
		s.logger.Warn(nil, "No fallback queue configured, dropping forward request", "quote_id", req.QuoteID)
		return
	}
	entry, err := s.queue.Enqueue(ctx, req)
	if err != nil {
		s.metrics.FallbackEnqueueError.Inc()
		s.logger.Error(err, "Failed to queue forward request", "quote_id", req.QuoteID)
		return
	}
	s.metrics.FallbackEnqueued.Inc()
	s.logger.Info("Forward request queued", "quote_id", req.QuoteID, "correlation_id", entry.CorrelationID)
}

func (s *Service) forward(ctx context.Context, req *model.ForwardRequest, source string) error {
	err := s.forwarder.Forward(ctx, req)
	switch {
	case errors.Is(err, forward.ErrDisabled):
		s.metrics.ForwardAttempts.WithLabelValues(source, "disabled").Inc()
		return err
	case err != nil:
		s.metrics.ForwardAttempts.WithLabelValues(source, "error").Inc()
		return err
	}
	s.metrics.ForwardAttempts.WithLabelValues(source, "success").Inc()

	if id, perr := uuid.Parse(req.QuoteID); perr == nil {
		if err := s.repo.MarkForwarded(ctx, id, s.now()); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn(err, "Failed to mark quote forwarded", "quote_id", req.QuoteID)
		}
	}
	return nil
}
