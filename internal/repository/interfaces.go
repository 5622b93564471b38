package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/quote-api/internal/model"
)

var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file
type (
	// QuoteRepository stores quote requests and their image metadata. Quotes
	// are never deleted.
	QuoteRepository interface {
		Create(ctx context.Context, quote *model.Quote) error
		AddImage(ctx context.Context, image *model.QuoteImage) error
		Get(ctx context.Context, id uuid.UUID) (*model.Quote, error)
		ListImages(ctx context.Context, quoteID uuid.UUID) ([]*model.QuoteImage, error)
		MarkForwarded(ctx context.Context, id uuid.UUID, at time.Time) error
		Ping(ctx context.Context) error
	}
)
