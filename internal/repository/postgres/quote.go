package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/quote-api/internal/model"
	"github.com/jwalitptl/quote-api/internal/repository"
)

type quoteRepository struct {
	BaseRepository
}

func NewQuoteRepository(base BaseRepository) repository.QuoteRepository {
	return &quoteRepository{base}
}

func (r *quoteRepository) Create(ctx context.Context, quote *model.Quote) error {
	if quote == nil {
		return fmt.Errorf("quote cannot be nil")
	}

	query := `
		INSERT INTO quotes (
			id, name, email, phone, zip, product_id, product_name, sku,
			material, dimensions, notes, status, public_token_hash,
			created_at, updated_at
		) VALUES (
			:id, :name, :email, :phone, :zip, :product_id, :product_name, :sku,
			:material, :dimensions, :notes, :status, :public_token_hash,
			:created_at, :updated_at
		)
	`
	if quote.ID == uuid.Nil {
		quote.ID = uuid.New()
	}
	now := time.Now().UTC()
	quote.CreatedAt = now
	quote.UpdatedAt = now
	if quote.Status == "" {
		quote.Status = model.QuoteStatusNew
	}

	if _, err := r.db.NamedExecContext(ctx, query, quote); err != nil {
		return fmt.Errorf("failed to create quote: %w", err)
	}
	return nil
}

func (r *quoteRepository) AddImage(ctx context.Context, image *model.QuoteImage) error {
	if image == nil {
		return fmt.Errorf("image cannot be nil")
	}

	query := `
		INSERT INTO quote_images (
			id, quote_id, public_id, secure_url, width, height, bytes,
			format, original_name, created_at
		) VALUES (
			:id, :quote_id, :public_id, :secure_url, :width, :height, :bytes,
			:format, :original_name, :created_at
		)
	`
	if image.ID == uuid.Nil {
		image.ID = uuid.New()
	}
	image.CreatedAt = time.Now().UTC()

	if _, err := r.db.NamedExecContext(ctx, query, image); err != nil {
		return fmt.Errorf("failed to add quote image: %w", err)
	}
	return nil
}

func (r *quoteRepository) Get(ctx context.Context, id uuid.UUID) (*model.Quote, error) {
	query := `
		SELECT
			id, name, email, phone, zip, product_id, product_name, sku,
			material, dimensions, notes, status, public_token_hash,
			forwarded_at, created_at, updated_at
		FROM quotes
		WHERE id = $1
	`
	var quote model.Quote
	if err := r.db.GetContext(ctx, &quote, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}

	images, err := r.ListImages(ctx, id)
	if err != nil {
		return nil, err
	}
	quote.Images = images
	return &quote, nil
}

func (r *quoteRepository) ListImages(ctx context.Context, quoteID uuid.UUID) ([]*model.QuoteImage, error) {
	query := `
		SELECT
			id, quote_id, public_id, secure_url, width, height, bytes,
			format, original_name, created_at
		FROM quote_images
		WHERE quote_id = $1
		ORDER BY created_at ASC
	`
	images := []*model.QuoteImage{}
	if err := r.db.SelectContext(ctx, &images, query, quoteID); err != nil {
		return nil, fmt.Errorf("failed to list quote images: %w", err)
	}
	return images, nil
}

// MarkForwarded moves a quote to FORWARDED. Forwarding an already forwarded
// quote keeps the first timestamp.
func (r *quoteRepository) MarkForwarded(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var status model.QuoteStatus
		err := tx.GetContext(ctx, &status, `SELECT status FROM quotes WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock quote: %w", err)
		}
		if status == model.QuoteStatusForwarded {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE quotes SET status = $1, forwarded_at = $2, updated_at = $2 WHERE id = $3`,
			model.QuoteStatusForwarded, at.UTC(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to mark quote forwarded: %w", err)
		}
		return nil
	})
}

func (r *quoteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
