package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS quotes (
		id                UUID PRIMARY KEY,
		name              TEXT NOT NULL DEFAULT '',
		email             TEXT NOT NULL,
		phone             TEXT NOT NULL DEFAULT '',
		zip               TEXT NOT NULL DEFAULT '',
		product_id        TEXT NOT NULL DEFAULT '',
		product_name      TEXT NOT NULL DEFAULT '',
		sku               TEXT NOT NULL DEFAULT '',
		material          TEXT NOT NULL DEFAULT '',
		dimensions        TEXT NOT NULL DEFAULT '',
		notes             TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT 'NEW',
		public_token_hash TEXT NOT NULL,
		forwarded_at      TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quotes_status ON quotes (status)`,
	`CREATE TABLE IF NOT EXISTS quote_images (
		id            UUID PRIMARY KEY,
		quote_id      UUID NOT NULL REFERENCES quotes (id),
		public_id     TEXT NOT NULL,
		secure_url    TEXT NOT NULL,
		width         INTEGER,
		height        INTEGER,
		bytes         BIGINT,
		format        TEXT NOT NULL DEFAULT '',
		original_name TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quote_images_quote_id ON quote_images (quote_id)`,
}

// EnsureSchema creates the quote tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
