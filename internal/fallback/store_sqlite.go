package fallback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fallback_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER
)`

// SQLiteStore persists the queue in a local file for single node deployments.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// a single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM fallback_kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.now().UnixNano(),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrStoreUnavailable, key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fallback_kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.expiresAt(ttl),
	)
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *SQLiteStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM fallback_kv WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		key, now,
	); err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrStoreUnavailable, key, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO fallback_kv (key, value, expires_at) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING`,
		key, value, s.expiresAt(ttl),
	)
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrStoreUnavailable, key, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrStoreUnavailable, key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit: %v", ErrStoreUnavailable, err)
	}
	return rows == 1, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fallback_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}

// Update is a compare-and-set on the stored value: the write only lands when
// the row still holds what fn was given, otherwise fn runs again on the new
// value. Other processes opening the same file are covered too.
func (s *SQLiteStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, ok, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		next, changed, err := fn(current, ok)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		var res sql.Result
		if ok {
			res, err = s.db.ExecContext(ctx,
				`UPDATE fallback_kv SET value = ?, expires_at = NULL
				 WHERE key = ? AND value = ? AND (expires_at IS NULL OR expires_at > ?)`,
				next, key, current, s.now().UnixNano(),
			)
		} else {
			// an expired row counts as absent and may be replaced
			res, err = s.db.ExecContext(ctx,
				`INSERT INTO fallback_kv (key, value, expires_at) VALUES (?, ?, NULL)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = NULL
				 WHERE fallback_kv.expires_at IS NOT NULL AND fallback_kv.expires_at <= ?`,
				key, next, s.now().UnixNano(),
			)
		}
		if err != nil {
			return fmt.Errorf("%w: update %s: %v", ErrStoreUnavailable, key, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: update %s: %v", ErrStoreUnavailable, key, err)
		}
		if rows == 1 {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUpdateConflict, key)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) expiresAt(ttl time.Duration) interface{} {
	if ttl <= 0 {
		return nil
	}
	return s.now().Add(ttl).UnixNano()
}
