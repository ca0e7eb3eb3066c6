package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domrepo "MarketPipe/internal/domain/repository"
	pkgpg "MarketPipe/pkg/postgres"
)

// PostgresWatermarkStore keeps aggregator cursors in a key/value table. The
// caller advances a cursor only after the work of the covered window has
// been committed, so crash recovery naturally replays the last window.
type PostgresWatermarkStore struct {
	db    *sql.DB
	table string
}

// NewPostgresWatermarkStore creates a WatermarkStore over the given table.
func NewPostgresWatermarkStore(pg *pkgpg.Client, table string) domrepo.WatermarkStore {
	return &PostgresWatermarkStore{db: pg.DB(), table: table}
}

// Last returns the stored cursor, or the Unix epoch when the key has never
// been written.
func (s *PostgresWatermarkStore) Last(ctx context.Context, key string) (time.Time, error) {
	q := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.table)
	var raw string
	err := s.db.QueryRowContext(ctx, q, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Unix(0, 0).UTC(), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark %q: %w", raw, err)
	}
	return ts.UTC(), nil
}

// Advance upserts the cursor. Monotonicity is the caller's contract: a
// single aggregator instance only ever advances with a later window end.
func (s *PostgresWatermarkStore) Advance(ctx context.Context, key string, to time.Time) error {
	q := fmt.Sprintf(`
        INSERT INTO %s (key, value) VALUES ($1, $2)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
    `, s.table)
	if _, err := s.db.ExecContext(ctx, q, key, to.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}
