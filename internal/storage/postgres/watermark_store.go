package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// WatermarkStore is a PostgreSQL implementation of storage.WatermarkStore.
// Uses the single-row etl_watermark table.
type WatermarkStore struct {
	pool *Pool
}

// NewWatermarkStore creates a new PostgreSQL watermark store.
func NewWatermarkStore(pool *Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WatermarkStore = (*WatermarkStore)(nil)

// Get returns the swaps-parsed-until timestamp.
func (s *WatermarkStore) Get(ctx context.Context) (time.Time, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT swaps_parsed_until
		FROM etl_watermark
		WHERE id = 1
	`)

	var t time.Time
	if err := row.Scan(&t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, storage.ErrNotFound
		}
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Set overwrites the watermark.
func (s *WatermarkStore) Set(ctx context.Context, t time.Time) error {
	return setWatermark(ctx, s.pool, t)
}

func setWatermark(ctx context.Context, q querier, t time.Time) error {
	if t.IsZero() {
		return storage.ErrInvalidInput
	}
	_, err := q.Exec(ctx, `
		INSERT INTO etl_watermark (id, swaps_parsed_until, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE
		SET swaps_parsed_until = EXCLUDED.swaps_parsed_until,
		    updated_at = NOW()
	`, t.UTC())
	return wrapErr("set watermark", err)
}
