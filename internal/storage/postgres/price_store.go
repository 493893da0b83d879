package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// PriceStore implements storage.PriceStore using PostgreSQL.
type PriceStore struct {
	pool *Pool
}

// NewPriceStore creates a new PriceStore.
func NewPriceStore(pool *Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

// UpsertBulk inserts prices, ignoring minutes that already exist.
func (s *PriceStore) UpsertBulk(ctx context.Context, prices []*domain.QuotePrice) error {
	query := `
		INSERT INTO quote_prices (minute, price_usd)
		SELECT v.minute, v.price_usd::numeric
		FROM unnest($1::timestamptz[], $2::text[]) AS v(minute, price_usd)
		ON CONFLICT (minute) DO NOTHING
	`
	_, err := execChunks(ctx, s.pool, "insert quote prices", query, prices, func(chunk []*domain.QuotePrice) []any {
		minutes := make([]time.Time, len(chunk))
		values := make([]string, len(chunk))
		for i, p := range chunk {
			minutes[i], values[i] = domain.Minute(p.Minute), numericText(p.PriceUSD)
		}
		return []any{minutes, values}
	})
	return err
}

// GetRange returns prices within [from, to] (inclusive), ordered by minute ASC.
func (s *PriceStore) GetRange(ctx context.Context, from, to time.Time) ([]*domain.QuotePrice, error) {
	query := `
		SELECT minute, price_usd
		FROM quote_prices
		WHERE minute >= $1 AND minute <= $2
		ORDER BY minute ASC
	`

	rows, err := s.pool.Query(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("get quote prices: %w", err)
	}
	defer rows.Close()

	var prices []*domain.QuotePrice
	for rows.Next() {
		var p domain.QuotePrice
		if err := rows.Scan(&p.Minute, &p.PriceUSD); err != nil {
			return nil, fmt.Errorf("scan quote price row: %w", err)
		}
		p.Minute = p.Minute.UTC()
		prices = append(prices, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quote price rows: %w", err)
	}
	return prices, nil
}

// Latest returns the newest price. Returns ErrNotFound if the table is empty.
func (s *PriceStore) Latest(ctx context.Context) (*domain.QuotePrice, error) {
	var p domain.QuotePrice
	err := s.pool.QueryRow(ctx, `SELECT minute, price_usd FROM quote_prices ORDER BY minute DESC LIMIT 1`).
		Scan(&p.Minute, &p.PriceUSD)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest quote price: %w", err)
	}
	p.Minute = p.Minute.UTC()
	return &p, nil
}
