package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// KlineFetcher returns candles opening in [start, end].
type KlineFetcher interface {
	Fetch(ctx context.Context, start, end time.Time) ([]*domain.QuotePrice, error)
}

// Backfiller fills the price table from the latest stored minute up to now.
type Backfiller struct {
	fetcher KlineFetcher
	store   storage.PriceStore
	from    time.Time // used when nothing is stored
	now     func() time.Time
	logger  *zerolog.Logger
}

// NewBackfiller creates a Backfiller.
func NewBackfiller(fetcher KlineFetcher, store storage.PriceStore, from time.Time, logger *zerolog.Logger) *Backfiller {
	return &Backfiller{
		fetcher: fetcher,
		store:   store,
		from:    from.UTC(),
		now:     time.Now,
		logger:  logging.OrGlobal(logger),
	}
}

// Run fetches pages of MaxKlines minutes and stores them. Returns prices stored.
func (b *Backfiller) Run(ctx context.Context) (int, error) {
	start := b.from
	latest, err := b.store.Latest(ctx)
	switch {
	case err == nil:
		start = latest.Minute
	case errors.Is(err, storage.ErrNotFound):
	default:
		return 0, fmt.Errorf("latest price: %w", err)
	}

	end := b.now().UTC()
	if !end.After(start) {
		return 0, nil
	}

	stored := 0
	for cur := start; cur.Before(end); {
		next := cur.Add(MaxKlines * time.Minute)
		if next.After(end) {
			next = end
		}
		prices, err := b.fetcher.Fetch(ctx, cur, next)
		if err != nil {
			return stored, fmt.Errorf("fetch klines %s..%s: %w", cur.Format(time.RFC3339), next.Format(time.RFC3339), err)
		}
		if err := b.store.UpsertBulk(ctx, prices); err != nil {
			return stored, fmt.Errorf("store prices: %w", err)
		}
		stored += len(prices)
		observability.RecordQuotePrices("rest", len(prices))
		b.logger.Debug().
			Time("from", cur).
			Time("to", next).
			Int("prices", len(prices)).
			Msg("klines page stored")
		cur = next
	}

	b.logger.Info().
		Time("from", start).
		Time("to", end).
		Int("prices", stored).
		Msg("quote price backfill finished")
	return stored, nil
}
