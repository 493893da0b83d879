// Package pricing collects per-minute USD prices of the quote asset and
// serves them to the ETL transformer.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// ErrMissingPrice is returned when a minute has no stored price.
var ErrMissingPrice = errors.New("missing quote price")

// Table maps UTC minutes to the quote asset's USD price.
type Table map[time.Time]decimal.Decimal

// NewTable builds a table from stored prices.
func NewTable(prices []*domain.QuotePrice) Table {
	t := make(Table, len(prices))
	for _, p := range prices {
		t[domain.Minute(p.Minute)] = p.PriceUSD
	}
	return t
}

// LoadTable reads prices for [from-1m, to+1m] from store.
func LoadTable(ctx context.Context, store storage.PriceStore, from, to time.Time) (Table, error) {
	prices, err := store.GetRange(ctx, domain.Minute(from).Add(-time.Minute), domain.Minute(to).Add(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("load quote prices: %w", err)
	}
	return NewTable(prices), nil
}

// At returns the price for the minute containing ts.
func (t Table) At(ts time.Time) (decimal.Decimal, error) {
	m := domain.Minute(ts)
	p, ok := t[m]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w at %s", ErrMissingPrice, m.Format(time.RFC3339))
	}
	return p, nil
}

// Has reports whether the minute containing ts has a price.
func (t Table) Has(ts time.Time) bool {
	_, ok := t[domain.Minute(ts)]
	return ok
}
