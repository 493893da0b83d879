package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Token represents a traded token mint.
// Metadata fields are filled lazily by an external parser.
type Token struct {
	ID        int64
	Address   string  // UNIQUE
	Name      *string // nullable
	Symbol    *string // nullable
	LogoURL   *string // nullable
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuotePrice is the USD price of the quote asset for one minute.
type QuotePrice struct {
	Minute   time.Time // truncated to the minute, UTC
	PriceUSD decimal.Decimal
}

// Minute truncates t to its UTC minute.
func Minute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}
