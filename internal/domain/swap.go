package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the direction of a swap relative to the quote asset.
type EventType string

// Swap event types
const (
	EventBuy  EventType = "buy"
	EventSell EventType = "sell"
)

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	return e == EventBuy || e == EventSell
}

// Swap is an immutable swap fact.
// Corresponds to swaps table in PostgreSQL and swaps_archive in ClickHouse.
type Swap struct {
	ID            string    // deterministic hash, PRIMARY KEY
	WalletID      int64     // FK to wallets, resolved by the loader
	TokenID       int64     // FK to tokens, resolved by the loader
	WalletAddress string    // swapper address (after router reattribution)
	TokenAddress  string    // traded token mint
	TxHash        string    // transaction id
	BlockID       int64     // ledger block number
	Timestamp     time.Time // block timestamp (UTC)
	EventType     EventType // buy | sell

	QuoteAmount decimal.Decimal // amount of quote asset spent or received
	TokenAmount decimal.Decimal // amount of token received or spent
	PriceUSD    decimal.Decimal // quote asset USD price at the block minute

	IsPartOfMT3Swappers bool // transaction had 3+ distinct swappers
	IsPartOfArbitrage   bool // wallet bought and sold the token in one transaction

	CreatedAt time.Time
}

// AmountUSD returns the USD value of the quote side.
func (s *Swap) AmountUSD() decimal.Decimal {
	return s.PriceUSD.Mul(s.QuoteAmount)
}

// RawSwap is one provider row before classification.
type RawSwap struct {
	TxID           string
	BlockID        int64
	Swapper        string
	FromMint       string
	ToMint         string
	FromAmount     decimal.Decimal
	ToAmount       decimal.Decimal
	BlockTimestamp time.Time
}
