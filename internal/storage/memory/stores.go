package memory

import "time"

// Stores bundles wired in-memory stores for tests and the -memory flag of the binaries.
type Stores struct {
	Wallets      *WalletStore
	Tokens       *TokenStore
	Swaps        *SwapStore
	WalletTokens *WalletTokenStore
	Stats        *WalletStatsStore
	Watermark    *WatermarkStore
	Prices       *PriceStore
	Credentials  *CredentialStore
	Ingest       *IngestStore
	Recalc       *RecalcStore
	Jobs         *JobStore
	Related      *RelatedCache
}

// NewStores creates an empty, wired set of stores.
func NewStores(relatedTTL time.Duration) *Stores {
	stats := NewWalletStatsStore()
	swaps := NewSwapStore()
	walletTokens := NewWalletTokenStore()
	watermark := NewWatermarkStore()
	wallets := NewWalletStore(stats)
	return &Stores{
		Wallets:      wallets,
		Tokens:       NewTokenStore(),
		Swaps:        swaps,
		WalletTokens: walletTokens,
		Stats:        stats,
		Watermark:    watermark,
		Prices:       NewPriceStore(),
		Credentials:  NewCredentialStore(),
		Ingest:       NewIngestStore(swaps, walletTokens, watermark),
		Recalc:       NewRecalcStore(stats, wallets),
		Jobs:         NewJobStore(),
		Related:      NewRelatedCache(relatedTTL),
	}
}
