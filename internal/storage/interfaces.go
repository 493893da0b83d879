package storage

import (
	"context"
	"time"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
)

// WalletStore provides access to wallets storage.
type WalletStore interface {
	// UpsertBulk inserts unknown wallets and advances last_activity of known ones.
	// Classification flags are never touched. Returns address -> id for every input.
	UpsertBulk(ctx context.Context, wallets []*domain.Wallet) (map[string]int64, error)

	// GetByAddress retrieves a wallet. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.Wallet, error)

	// GetByIDs retrieves wallets by id. Missing ids are skipped.
	GetByIDs(ctx context.Context, ids []int64) ([]*domain.Wallet, error)

	// ListForStats returns up to count wallets, never-checked first, then by oldest last_stats_check.
	ListForStats(ctx context.Context, count int) ([]*domain.Wallet, error)

	// ListForCohort returns wallets matching the cohort's wallet filter.
	ListForCohort(ctx context.Context, f domain.WalletCohortFilter) ([]*domain.Wallet, error)

	// UpdateFlagsBulk writes is_bot, is_scammer and last_stats_check in one statement per chunk.
	UpdateFlagsBulk(ctx context.Context, flags []*domain.WalletFlags) error
}

// TokenStore provides access to tokens storage.
type TokenStore interface {
	// EnsureBulk inserts unknown addresses (ignore on conflict) and returns address -> id.
	EnsureBulk(ctx context.Context, addresses []string) (map[string]int64, error)

	// GetByAddress retrieves a token. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.Token, error)
}

// NeighborQuery selects other wallets' swaps on a token around a reference block.
type NeighborQuery struct {
	TokenID          int64
	BlockID          int64
	EventType        domain.EventType
	BlocksBefore     int64
	BlocksAfter      int64
	ExcludeWalletIDs []int64
}

// SwapStore provides access to swap facts.
type SwapStore interface {
	// InsertBulk inserts swaps, ignoring ids that already exist. Returns rows inserted.
	InsertBulk(ctx context.Context, swaps []*domain.Swap) (int64, error)

	// GetFirstByWalletAndToken returns the lowest-block swap of the given type.
	// Returns ErrNotFound if the wallet never made such a swap.
	GetFirstByWalletAndToken(ctx context.Context, walletID, tokenID int64, event domain.EventType) (*domain.Swap, error)

	// GetNeighborsByToken returns swaps in [block-before, block+after], ordered by block ASC.
	GetNeighborsByToken(ctx context.Context, q NeighborQuery) ([]*domain.Swap, error)
}

// WalletTokenStore provides access to wallet_tokens aggregates.
type WalletTokenStore interface {
	// MergeBulk folds deltas into stored aggregates with the commutative merge.
	MergeBulk(ctx context.Context, deltas []*domain.WalletToken) error

	// Get retrieves one aggregate. Returns ErrNotFound if not exists.
	Get(ctx context.Context, walletID, tokenID int64) (*domain.WalletToken, error)

	// GetByWalletIDs retrieves aggregates of the wallets, optionally filtered.
	GetByWalletIDs(ctx context.Context, walletIDs []int64, f *domain.WalletTokenFilter) ([]*domain.WalletToken, error)

	// ListTradedByWallet returns up to limit aggregates with both buys and sales,
	// most recent last_activity first.
	ListTradedByWallet(ctx context.Context, walletID int64, limit int) ([]*domain.WalletToken, error)
}

// WalletStatsStore provides access to period statistic tables.
type WalletStatsStore interface {
	// EnsureBulk creates empty main-scope rows for every period (ignore on conflict).
	EnsureBulk(ctx context.Context, walletIDs []int64) error

	// ReplaceBulk overwrites whole rows; rows that do not exist are created.
	ReplaceBulk(ctx context.Context, scope domain.StatsScope, stats []*domain.WalletPeriodStatistic) error

	// GetByWalletIDs returns statistics keyed by wallet id. Wallets without rows are absent.
	GetByWalletIDs(ctx context.Context, scope domain.StatsScope, walletIDs []int64) (map[int64]*domain.WalletStats, error)

	// DeleteAll removes every row of the scope.
	DeleteAll(ctx context.Context, scope domain.StatsScope) error
}

// WatermarkStore persists the "parsed until" timestamp of swap ingestion.
type WatermarkStore interface {
	// Get returns the watermark. Returns ErrNotFound if it was never set.
	Get(ctx context.Context) (time.Time, error)

	// Set overwrites the watermark.
	Set(ctx context.Context, t time.Time) error
}

// IngestBatch is one loader unit of work.
type IngestBatch struct {
	Swaps       []*domain.Swap
	ParsedUntil *time.Time // advanced with the batch when set
}

// IngestResult reports what an ingest transaction wrote.
type IngestResult struct {
	SwapsInserted      int64
	WalletTokensMerged int
}

// RollbackResult reports what a rollback transaction removed.
type RollbackResult struct {
	SwapsDeleted        int64
	WalletTokensRebuilt int
	WalletTokensDeleted int // pairs left without swaps
}

// IngestStore applies loader batches atomically.
type IngestStore interface {
	// ApplyBatch inserts swap facts, merges the aggregates of the swaps that
	// were actually inserted and advances the watermark in one transaction.
	// Replaying a batch leaves the aggregates unchanged.
	// Returns an error wrapping ErrConflict on deadlock.
	ApplyBatch(ctx context.Context, b *IngestBatch) (*IngestResult, error)

	// RollbackSwaps deletes swaps by id and rebuilds the aggregates of every
	// affected pair from the swaps that remain, in one transaction.
	// Unknown ids are ignored. Returns an error wrapping ErrConflict on deadlock.
	RollbackSwaps(ctx context.Context, ids []string) (*RollbackResult, error)
}

// RecalcBatch is one recompute write: statistic rows of a scope and,
// for the main scope, the wallets' classification flags.
type RecalcBatch struct {
	Scope domain.StatsScope
	Stats []*domain.WalletPeriodStatistic
	Flags []*domain.WalletFlags
}

// RecalcStore applies recompute results atomically.
type RecalcStore interface {
	// ApplyRecalc replaces the statistic rows and writes the flags in one
	// transaction. Returns an error wrapping ErrConflict on deadlock.
	ApplyRecalc(ctx context.Context, b *RecalcBatch) error
}

// PriceStore provides access to per-minute quote prices.
type PriceStore interface {
	// UpsertBulk inserts prices, ignoring minutes that already exist.
	UpsertBulk(ctx context.Context, prices []*domain.QuotePrice) error

	// GetRange returns prices within [from, to] (inclusive), ordered by minute ASC.
	GetRange(ctx context.Context, from, to time.Time) ([]*domain.QuotePrice, error)

	// Latest returns the newest price. Returns ErrNotFound if the table is empty.
	Latest(ctx context.Context) (*domain.QuotePrice, error)
}

// CredentialStore provides access to provider API keys.
type CredentialStore interface {
	// Add registers a key as active. Returns ErrDuplicateKey if it exists.
	Add(ctx context.Context, apiKey string) (*domain.ProviderCredential, error)

	// NextActive returns the oldest active key. Returns ErrNotFound if none remain.
	NextActive(ctx context.Context) (*domain.ProviderCredential, error)

	// Deactivate marks a key inactive.
	Deactivate(ctx context.Context, id int64) error
}

// JobStore persists refresh job state.
type JobStore interface {
	Save(ctx context.Context, job *domain.RefreshJob) error

	// Get returns a job. Returns ErrNotFound if not exists or expired.
	Get(ctx context.Context, id string) (*domain.RefreshJob, error)
}

// RelatedCache caches related-wallets results per address.
type RelatedCache interface {
	// GetRelated returns a cached result. Returns ErrNotFound on miss.
	GetRelated(ctx context.Context, address string) (*domain.RelatedWallets, error)

	SetRelated(ctx context.Context, address string, r *domain.RelatedWallets) error
}
