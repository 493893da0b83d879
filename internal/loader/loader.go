// Package loader writes transformed windows to storage.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/retry"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
	"github.com/5ou1e/CryptoStorage-sub000/internal/transformer"
)

// DefaultArchiveBatchSize bounds one archive insert.
const DefaultArchiveBatchSize = 5000

// Stores are the loader's storage dependencies.
type Stores struct {
	Wallets storage.WalletStore
	Tokens  storage.TokenStore
	Stats   storage.WalletStatsStore
	Ingest  storage.IngestStore
	// Archive mirrors swap facts after commit. Optional.
	Archive storage.SwapStore
}

// Options configures Loader.
type Options struct {
	Retry            retry.Policy
	ArchiveBatchSize int
	Logger           *zerolog.Logger
}

// Loader registers wallets and tokens, then applies swaps and the aggregates
// of the newly inserted ones in one transaction together with the watermark.
type Loader struct {
	stores           Stores
	policy           retry.Policy
	archiveBatchSize int
	logger           *zerolog.Logger
}

// New creates a Loader.
func New(stores Stores, opts Options) *Loader {
	if opts.ArchiveBatchSize <= 0 {
		opts.ArchiveBatchSize = DefaultArchiveBatchSize
	}
	logger := logging.OrGlobal(opts.Logger)
	policy := opts.Retry
	if policy.Logger == nil {
		policy.Logger = logger
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(int, error) { observability.RecordLoadRetry() }
	}
	return &Loader{
		stores:           stores,
		policy:           policy,
		archiveBatchSize: opts.ArchiveBatchSize,
		logger:           logger,
	}
}

// Result summarizes one load.
type Result struct {
	Wallets            int
	Tokens             int
	SwapsInserted      int64
	WalletTokensMerged int
	Archived           int64
	// SwapsDeleted is set by Rollback only.
	SwapsDeleted int64
}

// Load writes res. When parsedUntil is set the watermark advances in the
// same transaction as the swaps. Conflicts are retried per the policy; an
// exhausted budget returns an error wrapping retry.ErrExhausted.
func (l *Loader) Load(ctx context.Context, res *transformer.Result, parsedUntil *time.Time) (*Result, error) {
	out := &Result{Wallets: len(res.Wallets), Tokens: len(res.Tokens)}

	var walletIDs map[string]int64
	err := retry.OnConflict(ctx, l.policy, "upsert wallets", func(ctx context.Context) error {
		var err error
		walletIDs, err = l.stores.Wallets.UpsertBulk(ctx, res.Wallets)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert wallets: %w", err)
	}

	var tokenIDs map[string]int64
	err = retry.OnConflict(ctx, l.policy, "ensure tokens", func(ctx context.Context) error {
		var err error
		tokenIDs, err = l.stores.Tokens.EnsureBulk(ctx, res.Tokens)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ensure tokens: %w", err)
	}

	ids := make([]int64, 0, len(walletIDs))
	for _, id := range walletIDs {
		ids = append(ids, id)
	}
	err = retry.OnConflict(ctx, l.policy, "ensure stats", func(ctx context.Context) error {
		return l.stores.Stats.EnsureBulk(ctx, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stats rows: %w", err)
	}

	if err := resolveIDs(res, walletIDs, tokenIDs); err != nil {
		return nil, err
	}

	batch := &storage.IngestBatch{
		Swaps:       res.Swaps,
		ParsedUntil: parsedUntil,
	}
	var applied *storage.IngestResult
	err = retry.OnConflict(ctx, l.policy, "apply ingest batch", func(ctx context.Context) error {
		var err error
		applied, err = l.stores.Ingest.ApplyBatch(ctx, batch)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("apply batch: %w", err)
	}
	out.SwapsInserted = applied.SwapsInserted
	out.WalletTokensMerged = applied.WalletTokensMerged
	observability.RecordLoad(applied.SwapsInserted, applied.WalletTokensMerged, time.Now().Unix())

	if l.stores.Archive != nil {
		out.Archived = l.archive(ctx, res.Swaps)
	}

	l.logger.Info().
		Int("wallets", out.Wallets).
		Int("tokens", out.Tokens).
		Int("swaps", len(res.Swaps)).
		Int64("swaps_inserted", out.SwapsInserted).
		Int("wallet_tokens", out.WalletTokensMerged).
		Msg("window loaded")
	return out, nil
}

// archive mirrors swaps in chunks. The archive deduplicates by id, so a
// failed chunk is logged and left for the next replay.
func (l *Loader) archive(ctx context.Context, swaps []*domain.Swap) int64 {
	var total int64
	for start := 0; start < len(swaps); start += l.archiveBatchSize {
		end := min(start+l.archiveBatchSize, len(swaps))
		n, err := l.stores.Archive.InsertBulk(ctx, swaps[start:end])
		if err != nil {
			l.logger.Error().Err(err).Int("swaps", end-start).Msg("archive insert failed")
			continue
		}
		total += n
	}
	return total
}

func resolveIDs(res *transformer.Result, walletIDs, tokenIDs map[string]int64) error {
	for _, s := range res.Swaps {
		wid, ok := walletIDs[s.WalletAddress]
		if !ok {
			return fmt.Errorf("%w: wallet %s not registered", storage.ErrInvalidInput, s.WalletAddress)
		}
		tid, ok := tokenIDs[s.TokenAddress]
		if !ok {
			return fmt.Errorf("%w: token %s not registered", storage.ErrInvalidInput, s.TokenAddress)
		}
		s.WalletID, s.TokenID = wid, tid
	}
	for _, wt := range res.WalletTokens {
		wid, ok := walletIDs[wt.WalletAddress]
		if !ok {
			return fmt.Errorf("%w: wallet %s not registered", storage.ErrInvalidInput, wt.WalletAddress)
		}
		tid, ok := tokenIDs[wt.TokenAddress]
		if !ok {
			return fmt.Errorf("%w: token %s not registered", storage.ErrInvalidInput, wt.TokenAddress)
		}
		wt.WalletID, wt.TokenID = wid, tid
	}
	return nil
}
