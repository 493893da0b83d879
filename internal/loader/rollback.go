package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/retry"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
	"github.com/5ou1e/CryptoStorage-sub000/internal/transformer"
)

// ArchiveDeleter removes mirrored swap facts by id.
type ArchiveDeleter interface {
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// Rollback undoes a window: it deletes the swaps a transform of that window
// produces and rebuilds the aggregates they touched. It satisfies the
// runner's load stage, so a rollback reuses extraction and transformation.
type Rollback struct {
	ingest  storage.IngestStore
	archive ArchiveDeleter
	policy  retry.Policy
	logger  *zerolog.Logger
}

// NewRollback creates a Rollback. archive may be nil.
func NewRollback(ingest storage.IngestStore, archive ArchiveDeleter, opts Options) *Rollback {
	logger := logging.OrGlobal(opts.Logger)
	policy := opts.Retry
	if policy.Logger == nil {
		policy.Logger = logger
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(int, error) { observability.RecordLoadRetry() }
	}
	return &Rollback{ingest: ingest, archive: archive, policy: policy, logger: logger}
}

// Load deletes the swaps of res. The watermark is never moved, so
// parsedUntil is ignored.
func (r *Rollback) Load(ctx context.Context, res *transformer.Result, _ *time.Time) (*Result, error) {
	ids := make([]string, 0, len(res.Swaps))
	for _, s := range res.Swaps {
		ids = append(ids, s.ID)
	}

	var rolled *storage.RollbackResult
	err := retry.OnConflict(ctx, r.policy, "rollback swaps", func(ctx context.Context) error {
		var err error
		rolled, err = r.ingest.RollbackSwaps(ctx, ids)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rollback swaps: %w", err)
	}
	observability.RecordRollback(rolled.SwapsDeleted)

	if r.archive != nil && len(ids) > 0 {
		if _, err := r.archive.DeleteByIDs(ctx, ids); err != nil {
			r.logger.Error().Err(err).Int("swaps", len(ids)).Msg("archive delete failed")
		}
	}

	r.logger.Info().
		Int("swaps", len(ids)).
		Int64("swaps_deleted", rolled.SwapsDeleted).
		Int("wallet_tokens_rebuilt", rolled.WalletTokensRebuilt).
		Int("wallet_tokens_deleted", rolled.WalletTokensDeleted).
		Msg("window rolled back")
	return &Result{
		SwapsDeleted:       rolled.SwapsDeleted,
		WalletTokensMerged: rolled.WalletTokensRebuilt,
	}, nil
}
