package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// IngestStore applies loader batches in a single transaction.
type IngestStore struct {
	pool *Pool
}

// NewIngestStore creates a new IngestStore.
func NewIngestStore(pool *Pool) *IngestStore {
	return &IngestStore{pool: pool}
}

// Compile-time interface check.
var _ storage.IngestStore = (*IngestStore)(nil)

// ApplyBatch inserts swap facts, merges the aggregates of the inserted ones
// and advances the watermark. A deadlock or serialization failure rolls
// everything back and wraps storage.ErrConflict.
func (s *IngestStore) ApplyBatch(ctx context.Context, b *storage.IngestBatch) (*storage.IngestResult, error) {
	if b == nil {
		return nil, storage.ErrInvalidInput
	}
	for _, sw := range b.Swaps {
		if sw.WalletID == 0 || sw.TokenID == 0 {
			return nil, fmt.Errorf("%w: swap %s has unresolved ids", storage.ErrInvalidInput, sw.ID)
		}
	}

	res := &storage.IngestResult{}
	err := inTx(ctx, s.pool, "apply ingest batch", func(tx pgx.Tx) error {
		ids, err := insertSwaps(ctx, tx, b.Swaps)
		if err != nil {
			return err
		}
		deltas := domain.AggregateWalletTokens(storage.SwapsWithIDs(b.Swaps, ids))
		merged, err := mergeWalletTokens(ctx, tx, deltas)
		if err != nil {
			return err
		}
		if b.ParsedUntil != nil {
			if err := setWatermark(ctx, tx, *b.ParsedUntil); err != nil {
				return err
			}
		}
		res.SwapsInserted = int64(len(ids))
		res.WalletTokensMerged = merged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RollbackSwaps deletes swaps and rebuilds the affected aggregates from the
// swaps that remain. Pairs without remaining swaps lose their row.
func (s *IngestStore) RollbackSwaps(ctx context.Context, ids []string) (*storage.RollbackResult, error) {
	res := &storage.RollbackResult{}
	if len(ids) == 0 {
		return res, nil
	}

	err := inTx(ctx, s.pool, "rollback swaps", func(tx pgx.Tx) error {
		pairs, deleted, err := deleteSwaps(ctx, tx, dedupStrings(ids))
		if err != nil {
			return err
		}
		if len(pairs) == 0 {
			return nil
		}
		remaining, err := swapsOfPairs(ctx, tx, pairs)
		if err != nil {
			return err
		}
		if err := deleteWalletTokens(ctx, tx, pairs); err != nil {
			return err
		}
		rebuilt, err := mergeWalletTokens(ctx, tx, domain.AggregateWalletTokens(remaining))
		if err != nil {
			return err
		}
		res.SwapsDeleted = deleted
		res.WalletTokensRebuilt = rebuilt
		res.WalletTokensDeleted = len(pairs) - rebuilt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
