package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// RecalcStore writes recompute results in a single transaction.
type RecalcStore struct {
	pool *Pool
}

// NewRecalcStore creates a new RecalcStore.
func NewRecalcStore(pool *Pool) *RecalcStore {
	return &RecalcStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RecalcStore = (*RecalcStore)(nil)

// ApplyRecalc replaces statistic rows and writes wallet flags together.
func (s *RecalcStore) ApplyRecalc(ctx context.Context, b *storage.RecalcBatch) error {
	if b == nil {
		return storage.ErrInvalidInput
	}
	if len(b.Stats) == 0 && len(b.Flags) == 0 {
		return nil
	}
	return inTx(ctx, s.pool, "apply recalc batch", func(tx pgx.Tx) error {
		if err := replaceStats(ctx, tx, b.Scope, b.Stats); err != nil {
			return err
		}
		return updateWalletFlags(ctx, tx, b.Flags)
	})
}
