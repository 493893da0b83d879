package memory

import (
	"context"

	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// RecalcStore writes recompute results under both the statistics and the
// wallet locks.
type RecalcStore struct {
	stats   *WalletStatsStore
	wallets *WalletStore
}

// NewRecalcStore creates a recalc store writing to the given stores.
func NewRecalcStore(stats *WalletStatsStore, wallets *WalletStore) *RecalcStore {
	return &RecalcStore{stats: stats, wallets: wallets}
}

// ApplyRecalc replaces statistic rows and writes wallet flags together.
func (s *RecalcStore) ApplyRecalc(_ context.Context, b *storage.RecalcBatch) error {
	if b == nil {
		return storage.ErrInvalidInput
	}
	if len(b.Stats) == 0 && len(b.Flags) == 0 {
		return nil
	}
	if err := validReplace(b.Scope, b.Stats); err != nil {
		return err
	}

	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	s.wallets.mu.Lock()
	defer s.wallets.mu.Unlock()

	s.stats.replaceLocked(b.Scope, b.Stats)
	s.wallets.updateFlagsLocked(b.Flags)
	return nil
}

var _ storage.RecalcStore = (*RecalcStore)(nil)
