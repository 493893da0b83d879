package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// WalletStore is an in-memory implementation of storage.WalletStore.
type WalletStore struct {
	mu     sync.RWMutex
	byID   map[int64]*domain.Wallet
	byAddr map[string]int64
	nextID int64

	stats *WalletStatsStore // consulted by ListForCohort; may be nil
}

// NewWalletStore creates a new in-memory wallet store.
// stats backs cohort selection; nil means no wallet ever matches a cohort.
func NewWalletStore(stats *WalletStatsStore) *WalletStore {
	return &WalletStore{
		byID:   make(map[int64]*domain.Wallet),
		byAddr: make(map[string]int64),
		stats:  stats,
	}
}

// UpsertBulk inserts unknown wallets and advances last_activity of known ones.
func (s *WalletStore) UpsertBulk(_ context.Context, wallets []*domain.Wallet) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	ids := make(map[string]int64, len(wallets))
	for _, w := range wallets {
		if w == nil || w.Address == "" {
			return nil, storage.ErrInvalidInput
		}
		if id, ok := s.byAddr[w.Address]; ok {
			existing := s.byID[id]
			if w.LastActivity != nil && (existing.LastActivity == nil || w.LastActivity.After(*existing.LastActivity)) {
				t := *w.LastActivity
				existing.LastActivity = &t
			}
			existing.UpdatedAt = now
			ids[w.Address] = id
			continue
		}

		s.nextID++
		stored := &domain.Wallet{
			ID:        s.nextID,
			Address:   w.Address,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if w.LastActivity != nil {
			t := *w.LastActivity
			stored.LastActivity = &t
		}
		s.byID[stored.ID] = stored
		s.byAddr[stored.Address] = stored.ID
		ids[w.Address] = stored.ID
	}
	return ids, nil
}

// GetByAddress retrieves a wallet. Returns ErrNotFound if not exists.
func (s *WalletStore) GetByAddress(_ context.Context, address string) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddr[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneWallet(s.byID[id]), nil
}

// GetByIDs retrieves wallets by id. Missing ids are skipped.
func (s *WalletStore) GetByIDs(_ context.Context, ids []int64) ([]*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Wallet
	for _, id := range ids {
		if w, ok := s.byID[id]; ok {
			out = append(out, cloneWallet(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListForStats returns up to count wallets, never-checked first, then by oldest last_stats_check.
func (s *WalletStore) ListForStats(_ context.Context, count int) ([]*domain.Wallet, error) {
	s.mu.RLock()
	all := make([]*domain.Wallet, 0, len(s.byID))
	for _, w := range s.byID {
		all = append(all, cloneWallet(w))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].LastStatsCheck, all[j].LastStatsCheck
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return all[i].ID < all[j].ID
	})
	if count >= 0 && len(all) > count {
		all = all[:count]
	}
	return all, nil
}

// ListForCohort returns wallets matching the cohort's wallet filter.
func (s *WalletStore) ListForCohort(ctx context.Context, f domain.WalletCohortFilter) ([]*domain.Wallet, error) {
	if s.stats == nil {
		return nil, nil
	}

	s.mu.RLock()
	ids := make([]int64, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	stats, err := s.stats.GetByWalletIDs(ctx, domain.ScopeMain, ids)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Wallet
	for _, id := range ids {
		w := s.byID[id]
		if f.Match(w, stats[id]) {
			out = append(out, cloneWallet(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateFlagsBulk writes is_bot, is_scammer and last_stats_check.
func (s *WalletStore) UpdateFlagsBulk(_ context.Context, flags []*domain.WalletFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updateFlagsLocked(flags)
	return nil
}

func (s *WalletStore) updateFlagsLocked(flags []*domain.WalletFlags) {
	now := time.Now().UTC()
	for _, f := range flags {
		w, ok := s.byID[f.WalletID]
		if !ok {
			continue
		}
		w.IsBot = f.IsBot
		w.IsScammer = f.IsScammer
		checked := f.LastStatsCheck
		w.LastStatsCheck = &checked
		w.UpdatedAt = now
	}
}

func cloneWallet(w *domain.Wallet) *domain.Wallet {
	c := *w
	if w.LastActivity != nil {
		t := *w.LastActivity
		c.LastActivity = &t
	}
	if w.LastStatsCheck != nil {
		t := *w.LastStatsCheck
		c.LastStatsCheck = &t
	}
	return &c
}

var _ storage.WalletStore = (*WalletStore)(nil)
