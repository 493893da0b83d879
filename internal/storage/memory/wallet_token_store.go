package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

type walletTokenKey struct {
	walletID int64
	tokenID  int64
}

// WalletTokenStore is an in-memory implementation of storage.WalletTokenStore.
type WalletTokenStore struct {
	mu   sync.RWMutex
	data map[walletTokenKey]*domain.WalletToken
}

// NewWalletTokenStore creates a new in-memory wallet token store.
func NewWalletTokenStore() *WalletTokenStore {
	return &WalletTokenStore{
		data: make(map[walletTokenKey]*domain.WalletToken),
	}
}

// MergeBulk folds deltas into stored aggregates with domain.WalletToken.Merge.
func (s *WalletTokenStore) MergeBulk(_ context.Context, deltas []*domain.WalletToken) error {
	for _, d := range deltas {
		if d == nil || d.WalletID == 0 || d.TokenID == 0 {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mergeLocked(deltas)
	return nil
}

func (s *WalletTokenStore) mergeLocked(deltas []*domain.WalletToken) int {
	now := time.Now().UTC()
	for _, d := range deltas {
		key := walletTokenKey{d.WalletID, d.TokenID}
		cur, ok := s.data[key]
		if !ok {
			c := d.Clone()
			c.CreatedAt = now
			c.UpdatedAt = now
			s.data[key] = c
			continue
		}
		cur.Merge(d)
		cur.UpdatedAt = now
	}
	return len(deltas)
}

// replaceLocked swaps the aggregates of pairs for rebuilt; pairs without a
// rebuilt aggregate are removed.
func (s *WalletTokenStore) replaceLocked(pairs map[walletTokenKey]struct{}, rebuilt []*domain.WalletToken) {
	for key := range pairs {
		delete(s.data, key)
	}
	s.mergeLocked(rebuilt)
}

// Get retrieves one aggregate. Returns ErrNotFound if not exists.
func (s *WalletTokenStore) Get(_ context.Context, walletID, tokenID int64) (*domain.WalletToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wt, ok := s.data[walletTokenKey{walletID, tokenID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return wt.Clone(), nil
}

// GetByWalletIDs retrieves aggregates of the wallets, optionally filtered.
func (s *WalletTokenStore) GetByWalletIDs(_ context.Context, walletIDs []int64, f *domain.WalletTokenFilter) ([]*domain.WalletToken, error) {
	wanted := make(map[int64]struct{}, len(walletIDs))
	for _, id := range walletIDs {
		wanted[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.WalletToken
	for key, wt := range s.data {
		if _, ok := wanted[key.walletID]; !ok {
			continue
		}
		if !f.Match(wt) {
			continue
		}
		out = append(out, wt.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WalletID != out[j].WalletID {
			return out[i].WalletID < out[j].WalletID
		}
		return out[i].TokenID < out[j].TokenID
	})
	return out, nil
}

// ListTradedByWallet returns up to limit aggregates with both buys and sales,
// most recent last_activity first.
func (s *WalletTokenStore) ListTradedByWallet(_ context.Context, walletID int64, limit int) ([]*domain.WalletToken, error) {
	s.mu.RLock()
	var out []*domain.WalletToken
	for key, wt := range s.data {
		if key.walletID == walletID && wt.TotalBuysCount > 0 && wt.TotalSalesCount > 0 {
			out = append(out, wt.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastActivity, out[j].LastActivity
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		}
		return out[i].TokenID < out[j].TokenID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ storage.WalletTokenStore = (*WalletTokenStore)(nil)
