package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// SwapStore is an in-memory implementation of storage.SwapStore.
type SwapStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Swap // keyed by swap id
}

// NewSwapStore creates a new in-memory swap store.
func NewSwapStore() *SwapStore {
	return &SwapStore{
		data: make(map[string]*domain.Swap),
	}
}

// InsertBulk inserts swaps, ignoring ids that already exist.
func (s *SwapStore) InsertBulk(_ context.Context, swaps []*domain.Swap) (int64, error) {
	for _, swap := range swaps {
		if swap == nil || swap.ID == "" {
			return 0, storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.insertLocked(swaps))), nil
}

// insertLocked stores swaps with unseen ids and returns the ones it stored.
func (s *SwapStore) insertLocked(swaps []*domain.Swap) []*domain.Swap {
	var inserted []*domain.Swap
	for _, swap := range swaps {
		if _, exists := s.data[swap.ID]; exists {
			continue
		}
		copy := *swap
		s.data[swap.ID] = &copy
		inserted = append(inserted, swap)
	}
	return inserted
}

// deleteLocked removes the swaps with the given ids and returns them.
func (s *SwapStore) deleteLocked(ids []string) []*domain.Swap {
	var deleted []*domain.Swap
	for _, id := range ids {
		swap, ok := s.data[id]
		if !ok {
			continue
		}
		delete(s.data, id)
		deleted = append(deleted, swap)
	}
	return deleted
}

// ofPairsLocked returns the stored swaps of the given (wallet, token) pairs.
func (s *SwapStore) ofPairsLocked(pairs map[walletTokenKey]struct{}) []*domain.Swap {
	var out []*domain.Swap
	for _, swap := range s.data {
		if _, ok := pairs[walletTokenKey{swap.WalletID, swap.TokenID}]; ok {
			out = append(out, swap)
		}
	}
	return out
}

// GetFirstByWalletAndToken returns the lowest-block swap of the given type.
func (s *SwapStore) GetFirstByWalletAndToken(_ context.Context, walletID, tokenID int64, event domain.EventType) (*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var first *domain.Swap
	for _, swap := range s.data {
		if swap.WalletID != walletID || swap.TokenID != tokenID || swap.EventType != event {
			continue
		}
		if first == nil || swapLess(swap, first) {
			first = swap
		}
	}
	if first == nil {
		return nil, storage.ErrNotFound
	}
	copy := *first
	return &copy, nil
}

// GetNeighborsByToken returns swaps in [block-before, block+after], ordered by block ASC.
func (s *SwapStore) GetNeighborsByToken(_ context.Context, q storage.NeighborQuery) ([]*domain.Swap, error) {
	excluded := make(map[int64]struct{}, len(q.ExcludeWalletIDs))
	for _, id := range q.ExcludeWalletIDs {
		excluded[id] = struct{}{}
	}
	lo, hi := q.BlockID-q.BlocksBefore, q.BlockID+q.BlocksAfter

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Swap
	for _, swap := range s.data {
		if swap.TokenID != q.TokenID || swap.EventType != q.EventType {
			continue
		}
		if swap.BlockID < lo || swap.BlockID > hi {
			continue
		}
		if _, skip := excluded[swap.WalletID]; skip {
			continue
		}
		copy := *swap
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].BlockID != result[j].BlockID {
			return result[i].BlockID < result[j].BlockID
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Count returns the number of stored swaps.
func (s *SwapStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func swapLess(a, b *domain.Swap) bool {
	if a.BlockID != b.BlockID {
		return a.BlockID < b.BlockID
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

var _ storage.SwapStore = (*SwapStore)(nil)
