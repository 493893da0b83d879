package memory

import (
	"context"
	"sync"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// IngestStore applies loader batches to the in-memory stores.
// A single mutex serializes batches so each one is applied as a whole.
type IngestStore struct {
	mu           sync.Mutex
	swaps        *SwapStore
	walletTokens *WalletTokenStore
	watermark    *WatermarkStore
}

// NewIngestStore creates an ingest store writing to the given stores.
func NewIngestStore(swaps *SwapStore, walletTokens *WalletTokenStore, watermark *WatermarkStore) *IngestStore {
	return &IngestStore{swaps: swaps, walletTokens: walletTokens, watermark: watermark}
}

// ApplyBatch inserts swap facts, merges the aggregates of the inserted ones
// and advances the watermark.
func (s *IngestStore) ApplyBatch(ctx context.Context, b *storage.IngestBatch) (*storage.IngestResult, error) {
	if b == nil {
		return nil, storage.ErrInvalidInput
	}
	for _, sw := range b.Swaps {
		if sw == nil || sw.ID == "" || sw.WalletID == 0 || sw.TokenID == 0 {
			return nil, storage.ErrInvalidInput
		}
	}
	if b.ParsedUntil != nil && b.ParsedUntil.IsZero() {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.swaps.mu.Lock()
	inserted := s.swaps.insertLocked(b.Swaps)
	s.swaps.mu.Unlock()

	s.walletTokens.mu.Lock()
	merged := s.walletTokens.mergeLocked(domain.AggregateWalletTokens(inserted))
	s.walletTokens.mu.Unlock()

	if b.ParsedUntil != nil {
		if err := s.watermark.Set(ctx, *b.ParsedUntil); err != nil {
			return nil, err
		}
	}

	return &storage.IngestResult{SwapsInserted: int64(len(inserted)), WalletTokensMerged: merged}, nil
}

// RollbackSwaps deletes the swaps and rebuilds the aggregates of their pairs
// from the swaps that remain.
func (s *IngestStore) RollbackSwaps(_ context.Context, ids []string) (*storage.RollbackResult, error) {
	res := &storage.RollbackResult{}
	if len(ids) == 0 {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.swaps.mu.Lock()
	deleted := s.swaps.deleteLocked(ids)
	pairs := make(map[walletTokenKey]struct{}, len(deleted))
	for _, sw := range deleted {
		pairs[walletTokenKey{sw.WalletID, sw.TokenID}] = struct{}{}
	}
	remaining := s.swaps.ofPairsLocked(pairs)
	s.swaps.mu.Unlock()

	rebuilt := domain.AggregateWalletTokens(remaining)

	s.walletTokens.mu.Lock()
	s.walletTokens.replaceLocked(pairs, rebuilt)
	s.walletTokens.mu.Unlock()

	res.SwapsDeleted = int64(len(deleted))
	res.WalletTokensRebuilt = len(rebuilt)
	res.WalletTokensDeleted = len(pairs) - len(rebuilt)
	return res, nil
}

var _ storage.IngestStore = (*IngestStore)(nil)
