package memory

import (
	"context"
	"sync"
	"time"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.Token // keyed by address
	nextID int64
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		data: make(map[string]*domain.Token),
	}
}

// EnsureBulk inserts unknown addresses and returns address -> id.
func (s *TokenStore) EnsureBulk(_ context.Context, addresses []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	ids := make(map[string]int64, len(addresses))
	for _, a := range addresses {
		if a == "" {
			return nil, storage.ErrInvalidInput
		}
		t, ok := s.data[a]
		if !ok {
			s.nextID++
			t = &domain.Token{ID: s.nextID, Address: a, CreatedAt: now, UpdatedAt: now}
			s.data[a] = t
		}
		ids[a] = t.ID
	}
	return ids, nil
}

// GetByAddress retrieves a token. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByAddress(_ context.Context, address string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *t
	return &copy, nil
}

var _ storage.TokenStore = (*TokenStore)(nil)
