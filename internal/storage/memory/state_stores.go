package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// WatermarkStore is an in-memory implementation of storage.WatermarkStore.
type WatermarkStore struct {
	mu    sync.RWMutex
	until time.Time
}

// NewWatermarkStore creates a new in-memory watermark store.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{}
}

// Get returns the watermark. Returns ErrNotFound if it was never set.
func (s *WatermarkStore) Get(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.until.IsZero() {
		return time.Time{}, storage.ErrNotFound
	}
	return s.until, nil
}

// Set overwrites the watermark.
func (s *WatermarkStore) Set(_ context.Context, t time.Time) error {
	if t.IsZero() {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.until = t.UTC()
	return nil
}

// PriceStore is an in-memory implementation of storage.PriceStore.
type PriceStore struct {
	mu   sync.RWMutex
	data map[int64]domain.QuotePrice // keyed by unix minute
}

// NewPriceStore creates a new in-memory price store.
func NewPriceStore() *PriceStore {
	return &PriceStore{data: make(map[int64]domain.QuotePrice)}
}

// UpsertBulk inserts prices, ignoring minutes that already exist.
func (s *PriceStore) UpsertBulk(_ context.Context, prices []*domain.QuotePrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range prices {
		m := domain.Minute(p.Minute)
		if _, ok := s.data[m.Unix()]; ok {
			continue
		}
		s.data[m.Unix()] = domain.QuotePrice{Minute: m, PriceUSD: p.PriceUSD}
	}
	return nil
}

// GetRange returns prices within [from, to] (inclusive), ordered by minute ASC.
func (s *PriceStore) GetRange(_ context.Context, from, to time.Time) ([]*domain.QuotePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.QuotePrice
	for _, p := range s.data {
		if p.Minute.Before(from) || p.Minute.After(to) {
			continue
		}
		copy := p
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Minute.Before(out[j].Minute) })
	return out, nil
}

// Latest returns the newest price. Returns ErrNotFound if the store is empty.
func (s *PriceStore) Latest(_ context.Context) (*domain.QuotePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.QuotePrice
	for _, p := range s.data {
		if latest == nil || p.Minute.After(latest.Minute) {
			copy := p
			latest = &copy
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

// CredentialStore is an in-memory implementation of storage.CredentialStore.
type CredentialStore struct {
	mu     sync.Mutex
	data   []*domain.ProviderCredential
	nextID int64
}

// NewCredentialStore creates a new in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

// Add registers a key as active. Returns ErrDuplicateKey if it exists.
func (s *CredentialStore) Add(_ context.Context, apiKey string) (*domain.ProviderCredential, error) {
	if apiKey == "" {
		return nil, storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.data {
		if c.APIKey == apiKey {
			return nil, storage.ErrDuplicateKey
		}
	}
	s.nextID++
	c := &domain.ProviderCredential{ID: s.nextID, APIKey: apiKey, IsActive: true, CreatedAt: time.Now().UTC()}
	s.data = append(s.data, c)
	copy := *c
	return &copy, nil
}

// NextActive returns the oldest active key. Returns ErrNotFound if none remain.
func (s *CredentialStore) NextActive(_ context.Context) (*domain.ProviderCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.data {
		if c.IsActive {
			copy := *c
			return &copy, nil
		}
	}
	return nil, storage.ErrNotFound
}

// Deactivate marks a key inactive.
func (s *CredentialStore) Deactivate(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.data {
		if c.ID == id {
			now := time.Now().UTC()
			c.IsActive = false
			c.DeactivatedAt = &now
			return nil
		}
	}
	return storage.ErrNotFound
}

var (
	_ storage.WatermarkStore  = (*WatermarkStore)(nil)
	_ storage.PriceStore      = (*PriceStore)(nil)
	_ storage.CredentialStore = (*CredentialStore)(nil)
)
