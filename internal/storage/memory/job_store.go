package memory

import (
	"context"
	"sync"
	"time"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// JobStore is an in-memory implementation of storage.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	data map[string]domain.RefreshJob
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{data: make(map[string]domain.RefreshJob)}
}

// Save stores a snapshot of job.
func (s *JobStore) Save(_ context.Context, job *domain.RefreshJob) error {
	if job == nil || job.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[job.ID] = *job
	return nil
}

// Get returns a job. Returns ErrNotFound if not exists.
func (s *JobStore) Get(_ context.Context, id string) (*domain.RefreshJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &job, nil
}

// RelatedCache is an in-memory implementation of storage.RelatedCache with a fixed TTL.
type RelatedCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]relatedEntry
}

type relatedEntry struct {
	value   *domain.RelatedWallets
	expires time.Time
}

// NewRelatedCache creates a cache whose entries expire after ttl.
func NewRelatedCache(ttl time.Duration) *RelatedCache {
	return &RelatedCache{ttl: ttl, now: time.Now, data: make(map[string]relatedEntry)}
}

// GetRelated returns a cached result. Returns ErrNotFound on miss or expiry.
func (c *RelatedCache) GetRelated(_ context.Context, address string) (*domain.RelatedWallets, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if c.ttl > 0 && !c.now().Before(e.expires) {
		delete(c.data, address)
		return nil, storage.ErrNotFound
	}
	return e.value, nil
}

// SetRelated stores r under address.
func (c *RelatedCache) SetRelated(_ context.Context, address string, r *domain.RelatedWallets) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[address] = relatedEntry{value: r, expires: c.now().Add(c.ttl)}
	return nil
}

var (
	_ storage.JobStore     = (*JobStore)(nil)
	_ storage.RelatedCache = (*RelatedCache)(nil)
)
