package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

type statsKey struct {
	scope    domain.StatsScope
	period   domain.Period
	walletID int64
}

// WalletStatsStore is an in-memory implementation of storage.WalletStatsStore.
type WalletStatsStore struct {
	mu   sync.RWMutex
	data map[statsKey]*domain.WalletPeriodStatistic
}

// NewWalletStatsStore creates a new in-memory statistics store.
func NewWalletStatsStore() *WalletStatsStore {
	return &WalletStatsStore{
		data: make(map[statsKey]*domain.WalletPeriodStatistic),
	}
}

func validScope(scope domain.StatsScope) error {
	switch scope {
	case domain.ScopeMain, domain.ScopeBuyPriceGt15k:
		return nil
	default:
		return fmt.Errorf("%w: unknown stats scope %q", storage.ErrInvalidInput, scope)
	}
}

// EnsureBulk creates empty main-scope rows for every period.
func (s *WalletStatsStore) EnsureBulk(_ context.Context, walletIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLocked(walletIDs)
	return nil
}

func (s *WalletStatsStore) ensureLocked(walletIDs []int64) {
	now := time.Now().UTC()
	for _, id := range walletIDs {
		for _, p := range domain.Periods {
			key := statsKey{domain.ScopeMain, p, id}
			if _, ok := s.data[key]; !ok {
				s.data[key] = &domain.WalletPeriodStatistic{WalletID: id, Period: p, UpdatedAt: now}
			}
		}
	}
}

// ReplaceBulk overwrites whole rows; rows that do not exist are created.
func (s *WalletStatsStore) ReplaceBulk(_ context.Context, scope domain.StatsScope, stats []*domain.WalletPeriodStatistic) error {
	if err := validReplace(scope, stats); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.replaceLocked(scope, stats)
	return nil
}

func validReplace(scope domain.StatsScope, stats []*domain.WalletPeriodStatistic) error {
	if err := validScope(scope); err != nil {
		return err
	}
	for _, st := range stats {
		if st.Period != domain.Period7d && st.Period != domain.Period30d && st.Period != domain.PeriodAll {
			return fmt.Errorf("%w: unknown period %q", storage.ErrInvalidInput, st.Period)
		}
	}
	return nil
}

func (s *WalletStatsStore) replaceLocked(scope domain.StatsScope, stats []*domain.WalletPeriodStatistic) {
	now := time.Now().UTC()
	for _, st := range stats {
		copy := *st
		copy.UpdatedAt = now
		s.data[statsKey{scope, st.Period, st.WalletID}] = &copy
	}
}

// GetByWalletIDs returns statistics keyed by wallet id. Wallets without rows are absent.
func (s *WalletStatsStore) GetByWalletIDs(_ context.Context, scope domain.StatsScope, walletIDs []int64) (map[int64]*domain.WalletStats, error) {
	if err := validScope(scope); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]*domain.WalletStats)
	for _, id := range walletIDs {
		for _, p := range domain.Periods {
			st, ok := s.data[statsKey{scope, p, id}]
			if !ok {
				continue
			}
			ws, ok := out[id]
			if !ok {
				ws = &domain.WalletStats{}
				out[id] = ws
			}
			copy := *st
			ws.Set(p, &copy)
		}
	}
	return out, nil
}

// DeleteAll removes every row of the scope.
func (s *WalletStatsStore) DeleteAll(_ context.Context, scope domain.StatsScope) error {
	if err := validScope(scope); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.data {
		if key.scope == scope {
			delete(s.data, key)
		}
	}
	return nil
}

var _ storage.WalletStatsStore = (*WalletStatsStore)(nil)
