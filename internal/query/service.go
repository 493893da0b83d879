// Package query serves wallet lookups, related-wallet detection and
// on-demand statistics refresh jobs.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/address"
	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/recalc"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// DefaultRefreshTimeout bounds one background refresh job.
const DefaultRefreshTimeout = 5 * time.Minute

// jobSaveTimeout bounds the final status write, which outlives the refresh deadline.
const jobSaveTimeout = 10 * time.Second

// NotFoundError reports a missing wallet or job. It matches storage.ErrNotFound.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

// Is makes errors.Is(err, storage.ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool {
	return target == storage.ErrNotFound
}

// Detector finds related wallets.
type Detector interface {
	Detect(ctx context.Context, address string) (*domain.RelatedWallets, error)
}

// Refresher recomputes the statistics of one wallet.
type Refresher interface {
	RefreshWallet(ctx context.Context, address string) (*recalc.Result, error)
}

// Deps are the service's collaborators.
type Deps struct {
	Wallets   storage.WalletStore
	Stats     storage.WalletStatsStore
	Detector  Detector
	Cache     storage.RelatedCache
	Jobs      storage.JobStore
	Refresher Refresher
}

// Options configures Service.
type Options struct {
	RefreshTimeout time.Duration
	Logger         *zerolog.Logger
}

// Service implements the read side exposed over HTTP.
type Service struct {
	deps           Deps
	refreshTimeout time.Duration
	logger         *zerolog.Logger
	now            func() time.Time
	jobs           sync.WaitGroup
}

// New creates a Service.
func New(deps Deps, opts Options) *Service {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	return &Service{
		deps:           deps,
		refreshTimeout: opts.RefreshTimeout,
		logger:         logging.OrGlobal(opts.Logger),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WalletDetails is a wallet with its main-scope statistics.
type WalletDetails struct {
	*domain.Wallet
	Stats *domain.WalletStats `json:"stats"`
}

// GetWalletByAddress returns the wallet and its statistics. Addresses off the
// ed25519 curve are rejected with address.ErrInvalid.
func (s *Service) GetWalletByAddress(ctx context.Context, addr string) (*WalletDetails, error) {
	if err := address.ValidateWallet(addr); err != nil {
		return nil, err
	}
	w, err := s.deps.Wallets.GetByAddress(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &NotFoundError{Kind: "wallet", Key: addr}
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	stats, err := s.deps.Stats.GetByWalletIDs(ctx, domain.ScopeMain, []int64{w.ID})
	if err != nil {
		return nil, fmt.Errorf("get wallet stats: %w", err)
	}
	details := &WalletDetails{Wallet: w, Stats: stats[w.ID]}
	if details.Stats == nil {
		details.Stats = &domain.WalletStats{}
	}
	return details, nil
}

// GetRelatedWallets returns cached related wallets or runs the detector.
func (s *Service) GetRelatedWallets(ctx context.Context, addr string) (*domain.RelatedWallets, error) {
	if err := address.ValidateWallet(addr); err != nil {
		return nil, err
	}

	if s.deps.Cache != nil {
		cached, err := s.deps.Cache.GetRelated(ctx, addr)
		switch {
		case err == nil:
			observability.RecordCache(true)
			return cached, nil
		case !errors.Is(err, storage.ErrNotFound):
			s.logger.Warn().Err(err).Str("wallet", addr).Msg("related cache read failed")
		}
		observability.RecordCache(false)
	}

	start := time.Now()
	result, err := s.deps.Detector.Detect(ctx, addr)
	if err != nil {
		observability.RecordRelatedQuery("error", time.Since(start).Seconds())
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Kind: "wallet", Key: addr}
		}
		return nil, fmt.Errorf("detect related wallets: %w", err)
	}
	observability.RecordRelatedQuery("ok", time.Since(start).Seconds())

	if s.deps.Cache != nil {
		if err := s.deps.Cache.SetRelated(ctx, addr, result); err != nil {
			s.logger.Warn().Err(err).Str("wallet", addr).Msg("related cache write failed")
		}
	}
	return result, nil
}

// TriggerRefresh starts a background statistics refresh and returns the pending job.
func (s *Service) TriggerRefresh(ctx context.Context, addr string) (*domain.RefreshJob, error) {
	if err := address.ValidateWallet(addr); err != nil {
		return nil, err
	}
	if _, err := s.deps.Wallets.GetByAddress(ctx, addr); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Kind: "wallet", Key: addr}
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	now := s.now()
	job := &domain.RefreshJob{
		ID:            uuid.NewString(),
		WalletAddress: addr,
		Status:        domain.JobPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.deps.Jobs.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	pending := *job
	s.jobs.Add(1)
	go s.runRefresh(context.WithoutCancel(ctx), &pending)
	return job, nil
}

func (s *Service) runRefresh(ctx context.Context, job *domain.RefreshJob) {
	defer s.jobs.Done()
	ctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()

	logger := s.logger.With().Str("job", job.ID).Str("wallet", job.WalletAddress).Logger()
	_, err := s.deps.Refresher.RefreshWallet(ctx, job.WalletAddress)

	job.Status = domain.JobSuccess
	if err != nil {
		job.Status = domain.JobFailure
		job.Error = err.Error()
		logger.Error().Err(err).Msg("wallet refresh failed")
	}
	job.UpdatedAt = s.now()
	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), jobSaveTimeout)
	defer cancelSave()
	if err := s.deps.Jobs.Save(saveCtx, job); err != nil {
		logger.Error().Err(err).Msg("save job status")
		return
	}
	logger.Info().Str("status", string(job.Status)).Msg("wallet refresh finished")
}

// PollRefresh returns the current state of a refresh job.
func (s *Service) PollRefresh(ctx context.Context, id string) (*domain.RefreshJob, error) {
	job, err := s.deps.Jobs.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &NotFoundError{Kind: "task", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Wait blocks until every background refresh has finished.
func (s *Service) Wait() {
	s.jobs.Wait()
}
