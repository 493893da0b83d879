// Package recalc recomputes wallet period statistics and classification flags.
package recalc

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/retry"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// Default pipeline sizing.
const (
	DefaultCount         = 300_000
	DefaultFetchBatch    = 1000
	DefaultFetchParallel = 5
	DefaultWriteBatch    = 5000
	DefaultWriteParallel = 3
	DefaultQueueSize     = 10_000
	DefaultLoopPause     = time.Minute
)

// Stores are the recalculator's storage dependencies.
type Stores struct {
	Wallets      storage.WalletStore
	WalletTokens storage.WalletTokenStore
	Stats        storage.WalletStatsStore
	// Recalc writes each batch's statistics and flags in one transaction.
	Recalc storage.RecalcStore
}

// Options configures Recalculator. Zero values take the defaults above;
// ComputeWorkers defaults to GOMAXPROCS.
type Options struct {
	Count          int
	FetchBatch     int
	FetchParallel  int
	ComputeWorkers int
	WriteBatch     int
	WriteParallel  int
	QueueSize      int
	Retry          retry.Policy
	Logger         *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Count <= 0 {
		o.Count = DefaultCount
	}
	if o.FetchBatch <= 0 {
		o.FetchBatch = DefaultFetchBatch
	}
	if o.FetchParallel <= 0 {
		o.FetchParallel = DefaultFetchParallel
	}
	if o.ComputeWorkers <= 0 {
		o.ComputeWorkers = runtime.GOMAXPROCS(0)
	}
	if o.WriteBatch <= 0 {
		o.WriteBatch = DefaultWriteBatch
	}
	if o.WriteParallel <= 0 {
		o.WriteParallel = DefaultWriteParallel
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	return o
}

// Recalculator runs the fetch, compute and write stages over a set of wallets.
type Recalculator struct {
	stores Stores
	opts   Options
	policy retry.Policy
	logger *zerolog.Logger
	now    func() time.Time
}

// New creates a Recalculator.
func New(stores Stores, opts Options) *Recalculator {
	opts = opts.withDefaults()
	logger := logging.OrGlobal(opts.Logger)
	policy := opts.Retry
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Recalculator{
		stores: stores,
		opts:   opts,
		policy: policy,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Result summarizes one recompute.
type Result struct {
	Scope    domain.StatsScope
	Wallets  int
	Tokens   int64
	Bots     int64
	Scammers int64
	Elapsed  time.Duration
}

// job describes what a pipeline run reads and writes.
type job struct {
	scope       domain.StatsScope
	tokens      *domain.WalletTokenFilter
	updateFlags bool
}

var mainJob = job{scope: domain.ScopeMain, updateFlags: true}

// Run recomputes main statistics and flags of the Count least recently checked wallets.
func (r *Recalculator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	wallets, err := r.stores.Wallets.ListForStats(ctx, r.opts.Count)
	if err != nil {
		return nil, fmt.Errorf("list wallets for stats: %w", err)
	}
	r.logger.Info().
		Int("wallets", len(wallets)).
		Dur("took", time.Since(start)).
		Msg("wallets selected for recompute")

	return r.process(ctx, wallets, mainJob)
}

// RunCohort rebuilds the statistics tables of a cohort from scratch.
// Only aggregates passing the cohort's token filter are counted; wallet flags are untouched.
func (r *Recalculator) RunCohort(ctx context.Context, c domain.Cohort) (*Result, error) {
	if err := r.stores.Stats.DeleteAll(ctx, c.Scope); err != nil {
		return nil, fmt.Errorf("clear %s stats: %w", c.Scope, err)
	}
	wallets, err := r.stores.Wallets.ListForCohort(ctx, c.Wallets)
	if err != nil {
		return nil, fmt.Errorf("list %s wallets: %w", c.Scope, err)
	}
	r.logger.Info().
		Str("scope", string(c.Scope)).
		Int("wallets", len(wallets)).
		Msg("cohort selected")

	tokens := c.Tokens
	return r.process(ctx, wallets, job{scope: c.Scope, tokens: &tokens})
}

// RefreshWallet recomputes main statistics and flags of one wallet.
// Returns an error wrapping storage.ErrNotFound for an unknown address.
func (r *Recalculator) RefreshWallet(ctx context.Context, address string) (*Result, error) {
	w, err := r.stores.Wallets.GetByAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", address, err)
	}
	return r.process(ctx, []*domain.Wallet{w}, mainJob)
}

// Loop runs Run until ctx is cancelled or a run fails. It pauses between
// runs only when a run found no wallets.
func (r *Recalculator) Loop(ctx context.Context, pause time.Duration) error {
	if pause <= 0 {
		pause = DefaultLoopPause
	}
	var (
		totalWallets int
		totalTokens  int64
		totalElapsed time.Duration
	)
	for {
		res, err := r.Run(ctx)
		if err != nil {
			return err
		}
		totalWallets += res.Wallets
		totalTokens += res.Tokens
		totalElapsed += res.Elapsed
		r.logger.Info().
			Int("wallets_total", totalWallets).
			Int64("tokens_total", totalTokens).
			Dur("elapsed_total", totalElapsed).
			Float64("wallets_per_min", perMinute(int64(totalWallets), totalElapsed)).
			Msg("recompute totals")

		if res.Wallets > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}

func (r *Recalculator) finish(res *Result) {
	observability.RecordWalletsRecalculated(string(res.Scope), res.Wallets)
	if res.Scope == domain.ScopeMain && res.Wallets > 0 {
		observability.RecordRecalcFinished(r.now().Unix())
	}
	r.logger.Info().
		Str("scope", string(res.Scope)).
		Int("wallets", res.Wallets).
		Int64("tokens", res.Tokens).
		Int64("bots", res.Bots).
		Int64("scammers", res.Scammers).
		Dur("took", res.Elapsed).
		Float64("wallets_per_min", perMinute(int64(res.Wallets), res.Elapsed)).
		Float64("tokens_per_min", perMinute(res.Tokens, res.Elapsed)).
		Msg("recompute finished")
}

func perMinute(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Minutes()
}
