// Package etl drives the extract, transform and load stages over a time period.
package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/axiomhq/hyperloglog"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/5ou1e/CryptoStorage-sub000/internal/config"
	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/extractor"
	"github.com/5ou1e/CryptoStorage-sub000/internal/loader"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/pricing"
	"github.com/5ou1e/CryptoStorage-sub000/internal/retry"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
	"github.com/5ou1e/CryptoStorage-sub000/internal/transformer"
)

// Default configuration values.
const (
	DefaultWindow   = 30 * time.Minute
	DefaultDelay    = 1440 * time.Minute
	DefaultInterval = time.Hour
)

// ErrNoWatermark is returned in persistent mode when the watermark was never set.
var ErrNoWatermark = errors.New("swaps watermark not set")

// Extractor fetches raw swaps for [start, end).
type Extractor interface {
	Extract(ctx context.Context, start, end time.Time) ([]*domain.RawSwap, error)
}

// Transformer turns raw swaps into loader input.
type Transformer interface {
	Transform(rows []*domain.RawSwap, prices pricing.Table) (*transformer.Result, error)
}

// Loader writes a transformed window.
type Loader interface {
	Load(ctx context.Context, res *transformer.Result, parsedUntil *time.Time) (*loader.Result, error)
}

// Options configures Runner.
type Options struct {
	Mode     string        // config.ModePersistent or config.ModeFixed
	Start    time.Time     // fixed mode
	End      time.Time     // fixed mode
	Delay    time.Duration // persistent mode: period ends at now minus Delay
	Window   time.Duration
	Interval time.Duration // persistent mode: pause between runs
	Logger   *zerolog.Logger
}

// Runner processes a period window by window. Stages run concurrently but
// the extractor starts a window only after the loader finished the previous one.
type Runner struct {
	extractor   Extractor
	transformer Transformer
	loader      Loader
	prices      storage.PriceStore
	watermark   storage.WatermarkStore

	mode     string
	start    time.Time
	end      time.Time
	delay    time.Duration
	window   time.Duration
	interval time.Duration
	logger   *zerolog.Logger
	now      func() time.Time
}

// New creates a Runner.
func New(ex Extractor, tr Transformer, ld Loader, prices storage.PriceStore, watermark storage.WatermarkStore, opts Options) *Runner {
	if opts.Mode == "" {
		opts.Mode = config.ModePersistent
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Runner{
		extractor:   ex,
		transformer: tr,
		loader:      ld,
		prices:      prices,
		watermark:   watermark,
		mode:        opts.Mode,
		start:       opts.Start.UTC(),
		end:         opts.End.UTC(),
		delay:       opts.Delay,
		window:      opts.Window,
		interval:    opts.Interval,
		logger:      logging.OrGlobal(opts.Logger),
		now:         time.Now,
	}
}

// RunResult summarizes one pass over a period.
type RunResult struct {
	Start           time.Time
	End             time.Time
	Windows         int
	SwapsExtracted  int
	SwapsInserted   int64
	SwapsDeleted    int64
	DistinctWallets uint64
}

// Run processes the configured period. In persistent mode it repeats every
// Interval until ctx is cancelled or a fatal error occurs; non-fatal errors
// are logged and the pass is retried after the interval.
func (r *Runner) Run(ctx context.Context) error {
	if r.mode == config.ModeFixed {
		_, err := r.RunOnce(ctx)
		return err
	}

	for {
		res, err := r.RunOnce(ctx)
		switch {
		case err == nil:
			r.logger.Info().
				Time("start", res.Start).
				Time("end", res.End).
				Int("windows", res.Windows).
				Msg("etl pass finished")
		case ctx.Err() != nil:
			return ctx.Err()
		case IsFatal(err):
			return err
		default:
			r.logger.Error().Err(err).Dur("retry_in", r.interval).Msg("etl pass failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.interval):
		}
	}
}

// IsFatal reports whether err must stop a persistent run.
func IsFatal(err error) bool {
	return extractor.IsFatal(err) || errors.Is(err, retry.ErrExhausted) || errors.Is(err, ErrNoWatermark)
}

// Period returns the range the next pass covers.
func (r *Runner) Period(ctx context.Context) (time.Time, time.Time, error) {
	if r.mode == config.ModeFixed {
		return r.start, domain.Minute(r.end), nil
	}
	start, err := r.watermark.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		if r.start.IsZero() {
			return time.Time{}, time.Time{}, ErrNoWatermark
		}
		start = r.start
	} else if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("get watermark: %w", err)
	}
	end := domain.Minute(r.now().Add(-r.delay))
	return start.UTC(), end, nil
}

// window is one extracted unit flowing through the stages.
type window struct {
	start, end time.Time
	prices     pricing.Table
	rows       []*domain.RawSwap
	result     *transformer.Result
}

// RunOnce processes the current period once.
func (r *Runner) RunOnce(ctx context.Context) (*RunResult, error) {
	start, end, err := r.Period(ctx)
	if err != nil {
		return nil, err
	}
	res := &RunResult{Start: start, End: end}
	if !end.After(start) {
		r.logger.Info().Time("start", start).Time("end", end).Msg("nothing to process")
		return res, nil
	}

	persist := r.mode != config.ModeFixed
	sketch := hyperloglog.New16()

	// next carries the loader's permission to extract one more window.
	next := make(chan struct{}, 1)
	next <- struct{}{}
	extracted := make(chan *window, 1)
	transformed := make(chan *window, 1)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(extracted)
		for cur := start; cur.Before(end); {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-next:
			}

			to := cur.Add(r.window)
			if to.After(end) {
				to = end
			}
			w, err := r.extract(gctx, cur, to)
			if err != nil {
				observability.RecordWindow("failed")
				return err
			}
			res.SwapsExtracted += len(w.rows)

			select {
			case <-gctx.Done():
				return gctx.Err()
			case extracted <- w:
			}
			cur = to
		}
		return nil
	})

	g.Go(func() error {
		defer close(transformed)
		for w := range extracted {
			began := time.Now()
			out, err := r.transformer.Transform(w.rows, w.prices)
			if err != nil {
				observability.RecordWindow("failed")
				return fmt.Errorf("transform %s..%s: %w", w.start.Format(time.RFC3339), w.end.Format(time.RFC3339), err)
			}
			observability.RecordStageDuration("transform", time.Since(began).Seconds())
			w.result, w.rows = out, nil

			select {
			case <-gctx.Done():
				return gctx.Err()
			case transformed <- w:
			}
		}
		return nil
	})

	g.Go(func() error {
		for w := range transformed {
			began := time.Now()
			var until *time.Time
			if persist {
				end := w.end
				until = &end
			}
			loaded, err := r.loader.Load(gctx, w.result, until)
			if err != nil {
				observability.RecordWindow("failed")
				return fmt.Errorf("load %s..%s: %w", w.start.Format(time.RFC3339), w.end.Format(time.RFC3339), err)
			}
			observability.RecordStageDuration("load", time.Since(began).Seconds())
			observability.RecordWindow("loaded")

			for _, wal := range w.result.Wallets {
				sketch.Insert([]byte(wal.Address))
			}
			res.Windows++
			res.SwapsInserted += loaded.SwapsInserted
			res.SwapsDeleted += loaded.SwapsDeleted
			observability.UpdateDistinctWallets(sketch.Estimate())

			r.logger.Info().
				Time("start", w.start).
				Time("end", w.end).
				Int64("swaps_inserted", loaded.SwapsInserted).
				Int64("swaps_deleted", loaded.SwapsDeleted).
				Int("wallet_tokens", loaded.WalletTokensMerged).
				Msg("window done")

			next <- struct{}{}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return res, err
	}
	res.DistinctWallets = sketch.Estimate()
	return res, nil
}

// extract loads prices for the window and fetches its swaps. The window end
// minute must already have a price, otherwise swaps near the end cannot be valued.
func (r *Runner) extract(ctx context.Context, start, end time.Time) (*window, error) {
	prices, err := pricing.LoadTable(ctx, r.prices, start, end)
	if err != nil {
		return nil, err
	}
	if !prices.Has(end) {
		return nil, fmt.Errorf("window %s..%s: %w at %s", start.Format(time.RFC3339), end.Format(time.RFC3339),
			pricing.ErrMissingPrice, domain.Minute(end).Format(time.RFC3339))
	}

	began := time.Now()
	rows, err := r.extractor.Extract(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("extract %s..%s: %w", start.Format(time.RFC3339), end.Format(time.RFC3339), err)
	}
	observability.RecordStageDuration("extract", time.Since(began).Seconds())
	return &window{start: start, end: end, prices: prices, rows: rows}, nil
}
