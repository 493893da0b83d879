package etl

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/5ou1e/CryptoStorage-sub000/internal/config"
	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/extractor"
	"github.com/5ou1e/CryptoStorage-sub000/internal/loader"
	"github.com/5ou1e/CryptoStorage-sub000/internal/pricing"
	"github.com/5ou1e/CryptoStorage-sub000/internal/retry"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage/memory"
	"github.com/5ou1e/CryptoStorage-sub000/internal/transformer"
)

const quote = config.QuoteMint

var t0 = time.Date(2025, 1, 12, 7, 0, 0, 0, time.UTC)

func addr(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

// fakeExtractor emits one buy per window for a fixed wallet and token.
type fakeExtractor struct {
	calls atomic.Int32
	err   error
}

func (f *fakeExtractor) Extract(_ context.Context, start, end time.Time) ([]*domain.RawSwap, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []*domain.RawSwap{{
		TxID:           "tx" + start.Format("1504"),
		BlockID:        int64(n),
		Swapper:        addr(1),
		FromMint:       quote,
		ToMint:         addr(2),
		FromAmount:     decimal.NewFromInt(1),
		ToAmount:       decimal.NewFromInt(100),
		BlockTimestamp: start,
	}}, nil
}

// stallingLoader blocks every Load until release is closed.
type stallingLoader struct {
	next    Loader
	release chan struct{}
	loads   atomic.Int32
}

func (s *stallingLoader) Load(ctx context.Context, res *transformer.Result, until *time.Time) (*loader.Result, error) {
	s.loads.Add(1)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.next.Load(ctx, res, until)
}

func seedPrices(t *testing.T, s *memory.Stores, from time.Time, minutes int) {
	t.Helper()
	prices := make([]*domain.QuotePrice, 0, minutes)
	for i := 0; i < minutes; i++ {
		prices = append(prices, &domain.QuotePrice{Minute: from.Add(time.Duration(i) * time.Minute), PriceUSD: decimal.NewFromInt(100)})
	}
	if err := s.Prices.UpsertBulk(context.Background(), prices); err != nil {
		t.Fatalf("seed prices: %v", err)
	}
}

func newLoader(s *memory.Stores) *loader.Loader {
	return loader.New(loader.Stores{
		Wallets: s.Wallets,
		Tokens:  s.Tokens,
		Stats:   s.Stats,
		Ingest:  s.Ingest,
	}, loader.Options{Retry: retry.Policy{MaxAttempts: 2, MinDelay: time.Millisecond, MaxDelay: time.Millisecond}})
}

func newRunner(s *memory.Stores, ex Extractor, ld Loader, opts Options) *Runner {
	opts.Window = 30 * time.Minute
	return New(ex, transformer.New(transformer.Options{QuoteMint: quote}), ld, s.Prices, s.Watermark, opts)
}

func TestRunner_FixedMode(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStores(time.Minute)
	seedPrices(t, s, t0.Add(-time.Minute), 120)

	ex := &fakeExtractor{}
	r := newRunner(s, ex, newLoader(s), Options{Mode: config.ModeFixed, Start: t0, End: t0.Add(90 * time.Minute)})

	res, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Windows != 3 || ex.calls.Load() != 3 {
		t.Errorf("windows=%d fetches=%d, want 3/3", res.Windows, ex.calls.Load())
	}
	if res.SwapsInserted != 3 || s.Swaps.Count() != 3 {
		t.Errorf("swaps inserted=%d stored=%d, want 3", res.SwapsInserted, s.Swaps.Count())
	}
	if res.DistinctWallets != 1 {
		t.Errorf("distinct wallets = %d, want 1", res.DistinctWallets)
	}
	if _, err := s.Watermark.Get(ctx); err == nil {
		t.Error("fixed mode must not advance the watermark")
	}
}

func TestRunner_PersistentAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStores(time.Minute)
	seedPrices(t, s, t0.Add(-time.Minute), 120)
	if err := s.Watermark.Set(ctx, t0); err != nil {
		t.Fatalf("Set watermark: %v", err)
	}

	ex := &fakeExtractor{}
	r := newRunner(s, ex, newLoader(s), Options{Mode: config.ModePersistent, Delay: 24 * time.Hour})
	r.now = func() time.Time { return t0.Add(24*time.Hour + 45*time.Minute + 20*time.Second) }

	start, end, err := r.Period(ctx)
	if err != nil {
		t.Fatalf("Period: %v", err)
	}
	if !start.Equal(t0) || !end.Equal(t0.Add(45*time.Minute)) {
		t.Fatalf("period = %v..%v", start, end)
	}

	res, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Windows != 2 {
		t.Errorf("windows = %d, want 2 (30m + 15m)", res.Windows)
	}
	wm, err := s.Watermark.Get(ctx)
	if err != nil || !wm.Equal(t0.Add(45*time.Minute)) {
		t.Errorf("watermark = %v (%v), want %v", wm, err, t0.Add(45*time.Minute))
	}
}

func TestRunner_NoWatermark(t *testing.T) {
	s := memory.NewStores(time.Minute)
	r := newRunner(s, &fakeExtractor{}, newLoader(s), Options{Mode: config.ModePersistent})

	_, err := r.RunOnce(context.Background())
	if !errors.Is(err, ErrNoWatermark) || !IsFatal(err) {
		t.Fatalf("expected fatal ErrNoWatermark, got %v", err)
	}
}

func TestRunner_MissingEndPriceStopsBeforeExtract(t *testing.T) {
	s := memory.NewStores(time.Minute)
	seedPrices(t, s, t0, 20) // window end t0+30m has no price

	ex := &fakeExtractor{}
	r := newRunner(s, ex, newLoader(s), Options{Mode: config.ModeFixed, Start: t0, End: t0.Add(30 * time.Minute)})

	_, err := r.RunOnce(context.Background())
	if !errors.Is(err, pricing.ErrMissingPrice) {
		t.Fatalf("expected ErrMissingPrice, got %v", err)
	}
	if ex.calls.Load() != 0 {
		t.Errorf("provider must not be queried, got %d calls", ex.calls.Load())
	}
	if IsFatal(err) {
		t.Error("missing price must not be fatal for the persistent loop")
	}
}

func TestRunner_Backpressure(t *testing.T) {
	s := memory.NewStores(time.Minute)
	seedPrices(t, s, t0.Add(-time.Minute), 120)

	ex := &fakeExtractor{}
	ld := &stallingLoader{next: newLoader(s), release: make(chan struct{})}
	r := newRunner(s, ex, ld, Options{Mode: config.ModeFixed, Start: t0, End: t0.Add(90 * time.Minute)})

	done := make(chan error, 1)
	go func() {
		_, err := r.RunOnce(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for ld.loads.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("loader never called")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if got := ex.calls.Load(); got != 1 {
		t.Fatalf("fetches with a stalled loader = %d, want 1", got)
	}

	close(ld.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after release")
	}
	if got := ex.calls.Load(); got != 3 {
		t.Errorf("fetches = %d, want 3", got)
	}
}

func TestRunner_RunStopsOnFatalError(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStores(time.Minute)
	seedPrices(t, s, t0.Add(-time.Minute), 120)
	s.Watermark.Set(ctx, t0)

	ex := &fakeExtractor{err: extractor.ErrNoCredentials}
	r := newRunner(s, ex, newLoader(s), Options{Mode: config.ModePersistent, Interval: time.Millisecond})
	r.now = func() time.Time { return t0.Add(DefaultDelay + time.Hour) }

	err := r.Run(ctx)
	if !errors.Is(err, extractor.ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestRunner_RunRetriesAfterNonFatalError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := memory.NewStores(time.Minute)
	s.Watermark.Set(ctx, t0) // no prices stored: every pass fails

	ex := &fakeExtractor{}
	r := newRunner(s, ex, newLoader(s), Options{Mode: config.ModePersistent, Interval: 10 * time.Millisecond})
	r.now = func() time.Time { return t0.Add(DefaultDelay + time.Hour) }

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
