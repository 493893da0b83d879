// Package extractor pulls raw swap rows for a time window from the provider.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/provider"
)

// Default configuration values.
const (
	DefaultWorkers   = 6
	DefaultPageLimit = 100000
)

// Options configures Extractor.
type Options struct {
	Workers   int // parallel sub-intervals per window
	PageLimit int
	Logger    *zerolog.Logger
}

// Extractor fetches a window in parallel sub-intervals with credential rotation.
type Extractor struct {
	client    provider.Client
	creds     *CredentialPool
	workers   int
	pageLimit int
	logger    *zerolog.Logger
}

// New creates an Extractor.
func New(client provider.Client, creds *CredentialPool, opts Options) *Extractor {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = DefaultPageLimit
	}
	return &Extractor{
		client:    client,
		creds:     creds,
		workers:   opts.Workers,
		pageLimit: opts.PageLimit,
		logger:    logging.OrGlobal(opts.Logger),
	}
}

// Extract returns every swap with block_timestamp in [start, end).
// A quota or cancellation error deactivates the key and refetches the whole
// window with the next one. Returns ErrNoCredentials when none remain.
func (e *Extractor) Extract(ctx context.Context, start, end time.Time) ([]*domain.RawSwap, error) {
	cred, err := e.creds.Current(ctx)
	if err != nil {
		return nil, err
	}

	for {
		rows, err := e.extractWith(ctx, cred.APIKey, start, end)
		if err == nil {
			observability.RecordSwapsExtracted(len(rows))
			return rows, nil
		}
		if !provider.IsCredentialError(err) {
			return nil, err
		}
		cred, err = e.creds.Rotate(ctx, cred, err)
		if err != nil {
			return nil, err
		}
	}
}

func (e *Extractor) extractWith(ctx context.Context, apiKey string, start, end time.Time) ([]*domain.RawSwap, error) {
	intervals := SplitRange(start, end, e.workers)
	results := make([][]*domain.RawSwap, len(intervals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, iv := range intervals {
		g.Go(func() error {
			rows, err := e.fetchInterval(gctx, apiKey, iv)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, r := range results {
		total += len(r)
	}
	out := make([]*domain.RawSwap, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}

	e.logger.Info().
		Time("start", start).
		Time("end", end).
		Int("intervals", len(intervals)).
		Int("swaps", total).
		Msg("window extracted")
	return out, nil
}

// fetchInterval pages through one sub-interval until a short page.
func (e *Extractor) fetchInterval(ctx context.Context, apiKey string, iv Interval) ([]*domain.RawSwap, error) {
	var out []*domain.RawSwap
	offset := 0
	for {
		began := time.Now()
		page, err := e.client.FetchSwaps(ctx, apiKey, provider.Query{
			Start:  iv.Start,
			End:    iv.End,
			Offset: offset,
			Limit:  e.pageLimit,
		})
		status := "ok"
		if err != nil {
			status = "error"
			if provider.IsCredentialError(err) {
				status = "credential"
			}
		}
		observability.RecordProviderCall(status, time.Since(began).Seconds())
		if err != nil {
			return nil, fmt.Errorf("fetch %s..%s offset %d: %w", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339), offset, err)
		}

		out = append(out, page...)
		if len(page) < e.pageLimit {
			return out, nil
		}
		offset += len(page)
	}
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// SplitRange divides [start, end) into n equal parts. The last part ends exactly at end.
func SplitRange(start, end time.Time, n int) []Interval {
	if n < 1 {
		n = 1
	}
	if !end.After(start) {
		return nil
	}
	delta := end.Sub(start) / time.Duration(n)
	out := make([]Interval, 0, n)
	for i := 0; i < n-1; i++ {
		out = append(out, Interval{
			Start: start.Add(time.Duration(i) * delta),
			End:   start.Add(time.Duration(i+1) * delta),
		})
	}
	out = append(out, Interval{Start: start.Add(time.Duration(n-1) * delta), End: end})
	return out
}

// IsFatal reports whether err must stop the run rather than be retried later.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoCredentials)
}
