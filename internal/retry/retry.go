// Package retry re-runs units of work that failed on transient storage conflicts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// Default policy values.
const (
	DefaultMaxAttempts = 5
	DefaultMinDelay    = time.Second
	DefaultMaxDelay    = 3 * time.Second
)

// ErrExhausted is returned when every attempt failed with a conflict.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy configures conflict retries.
type Policy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Logger      *zerolog.Logger

	// OnRetry is called before each new attempt. Optional.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy returns 5 attempts with jittered 1-3s delays.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		MinDelay:    DefaultMinDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.MinDelay <= 0 {
		p.MinDelay = DefaultMinDelay
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	p.Logger = logging.OrGlobal(p.Logger)
	return p
}

// newBackOff builds a constant-interval backoff with jitter spanning [MinDelay, MaxDelay].
func (p Policy) newBackOff() backoff.BackOff {
	mid := (p.MinDelay + p.MaxDelay) / 2
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = mid
	b.Multiplier = 1
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	if mid > 0 {
		b.RandomizationFactor = float64(p.MaxDelay-mid) / float64(mid)
	}
	b.Reset()
	return b
}

// OnConflict runs op until it succeeds, fails with a non-conflict error, or the
// attempt budget is spent. Only errors wrapping storage.ErrConflict are retried.
func OnConflict(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	attempt := 0
	var lastErr error
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.Logger.Warn().
			Err(err).
			Str("op", name).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("storage conflict, retrying")
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), uint64(p.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrConflict) && lastErr != nil {
		return fmt.Errorf("%s: %w after %d attempts: %w", name, ErrExhausted, attempt, lastErr)
	}
	return err
}
