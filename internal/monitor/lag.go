// Package monitor watches the ingestion watermark and raises an alert when it
// falls too far behind real time.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// Defaults
const (
	DefaultInterval  = 10 * time.Minute
	DefaultThreshold = 3 * time.Hour
)

// Alert describes a watermark that fell behind.
type Alert struct {
	ParsedUntil time.Time
	Lag         time.Duration
	Threshold   time.Duration
}

func (a Alert) String() string {
	lag := a.Lag.Truncate(time.Second)
	h := int(lag.Hours())
	m := int(lag.Minutes()) % 60
	s := int(lag.Seconds()) % 60
	return fmt.Sprintf("last loaded swap at %s (behind by %dh %dm %ds)", a.ParsedUntil.Format(time.RFC3339), h, m, s)
}

// Alerter delivers alerts.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to the logger at error level.
type LogAlerter struct {
	Logger *zerolog.Logger
}

// Alert implements Alerter.
func (l LogAlerter) Alert(_ context.Context, a Alert) error {
	logging.OrGlobal(l.Logger).Error().
		Time("parsed_until", a.ParsedUntil).
		Dur("lag", a.Lag).
		Dur("threshold", a.Threshold).
		Msg("swap ingestion is lagging: " + a.String())
	return nil
}

// Options configures LagMonitor.
type Options struct {
	Interval  time.Duration
	Threshold time.Duration
	Logger    *zerolog.Logger
}

// LagMonitor periodically compares the watermark with the current time.
type LagMonitor struct {
	watermark storage.WatermarkStore
	alerter   Alerter
	interval  time.Duration
	threshold time.Duration
	logger    *zerolog.Logger
	now       func() time.Time
}

// NewLagMonitor creates a LagMonitor. A nil alerter logs alerts.
func NewLagMonitor(watermark storage.WatermarkStore, alerter Alerter, opts Options) *LagMonitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	logger := logging.OrGlobal(opts.Logger)
	if alerter == nil {
		alerter = LogAlerter{Logger: logger}
	}
	return &LagMonitor{
		watermark: watermark,
		alerter:   alerter,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Check reads the watermark once and alerts when the lag exceeds the threshold.
// It returns the measured lag. A missing watermark is not an alert.
func (m *LagMonitor) Check(ctx context.Context) (time.Duration, error) {
	parsedUntil, err := m.watermark.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn().Msg("swaps watermark not set yet")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get watermark: %w", err)
	}

	lag := m.now().Sub(parsedUntil)
	observability.UpdateWatermarkLag(lag.Seconds())
	if lag <= m.threshold {
		m.logger.Debug().Dur("lag", lag).Msg("watermark lag ok")
		return lag, nil
	}
	a := Alert{ParsedUntil: parsedUntil, Lag: lag, Threshold: m.threshold}
	if err := m.alerter.Alert(ctx, a); err != nil {
		return lag, fmt.Errorf("send alert: %w", err)
	}
	return lag, nil
}

// Run checks immediately and then every interval until ctx is cancelled.
// Check errors are logged and do not stop the loop.
func (m *LagMonitor) Run(ctx context.Context) error {
	m.logger.Info().
		Dur("interval", m.interval).
		Dur("threshold", m.threshold).
		Msg("watermark lag monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if _, err := m.Check(ctx); err != nil {
			m.logger.Error().Err(err).Msg("watermark lag check failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
