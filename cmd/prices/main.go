package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/5ou1e/CryptoStorage-sub000/internal/app"
	"github.com/5ou1e/CryptoStorage-sub000/internal/config"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/pricing"
)

func main() {
	configPath := flag.String("config", app.EnvOr("CONFIG_PATH", ""), "YAML configuration file")
	backfillOnly := flag.Bool("backfill-only", false, "Fill the price table up to now and exit")
	gapInterval := flag.Duration("gap-interval", 10*time.Minute, "How often to backfill minutes the stream missed")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	conn := app.RegisterConnFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("load config")
	}
	conn.Apply(cfg)

	logger := logging.Setup(logging.Options{
		Service: "prices",
		Level:   cfg.General.LogLevel,
		Format:  cfg.General.LogFormat,
	})
	if cfg.Metrics.Enabled {
		app.ServeMetrics(cfg.Metrics.Addr, &logger)
	}

	ctx, done := app.SignalContext(context.Background(), &logger)
	err = run(ctx, cfg, &logger, *backfillOnly, *gapInterval, *useMemory)
	done()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("prices stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, backfillOnly bool, gapInterval time.Duration, useMemory bool) error {
	stores, cleanup, err := app.OpenStores(ctx, cfg, app.StoreOptions{UseMemory: useMemory})
	if err != nil {
		return err
	}
	defer cleanup()

	klines := pricing.NewKlineClient(cfg.Pricing.RESTURL, cfg.Pricing.Symbol, cfg.Pricing.RateLimitRPS)
	backfiller := pricing.NewBackfiller(klines, stores.Prices, cfg.Pricing.BackfillFrom, logger)

	stored, err := backfiller.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info().Int("prices", stored).Msg("backfill finished")
	if backfillOnly {
		return nil
	}

	stream := pricing.NewStreamCollector(cfg.Pricing.WSURL, cfg.Pricing.Symbol, stores.Prices, nil, logger)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream.Run(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(gapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			n, err := backfiller.Run(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn().Err(err).Msg("gap backfill failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("prices", n).Msg("gap backfill stored prices")
			}
		}
	})
	return g.Wait()
}
