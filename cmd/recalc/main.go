package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/app"
	"github.com/5ou1e/CryptoStorage-sub000/internal/config"
	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/recalc"
	"github.com/5ou1e/CryptoStorage-sub000/internal/retry"
)

func main() {
	configPath := flag.String("config", app.EnvOr("CONFIG_PATH", ""), "YAML configuration file")
	mode := flag.String("mode", "loop", "Run mode: once, loop, cohort or wallet")
	wallet := flag.String("wallet", "", "Wallet address for -mode wallet")
	count := flag.Int("count", 0, "Wallets per run (overrides recalc.wallets_count)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	conn := app.RegisterConnFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("load config")
	}
	conn.Apply(cfg)
	if *count > 0 {
		cfg.Recalc.WalletsCount = *count
	}

	logger := logging.Setup(logging.Options{
		Service: "recalc",
		Level:   cfg.General.LogLevel,
		Format:  cfg.General.LogFormat,
	})
	if cfg.Metrics.Enabled {
		app.ServeMetrics(cfg.Metrics.Addr, &logger)
	}

	ctx, done := app.SignalContext(context.Background(), &logger)
	err = run(ctx, cfg, &logger, *mode, *wallet, *useMemory)
	done()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("recalc stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, mode, wallet string, useMemory bool) error {
	stores, cleanup, err := app.OpenStores(ctx, cfg, app.StoreOptions{UseMemory: useMemory})
	if err != nil {
		return err
	}
	defer cleanup()

	r := recalc.New(recalc.Stores{
		Wallets:      stores.Wallets,
		WalletTokens: stores.WalletTokens,
		Stats:        stores.Stats,
		Recalc:       stores.Recalc,
	}, recalc.Options{
		Count:          cfg.Recalc.WalletsCount,
		FetchBatch:     cfg.Recalc.FetchBatchSize,
		FetchParallel:  cfg.Recalc.FetchWorkers,
		ComputeWorkers: cfg.Recalc.ComputeWorkers,
		WriteBatch:     cfg.Recalc.WriteBatchSize,
		WriteParallel:  cfg.Recalc.WriteWorkers,
		QueueSize:      cfg.Recalc.QueueSize,
		Retry: retry.Policy{
			MaxAttempts: cfg.ETL.RetryAttempts,
			MinDelay:    cfg.ETL.RetryMinDelay,
			MaxDelay:    cfg.ETL.RetryMaxDelay,
		},
		Logger: logger,
	})

	switch mode {
	case "once":
		_, err = r.Run(ctx)
	case "loop":
		err = r.Loop(ctx, cfg.Recalc.Interval)
	case "cohort":
		_, err = r.RunCohort(ctx, domain.BuyPriceGt15kCohort())
	case "wallet":
		if wallet == "" {
			return errors.New("-wallet is required for -mode wallet")
		}
		_, err = r.RefreshWallet(ctx, wallet)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return err
}
