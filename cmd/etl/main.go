package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/app"
	"github.com/5ou1e/CryptoStorage-sub000/internal/config"
	"github.com/5ou1e/CryptoStorage-sub000/internal/etl"
	"github.com/5ou1e/CryptoStorage-sub000/internal/extractor"
	"github.com/5ou1e/CryptoStorage-sub000/internal/loader"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/monitor"
	"github.com/5ou1e/CryptoStorage-sub000/internal/provider"
	"github.com/5ou1e/CryptoStorage-sub000/internal/retry"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
	"github.com/5ou1e/CryptoStorage-sub000/internal/transformer"
)

func main() {
	configPath := flag.String("config", app.EnvOr("CONFIG_PATH", ""), "YAML configuration file")
	mode := flag.String("mode", "", "ETL mode override: persistent, fixed or rollback")
	from := flag.String("from", "", "Fixed or rollback mode start (RFC3339)")
	to := flag.String("to", "", "Fixed or rollback mode end (RFC3339)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	migrate := flag.Bool("migrate", false, "Apply embedded migrations on startup")
	noMonitor := flag.Bool("no-monitor", false, "Disable the watermark lag monitor")
	conn := app.RegisterConnFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("load config")
	}
	conn.Apply(cfg)
	if err := applyOverrides(cfg, *mode, *from, *to); err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("invalid flags")
	}

	logger := logging.Setup(logging.Options{
		Service: "etl",
		Level:   cfg.General.LogLevel,
		Format:  cfg.General.LogFormat,
	})
	if cfg.Metrics.Enabled {
		app.ServeMetrics(cfg.Metrics.Addr, &logger)
	}

	ctx, done := app.SignalContext(context.Background(), &logger)
	err = run(ctx, cfg, &logger, app.StoreOptions{UseMemory: *useMemory, Migrate: *migrate, Logger: &logger}, !*noMonitor)
	done()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("etl stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func applyOverrides(cfg *config.Config, mode, from, to string) error {
	if mode != "" {
		cfg.ETL.Mode = mode
	}
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return err
		}
		cfg.ETL.Start = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return err
		}
		cfg.ETL.End = t
	}
	return cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, storeOpts app.StoreOptions, withMonitor bool) error {
	stores, cleanup, err := app.OpenStores(ctx, cfg, storeOpts)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := registerKeys(ctx, stores.Credentials, cfg.Provider.APIKeys, logger); err != nil {
		return err
	}

	client := provider.NewHTTPClient(cfg.Provider.BaseURL, config.QuoteMint,
		provider.WithTimeout(cfg.Provider.Timeout),
		provider.WithRateLimit(cfg.Provider.RateLimitRPS),
		provider.WithBlacklist(cfg.Provider.BlacklistedTokens),
	)
	ex := extractor.New(client, extractor.NewCredentialPool(stores.Credentials, logger), extractor.Options{
		Workers:   cfg.ETL.Workers,
		PageLimit: cfg.Provider.PageLimit,
		Logger:    logger,
	})
	tr := transformer.New(transformer.Options{
		QuoteMint: config.QuoteMint,
		Routers:   cfg.ETL.RouterAddresses,
		Logger:    logger,
	})
	policy := retry.Policy{
		MaxAttempts: cfg.ETL.RetryAttempts,
		MinDelay:    cfg.ETL.RetryMinDelay,
		MaxDelay:    cfg.ETL.RetryMaxDelay,
	}
	mode := cfg.ETL.Mode
	var ld etl.Loader
	if mode == config.ModeRollback {
		// The runner drives rollback as a fixed pass with a deleting load stage.
		archive, _ := stores.Archive.(loader.ArchiveDeleter)
		ld = loader.NewRollback(stores.Ingest, archive, loader.Options{Retry: policy, Logger: logger})
		mode = config.ModeFixed
	} else {
		ld = loader.New(loader.Stores{
			Wallets: stores.Wallets,
			Tokens:  stores.Tokens,
			Stats:   stores.Stats,
			Ingest:  stores.Ingest,
			Archive: stores.Archive,
		}, loader.Options{
			Retry:            policy,
			ArchiveBatchSize: cfg.ETL.SwapsBatchSize,
			Logger:           logger,
		})
	}

	runner := etl.New(ex, tr, ld, stores.Prices, stores.Watermark, etl.Options{
		Mode:     mode,
		Start:    cfg.ETL.Start,
		End:      cfg.ETL.End,
		Delay:    time.Duration(cfg.ETL.DelayMinutes) * time.Minute,
		Window:   time.Duration(cfg.ETL.WindowMinutes) * time.Minute,
		Interval: cfg.ETL.Interval,
		Logger:   logger,
	})

	if withMonitor && cfg.ETL.Mode == config.ModePersistent {
		lag := monitor.NewLagMonitor(stores.Watermark, nil, monitor.Options{
			Interval:  cfg.Monitor.Interval,
			Threshold: cfg.Monitor.LagThreshold,
			Logger:    logger,
		})
		go func() { _ = lag.Run(ctx) }()
	}

	logger.Info().
		Str("mode", cfg.ETL.Mode).
		Int("workers", cfg.ETL.Workers).
		Bool("archive", stores.Archive != nil).
		Msg("etl started")
	return runner.Run(ctx)
}

// registerKeys adds configured provider keys that are not stored yet.
func registerKeys(ctx context.Context, creds storage.CredentialStore, keys []string, logger *zerolog.Logger) error {
	added := 0
	for _, key := range keys {
		if key == "" {
			continue
		}
		_, err := creds.Add(ctx, key)
		if errors.Is(err, storage.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return err
		}
		added++
	}
	if added > 0 {
		logger.Info().Int("keys", added).Msg("registered provider credentials")
	}
	return nil
}
