package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/api"
	"github.com/5ou1e/CryptoStorage-sub000/internal/app"
	"github.com/5ou1e/CryptoStorage-sub000/internal/config"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/query"
	"github.com/5ou1e/CryptoStorage-sub000/internal/recalc"
	"github.com/5ou1e/CryptoStorage-sub000/internal/related"
	"github.com/5ou1e/CryptoStorage-sub000/internal/retry"
)

func main() {
	configPath := flag.String("config", app.EnvOr("CONFIG_PATH", ""), "YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage and caches")
	migrate := flag.Bool("migrate", false, "Apply embedded migrations on startup")
	conn := app.RegisterConnFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("load config")
	}
	conn.Apply(cfg)
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := logging.Setup(logging.Options{
		Service: "server",
		Level:   cfg.General.LogLevel,
		Format:  cfg.General.LogFormat,
	})

	ctx, done := app.SignalContext(context.Background(), &logger)
	err = run(ctx, cfg, &logger, app.StoreOptions{UseMemory: *useMemory, Migrate: *migrate, Logger: &logger})
	done()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("server stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, storeOpts app.StoreOptions) error {
	stores, cleanupStores, err := app.OpenStores(ctx, cfg, storeOpts)
	if err != nil {
		return err
	}
	defer cleanupStores()

	caches, cleanupCaches, err := app.OpenCaches(ctx, cfg, storeOpts.UseMemory)
	if err != nil {
		return err
	}
	defer cleanupCaches()

	// Neighbor lookups scan swaps by token and block; the archive serves them when mirrored.
	swaps := stores.Swaps
	if stores.Archive != nil {
		swaps = stores.Archive
	}
	detector := related.New(related.Stores{
		Wallets:      stores.Wallets,
		WalletTokens: stores.WalletTokens,
		Swaps:        swaps,
		Stats:        stores.Stats,
	}, related.Options{
		TokenLimit:     cfg.Related.TokensLimit,
		BlockWindow:    int64(cfg.Related.BlocksWindow),
		Concurrency:    cfg.Related.Concurrency,
		MinIntersected: int64(cfg.Related.MinIntersected),
		MaxTotalTokens: int64(cfg.Related.MaxTotalTokens),
		Logger:         logger,
	})

	refresher := recalc.New(recalc.Stores{
		Wallets:      stores.Wallets,
		WalletTokens: stores.WalletTokens,
		Stats:        stores.Stats,
		Recalc:       stores.Recalc,
	}, recalc.Options{
		Retry: retry.Policy{
			MaxAttempts: cfg.ETL.RetryAttempts,
			MinDelay:    cfg.ETL.RetryMinDelay,
			MaxDelay:    cfg.ETL.RetryMaxDelay,
		},
		Logger: logger,
	})

	svc := query.New(query.Deps{
		Wallets:   stores.Wallets,
		Stats:     stores.Stats,
		Detector:  detector,
		Cache:     caches.Related,
		Jobs:      caches.Jobs,
		Refresher: refresher,
	}, query.Options{Logger: logger})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewHandler(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	svc.Wait()
	return ctx.Err()
}
