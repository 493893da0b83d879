// Package app holds the bootstrap shared by the binaries: signal handling,
// the metrics endpoint and store construction.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/cache"
	"github.com/5ou1e/CryptoStorage-sub000/internal/config"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
	chstore "github.com/5ou1e/CryptoStorage-sub000/internal/storage/clickhouse"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage/memory"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage/migrations"
	pgstore "github.com/5ou1e/CryptoStorage-sub000/internal/storage/postgres"
)

// ShutdownGrace is how long a graceful shutdown may take before the process exits.
const ShutdownGrace = 30 * time.Second

// SignalContext returns a context cancelled on SIGINT or SIGTERM. A second
// signal, or ShutdownGrace elapsing after the first, exits the process.
// Call done once the main work returned.
func SignalContext(parent context.Context, logger *zerolog.Logger) (ctx context.Context, done func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	finished := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-finished:
			return
		}
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(ShutdownGrace):
			logger.Error().Dur("grace", ShutdownGrace).Msg("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-finished:
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		close(finished)
		cancel()
	}
}

// ServeMetrics exposes /metrics and /health on addr in the background.
// An empty addr disables the endpoint.
func ServeMetrics(addr string, logger *zerolog.Logger) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		mux.HandleFunc("/health", Health)
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

// Health answers liveness checks.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Stores are the storage backends a binary runs against.
type Stores struct {
	Wallets      storage.WalletStore
	Tokens       storage.TokenStore
	Swaps        storage.SwapStore
	WalletTokens storage.WalletTokenStore
	Stats        storage.WalletStatsStore
	Watermark    storage.WatermarkStore
	Prices       storage.PriceStore
	Credentials  storage.CredentialStore
	Ingest       storage.IngestStore
	Recalc       storage.RecalcStore
	// Archive is the ClickHouse swap mirror. Nil when disabled.
	Archive storage.SwapStore
}

// StoreOptions selects the backends.
type StoreOptions struct {
	UseMemory bool
	Migrate   bool // apply embedded migrations before use
	Logger    *zerolog.Logger
}

// OpenStores connects to Postgres, and to ClickHouse when the archive is
// enabled. The returned cleanup closes every connection.
func OpenStores(ctx context.Context, cfg *config.Config, opts StoreOptions) (*Stores, func(), error) {
	if opts.UseMemory {
		m := memory.NewStores(cfg.Redis.RelatedTTL)
		return &Stores{
			Wallets:      m.Wallets,
			Tokens:       m.Tokens,
			Swaps:        m.Swaps,
			WalletTokens: m.WalletTokens,
			Stats:        m.Stats,
			Watermark:    m.Watermark,
			Prices:       m.Prices,
			Credentials:  m.Credentials,
			Ingest:       m.Ingest,
			Recalc:       m.Recalc,
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, err
	}
	if opts.Migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool, opts.Logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	stores := &Stores{
		Wallets:      pgstore.NewWalletStore(pool),
		Tokens:       pgstore.NewTokenStore(pool),
		Swaps:        pgstore.NewSwapStore(pool),
		WalletTokens: pgstore.NewWalletTokenStore(pool),
		Stats:        pgstore.NewWalletStatsStore(pool),
		Watermark:    pgstore.NewWatermarkStore(pool),
		Prices:       pgstore.NewPriceStore(pool),
		Credentials:  pgstore.NewCredentialStore(pool),
		Ingest:       pgstore.NewIngestStore(pool),
		Recalc:       pgstore.NewRecalcStore(pool),
	}
	if !cfg.ClickHouse.Enabled {
		return stores, pool.Close, nil
	}

	var conn *chstore.Conn
	if opts.Migrate {
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN, opts.Logger)
	} else {
		conn, err = chstore.NewConn(ctx, cfg.ClickHouse.DSN)
	}
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("open swap archive: %w", err)
	}
	stores.Archive = chstore.NewSwapArchive(conn)

	cleanup := func() {
		conn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// Caches are the related-wallet cache and the refresh job store.
type Caches struct {
	Related storage.RelatedCache
	Jobs    storage.JobStore
}

// OpenCaches connects to Redis, or builds in-memory caches.
func OpenCaches(ctx context.Context, cfg *config.Config, useMemory bool) (*Caches, func(), error) {
	if useMemory {
		return &Caches{
			Related: memory.NewRelatedCache(cfg.Redis.RelatedTTL),
			Jobs:    memory.NewJobStore(),
		}, func() {}, nil
	}
	rc, err := cache.NewRedisCache(ctx, cache.Options{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		RelatedTTL: cfg.Redis.RelatedTTL,
		JobTTL:     cfg.Redis.JobTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	return &Caches{Related: rc, Jobs: rc}, func() { _ = rc.Close() }, nil
}

// LoadConfig reads .env, then the YAML file at path. An empty path yields
// the defaults.
func LoadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// EnvOr returns the environment variable key, or def when unset.
func EnvOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// ConnFlags are connection settings that override the configuration file.
type ConnFlags struct {
	PostgresDSN   string
	ClickHouseDSN string
	RedisAddr     string
}

// RegisterConnFlags binds -postgres-dsn, -clickhouse-dsn and -redis-addr on fs.
func RegisterConnFlags(fs *flag.FlagSet) *ConnFlags {
	c := &ConnFlags{}
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", "", "PostgreSQL connection string (env POSTGRES_DSN)")
	fs.StringVar(&c.ClickHouseDSN, "clickhouse-dsn", "", "ClickHouse archive connection string (env CLICKHOUSE_DSN)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address (env REDIS_ADDR)")
	return c
}

// Apply overrides cfg with the flags, or with the environment when a flag
// is unset. Call it after LoadConfig so .env values are visible.
func (c *ConnFlags) Apply(cfg *config.Config) {
	if v := firstSet(c.PostgresDSN, os.Getenv("POSTGRES_DSN")); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := firstSet(c.ClickHouseDSN, os.Getenv("CLICKHOUSE_DSN")); v != "" {
		cfg.ClickHouse.DSN = v
	}
	if v := firstSet(c.RedisAddr, os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
