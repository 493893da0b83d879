package app

import (
	"context"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/5ou1e/CryptoStorage-sub000/internal/config"
	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

func TestOpenStores_Memory(t *testing.T) {
	ctx := context.Background()
	stores, cleanup, err := OpenStores(ctx, config.Default(), StoreOptions{UseMemory: true})
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, stores.Archive)
	ids, err := stores.Wallets.UpsertBulk(ctx, []*domain.Wallet{{Address: "w1"}})
	require.NoError(t, err)
	assert.Contains(t, ids, "w1")

	_, err = stores.Watermark.Get(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOpenCaches_Memory(t *testing.T) {
	ctx := context.Background()
	caches, cleanup, err := OpenCaches(ctx, config.Default(), true)
	require.NoError(t, err)
	defer cleanup()

	_, err = caches.Related.GetRelated(ctx, "w1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, caches.Jobs.Save(ctx, &domain.RefreshJob{ID: "j1", Status: domain.JobPending, CreatedAt: now, UpdatedAt: now}))
	got, err := caches.Jobs.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, got.Status)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0o600))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestEnvOr(t *testing.T) {
	t.Setenv("APP_TEST_VALUE", "set")
	assert.Equal(t, "set", EnvOr("APP_TEST_VALUE", "def"))
	assert.Equal(t, "def", EnvOr("APP_TEST_MISSING", "def"))
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestConnFlags(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://env/db")
	t.Setenv("REDIS_ADDR", "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	conn := RegisterConnFlags(fs)
	require.NoError(t, fs.Parse([]string{"-clickhouse-dsn", "clickhouse://flag:9000/swaps"}))

	cfg := config.Default()
	conn.Apply(cfg)
	assert.Equal(t, "postgres://env/db", cfg.Postgres.DSN)
	assert.Equal(t, "clickhouse://flag:9000/swaps", cfg.ClickHouse.DSN)
	assert.Equal(t, config.Default().Redis.Addr, cfg.Redis.Addr)

	require.NoError(t, fs.Parse([]string{"-postgres-dsn", "postgres://flag/db"}))
	conn.Apply(cfg)
	assert.Equal(t, "postgres://flag/db", cfg.Postgres.DSN)
}
