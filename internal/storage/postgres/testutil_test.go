package postgres

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
)

// setupTestDB creates a PostgreSQL container for testing and applies migrations.
// Returns a cleanup function that must be called after tests complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	// Run migrations
	runMigrations(t, ctx, pool)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// runMigrations applies the schema files next to this package. The
// migrations package cannot be imported here since it depends on postgres.
func runMigrations(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	_, self, _, ok := runtime.Caller(0)
	require.True(t, ok)
	schema := os.DirFS(filepath.Join(filepath.Dir(self), "..", "migrations", "postgres"))

	files, err := fs.Glob(schema, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files, "no migrations found")

	for _, name := range files {
		sql, err := fs.ReadFile(schema, name)
		require.NoError(t, err, "read %s", name)
		_, err = pool.Exec(ctx, string(sql))
		require.NoError(t, err, "apply %s", name)
	}
}

// ptr is a helper to create pointers to values.
func ptr[T any](v T) *T {
	return &v
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// createWallets upserts wallets and returns address -> id.
func createWallets(t *testing.T, ctx context.Context, pool *Pool, addresses ...string) map[string]int64 {
	t.Helper()

	wallets := make([]*domain.Wallet, 0, len(addresses))
	for _, a := range addresses {
		wallets = append(wallets, &domain.Wallet{Address: a})
	}
	ids, err := NewWalletStore(pool).UpsertBulk(ctx, wallets)
	require.NoError(t, err)
	return ids
}

// createTokens registers tokens and returns address -> id.
func createTokens(t *testing.T, ctx context.Context, pool *Pool, addresses ...string) map[string]int64 {
	t.Helper()

	ids, err := NewTokenStore(pool).EnsureBulk(ctx, addresses)
	require.NoError(t, err)
	return ids
}
