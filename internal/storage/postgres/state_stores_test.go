package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

func TestWatermarkStore_GetSet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWatermarkStore(pool)

	_, err := store.Get(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	t1 := time.Date(2025, 1, 12, 7, 0, 0, 0, time.UTC)
	require.NoError(t, store.Set(ctx, t1))
	require.NoError(t, store.Set(ctx, t1.Add(30*time.Minute)))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(t1.Add(30*time.Minute)))

	assert.ErrorIs(t, store.Set(ctx, time.Time{}), storage.ErrInvalidInput)
}

func TestCredentialStore_Rotation(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCredentialStore(pool)

	k1, err := store.Add(ctx, "key-1")
	require.NoError(t, err)
	_, err = store.Add(ctx, "key-2")
	require.NoError(t, err)

	_, err = store.Add(ctx, "key-1")
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	active, err := store.NextActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key-1", active.APIKey)

	require.NoError(t, store.Deactivate(ctx, k1.ID))
	active, err = store.NextActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key-2", active.APIKey)

	require.NoError(t, store.Deactivate(ctx, active.ID))
	_, err = store.NextActive(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPriceStore_UpsertAndRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceStore(pool)

	_, err := store.Latest(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	m0 := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertBulk(ctx, []*domain.QuotePrice{
		{Minute: m0, PriceUSD: dec("230.5")},
		{Minute: m0.Add(time.Minute).Add(15 * time.Second), PriceUSD: dec("231")},
	}))
	// Existing minutes are kept.
	require.NoError(t, store.UpsertBulk(ctx, []*domain.QuotePrice{{Minute: m0, PriceUSD: dec("1")}}))

	prices, err := store.GetRange(ctx, m0, m0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices[0].PriceUSD.Equal(dec("230.5")))
	assert.True(t, prices[1].Minute.Equal(m0.Add(time.Minute)))

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.True(t, latest.PriceUSD.Equal(dec("231")))
}
