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

func TestWalletStore_UpsertKeepsFlagsAndAdvancesActivity(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWalletStore(pool)

	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ids, err := store.UpsertBulk(ctx, []*domain.Wallet{
		{Address: "WalletA", LastActivity: ptr(t0)},
		{Address: "WalletB", LastActivity: ptr(t0)},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	require.NoError(t, store.UpdateFlagsBulk(ctx, []*domain.WalletFlags{
		{WalletID: ids["WalletA"], IsBot: true, LastStatsCheck: t0},
	}))

	// Older activity must not move the timestamp back; flags survive.
	again, err := store.UpsertBulk(ctx, []*domain.Wallet{
		{Address: "WalletA", LastActivity: ptr(t0.Add(-time.Hour))},
		{Address: "WalletB", LastActivity: ptr(t0.Add(time.Hour))},
	})
	require.NoError(t, err)
	assert.Equal(t, ids, again)

	a, err := store.GetByAddress(ctx, "WalletA")
	require.NoError(t, err)
	assert.True(t, a.IsBot)
	assert.True(t, a.LastActivity.Equal(t0))
	require.NotNil(t, a.LastStatsCheck)

	b, err := store.GetByAddress(ctx, "WalletB")
	require.NoError(t, err)
	assert.True(t, b.LastActivity.Equal(t0.Add(time.Hour)))
	assert.Nil(t, b.LastStatsCheck)
}

func TestWalletStore_GetByAddressNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewWalletStore(pool).GetByAddress(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWalletStore_ListForStatsOrder(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWalletStore(pool)
	ids := createWallets(t, ctx, pool, "W1", "W2", "W3")

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.UpdateFlagsBulk(ctx, []*domain.WalletFlags{
		{WalletID: ids["W1"], LastStatsCheck: now},
		{WalletID: ids["W2"], LastStatsCheck: now.Add(-time.Hour)},
	}))

	wallets, err := store.ListForStats(ctx, 2)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, "W3", wallets[0].Address, "never-checked wallets come first")
	assert.Equal(t, "W2", wallets[1].Address)
}

func TestWalletStore_ListForCohort(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ids := createWallets(t, ctx, pool, "Good", "Poor", "Bot")
	statsStore := NewWalletStatsStore(pool)

	var stats []*domain.WalletPeriodStatistic
	for addr, id := range ids {
		all := &domain.WalletPeriodStatistic{
			WalletID:                   id,
			Period:                     domain.PeriodAll,
			TotalProfitUSD:             dec("5000"),
			TotalProfitMultiplier:      nullDec("80"),
			TokenAvgBuyAmount:          nullDec("300"),
			TokenBuySellDurationMedian: nullDec("120"),
			Winrate:                    nullDec("55"),
		}
		if addr == "Poor" {
			all.Winrate = nullDec("10")
		}
		stats = append(stats, all, &domain.WalletPeriodStatistic{WalletID: id, Period: domain.Period7d, TotalToken: 6})
	}
	require.NoError(t, statsStore.ReplaceBulk(ctx, domain.ScopeMain, stats))
	require.NoError(t, NewWalletStore(pool).UpdateFlagsBulk(ctx, []*domain.WalletFlags{
		{WalletID: ids["Bot"], IsBot: true, LastStatsCheck: time.Now()},
	}))

	wallets, err := NewWalletStore(pool).ListForCohort(ctx, domain.BuyPriceGt15kCohort().Wallets)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, "Good", wallets[0].Address)
}
