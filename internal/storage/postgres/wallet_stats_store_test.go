package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

func TestWalletStatsStore_EnsureThenReplace(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ids := createWallets(t, ctx, pool, "W1", "W2")
	store := NewWalletStatsStore(pool)

	require.NoError(t, store.EnsureBulk(ctx, []int64{ids["W1"], ids["W2"], ids["W1"]}))

	got, err := store.GetByWalletIDs(ctx, domain.ScopeMain, []int64{ids["W1"], ids["W2"]})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[ids["W1"]].Stats7d)
	assert.Equal(t, int64(0), got[ids["W1"]].StatsAll.TotalToken)
	assert.False(t, got[ids["W1"]].StatsAll.Winrate.Valid)

	replacement := &domain.WalletPeriodStatistic{
		WalletID:          ids["W1"],
		Period:            domain.Period30d,
		TotalToken:        7,
		TotalTokenBuys:    9,
		TotalProfitUSD:    dec("-12.5"),
		Winrate:           nullDec("42.86"),
		PnLLt2xNum:        3,
		PnLLt2xPercent:    nullDec("42.86"),
		TokenWithBuy:      7,
		TokenAvgBuyAmount: nullDec("150.25"),
	}
	require.NoError(t, store.ReplaceBulk(ctx, domain.ScopeMain, []*domain.WalletPeriodStatistic{replacement}))

	got, err = store.GetByWalletIDs(ctx, domain.ScopeMain, []int64{ids["W1"]})
	require.NoError(t, err)
	s30 := got[ids["W1"]].Stats30d
	require.NotNil(t, s30)
	assert.Equal(t, int64(7), s30.TotalToken)
	assert.Equal(t, int64(9), s30.TotalTokenBuys)
	assert.True(t, s30.TotalProfitUSD.Equal(dec("-12.5")))
	assert.True(t, s30.Winrate.Decimal.Equal(dec("42.86")))
	assert.Equal(t, int64(3), s30.PnLLt2xNum)
	assert.Equal(t, int64(0), got[ids["W1"]].Stats7d.TotalToken, "other windows untouched")
}

func TestWalletStatsStore_CohortScope(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ids := createWallets(t, ctx, pool, "W1")
	store := NewWalletStatsStore(pool)

	rows := []*domain.WalletPeriodStatistic{
		{WalletID: ids["W1"], Period: domain.Period7d, TotalToken: 1},
		{WalletID: ids["W1"], Period: domain.Period30d, TotalToken: 2},
		{WalletID: ids["W1"], Period: domain.PeriodAll, TotalToken: 3},
	}
	require.NoError(t, store.ReplaceBulk(ctx, domain.ScopeBuyPriceGt15k, rows))

	got, err := store.GetByWalletIDs(ctx, domain.ScopeBuyPriceGt15k, []int64{ids["W1"]})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got[ids["W1"]].StatsAll.TotalToken)

	main, err := store.GetByWalletIDs(ctx, domain.ScopeMain, []int64{ids["W1"]})
	require.NoError(t, err)
	assert.Empty(t, main)

	require.NoError(t, store.DeleteAll(ctx, domain.ScopeBuyPriceGt15k))
	got, err = store.GetByWalletIDs(ctx, domain.ScopeBuyPriceGt15k, []int64{ids["W1"]})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWalletStatsStore_UnknownScope(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	err := NewWalletStatsStore(pool).DeleteAll(context.Background(), domain.StatsScope("nope"))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
