package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
)

func TestForChunks(t *testing.T) {
	items := make([]int, 2*maxChunkRows+5)
	var sizes []int
	err := forChunks(items, func(chunk []int) error {
		sizes = append(sizes, len(chunk))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{maxChunkRows, maxChunkRows, 5}, sizes)

	boom := errors.New("boom")
	calls := 0
	err = forChunks(items, func([]int) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	assert.NoError(t, forChunks([]int(nil), func([]int) error {
		t.Fatal("no chunk expected for empty input")
		return nil
	}))
}

func TestNumericText(t *testing.T) {
	assert.Equal(t, "0.000008", numericText(decimal.RequireFromString("0.000008")))
	assert.Nil(t, nullNumericText(decimal.NullDecimal{}))

	got := nullNumericText(decimal.NewNullDecimal(decimal.RequireFromString("-12.5")))
	require.NotNil(t, got)
	assert.Equal(t, "-12.5", *got)
}

func TestSetBasedWritesSpanChunks(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	n := maxChunkRows + 7
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("W%05d", i)
	}
	wallets := createWallets(t, ctx, pool, addrs...)
	require.Len(t, wallets, n)
	tok := createTokens(t, ctx, pool, "T")["T"]

	t0 := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)
	swaps := make([]*domain.Swap, n)
	flags := make([]*domain.WalletFlags, n)
	for i, a := range addrs {
		s := swapOf(domain.EventBuy, t0, "1", "10", "100")
		s.ID, s.WalletID, s.TokenID, s.TxHash, s.BlockID = "swap-"+a, wallets[a], tok, "tx-"+a, int64(i)
		swaps[i] = s
		flags[i] = &domain.WalletFlags{WalletID: wallets[a], IsBot: i%2 == 0, LastStatsCheck: t0}
	}

	store := NewSwapStore(pool)
	inserted, err := store.InsertBulk(ctx, swaps)
	require.NoError(t, err)
	assert.Equal(t, int64(n), inserted)

	inserted, err = store.InsertBulk(ctx, swaps)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	require.NoError(t, NewWalletStore(pool).UpdateFlagsBulk(ctx, flags))
	last, err := NewWalletStore(pool).GetByAddress(ctx, addrs[n-1])
	require.NoError(t, err)
	assert.Equal(t, (n-1)%2 == 0, last.IsBot)
	require.NotNil(t, last.LastStatsCheck)
	assert.True(t, last.LastStatsCheck.Equal(t0))
}
