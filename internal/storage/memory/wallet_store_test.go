package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
)

func TestWalletStore_UpsertAdvancesActivityOnly(t *testing.T) {
	store := NewWalletStore(nil)
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later := t0.Add(time.Hour)

	ids, err := store.UpsertBulk(ctx, []*domain.Wallet{{Address: "A", LastActivity: &later}})
	if err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}
	if err := store.UpdateFlagsBulk(ctx, []*domain.WalletFlags{{WalletID: ids["A"], IsScammer: true, LastStatsCheck: t0}}); err != nil {
		t.Fatalf("UpdateFlagsBulk failed: %v", err)
	}

	again, _ := store.UpsertBulk(ctx, []*domain.Wallet{{Address: "A", LastActivity: &t0}})
	if again["A"] != ids["A"] {
		t.Errorf("id changed: %d -> %d", ids["A"], again["A"])
	}

	w, err := store.GetByAddress(ctx, "A")
	if err != nil {
		t.Fatalf("GetByAddress failed: %v", err)
	}
	if !w.LastActivity.Equal(later) {
		t.Errorf("LastActivity = %v, want %v", w.LastActivity, later)
	}
	if !w.IsScammer {
		t.Error("upsert must not reset flags")
	}
}

func TestWalletStore_ListForStats(t *testing.T) {
	store := NewWalletStore(nil)
	ctx := context.Background()
	ids, _ := store.UpsertBulk(ctx, []*domain.Wallet{{Address: "A"}, {Address: "B"}, {Address: "C"}})

	now := time.Now().UTC()
	_ = store.UpdateFlagsBulk(ctx, []*domain.WalletFlags{
		{WalletID: ids["A"], LastStatsCheck: now},
		{WalletID: ids["B"], LastStatsCheck: now.Add(-time.Hour)},
	})

	got, _ := store.ListForStats(ctx, 2)
	if len(got) != 2 || got[0].Address != "C" || got[1].Address != "B" {
		t.Errorf("ListForStats order wrong: %v", addresses(got))
	}
}

func TestWalletStore_ListForCohort(t *testing.T) {
	stats := NewWalletStatsStore()
	store := NewWalletStore(stats)
	ctx := context.Background()
	ids, _ := store.UpsertBulk(ctx, []*domain.Wallet{{Address: "Good"}, {Address: "Small"}})

	n := func(v int64) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.NewFromInt(v)) }
	var rows []*domain.WalletPeriodStatistic
	for addr, id := range ids {
		total7d := int64(5)
		if addr == "Small" {
			total7d = 1
		}
		rows = append(rows,
			&domain.WalletPeriodStatistic{
				WalletID: id, Period: domain.PeriodAll,
				TotalProfitUSD: decimal.NewFromInt(3000), TotalProfitMultiplier: n(40),
				TokenAvgBuyAmount: n(200), TokenBuySellDurationMedian: n(90), Winrate: n(60),
			},
			&domain.WalletPeriodStatistic{WalletID: id, Period: domain.Period7d, TotalToken: total7d},
		)
	}
	_ = stats.ReplaceBulk(ctx, domain.ScopeMain, rows)

	got, err := store.ListForCohort(ctx, domain.BuyPriceGt15kCohort().Wallets)
	if err != nil {
		t.Fatalf("ListForCohort failed: %v", err)
	}
	if len(got) != 1 || got[0].Address != "Good" {
		t.Errorf("cohort = %v, want [Good]", addresses(got))
	}
}

func addresses(ws []*domain.Wallet) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Address
	}
	return out
}
