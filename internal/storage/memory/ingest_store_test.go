package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

func TestIngestStore_ApplyBatch(t *testing.T) {
	s := NewStores(time.Minute)
	ctx := context.Background()

	t0 := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)
	buy := &domain.Swap{
		ID: "b", WalletID: 1, TokenID: 1, BlockID: 1, Timestamp: t0, EventType: domain.EventBuy,
		QuoteAmount: decimal.NewFromInt(1), TokenAmount: decimal.NewFromInt(1000), PriceUSD: decimal.NewFromInt(100),
	}
	sell := &domain.Swap{
		ID: "s", WalletID: 1, TokenID: 1, BlockID: 2, Timestamp: t0.Add(time.Minute), EventType: domain.EventSell,
		QuoteAmount: decimal.RequireFromString("1.5"), TokenAmount: decimal.NewFromInt(1000), PriceUSD: decimal.NewFromInt(100),
	}
	until := t0.Add(30 * time.Minute)
	if _, err := s.Ingest.ApplyBatch(ctx, &storage.IngestBatch{Swaps: []*domain.Swap{buy}}); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	res, err := s.Ingest.ApplyBatch(ctx, &storage.IngestBatch{Swaps: []*domain.Swap{buy, sell}, ParsedUntil: &until})
	if err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if res.SwapsInserted != 1 {
		t.Errorf("SwapsInserted = %d, want 1", res.SwapsInserted)
	}

	if res.WalletTokensMerged != 1 {
		t.Errorf("WalletTokensMerged = %d, want 1", res.WalletTokensMerged)
	}

	wt, err := s.WalletTokens.Get(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if wt.TotalBuysCount != 1 || wt.TotalSalesCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", wt.TotalBuysCount, wt.TotalSalesCount)
	}
	if !wt.TotalProfitUSD.Decimal.Equal(decimal.NewFromInt(50)) {
		t.Errorf("profit = %s, want 50", wt.TotalProfitUSD.Decimal)
	}
	if wt.FirstBuySellDuration == nil || *wt.FirstBuySellDuration != 60 {
		t.Errorf("duration = %v, want 60", wt.FirstBuySellDuration)
	}

	wm, err := s.Watermark.Get(ctx)
	if err != nil || !wm.Equal(until) {
		t.Errorf("watermark = %v, %v; want %v", wm, err, until)
	}
}

func TestIngestStore_ReplayKeepsAggregates(t *testing.T) {
	s := NewStores(time.Minute)
	ctx := context.Background()

	t0 := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)
	batch := &storage.IngestBatch{Swaps: []*domain.Swap{
		{ID: "b", WalletID: 1, TokenID: 1, BlockID: 1, Timestamp: t0, EventType: domain.EventBuy,
			QuoteAmount: decimal.NewFromInt(1), TokenAmount: decimal.NewFromInt(1000), PriceUSD: decimal.NewFromInt(100)},
		{ID: "s", WalletID: 1, TokenID: 1, BlockID: 2, Timestamp: t0.Add(time.Minute), EventType: domain.EventSell,
			QuoteAmount: decimal.RequireFromString("1.5"), TokenAmount: decimal.NewFromInt(1000), PriceUSD: decimal.NewFromInt(100)},
	}}

	if _, err := s.Ingest.ApplyBatch(ctx, batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	res, err := s.Ingest.ApplyBatch(ctx, batch)
	if err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if res.SwapsInserted != 0 || res.WalletTokensMerged != 0 {
		t.Errorf("replay result = %+v, want nothing written", res)
	}

	wt, err := s.WalletTokens.Get(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if wt.TotalBuysCount != 1 || wt.TotalSalesCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", wt.TotalBuysCount, wt.TotalSalesCount)
	}
	if !wt.TotalBuyAmountUSD.Equal(decimal.NewFromInt(100)) {
		t.Errorf("buy usd = %s, want 100", wt.TotalBuyAmountUSD)
	}
	if !wt.TotalProfitUSD.Decimal.Equal(decimal.NewFromInt(50)) {
		t.Errorf("profit = %s, want 50", wt.TotalProfitUSD.Decimal)
	}
}

func TestIngestStore_RollbackSwaps(t *testing.T) {
	s := NewStores(time.Minute)
	ctx := context.Background()

	t0 := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)
	swaps := []*domain.Swap{
		{ID: "b1", WalletID: 1, TokenID: 1, BlockID: 1, Timestamp: t0, EventType: domain.EventBuy,
			QuoteAmount: decimal.NewFromInt(1), TokenAmount: decimal.NewFromInt(1000), PriceUSD: decimal.NewFromInt(100)},
		{ID: "s1", WalletID: 1, TokenID: 1, BlockID: 2, Timestamp: t0.Add(time.Minute), EventType: domain.EventSell,
			QuoteAmount: decimal.NewFromInt(2), TokenAmount: decimal.NewFromInt(1000), PriceUSD: decimal.NewFromInt(100)},
		{ID: "b2", WalletID: 2, TokenID: 1, BlockID: 2, Timestamp: t0.Add(time.Minute), EventType: domain.EventBuy,
			QuoteAmount: decimal.NewFromInt(1), TokenAmount: decimal.NewFromInt(500), PriceUSD: decimal.NewFromInt(100)},
	}
	if _, err := s.Ingest.ApplyBatch(ctx, &storage.IngestBatch{Swaps: swaps}); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	res, err := s.Ingest.RollbackSwaps(ctx, []string{"s1", "b2", "missing"})
	if err != nil {
		t.Fatalf("RollbackSwaps failed: %v", err)
	}
	if res.SwapsDeleted != 2 || res.WalletTokensRebuilt != 1 || res.WalletTokensDeleted != 1 {
		t.Errorf("result = %+v, want 2 deleted, 1 rebuilt, 1 removed", res)
	}
	if s.Swaps.Count() != 1 {
		t.Errorf("swaps left = %d, want 1", s.Swaps.Count())
	}

	wt, err := s.WalletTokens.Get(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if wt.TotalBuysCount != 1 || wt.TotalSalesCount != 0 {
		t.Errorf("counts = %d/%d, want 1/0", wt.TotalBuysCount, wt.TotalSalesCount)
	}
	if wt.FirstSellTimestamp != nil {
		t.Errorf("first sell = %v, want nil", wt.FirstSellTimestamp)
	}
	if _, err := s.WalletTokens.Get(ctx, 2, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for emptied pair, got %v", err)
	}

	empty, err := s.Ingest.RollbackSwaps(ctx, nil)
	if err != nil || empty.SwapsDeleted != 0 {
		t.Errorf("empty rollback = %+v, %v", empty, err)
	}
}

func TestRecalcStore_ApplyRecalc(t *testing.T) {
	s := NewStores(time.Minute)
	ctx := context.Background()

	ids, err := s.Wallets.UpsertBulk(ctx, []*domain.Wallet{{Address: "W"}})
	if err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}
	id := ids["W"]
	checked := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	err = s.Recalc.ApplyRecalc(ctx, &storage.RecalcBatch{
		Scope: domain.ScopeMain,
		Stats: []*domain.WalletPeriodStatistic{{WalletID: id, Period: domain.PeriodAll, TotalToken: 3}},
		Flags: []*domain.WalletFlags{{WalletID: id, IsBot: true, LastStatsCheck: checked}},
	})
	if err != nil {
		t.Fatalf("ApplyRecalc failed: %v", err)
	}

	w, err := s.Wallets.GetByAddress(ctx, "W")
	if err != nil {
		t.Fatalf("GetByAddress failed: %v", err)
	}
	if !w.IsBot || w.LastStatsCheck == nil || !w.LastStatsCheck.Equal(checked) {
		t.Errorf("flags not written: %+v", w)
	}
	stats, err := s.Stats.GetByWalletIDs(ctx, domain.ScopeMain, []int64{id})
	if err != nil {
		t.Fatalf("GetByWalletIDs failed: %v", err)
	}
	if st := stats[id]; st == nil || st.StatsAll == nil || st.StatsAll.TotalToken != 3 {
		t.Errorf("stats not written: %+v", st)
	}

	bad := &storage.RecalcBatch{
		Scope: domain.ScopeMain,
		Stats: []*domain.WalletPeriodStatistic{{WalletID: id, Period: "1y"}},
		Flags: []*domain.WalletFlags{{WalletID: id, IsScammer: true, LastStatsCheck: checked}},
	}
	if err := s.Recalc.ApplyRecalc(ctx, bad); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("Expected ErrInvalidInput, got %v", err)
	}
	w, _ = s.Wallets.GetByAddress(ctx, "W")
	if w.IsScammer {
		t.Error("flags of a rejected batch must not be written")
	}
}

func TestIngestStore_RejectsUnresolvedIDs(t *testing.T) {
	s := NewStores(time.Minute)
	_, err := s.Ingest.ApplyBatch(context.Background(), &storage.IngestBatch{Swaps: []*domain.Swap{{ID: "x"}}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if s.Swaps.Count() != 0 {
		t.Error("nothing may be written for a rejected batch")
	}
}

func TestRelatedCache_Expiry(t *testing.T) {
	c := NewRelatedCache(10 * time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := c.GetRelated(ctx, "A"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected miss, got %v", err)
	}
	_ = c.SetRelated(ctx, "A", &domain.RelatedWallets{})
	if _, err := c.GetRelated(ctx, "A"); err != nil {
		t.Fatalf("Expected hit, got %v", err)
	}
	now = now.Add(10 * time.Minute)
	if _, err := c.GetRelated(ctx, "A"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected expiry, got %v", err)
	}
}

func TestCredentialStore_Rotation(t *testing.T) {
	s := NewCredentialStore()
	ctx := context.Background()

	k1, _ := s.Add(ctx, "k1")
	_, _ = s.Add(ctx, "k2")
	if _, err := s.Add(ctx, "k1"); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
	_ = s.Deactivate(ctx, k1.ID)
	next, err := s.NextActive(ctx)
	if err != nil || next.APIKey != "k2" {
		t.Errorf("NextActive = %v, %v; want k2", next, err)
	}
	_ = s.Deactivate(ctx, next.ID)
	if _, err := s.NextActive(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
