package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Period is a statistics window.
type Period string

// Statistics windows
const (
	Period7d  Period = "7d"
	Period30d Period = "30d"
	PeriodAll Period = "all"
)

// Periods lists every window in recompute order.
var Periods = []Period{Period7d, Period30d, PeriodAll}

// Days returns the window length in days; 0 means all-time.
func (p Period) Days() int {
	switch p {
	case Period7d:
		return 7
	case Period30d:
		return 30
	default:
		return 0
	}
}

// StatsScope selects a family of statistics tables.
type StatsScope string

// Statistics scopes
const (
	ScopeMain          StatsScope = "main"
	ScopeBuyPriceGt15k StatsScope = "buy_price_gt_15k"
)

// WalletPeriodStatistic is one wallet's aggregate over a window.
// Fully replaced on every recompute.
type WalletPeriodStatistic struct {
	WalletID int64  `json:"wallet_id"`
	Period   Period `json:"period"`

	TotalToken              int64               `json:"total_token"`
	TotalTokenBuys          int64               `json:"total_token_buys"`
	TotalTokenSales         int64               `json:"total_token_sales"`
	TotalTokenBuyAmountUSD  decimal.Decimal     `json:"total_token_buy_amount_usd"`
	TotalTokenSellAmountUSD decimal.Decimal     `json:"total_token_sell_amount_usd"`
	TotalProfitUSD          decimal.Decimal     `json:"total_profit_usd"`
	TotalProfitMultiplier   decimal.NullDecimal `json:"total_profit_multiplier"` // percent of buy volume

	TokenAvgBuyAmount           decimal.NullDecimal `json:"token_avg_buy_amount"`
	TokenMedianBuyAmount        decimal.NullDecimal `json:"token_median_buy_amount"`
	TokenFirstBuyAvgPriceUSD    decimal.NullDecimal `json:"token_first_buy_avg_price_usd"`
	TokenFirstBuyMedianPriceUSD decimal.NullDecimal `json:"token_first_buy_median_price_usd"`
	TokenAvgProfitUSD           decimal.NullDecimal `json:"token_avg_profit_usd"`
	TokenBuySellDurationAvg     decimal.NullDecimal `json:"token_buy_sell_duration_avg"`    // seconds
	TokenBuySellDurationMedian  decimal.NullDecimal `json:"token_buy_sell_duration_median"` // seconds
	Winrate                     decimal.NullDecimal `json:"winrate"`                        // percent

	PnLLtMinusDot5Num  int64 `json:"pnl_lt_minus_dot5_num"` // < -50%
	PnLMinusDot5To0Num int64 `json:"pnl_minus_dot5_0x_num"` // -50% .. 0%
	PnLLt2xNum         int64 `json:"pnl_lt_2x_num"`         // 0% .. 200%
	PnL2xTo5xNum       int64 `json:"pnl_2x_5x_num"`         // 200% .. 500%
	PnLGt5xNum         int64 `json:"pnl_gt_5x_num"`         // > 500%

	PnLLtMinusDot5Percent  decimal.NullDecimal `json:"pnl_lt_minus_dot5_percent"`
	PnLMinusDot5To0Percent decimal.NullDecimal `json:"pnl_minus_dot5_0x_percent"`
	PnLLt2xPercent         decimal.NullDecimal `json:"pnl_lt_2x_percent"`
	PnL2xTo5xPercent       decimal.NullDecimal `json:"pnl_2x_5x_percent"`
	PnLGt5xPercent         decimal.NullDecimal `json:"pnl_gt_5x_percent"`

	TokenWithBuy                      int64 `json:"token_with_buy"`
	TokenWithBuyAndSell               int64 `json:"token_with_buy_and_sell"`
	TokenBuyWithoutSell               int64 `json:"token_buy_without_sell"`
	TokenSellWithoutBuy               int64 `json:"token_sell_without_buy"`
	TokenWithSellAmountGtBuyAmount    int64 `json:"token_with_sell_amount_gt_buy_amount"`
	TotalSwapsFromTxsWithMT3Swappers  int64 `json:"total_swaps_from_txs_with_mt_3_swappers"`
	TotalSwapsFromArbitrageSwapEvents int64 `json:"total_swaps_from_arbitrage_swap_events"`

	UpdatedAt time.Time `json:"updated_at"`
}

// TotalBuysAndSalesCount is the number of swaps behind the statistic.
func (s *WalletPeriodStatistic) TotalBuysAndSalesCount() int64 {
	return s.TotalTokenBuys + s.TotalTokenSales
}

// WalletStats bundles the three windows of one wallet.
type WalletStats struct {
	Stats7d  *WalletPeriodStatistic `json:"stats_7d"`
	Stats30d *WalletPeriodStatistic `json:"stats_30d"`
	StatsAll *WalletPeriodStatistic `json:"stats_all"`
}

// Get returns the statistic for period p.
func (w *WalletStats) Get(p Period) *WalletPeriodStatistic {
	switch p {
	case Period7d:
		return w.Stats7d
	case Period30d:
		return w.Stats30d
	default:
		return w.StatsAll
	}
}

// Set stores s under period p.
func (w *WalletStats) Set(p Period, s *WalletPeriodStatistic) {
	switch p {
	case Period7d:
		w.Stats7d = s
	case Period30d:
		w.Stats30d = s
	default:
		w.StatsAll = s
	}
}

// All returns the non-nil statistics in window order.
func (w *WalletStats) All() []*WalletPeriodStatistic {
	out := make([]*WalletPeriodStatistic, 0, len(Periods))
	for _, p := range Periods {
		if s := w.Get(p); s != nil {
			out = append(out, s)
		}
	}
	return out
}
