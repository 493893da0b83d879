package domain

import "github.com/shopspring/decimal"

// WalletTokenFilter narrows the aggregates a cohort is computed from.
type WalletTokenFilter struct {
	MinFirstBuyPriceUSD decimal.NullDecimal
	MinBuyAmountUSD     decimal.NullDecimal
}

// Match reports whether wt passes the filter.
func (f *WalletTokenFilter) Match(wt *WalletToken) bool {
	if f == nil {
		return true
	}
	if f.MinFirstBuyPriceUSD.Valid {
		if !wt.FirstBuyPriceUSD.Valid || wt.FirstBuyPriceUSD.Decimal.LessThan(f.MinFirstBuyPriceUSD.Decimal) {
			return false
		}
	}
	if f.MinBuyAmountUSD.Valid && wt.TotalBuyAmountUSD.LessThan(f.MinBuyAmountUSD.Decimal) {
		return false
	}
	return true
}

// WalletCohortFilter selects wallets by their main-scope statistics.
// Bots and scammers are always excluded.
type WalletCohortFilter struct {
	MinWinrateAll          decimal.Decimal
	MinProfitUSDAll        decimal.Decimal
	MinProfitMultiplierAll decimal.Decimal
	MinAvgBuyAmountAll     decimal.Decimal
	MaxAvgBuyAmountAll     decimal.Decimal
	MinDurationMedianAll   decimal.Decimal // seconds
	MinTotalToken7d        int64
}

// Match reports whether a wallet with the given statistics belongs to the cohort.
func (f WalletCohortFilter) Match(w *Wallet, s *WalletStats) bool {
	if w.IsBot || w.IsScammer || s == nil || s.StatsAll == nil || s.Stats7d == nil {
		return false
	}
	all := s.StatsAll
	atLeast := func(v decimal.NullDecimal, min decimal.Decimal) bool {
		return v.Valid && v.Decimal.GreaterThanOrEqual(min)
	}
	return atLeast(all.Winrate, f.MinWinrateAll) &&
		all.TotalProfitUSD.GreaterThanOrEqual(f.MinProfitUSDAll) &&
		atLeast(all.TotalProfitMultiplier, f.MinProfitMultiplierAll) &&
		atLeast(all.TokenAvgBuyAmount, f.MinAvgBuyAmountAll) &&
		all.TokenAvgBuyAmount.Decimal.LessThanOrEqual(f.MaxAvgBuyAmountAll) &&
		atLeast(all.TokenBuySellDurationMedian, f.MinDurationMedianAll) &&
		s.Stats7d.TotalToken >= f.MinTotalToken7d
}

// Cohort is a named recompute target with its own statistics tables.
type Cohort struct {
	Scope   StatsScope
	Wallets WalletCohortFilter
	Tokens  WalletTokenFilter
}

// BuyPriceGt15kCohort selects consistently profitable wallets that enter
// tokens above a minimum first-buy price.
func BuyPriceGt15kCohort() Cohort {
	return Cohort{
		Scope: ScopeBuyPriceGt15k,
		Wallets: WalletCohortFilter{
			MinWinrateAll:          decimal.NewFromInt(30),
			MinProfitUSDAll:        decimal.NewFromInt(2000),
			MinProfitMultiplierAll: decimal.NewFromInt(30),
			MinAvgBuyAmountAll:     decimal.NewFromInt(150),
			MaxAvgBuyAmountAll:     decimal.NewFromInt(1000),
			MinDurationMedianAll:   decimal.NewFromInt(60),
			MinTotalToken7d:        4,
		},
		Tokens: WalletTokenFilter{
			MinFirstBuyPriceUSD: decimal.NewNullDecimal(decimal.RequireFromString("0.000008")),
			MinBuyAmountUSD:     decimal.NewNullDecimal(decimal.NewFromInt(100)),
		},
	}
}
