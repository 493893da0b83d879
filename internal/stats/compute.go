package stats

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)

	pnlGt5x       = decimal.NewFromInt(500)
	pnl2x         = decimal.NewFromInt(200)
	pnlMinusDot5x = decimal.NewFromInt(-50)
)

// FilterPeriod returns the aggregates that count toward period p at now.
// A token belongs to a D-day window when its first buy is inside the window and
// it was not sold before the window, or when its first sell is inside the window.
func FilterPeriod(tokens []*domain.WalletToken, p domain.Period, now time.Time) []*domain.WalletToken {
	days := p.Days()
	if days == 0 {
		return tokens
	}
	threshold := now.AddDate(0, 0, -days)
	inside := func(ts *time.Time) bool { return ts != nil && !ts.Before(threshold) }

	out := make([]*domain.WalletToken, 0, len(tokens))
	for _, wt := range tokens {
		if inside(wt.FirstBuyTimestamp) && (wt.FirstSellTimestamp == nil || inside(wt.FirstSellTimestamp)) {
			out = append(out, wt)
		} else if inside(wt.FirstSellTimestamp) {
			out = append(out, wt)
		}
	}
	return out
}

// Compute builds the three window statistics of one wallet.
func Compute(walletID int64, tokens []*domain.WalletToken, now time.Time) *domain.WalletStats {
	ws := &domain.WalletStats{}
	for _, p := range domain.Periods {
		ws.Set(p, ComputePeriod(walletID, p, FilterPeriod(tokens, p, now), now))
	}
	return ws
}

// ComputePeriod aggregates already filtered tokens into one window statistic.
// Averages and medians only consider tokens with at least one buy.
func ComputePeriod(walletID int64, p domain.Period, tokens []*domain.WalletToken, now time.Time) *domain.WalletPeriodStatistic {
	s := &domain.WalletPeriodStatistic{
		WalletID:  walletID,
		Period:    p,
		UpdatedAt: now,
	}

	var (
		profitable   int64
		durations    []decimal.Decimal
		buyAmounts   []decimal.Decimal
		firstBuyPxs  []decimal.Decimal
		firstBuyPxSm decimal.Decimal
		durationSum  decimal.Decimal
	)

	for _, wt := range tokens {
		s.TotalToken++
		s.TotalTokenBuys += wt.TotalBuysCount
		s.TotalTokenSales += wt.TotalSalesCount
		s.TotalTokenBuyAmountUSD = s.TotalTokenBuyAmountUSD.Add(wt.TotalBuyAmountUSD)
		s.TotalTokenSellAmountUSD = s.TotalTokenSellAmountUSD.Add(wt.TotalSellAmountUSD)
		if wt.TotalProfitUSD.Valid {
			s.TotalProfitUSD = s.TotalProfitUSD.Add(wt.TotalProfitUSD.Decimal)
		}
		s.TotalSwapsFromTxsWithMT3Swappers += wt.TotalSwapsFromTxsWithMT3Swappers
		s.TotalSwapsFromArbitrageSwapEvents += wt.TotalSwapsFromArbitrageSwapEvents

		hasBuy := wt.TotalBuysCount > 0
		hasSell := wt.TotalSalesCount > 0

		switch {
		case hasBuy && hasSell:
			s.TokenWithBuyAndSell++
		case hasBuy:
			s.TokenBuyWithoutSell++
		case hasSell:
			s.TokenSellWithoutBuy++
		}

		if wt.FirstBuySellDuration != nil {
			d := decimal.NewFromInt(*wt.FirstBuySellDuration)
			durations = append(durations, d)
			durationSum = durationSum.Add(d)
		}

		if !hasBuy {
			continue
		}
		s.TokenWithBuy++
		buyAmounts = append(buyAmounts, wt.TotalBuyAmountUSD)
		if wt.FirstBuyPriceUSD.Valid && !wt.FirstBuyPriceUSD.Decimal.IsZero() {
			firstBuyPxs = append(firstBuyPxs, wt.FirstBuyPriceUSD.Decimal)
			firstBuyPxSm = firstBuyPxSm.Add(wt.FirstBuyPriceUSD.Decimal)
		}
		if wt.TotalSellAmountToken.GreaterThan(wt.TotalBuyAmountToken) {
			s.TokenWithSellAmountGtBuyAmount++
		}
		if wt.TotalProfitUSD.Valid && !wt.TotalProfitUSD.Decimal.IsNegative() {
			profitable++
		}
		if wt.TotalProfitPercent.Valid {
			countPnL(s, wt.TotalProfitPercent.Decimal)
		}
	}

	if !s.TotalTokenBuyAmountUSD.IsZero() {
		s.TotalProfitMultiplier = percentOf(s.TotalProfitUSD, s.TotalTokenBuyAmountUSD)
	}

	if s.TokenWithBuy > 0 {
		withBuy := decimal.NewFromInt(s.TokenWithBuy)
		s.TokenAvgBuyAmount = decimal.NewNullDecimal(s.TotalTokenBuyAmountUSD.Div(withBuy))
		s.TokenFirstBuyAvgPriceUSD = decimal.NewNullDecimal(firstBuyPxSm.Div(withBuy))
		s.TokenAvgProfitUSD = decimal.NewNullDecimal(s.TotalProfitUSD.Div(withBuy))
		s.Winrate = percentOf(decimal.NewFromInt(profitable), withBuy)

		s.PnLLtMinusDot5Percent = percentOf(decimal.NewFromInt(s.PnLLtMinusDot5Num), withBuy)
		s.PnLMinusDot5To0Percent = percentOf(decimal.NewFromInt(s.PnLMinusDot5To0Num), withBuy)
		s.PnLLt2xPercent = percentOf(decimal.NewFromInt(s.PnLLt2xNum), withBuy)
		s.PnL2xTo5xPercent = percentOf(decimal.NewFromInt(s.PnL2xTo5xNum), withBuy)
		s.PnLGt5xPercent = percentOf(decimal.NewFromInt(s.PnLGt5xNum), withBuy)
	}

	if s.TokenWithBuyAndSell > 0 {
		s.TokenBuySellDurationAvg = decimal.NewNullDecimal(durationSum.Div(decimal.NewFromInt(s.TokenWithBuyAndSell)))
	}

	s.TokenMedianBuyAmount = median(buyAmounts)
	s.TokenFirstBuyMedianPriceUSD = median(firstBuyPxs)
	s.TokenBuySellDurationMedian = median(durations)

	return s
}

// countPnL places one token's profit percent into its histogram bucket.
func countPnL(s *domain.WalletPeriodStatistic, pct decimal.Decimal) {
	switch {
	case pct.GreaterThan(pnlGt5x):
		s.PnLGt5xNum++
	case pct.GreaterThan(pnl2x):
		s.PnL2xTo5xNum++
	case pct.IsPositive():
		s.PnLLt2xNum++
	case pct.GreaterThan(pnlMinusDot5x):
		s.PnLMinusDot5To0Num++
	default:
		s.PnLLtMinusDot5Num++
	}
}

func percentOf(part, whole decimal.Decimal) decimal.NullDecimal {
	if whole.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(part.Div(whole).Mul(hundred).Round(domain.PercentPlaces))
}

// median returns the 50th percentile with linear interpolation, NULL for no values.
func median(values []decimal.Decimal) decimal.NullDecimal {
	if len(values) == 0 {
		return decimal.NullDecimal{}
	}
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	return decimal.NewNullDecimal(computePercentile(sorted, 0.5))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
func computePercentile(sorted []decimal.Decimal, p float64) decimal.Decimal {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := decimal.NewFromFloat(idx - float64(lower))
	return sorted[lower].Add(frac.Mul(sorted[upper].Sub(sorted[lower])))
}
