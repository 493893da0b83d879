package stats

import (
	"github.com/shopspring/decimal"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
)

// Classification thresholds, evaluated on all-time statistics.
const (
	BotArbitrageRatio       = 0.5
	BotFastTokenCount       = 500
	BotMaxAvgDurationSecs   = 2
	BotHighTokenCount       = 1000
	BotMinAvgBuyAmountUSD   = 30
	BotMaxTxPerToken        = 10
	ScammerMinTokenCount    = 5
	ScammerSellWithoutRatio = 0.21
	ScammerOversellRatio    = 0.21
)

// IsBot reports whether the all-time statistic looks like an automated trader.
func IsBot(all *domain.WalletPeriodStatistic) bool {
	if all == nil {
		return false
	}
	swaps := all.TotalBuysAndSalesCount()
	if swaps > 0 && ratio(all.TotalSwapsFromArbitrageSwapEvents, swaps) >= BotArbitrageRatio {
		return true
	}
	if all.TotalToken >= BotFastTokenCount && all.TokenBuySellDurationAvg.Valid &&
		all.TokenBuySellDurationAvg.Decimal.LessThanOrEqual(decimal.NewFromInt(BotMaxAvgDurationSecs)) {
		return true
	}
	if all.TotalToken >= BotHighTokenCount {
		if all.TokenAvgBuyAmount.Valid && all.TokenAvgBuyAmount.Decimal.LessThan(decimal.NewFromInt(BotMinAvgBuyAmountUSD)) {
			return true
		}
		if ratio(swaps, all.TotalToken) > BotMaxTxPerToken {
			return true
		}
	}
	return false
}

// IsScammer reports whether the all-time statistic shows sells of tokens never
// bought, overselling, or participation in transactions with three or more swappers.
func IsScammer(all *domain.WalletPeriodStatistic) bool {
	if all == nil {
		return false
	}
	if all.TotalToken >= ScammerMinTokenCount {
		if ratio(all.TokenSellWithoutBuy, all.TotalToken) >= ScammerSellWithoutRatio {
			return true
		}
		if ratio(all.TokenWithSellAmountGtBuyAmount, all.TotalToken) >= ScammerOversellRatio {
			return true
		}
	}
	return all.TotalSwapsFromTxsWithMT3Swappers > 0
}

// Classify returns the wallet flags derived from its statistics.
func Classify(ws *domain.WalletStats) (isBot, isScammer bool) {
	if ws == nil {
		return false, false
	}
	return IsBot(ws.StatsAll), IsScammer(ws.StatsAll)
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
