package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PercentPlaces is the number of fractional digits kept for percent values.
const PercentPlaces = 2

var hundred = decimal.NewFromInt(100)

// WalletToken is the rolling aggregate of all swaps between one wallet and one token.
// Corresponds to wallet_tokens table in PostgreSQL (PRIMARY KEY wallet_id, token_id).
type WalletToken struct {
	WalletID      int64
	TokenID       int64
	WalletAddress string // identity before ids are resolved
	TokenAddress  string // identity before ids are resolved

	TotalBuysCount       int64
	TotalSalesCount      int64
	TotalBuyAmountUSD    decimal.Decimal
	TotalBuyAmountToken  decimal.Decimal
	TotalSellAmountUSD   decimal.Decimal
	TotalSellAmountToken decimal.Decimal

	FirstBuyTimestamp  *time.Time
	FirstBuyPriceUSD   decimal.NullDecimal // USD per token at first buy
	FirstSellTimestamp *time.Time
	FirstSellPriceUSD  decimal.NullDecimal // USD per token at first sell
	LastActivity       *time.Time

	// Derived from the fields above, see Recompute.
	TotalProfitUSD       decimal.NullDecimal
	TotalProfitPercent   decimal.NullDecimal
	FirstBuySellDuration *int64 // seconds

	TotalSwapsFromTxsWithMT3Swappers  int64
	TotalSwapsFromArbitrageSwapEvents int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewWalletToken returns an empty aggregate for the pair.
func NewWalletToken(walletAddress, tokenAddress string) *WalletToken {
	return &WalletToken{
		WalletAddress: walletAddress,
		TokenAddress:  tokenAddress,
	}
}

// ApplySwap folds one swap into the aggregate.
func (wt *WalletToken) ApplySwap(s *Swap) {
	usd := s.AmountUSD()
	ts := s.Timestamp
	price := unitPrice(usd, s.TokenAmount)

	switch s.EventType {
	case EventBuy:
		wt.TotalBuysCount++
		wt.TotalBuyAmountUSD = wt.TotalBuyAmountUSD.Add(usd)
		wt.TotalBuyAmountToken = wt.TotalBuyAmountToken.Add(s.TokenAmount)
		wt.FirstBuyTimestamp, wt.FirstBuyPriceUSD = earliest(wt.FirstBuyTimestamp, wt.FirstBuyPriceUSD, &ts, price)
	case EventSell:
		wt.TotalSalesCount++
		wt.TotalSellAmountUSD = wt.TotalSellAmountUSD.Add(usd)
		wt.TotalSellAmountToken = wt.TotalSellAmountToken.Add(s.TokenAmount)
		wt.FirstSellTimestamp, wt.FirstSellPriceUSD = earliest(wt.FirstSellTimestamp, wt.FirstSellPriceUSD, &ts, price)
	}

	wt.LastActivity = latest(wt.LastActivity, &ts)
	if s.IsPartOfMT3Swappers {
		wt.TotalSwapsFromTxsWithMT3Swappers++
	}
	if s.IsPartOfArbitrage {
		wt.TotalSwapsFromArbitrageSwapEvents++
	}

	wt.Recompute()
}

// AggregateWalletTokens folds swaps into one aggregate per (wallet, token)
// pair, sorted by wallet then token. Pairs are keyed by address and by id, so
// it works on transformer output as well as on swaps read back from storage.
func AggregateWalletTokens(swaps []*Swap) []*WalletToken {
	type pair struct {
		walletID, tokenID int64
		wallet, token     string
	}
	byPair := make(map[pair]*WalletToken)
	for _, s := range swaps {
		k := pair{s.WalletID, s.TokenID, s.WalletAddress, s.TokenAddress}
		wt, ok := byPair[k]
		if !ok {
			wt = NewWalletToken(s.WalletAddress, s.TokenAddress)
			wt.WalletID, wt.TokenID = s.WalletID, s.TokenID
			wt.CreatedAt, wt.UpdatedAt = s.CreatedAt, s.CreatedAt
			byPair[k] = wt
		}
		wt.ApplySwap(s)
	}

	out := make([]*WalletToken, 0, len(byPair))
	for _, wt := range byPair {
		out = append(out, wt)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.WalletAddress != b.WalletAddress {
			return a.WalletAddress < b.WalletAddress
		}
		if a.TokenAddress != b.TokenAddress {
			return a.TokenAddress < b.TokenAddress
		}
		if a.WalletID != b.WalletID {
			return a.WalletID < b.WalletID
		}
		return a.TokenID < b.TokenID
	})
	return out
}

// Merge folds another aggregate for the same pair into wt.
// Merge is commutative and associative: merging a set of deltas in any order
// yields the same state. The SQL merge in storage/postgres mirrors it.
func (wt *WalletToken) Merge(d *WalletToken) {
	wt.TotalBuysCount += d.TotalBuysCount
	wt.TotalSalesCount += d.TotalSalesCount
	wt.TotalBuyAmountUSD = wt.TotalBuyAmountUSD.Add(d.TotalBuyAmountUSD)
	wt.TotalBuyAmountToken = wt.TotalBuyAmountToken.Add(d.TotalBuyAmountToken)
	wt.TotalSellAmountUSD = wt.TotalSellAmountUSD.Add(d.TotalSellAmountUSD)
	wt.TotalSellAmountToken = wt.TotalSellAmountToken.Add(d.TotalSellAmountToken)

	wt.FirstBuyTimestamp, wt.FirstBuyPriceUSD = earliest(wt.FirstBuyTimestamp, wt.FirstBuyPriceUSD, d.FirstBuyTimestamp, d.FirstBuyPriceUSD)
	wt.FirstSellTimestamp, wt.FirstSellPriceUSD = earliest(wt.FirstSellTimestamp, wt.FirstSellPriceUSD, d.FirstSellTimestamp, d.FirstSellPriceUSD)
	wt.LastActivity = latest(wt.LastActivity, d.LastActivity)

	wt.TotalSwapsFromTxsWithMT3Swappers += d.TotalSwapsFromTxsWithMT3Swappers
	wt.TotalSwapsFromArbitrageSwapEvents += d.TotalSwapsFromArbitrageSwapEvents

	wt.Recompute()
}

// Recompute derives profit, percent and duration from the accumulated fields.
func (wt *WalletToken) Recompute() {
	wt.TotalProfitUSD = decimal.NullDecimal{}
	wt.TotalProfitPercent = decimal.NullDecimal{}
	if wt.TotalBuysCount > 0 {
		profit := wt.TotalSellAmountUSD.Sub(wt.TotalBuyAmountUSD)
		wt.TotalProfitUSD = decimal.NewNullDecimal(profit)
		if !wt.TotalBuyAmountUSD.IsZero() {
			pct := profit.Div(wt.TotalBuyAmountUSD).Mul(hundred).Round(PercentPlaces)
			wt.TotalProfitPercent = decimal.NewNullDecimal(pct)
		}
	}

	wt.FirstBuySellDuration = nil
	if wt.FirstBuyTimestamp != nil && wt.FirstSellTimestamp != nil && !wt.FirstSellTimestamp.Before(*wt.FirstBuyTimestamp) {
		secs := int64(wt.FirstSellTimestamp.Sub(*wt.FirstBuyTimestamp) / time.Second)
		wt.FirstBuySellDuration = &secs
	}
}

// Clone returns a deep copy.
func (wt *WalletToken) Clone() *WalletToken {
	c := *wt
	c.FirstBuyTimestamp = cloneTime(wt.FirstBuyTimestamp)
	c.FirstSellTimestamp = cloneTime(wt.FirstSellTimestamp)
	c.LastActivity = cloneTime(wt.LastActivity)
	if wt.FirstBuySellDuration != nil {
		d := *wt.FirstBuySellDuration
		c.FirstBuySellDuration = &d
	}
	return &c
}

// unitPrice returns USD per token, invalid when the token amount is zero.
func unitPrice(usd, tokenAmount decimal.Decimal) decimal.NullDecimal {
	if tokenAmount.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(usd.Div(tokenAmount))
}

// earliest keeps the earlier timestamp together with its price.
// On equal timestamps the lower price wins so the choice does not depend on order.
func earliest(curTs *time.Time, curPrice decimal.NullDecimal, ts *time.Time, price decimal.NullDecimal) (*time.Time, decimal.NullDecimal) {
	if ts == nil {
		return curTs, curPrice
	}
	if curTs == nil || ts.Before(*curTs) {
		return cloneTime(ts), price
	}
	if ts.Equal(*curTs) && lessPrice(price, curPrice) {
		return curTs, price
	}
	return curTs, curPrice
}

// lessPrice orders prices with invalid (NULL) values last.
func lessPrice(a, b decimal.NullDecimal) bool {
	if !a.Valid {
		return false
	}
	if !b.Valid {
		return true
	}
	return a.Decimal.LessThan(b.Decimal)
}

func latest(cur, ts *time.Time) *time.Time {
	if ts == nil {
		return cur
	}
	if cur == nil || ts.After(*cur) {
		return cloneTime(ts)
	}
	return cur
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
