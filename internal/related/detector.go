// Package related infers copy-trading relationships between wallets from the
// block order of their first trades on shared tokens.
package related

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// Default detector settings.
const (
	DefaultTokenLimit     = 3000
	DefaultBlockWindow    = 3
	DefaultConcurrency    = 10
	DefaultMinIntersected = 3
	DefaultMaxTotalTokens = 20_000
)

// Stores are the detector's storage dependencies. Swaps may be the primary
// store or the archive; both answer first-swap and neighbor queries.
type Stores struct {
	Wallets      storage.WalletStore
	WalletTokens storage.WalletTokenStore
	Swaps        storage.SwapStore
	Stats        storage.WalletStatsStore
}

// Options configures Detector.
type Options struct {
	TokenLimit     int   // most recent traded tokens examined
	BlockWindow    int64 // neighbor search radius in blocks
	Concurrency    int   // parallel per-token lookups
	MinIntersected int64 // tokens a neighbor must share
	MaxTotalTokens int64 // neighbors trading this many tokens or more are skipped
	Logger         *zerolog.Logger
}

// Detector answers related-wallet queries.
type Detector struct {
	stores Stores
	opts   Options
	logger *zerolog.Logger
}

// New creates a Detector.
func New(stores Stores, opts Options) *Detector {
	if opts.TokenLimit <= 0 {
		opts.TokenLimit = DefaultTokenLimit
	}
	if opts.BlockWindow <= 0 {
		opts.BlockWindow = DefaultBlockWindow
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MinIntersected <= 0 {
		opts.MinIntersected = DefaultMinIntersected
	}
	if opts.MaxTotalTokens <= 0 {
		opts.MaxTotalTokens = DefaultMaxTotalTokens
	}
	return &Detector{
		stores: stores,
		opts:   opts,
		logger: logging.OrGlobal(opts.Logger),
	}
}

// neighborTrade is one neighbor's trade status on one token.
type neighborTrade struct {
	walletID int64
	status   domain.BlockRelation
	sellAt   time.Time
}

// Detect returns the wallets related to address, bucketed and sorted by the
// most recent intersected trade, newest first.
// Returns an error wrapping storage.ErrNotFound for an unknown address.
func (d *Detector) Detect(ctx context.Context, address string) (*domain.RelatedWallets, error) {
	start := time.Now()
	wallet, err := d.stores.Wallets.GetByAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", address, err)
	}

	tokens, err := d.stores.WalletTokens.ListTradedByWallet(ctx, wallet.ID, d.opts.TokenLimit)
	if err != nil {
		return nil, fmt.Errorf("list traded tokens: %w", err)
	}

	perToken := make([][]neighborTrade, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, wt := range tokens {
		g.Go(func() error {
			trades, err := d.neighborTrades(gctx, wallet.ID, wt.TokenID)
			if err != nil {
				return fmt.Errorf("token %d: %w", wt.TokenID, err)
			}
			perToken[i] = trades
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := make(map[int64]*StatusCounts)
	lastTrade := make(map[int64]time.Time)
	for _, trades := range perToken {
		for _, t := range trades {
			c, ok := counts[t.walletID]
			if !ok {
				c = &StatusCounts{}
				counts[t.walletID] = c
			}
			c.Add(t.status)
			if t.sellAt.After(lastTrade[t.walletID]) {
				lastTrade[t.walletID] = t.sellAt
			}
		}
	}

	result, err := d.bucket(ctx, counts, lastTrade)
	if err != nil {
		return nil, err
	}
	d.logger.Debug().
		Str("wallet", address).
		Int("tokens", len(tokens)).
		Int("neighbors", len(counts)).
		Dur("took", time.Since(start)).
		Msg("related wallets detected")
	return result, nil
}

// neighborTrades runs the four lookups of one token in sequence: the wallet's
// first buy and first sell, then neighbor buys and sells around them.
func (d *Detector) neighborTrades(ctx context.Context, walletID, tokenID int64) ([]neighborTrade, error) {
	firstBuy, err := d.stores.Swaps.GetFirstByWalletAndToken(ctx, walletID, tokenID, domain.EventBuy)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	firstSell, err := d.stores.Swaps.GetFirstByWalletAndToken(ctx, walletID, tokenID, domain.EventSell)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	buys, err := d.stores.Swaps.GetNeighborsByToken(ctx, d.neighborQuery(walletID, tokenID, firstBuy.BlockID, domain.EventBuy))
	if err != nil {
		return nil, err
	}
	sells, err := d.stores.Swaps.GetNeighborsByToken(ctx, d.neighborQuery(walletID, tokenID, firstSell.BlockID, domain.EventSell))
	if err != nil {
		return nil, err
	}

	earliestBuy := earliestByWallet(buys)
	earliestSell := earliestByWallet(sells)

	trades := make([]neighborTrade, 0, len(earliestBuy))
	for id, b := range earliestBuy {
		s, ok := earliestSell[id]
		if !ok {
			continue
		}
		trades = append(trades, neighborTrade{
			walletID: id,
			status: TradeStatus(
				BlockRelationOf(b.BlockID, firstBuy.BlockID),
				BlockRelationOf(s.BlockID, firstSell.BlockID),
			),
			sellAt: s.Timestamp,
		})
	}
	return trades, nil
}

func (d *Detector) neighborQuery(walletID, tokenID, block int64, event domain.EventType) storage.NeighborQuery {
	return storage.NeighborQuery{
		TokenID:          tokenID,
		BlockID:          block,
		EventType:        event,
		BlocksBefore:     d.opts.BlockWindow,
		BlocksAfter:      d.opts.BlockWindow,
		ExcludeWalletIDs: []int64{walletID},
	}
}

func earliestByWallet(swaps []*domain.Swap) map[int64]*domain.Swap {
	out := make(map[int64]*domain.Swap)
	for _, s := range swaps {
		if cur, ok := out[s.WalletID]; !ok || s.BlockID < cur.BlockID {
			out[s.WalletID] = s
		}
	}
	return out
}

// bucket loads the candidate wallets and their statistics and assigns each a category.
func (d *Detector) bucket(ctx context.Context, counts map[int64]*StatusCounts, lastTrade map[int64]time.Time) (*domain.RelatedWallets, error) {
	ids := make([]int64, 0, len(counts))
	for id, c := range counts {
		if c.Intersected() >= d.opts.MinIntersected {
			ids = append(ids, id)
		}
	}

	result := &domain.RelatedWallets{
		Copying:      []*domain.RelatedWallet{},
		CopiedBy:     []*domain.RelatedWallet{},
		Similar:      []*domain.RelatedWallet{},
		Undetermined: []*domain.RelatedWallet{},
	}
	if len(ids) == 0 {
		return result, nil
	}

	wallets, err := d.stores.Wallets.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get related wallets: %w", err)
	}
	stats, err := d.stores.Stats.GetByWalletIDs(ctx, domain.ScopeMain, ids)
	if err != nil {
		return nil, fmt.Errorf("get related wallet stats: %w", err)
	}

	for _, w := range wallets {
		if w.IsBot {
			continue
		}
		var total int64
		var all, d30 *domain.WalletPeriodStatistic
		if ws := stats[w.ID]; ws != nil {
			all, d30 = ws.StatsAll, ws.Stats30d
		}
		if all != nil {
			total = all.TotalToken
		}
		if total >= d.opts.MaxTotalTokens {
			continue
		}

		c := *counts[w.ID]
		category, color := Categorize(c, total)

		rw := &domain.RelatedWallet{
			Address:                w.Address,
			LastActivityTimestamp:  w.LastActivity,
			TotalTokenCount:        total,
			IntersectedTokensCount: c.Intersected(),
			MixedCount:             c.Mixed,
			SameCount:              c.Same,
			AfterCount:             c.After,
			BeforeCount:            c.Before,
			Color:                  color,
		}
		if ts, ok := lastTrade[w.ID]; ok && !ts.IsZero() {
			rw.LastIntersectedTokensTradeTimestamp = &ts
		}
		if total > 0 {
			pct := decimal.NewFromInt(c.Intersected()).
				Div(decimal.NewFromInt(total)).
				Mul(decimal.NewFromInt(100)).
				Round(domain.PercentPlaces)
			rw.IntersectedTokensPercent = decimal.NewNullDecimal(pct)
		}
		if d30 != nil {
			rw.TotalProfitUSD30d = decimal.NewNullDecimal(d30.TotalProfitUSD)
			rw.TotalProfitMultiplier30d = d30.TotalProfitMultiplier
		}
		result.Add(category, rw)
	}

	for _, bucket := range [][]*domain.RelatedWallet{result.Copying, result.CopiedBy, result.Similar, result.Undetermined} {
		sortByLastIntersected(bucket)
	}
	return result, nil
}

// sortByLastIntersected orders newest first; wallets without a timestamp go last.
func sortByLastIntersected(ws []*domain.RelatedWallet) {
	sort.SliceStable(ws, func(i, j int) bool {
		a, b := ws[i].LastIntersectedTokensTradeTimestamp, ws[j].LastIntersectedTokensTradeTimestamp
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return ws[i].Address < ws[j].Address
	})
}
