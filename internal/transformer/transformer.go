// Package transformer turns raw provider rows into swap facts and
// per-wallet-token deltas ready for loading.
package transformer

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/address"
	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/idhash"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/pricing"
)

// Options configures Transformer.
type Options struct {
	QuoteMint string
	// Routers are aggregator accounts that appear as a second swapper.
	// Their swaps are attributed to the other wallet of the transaction.
	Routers []string
	Logger  *zerolog.Logger
}

// Transformer classifies and prices raw swaps.
type Transformer struct {
	quoteMint string
	routers   map[string]struct{}
	logger    *zerolog.Logger
	now       func() time.Time
}

// New creates a Transformer.
func New(opts Options) *Transformer {
	routers := make(map[string]struct{}, len(opts.Routers))
	for _, r := range opts.Routers {
		routers[r] = struct{}{}
	}
	return &Transformer{
		quoteMint: opts.QuoteMint,
		routers:   routers,
		logger:    logging.OrGlobal(opts.Logger),
		now:       time.Now,
	}
}

// Result is one window worth of loader input.
type Result struct {
	Wallets      []*domain.Wallet      // sorted by address
	Tokens       []string              // sorted token addresses
	Swaps        []*domain.Swap        // input order
	WalletTokens []*domain.WalletToken // one delta per pair, sorted by (wallet, token)

	Dropped int // rows not trading against the quote asset
	Invalid int // rows with missing ids or malformed addresses
}

// classified is a raw row with direction and heuristics applied.
type classified struct {
	raw       *domain.RawSwap
	id        string
	wallet    string
	token     string
	event     domain.EventType
	mt3       bool
	arbitrage bool
}

// Transform processes rows of one window. A minute without a price aborts
// the whole window with an error wrapping pricing.ErrMissingPrice.
func (t *Transformer) Transform(rows []*domain.RawSwap, prices pricing.Table) (*Result, error) {
	res := &Result{}

	items := make([]*classified, 0, len(rows))
	occurrences := make(map[string]int)
	for _, raw := range rows {
		c, ok, err := t.classify(raw)
		if err != nil {
			res.Invalid++
			t.logger.Debug().Err(err).Str("tx_id", raw.TxID).Msg("invalid swap row skipped")
			continue
		}
		if !ok {
			res.Dropped++
			continue
		}
		key := idhash.ComputeSwapID(raw, 0)
		c.id = idhash.ComputeSwapID(raw, occurrences[key])
		occurrences[key]++
		items = append(items, c)
	}

	t.applyTxHeuristics(items)

	wallets := make(map[string]*domain.Wallet)
	tokens := make(map[string]struct{})
	createdAt := t.now().UTC()

	for _, c := range items {
		ts := c.raw.BlockTimestamp.UTC()
		price, err := prices.At(ts)
		if err != nil {
			return nil, fmt.Errorf("price swap %s: %w", c.raw.TxID, err)
		}

		s := &domain.Swap{
			ID:                  c.id,
			WalletAddress:       c.wallet,
			TokenAddress:        c.token,
			TxHash:              c.raw.TxID,
			BlockID:             c.raw.BlockID,
			Timestamp:           ts,
			EventType:           c.event,
			PriceUSD:            price,
			IsPartOfMT3Swappers: c.mt3,
			IsPartOfArbitrage:   c.arbitrage,
			CreatedAt:           createdAt,
		}
		if c.event == domain.EventBuy {
			s.QuoteAmount, s.TokenAmount = c.raw.FromAmount, c.raw.ToAmount
		} else {
			s.QuoteAmount, s.TokenAmount = c.raw.ToAmount, c.raw.FromAmount
		}
		res.Swaps = append(res.Swaps, s)

		w, ok := wallets[c.wallet]
		if !ok {
			w = &domain.Wallet{Address: c.wallet, CreatedAt: createdAt, UpdatedAt: createdAt}
			wallets[c.wallet] = w
		}
		if w.LastActivity == nil || ts.After(*w.LastActivity) {
			last := ts
			w.LastActivity = &last
		}
		tokens[c.token] = struct{}{}
	}

	res.Wallets = make([]*domain.Wallet, 0, len(wallets))
	for _, w := range wallets {
		res.Wallets = append(res.Wallets, w)
	}
	sort.Slice(res.Wallets, func(i, j int) bool { return res.Wallets[i].Address < res.Wallets[j].Address })

	res.Tokens = make([]string, 0, len(tokens))
	for tok := range tokens {
		res.Tokens = append(res.Tokens, tok)
	}
	sort.Strings(res.Tokens)

	res.WalletTokens = domain.AggregateWalletTokens(res.Swaps)

	observability.RecordSwapsTransformed("kept", len(res.Swaps))
	observability.RecordSwapsTransformed("dropped", res.Dropped)
	observability.RecordSwapsTransformed("invalid", res.Invalid)
	return res, nil
}

var errMissingField = errors.New("missing tx id or swapper")

// classify sets direction relative to the quote mint. ok is false for rows
// where the quote mint is on neither side or on both.
func (t *Transformer) classify(raw *domain.RawSwap) (*classified, bool, error) {
	if raw.TxID == "" || raw.Swapper == "" {
		return nil, false, errMissingField
	}

	var event domain.EventType
	var token string
	switch {
	case raw.FromMint == t.quoteMint && raw.ToMint != t.quoteMint:
		event, token = domain.EventBuy, raw.ToMint
	case raw.ToMint == t.quoteMint && raw.FromMint != t.quoteMint:
		event, token = domain.EventSell, raw.FromMint
	default:
		return nil, false, nil
	}

	if err := address.Validate(raw.Swapper); err != nil {
		return nil, false, fmt.Errorf("swapper: %w", err)
	}
	if err := address.Validate(token); err != nil {
		return nil, false, fmt.Errorf("token: %w", err)
	}

	return &classified{raw: raw, wallet: raw.Swapper, token: token, event: event}, true, nil
}

// applyTxHeuristics flags and reattributes swaps per transaction:
// one swapper buying and selling the same token marks an arbitrage,
// three or more swappers mark every swap mt3, and two swappers where one is
// a router move the router's swaps to the other wallet.
func (t *Transformer) applyTxHeuristics(items []*classified) {
	byTx := make(map[string][]*classified)
	var order []string
	for _, c := range items {
		if _, ok := byTx[c.raw.TxID]; !ok {
			order = append(order, c.raw.TxID)
		}
		byTx[c.raw.TxID] = append(byTx[c.raw.TxID], c)
	}

	for _, tx := range order {
		swaps := byTx[tx]
		if len(swaps) < 2 {
			continue
		}

		var swappers []string
		events := make(map[string]map[string]map[domain.EventType]bool) // swapper -> token -> events
		for _, c := range swaps {
			byToken, ok := events[c.wallet]
			if !ok {
				byToken = make(map[string]map[domain.EventType]bool)
				events[c.wallet] = byToken
				swappers = append(swappers, c.wallet)
			}
			if byToken[c.token] == nil {
				byToken[c.token] = make(map[domain.EventType]bool)
			}
			byToken[c.token][c.event] = true
		}

		switch {
		case len(swappers) == 1:
			arbitrage := false
			for _, ev := range events[swappers[0]] {
				if ev[domain.EventBuy] && ev[domain.EventSell] {
					arbitrage = true
					break
				}
			}
			if arbitrage {
				for _, c := range swaps {
					c.arbitrage = true
				}
			}
		case len(swappers) == 2:
			owner := ""
			if _, ok := t.routers[swappers[0]]; ok {
				owner = swappers[1]
			} else if _, ok := t.routers[swappers[1]]; ok {
				owner = swappers[0]
			}
			if owner != "" {
				for _, c := range swaps {
					c.wallet = owner
				}
			}
		default:
			for _, c := range swaps {
				c.mt3 = true
			}
		}
	}
}
