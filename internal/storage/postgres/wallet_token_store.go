package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// WalletTokenStore implements storage.WalletTokenStore using PostgreSQL.
type WalletTokenStore struct {
	pool *Pool
}

// NewWalletTokenStore creates a new WalletTokenStore.
func NewWalletTokenStore(pool *Pool) *WalletTokenStore {
	return &WalletTokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletTokenStore = (*WalletTokenStore)(nil)

const walletTokenColumns = `wallet_id, token_id, total_buys_count, total_sales_count,
	total_buy_amount_usd, total_buy_amount_token, total_sell_amount_usd, total_sell_amount_token,
	first_buy_timestamp, first_buy_price_usd, first_sell_timestamp, first_sell_price_usd,
	last_activity_timestamp, total_profit_usd, total_profit_percent, first_buy_sell_duration,
	total_swaps_from_txs_with_mt_3_swappers, total_swaps_from_arbitrage_swap_events,
	created_at, updated_at`

// earliestPriceSQL keeps the price of the earlier first trade; equal timestamps
// keep the lower price with NULL last, as domain.WalletToken.Merge does.
func earliestPriceSQL(side string) string {
	r := strings.NewReplacer(
		"{ts}", "first_"+side+"_timestamp",
		"{price}", "first_"+side+"_price_usd",
	)
	return r.Replace(`CASE
			WHEN EXCLUDED.{ts} IS NULL THEN wallet_tokens.{price}
			WHEN wallet_tokens.{ts} IS NULL OR EXCLUDED.{ts} < wallet_tokens.{ts} THEN EXCLUDED.{price}
			WHEN EXCLUDED.{ts} = wallet_tokens.{ts}
				AND EXCLUDED.{price} IS NOT NULL
				AND (wallet_tokens.{price} IS NULL OR EXCLUDED.{price} < wallet_tokens.{price})
				THEN EXCLUDED.{price}
			ELSE wallet_tokens.{price}
		END`)
}

var mergeWalletTokenSQL = func() string {
	r := strings.NewReplacer(
		"{buys}", "(wallet_tokens.total_buys_count + EXCLUDED.total_buys_count)",
		"{buy_usd}", "(wallet_tokens.total_buy_amount_usd + EXCLUDED.total_buy_amount_usd)",
		"{sell_usd}", "(wallet_tokens.total_sell_amount_usd + EXCLUDED.total_sell_amount_usd)",
		"{fb}", "LEAST(wallet_tokens.first_buy_timestamp, EXCLUDED.first_buy_timestamp)",
		"{fs}", "LEAST(wallet_tokens.first_sell_timestamp, EXCLUDED.first_sell_timestamp)",
		"{fb_price}", earliestPriceSQL("buy"),
		"{fs_price}", earliestPriceSQL("sell"),
	)
	return r.Replace(`
	INSERT INTO wallet_tokens (
		wallet_id, token_id, total_buys_count, total_sales_count,
		total_buy_amount_usd, total_buy_amount_token, total_sell_amount_usd, total_sell_amount_token,
		first_buy_timestamp, first_buy_price_usd, first_sell_timestamp, first_sell_price_usd,
		last_activity_timestamp, total_profit_usd, total_profit_percent, first_buy_sell_duration,
		total_swaps_from_txs_with_mt_3_swappers, total_swaps_from_arbitrage_swap_events
	)
	SELECT v.wallet_id, v.token_id, v.buys, v.sales,
		v.buy_usd::numeric, v.buy_token::numeric, v.sell_usd::numeric, v.sell_token::numeric,
		v.first_buy, v.first_buy_price::numeric, v.first_sell, v.first_sell_price::numeric,
		v.last_activity, v.profit::numeric, v.profit_percent::numeric, v.duration,
		v.mt3, v.arbitrage
	FROM unnest(
		$1::bigint[], $2::bigint[], $3::bigint[], $4::bigint[],
		$5::text[], $6::text[], $7::text[], $8::text[],
		$9::timestamptz[], $10::text[], $11::timestamptz[], $12::text[],
		$13::timestamptz[], $14::text[], $15::text[], $16::bigint[],
		$17::bigint[], $18::bigint[]
	) AS v(wallet_id, token_id, buys, sales,
		buy_usd, buy_token, sell_usd, sell_token,
		first_buy, first_buy_price, first_sell, first_sell_price,
		last_activity, profit, profit_percent, duration,
		mt3, arbitrage)
	ORDER BY v.wallet_id, v.token_id
	ON CONFLICT (wallet_id, token_id) DO UPDATE SET
		total_buys_count = {buys},
		total_sales_count = wallet_tokens.total_sales_count + EXCLUDED.total_sales_count,
		total_buy_amount_usd = {buy_usd},
		total_buy_amount_token = wallet_tokens.total_buy_amount_token + EXCLUDED.total_buy_amount_token,
		total_sell_amount_usd = {sell_usd},
		total_sell_amount_token = wallet_tokens.total_sell_amount_token + EXCLUDED.total_sell_amount_token,
		first_buy_price_usd = {fb_price},
		first_buy_timestamp = {fb},
		first_sell_price_usd = {fs_price},
		first_sell_timestamp = {fs},
		last_activity_timestamp = GREATEST(wallet_tokens.last_activity_timestamp, EXCLUDED.last_activity_timestamp),
		total_profit_usd = CASE WHEN {buys} > 0 THEN {sell_usd} - {buy_usd} END,
		total_profit_percent = CASE
			WHEN {buys} > 0 AND {buy_usd} <> 0 THEN ROUND(({sell_usd} - {buy_usd}) / {buy_usd} * 100, 2)
		END,
		first_buy_sell_duration = CASE
			WHEN {fb} IS NOT NULL AND {fs} IS NOT NULL AND {fs} >= {fb}
				THEN FLOOR(EXTRACT(EPOCH FROM ({fs} - {fb})))::bigint
		END,
		total_swaps_from_txs_with_mt_3_swappers =
			wallet_tokens.total_swaps_from_txs_with_mt_3_swappers + EXCLUDED.total_swaps_from_txs_with_mt_3_swappers,
		total_swaps_from_arbitrage_swap_events =
			wallet_tokens.total_swaps_from_arbitrage_swap_events + EXCLUDED.total_swaps_from_arbitrage_swap_events,
		updated_at = now()
	`)
}()

// MergeBulk folds deltas into stored aggregates with the commutative merge.
func (s *WalletTokenStore) MergeBulk(ctx context.Context, deltas []*domain.WalletToken) error {
	_, err := mergeWalletTokens(ctx, s.pool, deltas)
	return err
}

// mergeWalletTokens folds deltas in one statement per chunk. A pair may
// appear only once per call.
func mergeWalletTokens(ctx context.Context, q querier, deltas []*domain.WalletToken) (int, error) {
	if len(deltas) == 0 {
		return 0, nil
	}

	// Stable lock order across concurrent writers.
	sorted := make([]*domain.WalletToken, len(deltas))
	copy(sorted, deltas)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].WalletID != sorted[j].WalletID {
			return sorted[i].WalletID < sorted[j].WalletID
		}
		return sorted[i].TokenID < sorted[j].TokenID
	})

	_, err := execChunks(ctx, q, "merge wallet tokens", mergeWalletTokenSQL, sorted, walletTokenArrays)
	if err != nil {
		return 0, err
	}
	return len(sorted), nil
}

// walletTokenArrays builds the column arrays of mergeWalletTokenSQL.
func walletTokenArrays(chunk []*domain.WalletToken) []any {
	n := len(chunk)
	var (
		walletIDs      = make([]int64, n)
		tokenIDs       = make([]int64, n)
		buys           = make([]int64, n)
		sales          = make([]int64, n)
		buyUSD         = make([]string, n)
		buyToken       = make([]string, n)
		sellUSD        = make([]string, n)
		sellToken      = make([]string, n)
		firstBuy       = make([]*time.Time, n)
		firstBuyPrice  = make([]*string, n)
		firstSell      = make([]*time.Time, n)
		firstSellPrice = make([]*string, n)
		lastActivity   = make([]*time.Time, n)
		profit         = make([]*string, n)
		profitPercent  = make([]*string, n)
		duration       = make([]*int64, n)
		mt3            = make([]int64, n)
		arbitrage      = make([]int64, n)
	)
	for i, d := range chunk {
		walletIDs[i], tokenIDs[i] = d.WalletID, d.TokenID
		buys[i], sales[i] = d.TotalBuysCount, d.TotalSalesCount
		buyUSD[i] = numericText(d.TotalBuyAmountUSD)
		buyToken[i] = numericText(d.TotalBuyAmountToken)
		sellUSD[i] = numericText(d.TotalSellAmountUSD)
		sellToken[i] = numericText(d.TotalSellAmountToken)
		firstBuy[i], firstBuyPrice[i] = d.FirstBuyTimestamp, nullNumericText(d.FirstBuyPriceUSD)
		firstSell[i], firstSellPrice[i] = d.FirstSellTimestamp, nullNumericText(d.FirstSellPriceUSD)
		lastActivity[i] = d.LastActivity
		profit[i] = nullNumericText(d.TotalProfitUSD)
		profitPercent[i] = nullNumericText(d.TotalProfitPercent)
		duration[i] = d.FirstBuySellDuration
		mt3[i], arbitrage[i] = d.TotalSwapsFromTxsWithMT3Swappers, d.TotalSwapsFromArbitrageSwapEvents
	}
	return []any{
		walletIDs, tokenIDs, buys, sales,
		buyUSD, buyToken, sellUSD, sellToken,
		firstBuy, firstBuyPrice, firstSell, firstSellPrice,
		lastActivity, profit, profitPercent, duration,
		mt3, arbitrage,
	}
}

// deleteWalletTokens removes the rows of the given pairs.
func deleteWalletTokens(ctx context.Context, q querier, pairs []walletTokenPair) error {
	query := `
		DELETE FROM wallet_tokens
		WHERE (wallet_id, token_id) IN (SELECT * FROM unnest($1::bigint[], $2::bigint[]))
	`
	_, err := execChunks(ctx, q, "delete wallet tokens", query, pairs, func(chunk []walletTokenPair) []any {
		walletIDs, tokenIDs := pairArrays(chunk)
		return []any{walletIDs, tokenIDs}
	})
	return err
}

// Get retrieves one aggregate. Returns ErrNotFound if not exists.
func (s *WalletTokenStore) Get(ctx context.Context, walletID, tokenID int64) (*domain.WalletToken, error) {
	query := `SELECT ` + walletTokenColumns + ` FROM wallet_tokens WHERE wallet_id = $1 AND token_id = $2`

	rows, err := s.pool.Query(ctx, query, walletID, tokenID)
	if err != nil {
		return nil, fmt.Errorf("get wallet token: %w", err)
	}
	defer rows.Close()

	wts, err := scanWalletTokens(rows)
	if err != nil {
		return nil, err
	}
	if len(wts) == 0 {
		return nil, storage.ErrNotFound
	}
	return wts[0], nil
}

// GetByWalletIDs retrieves aggregates of the wallets, optionally filtered.
func (s *WalletTokenStore) GetByWalletIDs(ctx context.Context, walletIDs []int64, f *domain.WalletTokenFilter) ([]*domain.WalletToken, error) {
	if len(walletIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + walletTokenColumns + ` FROM wallet_tokens WHERE wallet_id = ANY($1)`
	args := []any{walletIDs}
	if f != nil {
		if f.MinFirstBuyPriceUSD.Valid {
			args = append(args, f.MinFirstBuyPriceUSD.Decimal)
			query += fmt.Sprintf(" AND first_buy_price_usd >= $%d::numeric", len(args))
		}
		if f.MinBuyAmountUSD.Valid {
			args = append(args, f.MinBuyAmountUSD.Decimal)
			query += fmt.Sprintf(" AND total_buy_amount_usd >= $%d::numeric", len(args))
		}
	}
	query += ` ORDER BY wallet_id, token_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get wallet tokens by wallets: %w", err)
	}
	defer rows.Close()

	return scanWalletTokens(rows)
}

// ListTradedByWallet returns up to limit aggregates with both buys and sales,
// most recent last_activity first.
func (s *WalletTokenStore) ListTradedByWallet(ctx context.Context, walletID int64, limit int) ([]*domain.WalletToken, error) {
	query := `
		SELECT ` + walletTokenColumns + `
		FROM wallet_tokens
		WHERE wallet_id = $1 AND total_buys_count > 0 AND total_sales_count > 0
		ORDER BY last_activity_timestamp DESC NULLS LAST, token_id ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("list traded wallet tokens: %w", err)
	}
	defer rows.Close()

	return scanWalletTokens(rows)
}

// scanWalletTokens scans multiple rows into a slice of WalletToken.
func scanWalletTokens(rows pgx.Rows) ([]*domain.WalletToken, error) {
	var out []*domain.WalletToken

	for rows.Next() {
		var wt domain.WalletToken

		err := rows.Scan(
			&wt.WalletID,
			&wt.TokenID,
			&wt.TotalBuysCount,
			&wt.TotalSalesCount,
			&wt.TotalBuyAmountUSD,
			&wt.TotalBuyAmountToken,
			&wt.TotalSellAmountUSD,
			&wt.TotalSellAmountToken,
			&wt.FirstBuyTimestamp,
			&wt.FirstBuyPriceUSD,
			&wt.FirstSellTimestamp,
			&wt.FirstSellPriceUSD,
			&wt.LastActivity,
			&wt.TotalProfitUSD,
			&wt.TotalProfitPercent,
			&wt.FirstBuySellDuration,
			&wt.TotalSwapsFromTxsWithMT3Swappers,
			&wt.TotalSwapsFromArbitrageSwapEvents,
			&wt.CreatedAt,
			&wt.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan wallet token row: %w", err)
		}
		wt.FirstBuyTimestamp = utcPtr(wt.FirstBuyTimestamp)
		wt.FirstSellTimestamp = utcPtr(wt.FirstSellTimestamp)
		wt.LastActivity = utcPtr(wt.LastActivity)

		out = append(out, &wt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet token rows: %w", err)
	}

	return out, nil
}
