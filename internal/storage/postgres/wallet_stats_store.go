package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// WalletStatsStore implements storage.WalletStatsStore using PostgreSQL.
type WalletStatsStore struct {
	pool *Pool
}

// NewWalletStatsStore creates a new WalletStatsStore.
func NewWalletStatsStore(pool *Pool) *WalletStatsStore {
	return &WalletStatsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletStatsStore = (*WalletStatsStore)(nil)

// statsColumn is one statistic column. Numeric columns travel as text
// arrays and are cast in SQL; the rest are bigint arrays.
type statsColumn struct {
	name    string
	numeric bool
	value   func(s *domain.WalletPeriodStatistic) any // int64, decimal.Decimal or decimal.NullDecimal
}

func intCol(name string, v func(*domain.WalletPeriodStatistic) int64) statsColumn {
	return statsColumn{name: name, value: func(s *domain.WalletPeriodStatistic) any { return v(s) }}
}

func decCol(name string, v func(*domain.WalletPeriodStatistic) decimal.Decimal) statsColumn {
	return statsColumn{name: name, numeric: true, value: func(s *domain.WalletPeriodStatistic) any { return v(s) }}
}

func nullDecCol(name string, v func(*domain.WalletPeriodStatistic) decimal.NullDecimal) statsColumn {
	return statsColumn{name: name, numeric: true, value: func(s *domain.WalletPeriodStatistic) any { return v(s) }}
}

// statsColumns lists every column except wallet_id and updated_at, in scan order.
var statsColumns = []statsColumn{
	intCol("total_token", func(s *domain.WalletPeriodStatistic) int64 { return s.TotalToken }),
	intCol("total_token_buys", func(s *domain.WalletPeriodStatistic) int64 { return s.TotalTokenBuys }),
	intCol("total_token_sales", func(s *domain.WalletPeriodStatistic) int64 { return s.TotalTokenSales }),
	decCol("total_token_buy_amount_usd", func(s *domain.WalletPeriodStatistic) decimal.Decimal { return s.TotalTokenBuyAmountUSD }),
	decCol("total_token_sell_amount_usd", func(s *domain.WalletPeriodStatistic) decimal.Decimal { return s.TotalTokenSellAmountUSD }),
	decCol("total_profit_usd", func(s *domain.WalletPeriodStatistic) decimal.Decimal { return s.TotalProfitUSD }),
	nullDecCol("total_profit_multiplier", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.TotalProfitMultiplier }),
	nullDecCol("token_avg_buy_amount", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.TokenAvgBuyAmount }),
	nullDecCol("token_median_buy_amount", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.TokenMedianBuyAmount }),
	nullDecCol("token_first_buy_avg_price_usd", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.TokenFirstBuyAvgPriceUSD }),
	nullDecCol("token_first_buy_median_price_usd", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.TokenFirstBuyMedianPriceUSD }),
	nullDecCol("token_avg_profit_usd", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.TokenAvgProfitUSD }),
	nullDecCol("token_buy_sell_duration_avg", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.TokenBuySellDurationAvg }),
	nullDecCol("token_buy_sell_duration_median", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.TokenBuySellDurationMedian }),
	nullDecCol("winrate", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.Winrate }),
	intCol("pnl_lt_minus_dot5_num", func(s *domain.WalletPeriodStatistic) int64 { return s.PnLLtMinusDot5Num }),
	intCol("pnl_minus_dot5_0x_num", func(s *domain.WalletPeriodStatistic) int64 { return s.PnLMinusDot5To0Num }),
	intCol("pnl_lt_2x_num", func(s *domain.WalletPeriodStatistic) int64 { return s.PnLLt2xNum }),
	intCol("pnl_2x_5x_num", func(s *domain.WalletPeriodStatistic) int64 { return s.PnL2xTo5xNum }),
	intCol("pnl_gt_5x_num", func(s *domain.WalletPeriodStatistic) int64 { return s.PnLGt5xNum }),
	nullDecCol("pnl_lt_minus_dot5_percent", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.PnLLtMinusDot5Percent }),
	nullDecCol("pnl_minus_dot5_0x_percent", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.PnLMinusDot5To0Percent }),
	nullDecCol("pnl_lt_2x_percent", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.PnLLt2xPercent }),
	nullDecCol("pnl_2x_5x_percent", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.PnL2xTo5xPercent }),
	nullDecCol("pnl_gt_5x_percent", func(s *domain.WalletPeriodStatistic) decimal.NullDecimal { return s.PnLGt5xPercent }),
	intCol("token_with_buy", func(s *domain.WalletPeriodStatistic) int64 { return s.TokenWithBuy }),
	intCol("token_with_buy_and_sell", func(s *domain.WalletPeriodStatistic) int64 { return s.TokenWithBuyAndSell }),
	intCol("token_buy_without_sell", func(s *domain.WalletPeriodStatistic) int64 { return s.TokenBuyWithoutSell }),
	intCol("token_sell_without_buy", func(s *domain.WalletPeriodStatistic) int64 { return s.TokenSellWithoutBuy }),
	intCol("token_with_sell_amount_gt_buy_amount", func(s *domain.WalletPeriodStatistic) int64 { return s.TokenWithSellAmountGtBuyAmount }),
	intCol("total_swaps_from_txs_with_mt_3_swappers", func(s *domain.WalletPeriodStatistic) int64 { return s.TotalSwapsFromTxsWithMT3Swappers }),
	intCol("total_swaps_from_arbitrage_swap_events", func(s *domain.WalletPeriodStatistic) int64 { return s.TotalSwapsFromArbitrageSwapEvents }),
}

func statsColumnNames() []string {
	names := make([]string, len(statsColumns))
	for i, c := range statsColumns {
		names[i] = c.name
	}
	return names
}

// statsTable returns the table holding scope's statistics for period p.
func statsTable(scope domain.StatsScope, p domain.Period) (string, error) {
	switch p {
	case domain.Period7d, domain.Period30d, domain.PeriodAll:
	default:
		return "", fmt.Errorf("%w: unknown period %q", storage.ErrInvalidInput, p)
	}
	switch scope {
	case domain.ScopeMain:
		return "wallet_statistic_" + string(p), nil
	case domain.ScopeBuyPriceGt15k:
		return "wallet_statistic_buy_price_gt_15k_" + string(p), nil
	default:
		return "", fmt.Errorf("%w: unknown stats scope %q", storage.ErrInvalidInput, scope)
	}
}

// replaceStatsSQL upserts whole rows from one array per column.
func replaceStatsSQL(table string) string {
	params := []string{"$1::bigint[]"}
	selects := []string{"v.wallet_id"}
	aliases := []string{"wallet_id"}
	var updates []string
	for i, col := range statsColumns {
		alias := fmt.Sprintf("c%d", i)
		aliases = append(aliases, alias)
		if col.numeric {
			params = append(params, fmt.Sprintf("$%d::text[]", i+2))
			selects = append(selects, "v."+alias+"::numeric")
		} else {
			params = append(params, fmt.Sprintf("$%d::bigint[]", i+2))
			selects = append(selects, "v."+alias)
		}
		updates = append(updates, col.name+" = EXCLUDED."+col.name)
	}
	return fmt.Sprintf(`
		INSERT INTO %s (wallet_id, %s, updated_at)
		SELECT %s, now()
		FROM unnest(%s) AS v(%s)
		ORDER BY v.wallet_id
		ON CONFLICT (wallet_id) DO UPDATE SET %s, updated_at = now()
	`, table,
		strings.Join(statsColumnNames(), ", "),
		strings.Join(selects, ", "),
		strings.Join(params, ", "),
		strings.Join(aliases, ", "),
		strings.Join(updates, ", "))
}

// statsArrays builds the column arrays of replaceStatsSQL.
func statsArrays(chunk []*domain.WalletPeriodStatistic) []any {
	walletIDs := make([]int64, len(chunk))
	for i, st := range chunk {
		walletIDs[i] = st.WalletID
	}
	args := []any{walletIDs}
	for _, col := range statsColumns {
		if !col.numeric {
			ints := make([]int64, len(chunk))
			for i, st := range chunk {
				ints[i] = col.value(st).(int64)
			}
			args = append(args, ints)
			continue
		}
		texts := make([]*string, len(chunk))
		for i, st := range chunk {
			switch v := col.value(st).(type) {
			case decimal.Decimal:
				t := numericText(v)
				texts[i] = &t
			case decimal.NullDecimal:
				texts[i] = nullNumericText(v)
			}
		}
		args = append(args, texts)
	}
	return args
}

// EnsureBulk creates empty main-scope rows for every period.
func (s *WalletStatsStore) EnsureBulk(ctx context.Context, walletIDs []int64) error {
	return ensureStats(ctx, s.pool, walletIDs)
}

func ensureStats(ctx context.Context, q querier, walletIDs []int64) error {
	if len(walletIDs) == 0 {
		return nil
	}
	ids := dedupInt64s(walletIDs)
	for _, p := range domain.Periods {
		table, _ := statsTable(domain.ScopeMain, p)
		query := fmt.Sprintf(`
			INSERT INTO %s (wallet_id)
			SELECT unnest($1::bigint[])
			ON CONFLICT (wallet_id) DO NOTHING
		`, table)
		if _, err := q.Exec(ctx, query, ids); err != nil {
			return wrapErr("ensure "+table, err)
		}
	}
	return nil
}

// ReplaceBulk overwrites whole rows; rows that do not exist are created.
func (s *WalletStatsStore) ReplaceBulk(ctx context.Context, scope domain.StatsScope, stats []*domain.WalletPeriodStatistic) error {
	if len(stats) == 0 {
		return nil
	}
	return inTx(ctx, s.pool, "replace wallet stats", func(tx pgx.Tx) error {
		return replaceStats(ctx, tx, scope, stats)
	})
}

// replaceStats writes one statement per period table and chunk.
func replaceStats(ctx context.Context, q querier, scope domain.StatsScope, stats []*domain.WalletPeriodStatistic) error {
	byPeriod := make(map[domain.Period][]*domain.WalletPeriodStatistic)
	for _, st := range stats {
		if _, err := statsTable(scope, st.Period); err != nil {
			return err
		}
		byPeriod[st.Period] = append(byPeriod[st.Period], st)
	}

	for _, p := range domain.Periods {
		rows := byPeriod[p]
		if len(rows) == 0 {
			continue
		}
		table, _ := statsTable(scope, p)
		sort.Slice(rows, func(i, j int) bool { return rows[i].WalletID < rows[j].WalletID })
		if _, err := execChunks(ctx, q, "replace "+table, replaceStatsSQL(table), rows, statsArrays); err != nil {
			return err
		}
	}
	return nil
}

// GetByWalletIDs returns statistics keyed by wallet id. Wallets without rows are absent.
func (s *WalletStatsStore) GetByWalletIDs(ctx context.Context, scope domain.StatsScope, walletIDs []int64) (map[int64]*domain.WalletStats, error) {
	out := make(map[int64]*domain.WalletStats)
	if len(walletIDs) == 0 {
		return out, nil
	}

	for _, p := range domain.Periods {
		table, err := statsTable(scope, p)
		if err != nil {
			return nil, err
		}
		query := fmt.Sprintf(`SELECT wallet_id, %s, updated_at FROM %s WHERE wallet_id = ANY($1)`,
			strings.Join(statsColumnNames(), ", "), table)

		rows, err := s.pool.Query(ctx, query, walletIDs)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", table, err)
		}
		stats, err := scanStats(rows, p)
		rows.Close()
		if err != nil {
			return nil, err
		}
		for _, st := range stats {
			ws, ok := out[st.WalletID]
			if !ok {
				ws = &domain.WalletStats{}
				out[st.WalletID] = ws
			}
			ws.Set(p, st)
		}
	}
	return out, nil
}

// DeleteAll removes every row of the scope.
func (s *WalletStatsStore) DeleteAll(ctx context.Context, scope domain.StatsScope) error {
	return inTx(ctx, s.pool, "delete wallet stats", func(tx pgx.Tx) error {
		for _, p := range domain.Periods {
			table, err := statsTable(scope, p)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
				return wrapErr("delete "+table, err)
			}
		}
		return nil
	})
}

func scanStats(rows pgx.Rows, p domain.Period) ([]*domain.WalletPeriodStatistic, error) {
	var out []*domain.WalletPeriodStatistic
	for rows.Next() {
		s := domain.WalletPeriodStatistic{Period: p}
		err := rows.Scan(
			&s.WalletID,
			&s.TotalToken,
			&s.TotalTokenBuys,
			&s.TotalTokenSales,
			&s.TotalTokenBuyAmountUSD,
			&s.TotalTokenSellAmountUSD,
			&s.TotalProfitUSD,
			&s.TotalProfitMultiplier,
			&s.TokenAvgBuyAmount,
			&s.TokenMedianBuyAmount,
			&s.TokenFirstBuyAvgPriceUSD,
			&s.TokenFirstBuyMedianPriceUSD,
			&s.TokenAvgProfitUSD,
			&s.TokenBuySellDurationAvg,
			&s.TokenBuySellDurationMedian,
			&s.Winrate,
			&s.PnLLtMinusDot5Num,
			&s.PnLMinusDot5To0Num,
			&s.PnLLt2xNum,
			&s.PnL2xTo5xNum,
			&s.PnLGt5xNum,
			&s.PnLLtMinusDot5Percent,
			&s.PnLMinusDot5To0Percent,
			&s.PnLLt2xPercent,
			&s.PnL2xTo5xPercent,
			&s.PnLGt5xPercent,
			&s.TokenWithBuy,
			&s.TokenWithBuyAndSell,
			&s.TokenBuyWithoutSell,
			&s.TokenSellWithoutBuy,
			&s.TokenWithSellAmountGtBuyAmount,
			&s.TotalSwapsFromTxsWithMT3Swappers,
			&s.TotalSwapsFromArbitrageSwapEvents,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan wallet statistic row: %w", err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet statistic rows: %w", err)
	}
	return out, nil
}

func dedupInt64s(in []int64) []int64 {
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
