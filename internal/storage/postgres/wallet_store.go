package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// WalletStore implements storage.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *Pool
}

// NewWalletStore creates a new WalletStore.
func NewWalletStore(pool *Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletStore = (*WalletStore)(nil)

const walletColumns = `id, address, is_bot, is_scammer, last_activity_timestamp, last_stats_check, created_at, updated_at`

const upsertWalletsSQL = `
	INSERT INTO wallets (address, last_activity_timestamp)
	SELECT v.address, v.last_activity
	FROM unnest($1::text[], $2::timestamptz[]) AS v(address, last_activity)
	ORDER BY v.address
	ON CONFLICT (address) DO UPDATE SET
		last_activity_timestamp = GREATEST(wallets.last_activity_timestamp, EXCLUDED.last_activity_timestamp),
		updated_at = now()
	RETURNING id, address
`

// UpsertBulk inserts unknown wallets and advances last_activity of known ones.
func (s *WalletStore) UpsertBulk(ctx context.Context, wallets []*domain.Wallet) (map[string]int64, error) {
	return upsertWallets(ctx, s.pool, wallets)
}

func upsertWallets(ctx context.Context, q querier, wallets []*domain.Wallet) (_ map[string]int64, err error) {
	ids := make(map[string]int64, len(wallets))
	if len(wallets) == 0 {
		return ids, nil
	}
	defer observeQuery("upsert wallets", time.Now(), &err)

	// One row per address, keeping the latest activity.
	latest := make(map[string]*time.Time, len(wallets))
	for _, w := range wallets {
		cur, seen := latest[w.Address]
		if !seen || (w.LastActivity != nil && (cur == nil || w.LastActivity.After(*cur))) {
			latest[w.Address] = w.LastActivity
		}
	}
	addresses := make([]string, 0, len(latest))
	for a := range latest {
		addresses = append(addresses, a)
	}
	sort.Strings(addresses)

	err = forChunks(addresses, func(chunk []string) error {
		activity := make([]*time.Time, len(chunk))
		for i, a := range chunk {
			activity[i] = latest[a]
		}
		rows, err := q.Query(ctx, upsertWalletsSQL, chunk, activity)
		if err != nil {
			return wrapErr("upsert wallets", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			var address string
			if err := rows.Scan(&id, &address); err != nil {
				return fmt.Errorf("scan wallet id: %w", err)
			}
			ids[address] = id
		}
		return wrapErr("upsert wallets", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetByAddress retrieves a wallet. Returns ErrNotFound if not exists.
func (s *WalletStore) GetByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE address = $1`

	w, err := scanWallet(s.pool.QueryRow(ctx, query, address))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get wallet by address: %w", err)
	}
	return w, nil
}

// GetByIDs retrieves wallets by id. Missing ids are skipped.
func (s *WalletStore) GetByIDs(ctx context.Context, ids []int64) ([]*domain.Wallet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = ANY($1) ORDER BY id`

	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get wallets by ids: %w", err)
	}
	defer rows.Close()

	return scanWallets(rows)
}

// ListForStats returns up to count wallets, never-checked first, then by oldest last_stats_check.
func (s *WalletStore) ListForStats(ctx context.Context, count int) ([]*domain.Wallet, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM wallets
		ORDER BY last_stats_check ASC NULLS FIRST, id ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, count)
	if err != nil {
		return nil, fmt.Errorf("list wallets for stats: %w", err)
	}
	defer rows.Close()

	return scanWallets(rows)
}

// ListForCohort returns wallets matching the cohort's wallet filter.
func (s *WalletStore) ListForCohort(ctx context.Context, f domain.WalletCohortFilter) ([]*domain.Wallet, error) {
	query := `
		SELECT w.id, w.address, w.is_bot, w.is_scammer, w.last_activity_timestamp,
			w.last_stats_check, w.created_at, w.updated_at
		FROM wallets w
		JOIN wallet_statistic_all sa ON sa.wallet_id = w.id
		JOIN wallet_statistic_7d s7 ON s7.wallet_id = w.id
		WHERE NOT w.is_bot
			AND NOT w.is_scammer
			AND sa.winrate >= $1::numeric
			AND sa.total_profit_usd >= $2::numeric
			AND sa.total_profit_multiplier >= $3::numeric
			AND sa.token_avg_buy_amount >= $4::numeric
			AND sa.token_avg_buy_amount <= $5::numeric
			AND sa.token_buy_sell_duration_median >= $6::numeric
			AND s7.total_token >= $7
		ORDER BY w.id
	`

	rows, err := s.pool.Query(ctx, query,
		f.MinWinrateAll,
		f.MinProfitUSDAll,
		f.MinProfitMultiplierAll,
		f.MinAvgBuyAmountAll,
		f.MaxAvgBuyAmountAll,
		f.MinDurationMedianAll,
		f.MinTotalToken7d,
	)
	if err != nil {
		return nil, fmt.Errorf("list wallets for cohort: %w", err)
	}
	defer rows.Close()

	return scanWallets(rows)
}

// UpdateFlagsBulk writes is_bot, is_scammer and last_stats_check.
func (s *WalletStore) UpdateFlagsBulk(ctx context.Context, flags []*domain.WalletFlags) error {
	return updateWalletFlags(ctx, s.pool, flags)
}

const updateWalletFlagsSQL = `
	UPDATE wallets w SET
		is_bot = v.is_bot,
		is_scammer = v.is_scammer,
		last_stats_check = v.last_stats_check,
		updated_at = now()
	FROM unnest($1::bigint[], $2::bool[], $3::bool[], $4::timestamptz[])
		AS v(id, is_bot, is_scammer, last_stats_check)
	WHERE w.id = v.id
`

func updateWalletFlags(ctx context.Context, q querier, flags []*domain.WalletFlags) error {
	if len(flags) == 0 {
		return nil
	}
	sorted := make([]*domain.WalletFlags, len(flags))
	copy(sorted, flags)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WalletID < sorted[j].WalletID })

	_, err := execChunks(ctx, q, "update wallet flags", updateWalletFlagsSQL, sorted, func(chunk []*domain.WalletFlags) []any {
		ids := make([]int64, len(chunk))
		bots := make([]bool, len(chunk))
		scammers := make([]bool, len(chunk))
		checked := make([]time.Time, len(chunk))
		for i, f := range chunk {
			ids[i], bots[i], scammers[i], checked[i] = f.WalletID, f.IsBot, f.IsScammer, f.LastStatsCheck
		}
		return []any{ids, bots, scammers, checked}
	})
	return err
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	var lastActivity, lastCheck *time.Time
	err := row.Scan(
		&w.ID,
		&w.Address,
		&w.IsBot,
		&w.IsScammer,
		&lastActivity,
		&lastCheck,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.LastActivity = utcPtr(lastActivity)
	w.LastStatsCheck = utcPtr(lastCheck)
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return &w, nil
}

// scanWallets scans multiple rows into a slice of Wallet.
func scanWallets(rows pgx.Rows) ([]*domain.Wallet, error) {
	var wallets []*domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}
	return wallets, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
