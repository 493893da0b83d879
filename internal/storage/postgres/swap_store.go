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

// SwapStore implements storage.SwapStore using PostgreSQL.
type SwapStore struct {
	pool *Pool
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(pool *Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

const swapColumns = `id, wallet_id, token_id, tx_hash, block_id, timestamp, event_type,
	quote_amount, token_amount, price_usd, is_part_of_mt3_swappers,
	is_part_of_arbitrage_swap_event, created_at`

const insertSwapsSQL = `
	INSERT INTO swaps (
		id, wallet_id, token_id, tx_hash, block_id, timestamp, event_type,
		quote_amount, token_amount, price_usd, is_part_of_mt3_swappers, is_part_of_arbitrage_swap_event
	)
	SELECT v.id, v.wallet_id, v.token_id, v.tx_hash, v.block_id, v.ts, v.event_type,
		v.quote_amount::numeric, v.token_amount::numeric, v.price_usd::numeric, v.mt3, v.arbitrage
	FROM unnest(
		$1::text[], $2::bigint[], $3::bigint[], $4::text[], $5::bigint[], $6::timestamptz[], $7::text[],
		$8::text[], $9::text[], $10::text[], $11::bool[], $12::bool[]
	) AS v(id, wallet_id, token_id, tx_hash, block_id, ts, event_type,
		quote_amount, token_amount, price_usd, mt3, arbitrage)
	ORDER BY v.id
	ON CONFLICT (id) DO NOTHING
	RETURNING id
`

// InsertBulk inserts swaps, ignoring ids that already exist. Returns rows inserted.
func (s *SwapStore) InsertBulk(ctx context.Context, swaps []*domain.Swap) (int64, error) {
	ids, err := insertSwaps(ctx, s.pool, swaps)
	return int64(len(ids)), err
}

// insertSwaps writes one statement per chunk and returns the ids that were
// actually inserted.
func insertSwaps(ctx context.Context, q querier, swaps []*domain.Swap) (inserted []string, err error) {
	if len(swaps) == 0 {
		return nil, nil
	}
	defer observeQuery("insert swaps", time.Now(), &err)

	err = forChunks(swaps, func(chunk []*domain.Swap) error {
		n := len(chunk)
		var (
			ids       = make([]string, n)
			walletIDs = make([]int64, n)
			tokenIDs  = make([]int64, n)
			txs       = make([]string, n)
			blocks    = make([]int64, n)
			stamps    = make([]time.Time, n)
			events    = make([]string, n)
			quote     = make([]string, n)
			token     = make([]string, n)
			price     = make([]string, n)
			mt3       = make([]bool, n)
			arbitrage = make([]bool, n)
		)
		for i, sw := range chunk {
			ids[i], walletIDs[i], tokenIDs[i] = sw.ID, sw.WalletID, sw.TokenID
			txs[i], blocks[i], stamps[i] = sw.TxHash, sw.BlockID, sw.Timestamp
			events[i] = string(sw.EventType)
			quote[i] = numericText(sw.QuoteAmount)
			token[i] = numericText(sw.TokenAmount)
			price[i] = numericText(sw.PriceUSD)
			mt3[i], arbitrage[i] = sw.IsPartOfMT3Swappers, sw.IsPartOfArbitrage
		}

		rows, err := q.Query(ctx, insertSwapsSQL,
			ids, walletIDs, tokenIDs, txs, blocks, stamps, events, quote, token, price, mt3, arbitrage)
		if err != nil {
			return wrapErr("insert swaps", err)
		}
		got, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return wrapErr("insert swaps", err)
		}
		inserted = append(inserted, got...)
		return nil
	})
	return inserted, err
}

// walletTokenPair identifies one wallet_tokens row.
type walletTokenPair struct {
	walletID, tokenID int64
}

// deleteSwaps removes swaps by id and returns the distinct pairs they belonged to.
func deleteSwaps(ctx context.Context, q querier, ids []string) (pairs []walletTokenPair, deleted int64, err error) {
	defer observeQuery("delete swaps", time.Now(), &err)

	seen := make(map[walletTokenPair]struct{})
	err = forChunks(ids, func(chunk []string) error {
		rows, err := q.Query(ctx, `DELETE FROM swaps WHERE id = ANY($1) RETURNING wallet_id, token_id`, chunk)
		if err != nil {
			return wrapErr("delete swaps", err)
		}
		got, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (walletTokenPair, error) {
			var p walletTokenPair
			err := row.Scan(&p.walletID, &p.tokenID)
			return p, err
		})
		if err != nil {
			return wrapErr("delete swaps", err)
		}
		deleted += int64(len(got))
		for _, p := range got {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				pairs = append(pairs, p)
			}
		}
		return nil
	})
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].walletID != pairs[j].walletID {
			return pairs[i].walletID < pairs[j].walletID
		}
		return pairs[i].tokenID < pairs[j].tokenID
	})
	return pairs, deleted, err
}

// pairArrays splits pairs into the two id arrays used with unnest.
func pairArrays(pairs []walletTokenPair) ([]int64, []int64) {
	walletIDs := make([]int64, len(pairs))
	tokenIDs := make([]int64, len(pairs))
	for i, p := range pairs {
		walletIDs[i], tokenIDs[i] = p.walletID, p.tokenID
	}
	return walletIDs, tokenIDs
}

// swapsOfPairs returns every stored swap of the given pairs.
func swapsOfPairs(ctx context.Context, q querier, pairs []walletTokenPair) ([]*domain.Swap, error) {
	query := `
		SELECT ` + swapColumns + `
		FROM swaps
		WHERE (wallet_id, token_id) IN (SELECT * FROM unnest($1::bigint[], $2::bigint[]))
	`
	var out []*domain.Swap
	err := forChunks(pairs, func(chunk []walletTokenPair) error {
		walletIDs, tokenIDs := pairArrays(chunk)
		rows, err := q.Query(ctx, query, walletIDs, tokenIDs)
		if err != nil {
			return wrapErr("select pair swaps", err)
		}
		defer rows.Close()

		swaps, err := scanSwaps(rows)
		if err != nil {
			return err
		}
		out = append(out, swaps...)
		return nil
	})
	return out, err
}

// GetFirstByWalletAndToken returns the lowest-block swap of the given type.
func (s *SwapStore) GetFirstByWalletAndToken(ctx context.Context, walletID, tokenID int64, event domain.EventType) (*domain.Swap, error) {
	query := `
		SELECT ` + swapColumns + `
		FROM swaps
		WHERE wallet_id = $1 AND token_id = $2 AND event_type = $3
		ORDER BY block_id ASC, timestamp ASC, id ASC
		LIMIT 1
	`

	rows, err := s.pool.Query(ctx, query, walletID, tokenID, string(event))
	if err != nil {
		return nil, fmt.Errorf("get first swap: %w", err)
	}
	defer rows.Close()

	swaps, err := scanSwaps(rows)
	if err != nil {
		return nil, err
	}
	if len(swaps) == 0 {
		return nil, storage.ErrNotFound
	}
	return swaps[0], nil
}

// GetNeighborsByToken returns swaps in [block-before, block+after], ordered by block ASC.
func (s *SwapStore) GetNeighborsByToken(ctx context.Context, q storage.NeighborQuery) ([]*domain.Swap, error) {
	query := `
		SELECT ` + swapColumns + `
		FROM swaps
		WHERE token_id = $1
			AND event_type = $2
			AND block_id BETWEEN $3 AND $4
			AND NOT (wallet_id = ANY($5))
		ORDER BY block_id ASC, id ASC
	`

	exclude := q.ExcludeWalletIDs
	if exclude == nil {
		exclude = []int64{}
	}
	rows, err := s.pool.Query(ctx, query,
		q.TokenID,
		string(q.EventType),
		q.BlockID-q.BlocksBefore,
		q.BlockID+q.BlocksAfter,
		exclude,
	)
	if err != nil {
		return nil, fmt.Errorf("get neighbor swaps: %w", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

// scanSwaps scans multiple rows into a slice of Swap.
func scanSwaps(rows pgx.Rows) ([]*domain.Swap, error) {
	var swaps []*domain.Swap

	for rows.Next() {
		var swap domain.Swap
		var event string

		err := rows.Scan(
			&swap.ID,
			&swap.WalletID,
			&swap.TokenID,
			&swap.TxHash,
			&swap.BlockID,
			&swap.Timestamp,
			&event,
			&swap.QuoteAmount,
			&swap.TokenAmount,
			&swap.PriceUSD,
			&swap.IsPartOfMT3Swappers,
			&swap.IsPartOfArbitrage,
			&swap.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}
		swap.EventType = domain.EventType(event)
		swap.Timestamp = swap.Timestamp.UTC()

		swaps = append(swaps, &swap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap rows: %w", err)
	}

	return swaps, nil
}
