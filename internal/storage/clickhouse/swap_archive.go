package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// SwapArchive implements storage.SwapStore on the swaps_archive table.
// ReplacingMergeTree collapses replayed ids; reads use FINAL.
type SwapArchive struct {
	conn *Conn
}

// NewSwapArchive creates a new SwapArchive.
func NewSwapArchive(conn *Conn) *SwapArchive {
	return &SwapArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapArchive)(nil)

const archiveColumns = `id, wallet_id, token_id, tx_hash, block_id, timestamp, event_type,
	quote_amount, token_amount, price_usd, is_part_of_mt3_swappers, is_part_of_arbitrage_swap_event`

// InsertBulk appends swaps in one native batch. Returns rows sent; duplicates
// are collapsed by the engine in the background.
func (s *SwapArchive) InsertBulk(ctx context.Context, swaps []*domain.Swap) (_ int64, err error) {
	if len(swaps) == 0 {
		return 0, nil
	}
	defer observeQuery("insert_swaps", time.Now(), &err)

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO swaps_archive (`+archiveColumns+`)`)
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}

	for _, sw := range swaps {
		err = batch.Append(
			sw.ID,
			sw.WalletID,
			sw.TokenID,
			sw.TxHash,
			sw.BlockID,
			sw.Timestamp.UTC(),
			string(sw.EventType),
			sw.QuoteAmount,
			sw.TokenAmount,
			sw.PriceUSD,
			boolToUInt8(sw.IsPartOfMT3Swappers),
			boolToUInt8(sw.IsPartOfArbitrage),
		)
		if err != nil {
			return 0, fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send batch: %w", err)
	}

	return int64(len(swaps)), nil
}

// DeleteByIDs removes swaps with a lightweight delete. Returns the number of
// ids requested; the engine does not report matched rows.
func (s *SwapArchive) DeleteByIDs(ctx context.Context, ids []string) (_ int64, err error) {
	if len(ids) == 0 {
		return 0, nil
	}
	defer observeQuery("delete_swaps", time.Now(), &err)

	if err := s.conn.Exec(ctx, `DELETE FROM swaps_archive WHERE has(?, id)`, ids); err != nil {
		return 0, fmt.Errorf("delete swaps: %w", err)
	}
	return int64(len(ids)), nil
}

// GetFirstByWalletAndToken returns the lowest-block swap of the given type.
func (s *SwapArchive) GetFirstByWalletAndToken(ctx context.Context, walletID, tokenID int64, event domain.EventType) (*domain.Swap, error) {
	query := `
		SELECT ` + archiveColumns + `
		FROM swaps_archive FINAL
		WHERE token_id = ? AND event_type = ? AND wallet_id = ?
		ORDER BY block_id ASC, timestamp ASC, id ASC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, tokenID, string(event), walletID)
	if err != nil {
		return nil, fmt.Errorf("query first swap: %w", err)
	}
	defer rows.Close()

	swaps, err := scanArchive(rows)
	if err != nil {
		return nil, err
	}
	if len(swaps) == 0 {
		return nil, storage.ErrNotFound
	}
	return swaps[0], nil
}

// GetNeighborsByToken returns swaps in [block-before, block+after], ordered by block ASC.
func (s *SwapArchive) GetNeighborsByToken(ctx context.Context, q storage.NeighborQuery) (_ []*domain.Swap, err error) {
	defer observeQuery("neighbor_swaps", time.Now(), &err)
	query := `
		SELECT ` + archiveColumns + `
		FROM swaps_archive FINAL
		WHERE token_id = ?
			AND event_type = ?
			AND block_id >= ? AND block_id <= ?
			AND NOT has(?, wallet_id)
		ORDER BY block_id ASC, id ASC
	`

	exclude := q.ExcludeWalletIDs
	if exclude == nil {
		exclude = []int64{}
	}
	rows, err := s.conn.Query(ctx, query,
		q.TokenID,
		string(q.EventType),
		q.BlockID-q.BlocksBefore,
		q.BlockID+q.BlocksAfter,
		exclude,
	)
	if err != nil {
		return nil, fmt.Errorf("query neighbor swaps: %w", err)
	}
	defer rows.Close()

	return scanArchive(rows)
}

func scanArchive(rows driver.Rows) ([]*domain.Swap, error) {
	var swaps []*domain.Swap

	for rows.Next() {
		var (
			sw         domain.Swap
			event      string
			ts         time.Time
			quote      decimal.Decimal
			token      decimal.Decimal
			price      decimal.Decimal
			mt3, arbit uint8
		)
		err := rows.Scan(
			&sw.ID,
			&sw.WalletID,
			&sw.TokenID,
			&sw.TxHash,
			&sw.BlockID,
			&ts,
			&event,
			&quote,
			&token,
			&price,
			&mt3,
			&arbit,
		)
		if err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		sw.Timestamp = ts.UTC()
		sw.EventType = domain.EventType(event)
		sw.QuoteAmount = quote
		sw.TokenAmount = token
		sw.PriceUSD = price
		sw.IsPartOfMT3Swappers = mt3 == 1
		sw.IsPartOfArbitrage = arbit == 1

		swaps = append(swaps, &sw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}

	return swaps, nil
}

func observeQuery(op string, start time.Time, err *error) {
	observability.RecordDBQuery("clickhouse", op, time.Since(start).Seconds(), *err)
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
