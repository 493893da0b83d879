package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// querier is satisfied by both the pool and an open transaction, so store
// statements can run standalone or inside a unit of work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation      = "23505" // unique_violation
	pgErrDeadlockDetected     = "40P01" // deadlock_detected
	pgErrSerializationFailure = "40001" // serialization_failure
)

// maxChunkRows bounds the rows sent as arrays to one set-based statement.
const maxChunkRows = 1000

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

// isConflictError checks if error is a deadlock or serialization failure.
func isConflictError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrDeadlockDetected || pgErr.Code == pgErrSerializationFailure
	}
	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// wrapErr annotates err and maps transient conflicts to storage.ErrConflict.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConflictError(err) {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// forChunks calls fn with consecutive slices of at most maxChunkRows items.
func forChunks[T any](items []T, fn func(chunk []T) error) error {
	for start := 0; start < len(items); start += maxChunkRows {
		if err := fn(items[start:min(start+maxChunkRows, len(items))]); err != nil {
			return err
		}
	}
	return nil
}

// execChunks runs one statement per chunk with the column arrays built by
// args. Returns the summed rows affected.
func execChunks[T any](ctx context.Context, q querier, op, sql string, items []T, args func(chunk []T) []any) (affected int64, err error) {
	defer observeQuery(op, time.Now(), &err)
	err = forChunks(items, func(chunk []T) error {
		tag, err := q.Exec(ctx, sql, args(chunk)...)
		if err != nil {
			return wrapErr(op, err)
		}
		affected += tag.RowsAffected()
		return nil
	})
	return affected, err
}

// numericText renders a decimal for a text[] parameter cast to numeric in SQL.
func numericText(d decimal.Decimal) string {
	return d.String()
}

// nullNumericText is numericText with NULL for an invalid value.
func nullNumericText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

// inTx runs fn in a transaction on the pool.
func inTx(ctx context.Context, pool *Pool, op string, fn func(tx pgx.Tx) error) (err error) {
	defer observeQuery(op, time.Now(), &err)
	tx, err := pool.Begin(ctx)
	if err != nil {
		return wrapErr(op+": begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr(op+": commit tx", err)
	}
	return nil
}

func observeQuery(op string, start time.Time, err *error) {
	observability.RecordDBQuery("postgres", op, time.Since(start).Seconds(), *err)
}
