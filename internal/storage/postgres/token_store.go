package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// EnsureBulk inserts unknown addresses and returns address -> id.
func (s *TokenStore) EnsureBulk(ctx context.Context, addresses []string) (map[string]int64, error) {
	return ensureTokens(ctx, s.pool, addresses)
}

func ensureTokens(ctx context.Context, q querier, addresses []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(addresses))
	if len(addresses) == 0 {
		return ids, nil
	}

	uniq := dedupStrings(addresses)
	insert := `INSERT INTO tokens (address) SELECT unnest($1::text[]) ON CONFLICT (address) DO NOTHING`
	if _, err := execChunks(ctx, q, "insert tokens", insert, uniq, func(chunk []string) []any { return []any{chunk} }); err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT id, address FROM tokens WHERE address = ANY($1)`, uniq)
	if err != nil {
		return nil, wrapErr("select token ids", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var address string
		if err := rows.Scan(&id, &address); err != nil {
			return nil, fmt.Errorf("scan token id: %w", err)
		}
		ids[address] = id
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate token ids", err)
	}
	return ids, nil
}

// GetByAddress retrieves a token. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByAddress(ctx context.Context, address string) (*domain.Token, error) {
	query := `
		SELECT id, address, name, symbol, logo_url, created_at, updated_at
		FROM tokens
		WHERE address = $1
	`

	var t domain.Token
	err := s.pool.QueryRow(ctx, query, address).Scan(
		&t.ID,
		&t.Address,
		&t.Name,
		&t.Symbol,
		&t.LogoURL,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token by address: %w", err)
	}
	return &t, nil
}

// dedupStrings returns the distinct values sorted ascending.
func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
