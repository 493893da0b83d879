package postgres

import (
	"context"
	"fmt"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// CredentialStore implements storage.CredentialStore using PostgreSQL.
type CredentialStore struct {
	pool *Pool
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(pool *Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CredentialStore = (*CredentialStore)(nil)

// Add registers a key as active. Returns ErrDuplicateKey if it exists.
func (s *CredentialStore) Add(ctx context.Context, apiKey string) (*domain.ProviderCredential, error) {
	if apiKey == "" {
		return nil, storage.ErrInvalidInput
	}
	query := `
		INSERT INTO provider_credentials (api_key)
		VALUES ($1)
		RETURNING id, api_key, is_active, deactivated_at, created_at
	`

	var c domain.ProviderCredential
	err := s.pool.QueryRow(ctx, query, apiKey).Scan(&c.ID, &c.APIKey, &c.IsActive, &c.DeactivatedAt, &c.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, storage.ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert provider credential: %w", err)
	}
	return &c, nil
}

// NextActive returns the oldest active key. Returns ErrNotFound if none remain.
func (s *CredentialStore) NextActive(ctx context.Context) (*domain.ProviderCredential, error) {
	query := `
		SELECT id, api_key, is_active, deactivated_at, created_at
		FROM provider_credentials
		WHERE is_active
		ORDER BY id ASC
		LIMIT 1
	`

	var c domain.ProviderCredential
	err := s.pool.QueryRow(ctx, query).Scan(&c.ID, &c.APIKey, &c.IsActive, &c.DeactivatedAt, &c.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get active provider credential: %w", err)
	}
	return &c, nil
}

// Deactivate marks a key inactive.
func (s *CredentialStore) Deactivate(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE provider_credentials
		SET is_active = FALSE, deactivated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate provider credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
