package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

// ErrNoCredentials is returned when every provider API key has been deactivated.
var ErrNoCredentials = errors.New("no active provider credentials")

// CredentialPool hands out the active API key and rotates it on quota errors.
type CredentialPool struct {
	store  storage.CredentialStore
	logger *zerolog.Logger

	mu      sync.Mutex
	current *domain.ProviderCredential
}

// NewCredentialPool creates a pool backed by store.
func NewCredentialPool(store storage.CredentialStore, logger *zerolog.Logger) *CredentialPool {
	return &CredentialPool{store: store, logger: logging.OrGlobal(logger)}
}

// Current returns the active key, loading the oldest active one if needed.
func (p *CredentialPool) Current(ctx context.Context) (*domain.ProviderCredential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		return p.current, nil
	}
	return p.loadLocked(ctx)
}

// Rotate deactivates bad and loads the next active key.
// If bad was already rotated away by another caller the current key is returned.
func (p *CredentialPool) Rotate(ctx context.Context, bad *domain.ProviderCredential, cause error) (*domain.ProviderCredential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && bad != nil && p.current.ID != bad.ID {
		return p.current, nil
	}
	if bad != nil {
		if err := p.store.Deactivate(ctx, bad.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("deactivate credential %d: %w", bad.ID, err)
		}
		observability.RecordCredentialRotation()
		p.logger.Warn().
			Err(cause).
			Int64("credential_id", bad.ID).
			Msg("provider credential deactivated")
	}
	p.current = nil
	return p.loadLocked(ctx)
}

func (p *CredentialPool) loadLocked(ctx context.Context) (*domain.ProviderCredential, error) {
	cred, err := p.store.NextActive(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	p.current = cred
	p.logger.Info().Int64("credential_id", cred.ID).Msg("using provider credential")
	return cred, nil
}
