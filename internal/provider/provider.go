// Package provider queries the external ledger-analytics service for raw swap rows.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
)

// Provider errors. Both make the caller rotate its API key.
var (
	// ErrQuotaExceeded is returned when the key has no credits left (HTTP 402).
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrQueryCancelled is returned when the provider cancelled the query run.
	ErrQueryCancelled = errors.New("provider query cancelled")
)

// IsCredentialError reports whether err should deactivate the API key in use.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrQueryCancelled)
}

// Query selects one page of swaps with block_timestamp in [Start, End).
type Query struct {
	Start  time.Time
	End    time.Time
	Offset int
	Limit  int
}

// Client fetches raw swaps. Rows are ordered by the provider's row id so
// offset pagination is stable.
type Client interface {
	FetchSwaps(ctx context.Context, apiKey string, q Query) ([]*domain.RawSwap, error)
}
