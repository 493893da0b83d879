package domain

import "time"

// ProviderCredential is an API key for the ledger-query provider.
type ProviderCredential struct {
	ID            int64
	APIKey        string
	IsActive      bool
	DeactivatedAt *time.Time
	CreatedAt     time.Time
}
