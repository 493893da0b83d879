package domain

import "time"

// Wallet represents a trading wallet.
// Corresponds to wallets table in PostgreSQL.
type Wallet struct {
	ID             int64      `json:"id"`
	Address        string     `json:"address"`                 // UNIQUE
	IsBot          bool       `json:"is_bot"`                  // set by the statistics recalculator
	IsScammer      bool       `json:"is_scammer"`              // set by the statistics recalculator
	LastActivity   *time.Time `json:"last_activity_timestamp"` // latest swap timestamp seen
	LastStatsCheck *time.Time `json:"last_stats_check"`        // last recompute time (nil = never)
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// WalletFlags is the recalculator's write-back for one wallet.
type WalletFlags struct {
	WalletID       int64
	Address        string
	IsBot          bool
	IsScammer      bool
	LastStatsCheck time.Time
}
