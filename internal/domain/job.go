package domain

import "time"

// JobStatus is the state of an asynchronous refresh job.
type JobStatus string

// Job statuses
const (
	JobPending JobStatus = "pending"
	JobSuccess JobStatus = "success"
	JobFailure JobStatus = "failure"
)

// RefreshJob tracks an on-demand statistics refresh for one wallet.
type RefreshJob struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Status        JobStatus `json:"status"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
