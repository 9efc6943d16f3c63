package domain

import "time"

// SyncTarget tracks the synchronization health of one remote repository.
// The healing engine scans targets for stale syncs, repeated errors and
// accumulated drift.
type SyncTarget struct {
	Name                string     `json:"name"       db:"name"`
	RepoURL             string     `json:"repo_url"   db:"repo_url"`
	LastSyncedAt        *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	LastError           string     `json:"last_error,omitempty"     db:"last_error"`
	ConsecutiveFailures int        `json:"consecutive_failures"     db:"consecutive_failures"`
	DriftScore          float64    `json:"drift_score"              db:"drift_score"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}
