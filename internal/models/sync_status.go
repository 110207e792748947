package models

import "time"

type SyncStatus struct {
	Online       bool       `json:"online"`
	IsSyncing    bool       `json:"is_syncing"`
	PendingCount int        `json:"pending_count"`
	FailedCount  int        `json:"failed_count"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
}
