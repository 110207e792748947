package models

import "time"

// SyncConflict describes divergence between the payload captured at enqueue
// time and the remote state observed during a sync attempt. It only exists
// while an attempt is being reconciled.
type SyncConflict struct {
	EntityType      string    `json:"entity_type"`
	EntityID        string    `json:"entity_id"`
	LocalPayload    Payload   `json:"local_payload"`
	RemotePayload   Payload   `json:"remote_payload"`
	LocalTimestamp  time.Time `json:"local_timestamp"`
	RemoteTimestamp time.Time `json:"remote_timestamp"`
}

type Resolution string

const (
	ResolutionUseLocal  Resolution = "use_local"
	ResolutionUseServer Resolution = "use_server"
	ResolutionMerge     Resolution = "merge"
)
