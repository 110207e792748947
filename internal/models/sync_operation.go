package models

import (
	"maps"
	"time"
)

type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

func (t OperationType) Valid() bool {
	switch t {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

type OperationStatus string

const (
	StatusPending OperationStatus = "pending"
	StatusSyncing OperationStatus = "syncing"
	StatusFailed  OperationStatus = "failed"
)

// Payload is the opaque structured body of a mutation.
type Payload map[string]any

// Clone returns a shallow copy. Nested values are shared.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// SyncOperation is one queued mutation destined for the remote API.
// Successful operations are removed from the queue, so there is no
// success status.
type SyncOperation struct {
	ID         string          `json:"id"`
	Type       OperationType   `json:"type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    Payload         `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	LastError  *string         `json:"last_error,omitempty"`
	Status     OperationStatus `json:"status"`
}

// EntityKey identifies the entity an operation targets.
func (o *SyncOperation) EntityKey() string {
	return o.EntityType + "/" + o.EntityID
}

// Clone returns a copy safe to hand out to callers.
func (o *SyncOperation) Clone() *SyncOperation {
	c := *o
	c.Payload = o.Payload.Clone()
	if o.LastError != nil {
		msg := *o.LastError
		c.LastError = &msg
	}
	return &c
}

// InFlightOrPending reports whether the operation still awaits remote
// application.
func (o *SyncOperation) InFlightOrPending() bool {
	return o.Status == StatusPending || o.Status == StatusSyncing
}
