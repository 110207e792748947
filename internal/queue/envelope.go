package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prudhvinik1/offlinesync/internal/models"
)

const (
	// SnapshotVersion is the layout of the persisted queue document.
	SnapshotVersion = 1
	// PayloadSchemaVersion is the layout of each wrapped payload.
	PayloadSchemaVersion = 1
)

var (
	ErrUnsupportedVersion = errors.New("unsupported queue snapshot version")
	ErrCorruptSnapshot    = errors.New("corrupt queue snapshot")
)

var snapshotValidate = validator.New()

type snapshot struct {
	Version    int               `json:"version" validate:"required"`
	SavedAt    time.Time         `json:"saved_at"`
	Operations []operationRecord `json:"operations" validate:"dive"`
}

type operationRecord struct {
	ID         string          `json:"id" validate:"required,uuid"`
	Type       string          `json:"type" validate:"required,oneof=create update delete"`
	EntityType string          `json:"entity_type" validate:"required"`
	EntityID   string          `json:"entity_id" validate:"required"`
	Payload    payloadEnvelope `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count" validate:"gte=0"`
	LastError  *string         `json:"last_error,omitempty"`
	Status     string          `json:"status" validate:"required,oneof=pending syncing failed"`
}

// payloadEnvelope wraps the opaque payload so a reader can tell which
// layout and entity type it was written for.
type payloadEnvelope struct {
	SchemaVersion int             `json:"schema_version" validate:"required"`
	EntityType    string          `json:"entity_type" validate:"required"`
	Data          json.RawMessage `json:"data"`
}

func encodeSnapshot(ops []*models.SyncOperation, savedAt time.Time) ([]byte, error) {
	snap := snapshot{
		Version:    SnapshotVersion,
		SavedAt:    savedAt.UTC(),
		Operations: make([]operationRecord, 0, len(ops)),
	}

	for _, op := range ops {
		data, err := json.Marshal(op.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload of operation %s: %w", op.ID, err)
		}
		snap.Operations = append(snap.Operations, operationRecord{
			ID:         op.ID,
			Type:       string(op.Type),
			EntityType: op.EntityType,
			EntityID:   op.EntityID,
			Payload: payloadEnvelope{
				SchemaVersion: PayloadSchemaVersion,
				EntityType:    op.EntityType,
				Data:          data,
			},
			EnqueuedAt: op.EnqueuedAt.UTC(),
			RetryCount: op.RetryCount,
			LastError:  op.LastError,
			Status:     string(op.Status),
		})
	}

	return json.Marshal(snap)
}

func decodeSnapshot(data []byte) ([]*models.SyncOperation, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, snap.Version, SnapshotVersion)
	}
	if err := snapshotValidate.Struct(snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	ops := make([]*models.SyncOperation, 0, len(snap.Operations))
	seen := make(map[string]struct{}, len(snap.Operations))
	for _, rec := range snap.Operations {
		if _, dup := seen[rec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate operation id %s", ErrCorruptSnapshot, rec.ID)
		}
		seen[rec.ID] = struct{}{}

		payload, err := decodePayload(rec)
		if err != nil {
			return nil, err
		}
		if rec.EnqueuedAt.IsZero() {
			return nil, fmt.Errorf("%w: operation %s has no enqueued_at", ErrCorruptSnapshot, rec.ID)
		}

		ops = append(ops, &models.SyncOperation{
			ID:         rec.ID,
			Type:       models.OperationType(rec.Type),
			EntityType: rec.EntityType,
			EntityID:   rec.EntityID,
			Payload:    payload,
			EnqueuedAt: rec.EnqueuedAt,
			RetryCount: rec.RetryCount,
			LastError:  rec.LastError,
			Status:     models.OperationStatus(rec.Status),
		})
	}
	return ops, nil
}

func decodePayload(rec operationRecord) (models.Payload, error) {
	env := rec.Payload
	if env.SchemaVersion != PayloadSchemaVersion {
		return nil, fmt.Errorf("%w: payload of operation %s has schema version %d, want %d",
			ErrUnsupportedVersion, rec.ID, env.SchemaVersion, PayloadSchemaVersion)
	}
	if env.EntityType != rec.EntityType {
		return nil, fmt.Errorf("%w: payload of operation %s was written for %q, operation targets %q",
			ErrCorruptSnapshot, rec.ID, env.EntityType, rec.EntityType)
	}

	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil, nil
	}
	// Numbers stay json.Number so integers beyond float64 precision survive.
	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.UseNumber()
	var payload models.Payload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: payload of operation %s: %v", ErrCorruptSnapshot, rec.ID, err)
	}
	return payload, nil
}
