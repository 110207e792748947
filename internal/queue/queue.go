// Package queue holds the durable, ordered collection of pending mutations.
//
// Every mutation is applied to a copy of the queue, persisted as one
// snapshot under a single store key, and only then made visible. A failed
// write leaves the in-memory queue untouched, so memory and storage never
// disagree about which operations exist.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/clock"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
)

// DefaultKey is the store key holding the queue snapshot.
const DefaultKey = "sync_queue"

var (
	ErrNotFound         = errors.New("operation not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrUnexpectedStatus = errors.New("operation is not in the expected status")
)

type Option func(*Queue)

func WithKey(key string) Option {
	return func(q *Queue) { q.key = key }
}

func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

type Queue struct {
	mu    sync.Mutex
	store repositories.PersistentStore
	key   string
	clock clock.Clock
	ops   []*models.SyncOperation
}

// Open loads the queue from store. Operations left in the syncing state by
// a crash are returned to pending: the remote call may or may not have
// landed, and delivery is at-least-once. A recovered operation that now
// shares its entity with a newer pending one is coalesced into it.
func Open(ctx context.Context, store repositories.PersistentStore, opts ...Option) (*Queue, error) {
	q := &Queue{
		store: store,
		key:   DefaultKey,
		clock: clock.Real(),
	}
	for _, opt := range opts {
		opt(q)
	}

	data, err := store.Get(ctx, q.key)
	if errors.Is(err, repositories.ErrNotFound) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	ops, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	recovered := make(map[string]struct{})
	for _, op := range ops {
		if op.Status == models.StatusSyncing {
			op.Status = models.StatusPending
			recovered[op.EntityKey()] = struct{}{}
		}
	}
	for key := range recovered {
		ops = dedupePending(ops, key)
	}
	q.ops = ops
	return q, nil
}

// Enqueue records a mutation intent. If the entity already has a pending
// operation it is replaced: the new operation gets a fresh id and moves to
// the tail, and the old payload is discarded. A pending create stays a
// create when replaced by an update, since the entity does not exist
// remotely yet.
func (q *Queue) Enqueue(ctx context.Context, typ models.OperationType, entityType, entityID string, payload models.Payload) (string, error) {
	if !typ.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, typ)
	}
	if entityType == "" || entityID == "" {
		return "", fmt.Errorf("%w: entity type and id are required", ErrInvalidOperation)
	}

	id := uuid.NewString()
	err := q.mutate(ctx, func(ops []*models.SyncOperation) ([]*models.SyncOperation, error) {
		op := &models.SyncOperation{
			ID:         id,
			Type:       typ,
			EntityType: entityType,
			EntityID:   entityID,
			Payload:    payload.Clone(),
			EnqueuedAt: q.clock.Now(),
			Status:     models.StatusPending,
		}
		return dedupePending(append(ops, op), op.EntityKey()), nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.mutate(ctx, func(ops []*models.SyncOperation) ([]*models.SyncOperation, error) {
		i := indexOf(ops, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		return append(ops[:i], ops[i+1:]...), nil
	})
}

func (q *Queue) Clear(ctx context.Context) error {
	return q.mutate(ctx, func([]*models.SyncOperation) ([]*models.SyncOperation, error) {
		return nil, nil
	})
}

// ListPending returns operations not yet applied remotely, including the
// one currently in flight, in enqueue order.
func (q *Queue) ListPending() []*models.SyncOperation {
	return q.list(func(op *models.SyncOperation) bool { return op.InFlightOrPending() })
}

func (q *Queue) ListFailed() []*models.SyncOperation {
	return q.list(func(op *models.SyncOperation) bool { return op.Status == models.StatusFailed })
}

// SnapshotPending returns only operations waiting for an attempt, in
// enqueue order.
func (q *Queue) SnapshotPending() []*models.SyncOperation {
	return q.list(func(op *models.SyncOperation) bool { return op.Status == models.StatusPending })
}

func (q *Queue) Get(id string) (*models.SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := indexOf(q.ops, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	return q.ops[i].Clone(), nil
}

// Counts returns the number of pending (including in-flight) and failed
// operations.
func (q *Queue) Counts() (pending, failed int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		switch {
		case op.InFlightOrPending():
			pending++
		case op.Status == models.StatusFailed:
			failed++
		}
	}
	return pending, failed
}

// MarkSyncing moves a pending operation to syncing.
func (q *Queue) MarkSyncing(ctx context.Context, id string) (*models.SyncOperation, error) {
	var marked *models.SyncOperation
	err := q.mutate(ctx, func(ops []*models.SyncOperation) ([]*models.SyncOperation, error) {
		op, err := find(ops, id, models.StatusPending)
		if err != nil {
			return nil, err
		}
		op.Status = models.StatusSyncing
		marked = op.Clone()
		return ops, nil
	})
	return marked, err
}

// Complete removes an operation that was applied remotely.
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.Remove(ctx, id)
}

// Requeue returns a syncing operation to pending without consuming a
// retry. Used when the attempt was cut short by losing connectivity.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	return q.mutate(ctx, func(ops []*models.SyncOperation) ([]*models.SyncOperation, error) {
		op, err := find(ops, id, models.StatusSyncing)
		if err != nil {
			return nil, err
		}
		op.Status = models.StatusPending
		return dedupePending(ops, op.EntityKey()), nil
	})
}

// RecordFailure counts a failed attempt. The operation returns to pending
// unless terminal is set or the retry budget is spent, in which case it is
// dead-lettered as failed. superseded reports that a newer pending
// operation for the same entity replaced it while it was in flight.
func (q *Queue) RecordFailure(ctx context.Context, id, message string, maxRetries int, terminal bool) (op *models.SyncOperation, superseded bool, err error) {
	err = q.mutate(ctx, func(ops []*models.SyncOperation) ([]*models.SyncOperation, error) {
		target, err := find(ops, id, models.StatusSyncing)
		if err != nil {
			return nil, err
		}
		target.RetryCount++
		target.LastError = &message
		if terminal || target.RetryCount >= maxRetries {
			target.Status = models.StatusFailed
		} else {
			target.Status = models.StatusPending
			ops = dedupePending(ops, target.EntityKey())
			superseded = indexOf(ops, id) < 0
		}
		op = target.Clone()
		return ops, nil
	})
	if err != nil {
		return nil, false, err
	}
	return op, superseded, nil
}

// Rebase replaces the payload and capture time of an operation after a
// conflict was resolved in favour of a merged or local payload.
func (q *Queue) Rebase(ctx context.Context, id string, payload models.Payload) error {
	return q.mutate(ctx, func(ops []*models.SyncOperation) ([]*models.SyncOperation, error) {
		i := indexOf(ops, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		ops[i].Payload = payload.Clone()
		ops[i].EnqueuedAt = q.clock.Now()
		return ops, nil
	})
}

// ResetFailed returns every failed operation to pending with a fresh retry
// budget. A failed operation is dropped instead when a newer pending
// operation exists for the same entity.
func (q *Queue) ResetFailed(ctx context.Context) ([]string, error) {
	var reset []string
	err := q.mutate(ctx, func(ops []*models.SyncOperation) ([]*models.SyncOperation, error) {
		reset = reset[:0]
		touched := make(map[string]struct{})
		for _, op := range ops {
			if op.Status != models.StatusFailed {
				continue
			}
			op.Status = models.StatusPending
			op.RetryCount = 0
			op.LastError = nil
			touched[op.EntityKey()] = struct{}{}
		}
		for key := range touched {
			ops = dedupePending(ops, key)
		}
		for _, op := range ops {
			if _, ok := touched[op.EntityKey()]; ok && op.Status == models.StatusPending {
				reset = append(reset, op.ID)
			}
		}
		return ops, nil
	})
	if err != nil {
		return nil, err
	}
	return reset, nil
}

// DiscardFailed purges dead-lettered operations and returns how many were
// dropped.
func (q *Queue) DiscardFailed(ctx context.Context) (int, error) {
	var discarded int
	err := q.mutate(ctx, func(ops []*models.SyncOperation) ([]*models.SyncOperation, error) {
		discarded = 0
		kept := ops[:0]
		for _, op := range ops {
			if op.Status == models.StatusFailed {
				discarded++
				continue
			}
			kept = append(kept, op)
		}
		return kept, nil
	})
	return discarded, err
}

func (q *Queue) mutate(ctx context.Context, fn func([]*models.SyncOperation) ([]*models.SyncOperation, error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	next, err := fn(cloneAll(q.ops))
	if err != nil {
		return err
	}

	data, err := encodeSnapshot(next, q.clock.Now())
	if err != nil {
		return err
	}
	if err := q.store.Set(ctx, q.key, data); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}

	q.ops = next
	return nil
}

func (q *Queue) list(keep func(*models.SyncOperation) bool) []*models.SyncOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*models.SyncOperation, 0, len(q.ops))
	for _, op := range q.ops {
		if keep(op) {
			out = append(out, op.Clone())
		}
	}
	return out
}

func cloneAll(ops []*models.SyncOperation) []*models.SyncOperation {
	out := make([]*models.SyncOperation, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}

func indexOf(ops []*models.SyncOperation, id string) int {
	for i, op := range ops {
		if op.ID == id {
			return i
		}
	}
	return -1
}

func find(ops []*models.SyncOperation, id string, status models.OperationStatus) (*models.SyncOperation, error) {
	i := indexOf(ops, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	if ops[i].Status != status {
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrUnexpectedStatus, id, ops[i].Status, status)
	}
	return ops[i], nil
}

// dedupePending keeps only the newest pending operation for an entity. An
// update that replaces a create stays a create, since the entity may not
// exist remotely yet.
func dedupePending(ops []*models.SyncOperation, entityKey string) []*models.SyncOperation {
	last := -1
	for i, op := range ops {
		if op.Status == models.StatusPending && op.EntityKey() == entityKey {
			last = i
		}
	}
	if last < 0 {
		return ops
	}

	survivor := ops[last]
	kept := ops[:0]
	for i, op := range ops {
		if i != last && op.Status == models.StatusPending && op.EntityKey() == entityKey {
			if op.Type == models.OperationCreate && survivor.Type == models.OperationUpdate {
				survivor.Type = models.OperationCreate
			}
			continue
		}
		kept = append(kept, op)
	}
	return kept
}
