package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/clock"
	"github.com/prudhvinik1/offlinesync/internal/conflict"
	"github.com/prudhvinik1/offlinesync/internal/connectivity"
	"github.com/prudhvinik1/offlinesync/internal/metrics"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/queue"
	"github.com/prudhvinik1/offlinesync/internal/retry"
	"github.com/prudhvinik1/offlinesync/internal/transport"
)

// What started a cycle.
const (
	TriggerManual    = "manual"
	TriggerEnqueue   = "enqueue"
	TriggerRetry     = "retry"
	TriggerReconnect = "reconnect"
	TriggerStart     = "start"
)

var (
	ErrEngineStopped     = errors.New("sync engine is stopped")
	ErrMissingDependency = errors.New("missing sync engine dependency")
)

// Connectivity is what the engine needs from the connectivity monitor.
type Connectivity interface {
	IsOnline() bool
	Subscribe(l connectivity.Listener)
}

type SyncEngineDeps struct {
	Queue    *queue.Queue
	Remote   transport.RemoteAPI
	Monitor  Connectivity
	Clock    clock.Clock
	Resolver conflict.Resolver
	Policy   retry.Policy
	// FailFastPermanent dead-letters operations rejected with a
	// PermanentError instead of retrying them.
	FailFastPermanent bool
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
}

// SyncResult summarises one cycle. Ran is false when the call was a no-op
// because a cycle was already running or the engine was offline. Deferred
// counts operations left for their own retry timer.
type SyncResult struct {
	Ran       bool `json:"ran"`
	Attempted int  `json:"attempted"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Requeued  int  `json:"requeued"`
	Deferred  int  `json:"deferred"`
	Conflicts int  `json:"conflicts"`
}

// SyncEngine drains the operation queue against the remote API. At most one
// cycle runs at a time; enqueues, retry timers and reconnects only request
// a cycle.
type SyncEngine struct {
	queue     *queue.Queue
	remote    transport.RemoteAPI
	monitor   Connectivity
	clock     clock.Clock
	resolver  conflict.Resolver
	policy    retry.Policy
	failFast  bool
	metrics   *metrics.Metrics
	logger    *slog.Logger
	scheduler *retry.Scheduler
	status    *StatusReporter

	baseCtx context.Context
	cancel  context.CancelFunc
	bg      sync.WaitGroup

	mu         sync.Mutex
	running    bool
	rerun      bool
	started    bool
	stopped    bool
	lastSyncAt *time.Time
	lastError  *string
}

func NewSyncEngine(deps SyncEngineDeps) (*SyncEngine, error) {
	if deps.Queue == nil || deps.Remote == nil || deps.Monitor == nil {
		return nil, fmt.Errorf("%w: queue, remote and monitor are required", ErrMissingDependency)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Resolver == nil {
		deps.Resolver = conflict.Default
	}
	if deps.Policy.MaxRetries == 0 && len(deps.Policy.Backoff) == 0 {
		deps.Policy = retry.DefaultPolicy()
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &SyncEngine{
		queue:     deps.Queue,
		remote:    deps.Remote,
		monitor:   deps.Monitor,
		clock:     deps.Clock,
		resolver:  deps.Resolver,
		policy:    deps.Policy,
		failFast:  deps.FailFastPermanent,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With("component", "sync_engine"),
		scheduler: retry.NewScheduler(deps.Clock),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	e.status = NewStatusReporter(e.computeStatus, deps.Metrics)
	return e, nil
}

// Start subscribes to connectivity transitions and requests a first cycle
// for whatever the queue loaded from storage.
func (e *SyncEngine) Start() {
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.monitor.Subscribe(e.onConnectivity)
	e.status.Refresh()
	if pending, _ := e.queue.Counts(); pending > 0 {
		e.trigger(TriggerStart)
	}
}

// Stop disarms retry timers, tells background cycles to stop after the
// operation in flight and waits for them to return. The engine cannot be
// restarted.
func (e *SyncEngine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.scheduler.CancelAll()
	e.cancel()
	e.bg.Wait()
}

// Wait blocks until every background cycle started so far has finished.
func (e *SyncEngine) Wait() {
	e.bg.Wait()
}

// Enqueue records a mutation and, when online, requests a cycle.
func (e *SyncEngine) Enqueue(ctx context.Context, typ models.OperationType, entityType, entityID string, payload models.Payload) (string, error) {
	if e.isStopped() {
		return "", ErrEngineStopped
	}
	id, err := e.queue.Enqueue(ctx, typ, entityType, entityID, payload)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue operation: %w", err)
	}
	e.logger.Debug("operation enqueued", "op_id", id, "type", typ, "entity", entityType+"/"+entityID)
	e.status.Refresh()

	if e.monitor.IsOnline() {
		e.trigger(TriggerEnqueue)
	}
	return id, nil
}

// Sync runs a cycle in the caller's goroutine. It is a no-op when a cycle
// is already running or the remote is unreachable.
func (e *SyncEngine) Sync(ctx context.Context) (SyncResult, error) {
	if e.isStopped() {
		return SyncResult{}, ErrEngineStopped
	}
	return e.runCycle(ctx, TriggerManual)
}

// RetryFailedOperations gives every dead-lettered operation a fresh retry
// budget and requests a cycle. It returns the ids now pending again.
func (e *SyncEngine) RetryFailedOperations(ctx context.Context) ([]string, error) {
	ids, err := e.queue.ResetFailed(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reset failed operations: %w", err)
	}
	e.logger.Info("failed operations reset", "count", len(ids))
	e.status.Refresh()

	if len(ids) > 0 && e.monitor.IsOnline() {
		e.trigger(TriggerRetry)
	}
	return ids, nil
}

// DiscardFailedOperations drops every dead-lettered operation.
func (e *SyncEngine) DiscardFailedOperations(ctx context.Context) (int, error) {
	n, err := e.queue.DiscardFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to discard failed operations: %w", err)
	}
	for i := 0; i < n; i++ {
		e.metrics.RecordOperation(metrics.OutcomeDiscarded)
	}
	e.logger.Info("failed operations discarded", "count", n)
	e.status.Refresh()
	return n, nil
}

// Remove drops one operation regardless of its status.
func (e *SyncEngine) Remove(ctx context.Context, id string) error {
	if err := e.queue.Remove(ctx, id); err != nil {
		return err
	}
	e.scheduler.Cancel(id)
	e.status.Refresh()
	return nil
}

// Clear empties the queue and disarms every retry timer.
func (e *SyncEngine) Clear(ctx context.Context) error {
	if err := e.queue.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	e.scheduler.CancelAll()
	e.status.Refresh()
	return nil
}

func (e *SyncEngine) GetStatus() models.SyncStatus {
	return e.status.Status()
}

func (e *SyncEngine) GetPendingOperations() []*models.SyncOperation {
	return e.queue.ListPending()
}

func (e *SyncEngine) GetFailedOperations() []*models.SyncOperation {
	return e.queue.ListFailed()
}

// SubscribeStatus registers fn for every status refresh. Call the returned
// function to unsubscribe.
func (e *SyncEngine) SubscribeStatus(fn func(models.SyncStatus)) func() {
	return e.status.Subscribe(fn)
}

// NextRetry reports when the retry timer of an operation fires.
func (e *SyncEngine) NextRetry(id string) (time.Time, bool) {
	return e.scheduler.Due(id)
}

func (e *SyncEngine) computeStatus() models.SyncStatus {
	pending, failed := e.queue.Counts()

	e.mu.Lock()
	defer e.mu.Unlock()

	status := models.SyncStatus{
		Online:       e.monitor.IsOnline(),
		IsSyncing:    e.running,
		PendingCount: pending,
		FailedCount:  failed,
	}
	if e.lastSyncAt != nil {
		at := *e.lastSyncAt
		status.LastSyncAt = &at
	}
	if e.lastError != nil {
		msg := *e.lastError
		status.LastError = &msg
	}
	return status
}

func (e *SyncEngine) onConnectivity(online bool) {
	e.status.Refresh()
	if online {
		e.trigger(TriggerReconnect)
	}
}

func (e *SyncEngine) onRetryDue(id string) {
	if !e.monitor.IsOnline() {
		e.logger.Debug("retry timer fired while offline", "op_id", id)
		return
	}
	e.trigger(TriggerRetry)
}

// trigger starts a background cycle. If one is already running it asks
// that cycle to run once more when it finishes, so no request is lost.
func (e *SyncEngine) trigger(reason string) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	if e.running {
		e.rerun = true
		e.mu.Unlock()
		return
	}
	e.bg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.bg.Done()
		if _, err := e.runCycle(e.baseCtx, reason); err != nil {
			e.logger.Error("background sync cycle failed", "trigger", reason, "error", err)
		}
	}()
}

func (e *SyncEngine) runCycle(ctx context.Context, trigger string) (SyncResult, error) {
	e.mu.Lock()
	if e.running {
		if trigger != TriggerManual {
			e.rerun = true
		}
		e.mu.Unlock()
		return SyncResult{}, nil
	}
	if !e.monitor.IsOnline() {
		e.mu.Unlock()
		return SyncResult{}, nil
	}
	e.running = true
	e.mu.Unlock()

	e.status.Refresh()
	started := e.clock.Now()
	result, lastFailure, err := e.cycle(ctx, trigger)
	finished := e.clock.Now()

	e.mu.Lock()
	e.running = false
	e.lastSyncAt = &finished
	switch {
	case err != nil:
		msg := err.Error()
		e.lastError = &msg
	case lastFailure != "":
		e.lastError = &lastFailure
	case result.Deferred > 0:
		// Operations still backing off keep the last error visible.
	default:
		e.lastError = nil
	}
	again := e.rerun && !e.stopped
	e.rerun = false
	if again {
		e.bg.Add(1)
	}
	e.mu.Unlock()

	e.metrics.RecordCycle(trigger, finished.Sub(started))
	e.logger.Info("sync cycle finished",
		"trigger", trigger,
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"requeued", result.Requeued,
		"deferred", result.Deferred,
		"conflicts", result.Conflicts,
	)
	e.status.Refresh()

	if again {
		go func() {
			defer e.bg.Done()
			if _, err := e.runCycle(e.baseCtx, TriggerRetry); err != nil {
				e.logger.Error("background sync cycle failed", "trigger", TriggerRetry, "error", err)
			}
		}()
	}
	return result, err
}

// cycle walks a snapshot of the pending operations in enqueue order.
// Cancelling ctx stops the cycle between operations only: remote calls and
// queue bookkeeping run on a context that outlives cancellation, so a call
// the remote may already have applied is never cut short. Operations whose
// retry timer has not fired yet are skipped unless the cycle was asked for
// explicitly or follows a reconnect.
func (e *SyncEngine) cycle(ctx context.Context, trigger string) (SyncResult, string, error) {
	result := SyncResult{Ran: true}
	book := context.WithoutCancel(ctx)
	honourBackoff := trigger != TriggerManual && trigger != TriggerReconnect
	var lastFailure string

	if err := e.recoverStray(book); err != nil {
		return result, "", err
	}

	for _, snap := range e.queue.SnapshotPending() {
		if ctx.Err() != nil || !e.monitor.IsOnline() {
			break
		}
		if honourBackoff {
			if due, ok := e.scheduler.Due(snap.ID); ok && due.After(e.clock.Now()) {
				result.Deferred++
				continue
			}
		}

		op, err := e.queue.MarkSyncing(book, snap.ID)
		if errors.Is(err, queue.ErrNotFound) || errors.Is(err, queue.ErrUnexpectedStatus) {
			// Removed or replaced since the snapshot was taken.
			continue
		}
		if err != nil {
			return result, lastFailure, fmt.Errorf("failed to mark operation syncing: %w", err)
		}
		e.scheduler.Cancel(op.ID)
		result.Attempted++

		conflicted, attemptErr := e.attempt(book, op)
		if conflicted {
			result.Conflicts++
		}
		if attemptErr == nil {
			if err := e.queue.Complete(book, op.ID); err != nil && !errors.Is(err, queue.ErrNotFound) {
				return result, lastFailure, fmt.Errorf("failed to complete operation: %w", err)
			}
			result.Succeeded++
			e.metrics.RecordOperation(metrics.OutcomeSucceeded)
			continue
		}

		if !e.monitor.IsOnline() {
			if err := e.queue.Requeue(book, op.ID); err != nil && !errors.Is(err, queue.ErrNotFound) {
				return result, lastFailure, fmt.Errorf("failed to requeue operation: %w", err)
			}
			result.Requeued++
			e.metrics.RecordOperation(metrics.OutcomeRequeued)
			e.logger.Info("attempt failed while going offline, operation requeued", "op_id", op.ID, "error", attemptErr)
			continue
		}

		result.Failed++
		lastFailure = attemptErr.Error()
		if err := e.recordFailure(book, op, attemptErr); err != nil {
			return result, lastFailure, err
		}
	}
	return result, lastFailure, nil
}

// recoverStray returns operations left syncing by an aborted cycle to
// pending. Only one cycle runs at a time, so any syncing operation seen
// here is stray.
func (e *SyncEngine) recoverStray(ctx context.Context) error {
	for _, op := range e.queue.ListPending() {
		if op.Status != models.StatusSyncing {
			continue
		}
		if err := e.queue.Requeue(ctx, op.ID); err != nil && !errors.Is(err, queue.ErrNotFound) {
			return fmt.Errorf("failed to recover stray operation: %w", err)
		}
	}
	return nil
}

func (e *SyncEngine) recordFailure(ctx context.Context, op *models.SyncOperation, cause error) error {
	terminal := e.failFast && transport.IsPermanent(cause)
	updated, superseded, err := e.queue.RecordFailure(ctx, op.ID, cause.Error(), e.policy.MaxRetries, terminal)
	if errors.Is(err, queue.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}

	switch {
	case updated.Status == models.StatusFailed:
		e.metrics.RecordOperation(metrics.OutcomeFailed)
		e.logger.Warn("operation dead-lettered",
			"op_id", updated.ID,
			"entity", updated.EntityKey(),
			"retry_count", updated.RetryCount,
			"error", cause,
		)
	case superseded:
		e.metrics.RecordOperation(metrics.OutcomeRetrying)
		e.logger.Info("failed operation superseded by a newer enqueue", "op_id", updated.ID, "entity", updated.EntityKey())
	default:
		e.metrics.RecordOperation(metrics.OutcomeRetrying)
		id := updated.ID
		due := e.scheduler.Arm(id, e.policy.Delay(updated.RetryCount), func() { e.onRetryDue(id) })
		e.logger.Info("operation attempt failed, retry scheduled",
			"op_id", id,
			"retry_count", updated.RetryCount,
			"next_retry", due,
			"error", cause,
		)
	}
	return nil
}

// attempt applies one operation remotely. Updates and deletes first look at
// the remote copy: a copy changed after the operation was captured is a
// conflict and goes to the resolver. A conflict reported by the push itself
// is resolved once; a second one fails the attempt.
func (e *SyncEngine) attempt(ctx context.Context, op *models.SyncOperation) (conflicted bool, err error) {
	if op.Type != models.OperationCreate {
		remote, err := e.remote.Fetch(ctx, op.EntityType, op.EntityID)
		switch {
		case errors.Is(err, transport.ErrNotFound):
			if op.Type == models.OperationDelete {
				return false, nil
			}
		case err != nil:
			return false, fmt.Errorf("failed to fetch remote state: %w", err)
		case remote.UpdatedAt.After(op.EnqueuedAt):
			push, err := e.resolve(ctx, op, remote)
			if err != nil || !push {
				return true, err
			}
			return true, e.push(ctx, op)
		}
	}

	err = e.push(ctx, op)
	c, ok := transport.AsConflict(err)
	if !ok {
		return false, err
	}

	remote := c.Remote
	if remote == nil {
		remote, err = e.remote.Fetch(ctx, op.EntityType, op.EntityID)
		if err != nil {
			return true, c
		}
	}
	push, err := e.resolve(ctx, op, remote)
	if err != nil || !push {
		return true, err
	}
	return true, e.push(ctx, op)
}

// resolve asks the resolver what to do and reports whether op must still be
// pushed. A merge rewrites op's payload in place and in the queue.
func (e *SyncEngine) resolve(ctx context.Context, op *models.SyncOperation, remote *transport.RemoteState) (bool, error) {
	resolution := e.resolver(models.SyncConflict{
		EntityType:      op.EntityType,
		EntityID:        op.EntityID,
		LocalPayload:    op.Payload.Clone(),
		RemotePayload:   remote.Payload.Clone(),
		LocalTimestamp:  op.EnqueuedAt,
		RemoteTimestamp: remote.UpdatedAt,
	})
	e.metrics.RecordConflict(string(resolution))
	e.logger.Info("conflict resolved",
		"op_id", op.ID,
		"entity", op.EntityKey(),
		"resolution", resolution,
		"local_at", op.EnqueuedAt,
		"remote_at", remote.UpdatedAt,
	)

	switch resolution {
	case models.ResolutionUseServer:
		return false, nil
	case models.ResolutionUseLocal:
		return true, nil
	case models.ResolutionMerge:
		if op.Type == models.OperationDelete {
			return true, nil
		}
		merged := conflict.Merge(op.Payload, remote.Payload)
		if err := e.queue.Rebase(context.WithoutCancel(ctx), op.ID, merged); err != nil {
			return false, fmt.Errorf("failed to rebase merged payload: %w", err)
		}
		op.Payload = merged
		return true, nil
	}
	return false, &transport.PermanentError{Op: "resolve", Message: fmt.Sprintf("unknown resolution %q", resolution)}
}

func (e *SyncEngine) push(ctx context.Context, op *models.SyncOperation) error {
	switch op.Type {
	case models.OperationCreate:
		_, err := e.remote.Create(ctx, op.EntityType, op.EntityID, op.Payload)
		return err
	case models.OperationUpdate:
		_, err := e.remote.Update(ctx, op.EntityType, op.EntityID, op.Payload)
		return err
	case models.OperationDelete:
		return e.remote.Delete(ctx, op.EntityType, op.EntityID)
	}
	return &transport.PermanentError{Op: "push", Message: fmt.Sprintf("unknown operation type %q", op.Type)}
}

func (e *SyncEngine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}
