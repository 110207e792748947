package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/clock"
	"github.com/prudhvinik1/offlinesync/internal/conflict"
	"github.com/prudhvinik1/offlinesync/internal/connectivity"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/queue"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
	"github.com/prudhvinik1/offlinesync/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var errUnreachable = &transport.TransientError{Op: "create", Err: errors.New("connection refused")}

// TestSyncEngine_CoalescesPendingPerEntity: a second enqueue for an entity
// that is still pending leaves one operation with the latest payload.
func TestSyncEngine_CoalescesPendingPerEntity(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.engine.Enqueue(ctx, models.OperationUpdate, "order", "X", models.Payload{"stage": "quote"})
	require.NoError(t, err)
	id, err := h.engine.Enqueue(ctx, models.OperationUpdate, "order", "X", models.Payload{"stage": "won"})
	require.NoError(t, err)

	pending := h.engine.GetPendingOperations()
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, "won", pending[0].Payload["stage"])
}

// TestSyncEngine_BackoffAfterConsecutiveFailures: two remote failures leave
// the create pending with retryCount 2, and the retry timers are armed at
// 1s and then 5s.
func TestSyncEngine_BackoffAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t, true)
	h.remote.failNext(errUnreachable, errUnreachable)
	ctx := context.Background()

	// ACT - enqueue triggers the first attempt
	id, err := h.engine.Enqueue(ctx, models.OperationCreate, "order", "X", models.Payload{"title": "Pump"})
	require.NoError(t, err)
	h.engine.Wait()

	// ASSERT
	op := h.pendingOp(t, id)
	assert.Equal(t, 1, op.RetryCount)
	due, ok := h.engine.NextRetry(id)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(1*time.Second), due)

	// ACT - first backoff elapses
	h.clock.Advance(1 * time.Second)
	h.engine.Wait()

	// ASSERT
	op = h.pendingOp(t, id)
	assert.Equal(t, 2, op.RetryCount)
	assert.Equal(t, models.StatusPending, op.Status)
	require.NotNil(t, op.LastError)
	assert.Contains(t, *op.LastError, "connection refused")
	due, ok = h.engine.NextRetry(id)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(6*time.Second), due)
	assert.Equal(t, 2, h.remote.count("create order/X"))
}

// TestSyncEngine_ExhaustedOperationsAreDeadLettered: once retryCount
// reaches the budget the operation is failed and never attempted again
// until it is retried explicitly. Discard empties the queue.
func TestSyncEngine_ExhaustedOperationsAreDeadLettered(t *testing.T) {
	h := newHarness(t, true)
	h.remote.failAlways(errUnreachable)
	ctx := context.Background()

	id := h.driveToFailed(t, "X")

	failed := h.engine.GetFailedOperations()
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].ID)
	assert.Equal(t, 5, failed[0].RetryCount)
	assert.Empty(t, h.engine.GetPendingOperations())
	_, armed := h.engine.NextRetry(id)
	assert.False(t, armed)

	calls := h.remote.count("create order/X")
	res, err := h.engine.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Ran)
	assert.Zero(t, res.Attempted)
	h.clock.Advance(time.Hour)
	h.engine.Wait()
	assert.Equal(t, calls, h.remote.count("create order/X"))

	n, err := h.engine.DiscardFailedOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.engine.GetFailedOperations())
	assert.Empty(t, h.engine.GetPendingOperations())
}

func TestSyncEngine_RetryFailedTriggersAttempt(t *testing.T) {
	h := newHarness(t, true)
	h.remote.failAlways(errUnreachable)
	ctx := context.Background()

	id := h.driveToFailed(t, "Y")
	h.remote.failAlways(nil)

	ids, err := h.engine.RetryFailedOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
	h.engine.Wait()

	assert.Empty(t, h.engine.GetPendingOperations())
	assert.Empty(t, h.engine.GetFailedOperations())
	assert.Equal(t, 6, h.remote.count("create order/Y"))
}

func TestSyncEngine_RetryFailedResetsBudget(t *testing.T) {
	h := newHarness(t, true)
	h.remote.failAlways(errUnreachable)
	ctx := context.Background()

	id := h.driveToFailed(t, "Z")
	h.engine.Start()
	h.source.SetOnline(false)

	_, err := h.engine.RetryFailedOperations(ctx)
	require.NoError(t, err)

	op := h.pendingOp(t, id)
	assert.Equal(t, 0, op.RetryCount)
	assert.Equal(t, models.StatusPending, op.Status)
	assert.Nil(t, op.LastError)

	// Reconnecting picks the operation up.
	h.remote.failAlways(nil)
	h.source.SetOnline(true)
	h.engine.Wait()
	assert.Empty(t, h.engine.GetPendingOperations())
}

// TestSyncEngine_SyncWhileRunningIsNoop holds a cycle inside the remote call
// and checks a second Sync returns without starting another cycle.
func TestSyncEngine_SyncWhileRunningIsNoop(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_, err := h.engine.Enqueue(ctx, models.OperationCreate, "order", "X", models.Payload{})
	require.NoError(t, err)
	h.source.SetOnline(true)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.remote.setBefore(func(call string) error {
		close(entered)
		<-release
		return nil
	})

	first := make(chan SyncResult)
	go func() {
		res, _ := h.engine.Sync(ctx)
		first <- res
	}()
	<-entered

	res, err := h.engine.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Ran)
	assert.True(t, h.engine.GetStatus().IsSyncing)

	close(release)
	res = <-first
	assert.True(t, res.Ran)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, h.remote.count("create order/X"))
	assert.False(t, h.engine.GetStatus().IsSyncing)
}

func TestSyncEngine_SyncOfflineIsNoop(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_, err := h.engine.Enqueue(ctx, models.OperationCreate, "order", "X", models.Payload{})
	require.NoError(t, err)

	res, err := h.engine.Sync(ctx)

	require.NoError(t, err)
	assert.False(t, res.Ran)
	assert.Zero(t, h.remote.total())
	assert.Nil(t, h.engine.GetStatus().LastSyncAt)
}

// TestSyncEngine_OfflineMidCycleLeavesRemainderUntouched: three operations
// start a cycle and connectivity drops after the first completes.
func TestSyncEngine_OfflineMidCycleLeavesRemainderUntouched(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		_, err := h.engine.Enqueue(ctx, models.OperationCreate, "order", id, models.Payload{"id": id})
		require.NoError(t, err)
	}
	h.source.SetOnline(true)
	h.remote.setAfter(func(call string) {
		if call == "create order/A" {
			h.source.SetOnline(false)
		}
	})

	res, err := h.engine.Sync(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Zero(t, res.Failed)

	pending := h.engine.GetPendingOperations()
	require.Len(t, pending, 2)
	for _, op := range pending {
		assert.Equal(t, models.StatusPending, op.Status)
		assert.Zero(t, op.RetryCount)
		assert.Nil(t, op.LastError)
	}
	assert.Equal(t, "B", pending[0].EntityID)
	assert.Equal(t, "C", pending[1].EntityID)
	assert.Empty(t, h.engine.GetFailedOperations())
}

func TestSyncEngine_FailureWhileGoingOfflineKeepsRetryBudget(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	id, err := h.engine.Enqueue(ctx, models.OperationCreate, "order", "A", models.Payload{})
	require.NoError(t, err)
	h.source.SetOnline(true)
	h.remote.setBefore(func(call string) error {
		h.source.SetOnline(false)
		return errUnreachable
	})

	res, err := h.engine.Sync(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)
	assert.Zero(t, res.Failed)
	op := h.pendingOp(t, id)
	assert.Zero(t, op.RetryCount)
	_, armed := h.engine.NextRetry(id)
	assert.False(t, armed)
}

func TestSyncEngine_OneFailureDoesNotAbortCycle(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		_, err := h.engine.Enqueue(ctx, models.OperationCreate, "order", id, models.Payload{})
		require.NoError(t, err)
	}
	h.source.SetOnline(true)
	h.remote.setBefore(func(call string) error {
		if call == "create order/B" {
			return errUnreachable
		}
		return nil
	})

	res, err := h.engine.Sync(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	pending := h.engine.GetPendingOperations()
	require.Len(t, pending, 1)
	assert.Equal(t, "B", pending[0].EntityID)
	assert.Equal(t, 1, pending[0].RetryCount)
}

func TestSyncEngine_RetryTimerSkippedWhileOffline(t *testing.T) {
	h := newHarness(t, true)
	h.engine.Start()
	h.remote.failNext(errUnreachable)
	ctx := context.Background()

	_, err := h.engine.Enqueue(ctx, models.OperationCreate, "order", "X", models.Payload{})
	require.NoError(t, err)
	h.engine.Wait()
	require.Equal(t, 1, h.remote.count("create order/X"))

	h.source.SetOnline(false)
	h.clock.Advance(time.Minute)
	h.engine.Wait()
	assert.Equal(t, 1, h.remote.count("create order/X"))

	h.source.SetOnline(true)
	h.engine.Wait()
	assert.Equal(t, 2, h.remote.count("create order/X"))
	assert.Empty(t, h.engine.GetPendingOperations())
}

// TestSyncEngine_OtherTriggersWaitForBackoff: an enqueue for another entity
// does not re-attempt an operation whose retry timer is still armed.
func TestSyncEngine_OtherTriggersWaitForBackoff(t *testing.T) {
	h := newHarness(t, true)
	h.remote.failNext(errUnreachable)
	ctx := context.Background()

	x, err := h.engine.Enqueue(ctx, models.OperationCreate, "order", "X", models.Payload{})
	require.NoError(t, err)
	h.engine.Wait()
	require.Equal(t, 1, h.pendingOp(t, x).RetryCount)

	_, err = h.engine.Enqueue(ctx, models.OperationCreate, "order", "Y", models.Payload{})
	require.NoError(t, err)
	h.engine.Wait()

	assert.Equal(t, 1, h.remote.count("create order/X"))
	assert.Equal(t, 1, h.remote.count("create order/Y"))
	assert.Equal(t, 1, h.pendingOp(t, x).RetryCount)
	require.NotNil(t, h.engine.GetStatus().LastError, "a deferred failure stays reported")

	h.clock.Advance(time.Second)
	h.engine.Wait()
	assert.Equal(t, 2, h.remote.count("create order/X"))
	assert.Empty(t, h.engine.GetPendingOperations())
	assert.Nil(t, h.engine.GetStatus().LastError)
}

func TestSyncEngine_ManualSyncIgnoresBackoff(t *testing.T) {
	h := newHarness(t, true)
	h.remote.failNext(errUnreachable)
	ctx := context.Background()

	id, err := h.engine.Enqueue(ctx, models.OperationCreate, "order", "X", models.Payload{})
	require.NoError(t, err)
	h.engine.Wait()
	_, armed := h.engine.NextRetry(id)
	require.True(t, armed)

	res, err := h.engine.Sync(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Zero(t, res.Deferred)
	_, armed = h.engine.NextRetry(id)
	assert.False(t, armed)
	assert.Equal(t, 2, h.remote.count("create order/X"))
}

// TestSyncEngine_CallerCancellationDoesNotAbortRemoteCall: cancelling the
// Sync context while a create is in flight lets the create finish and
// records it as applied.
func TestSyncEngine_CallerCancellationDoesNotAbortRemoteCall(t *testing.T) {
	remote := &blockingRemote{
		fakeRemote: newFakeRemote(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	h := newHarness(t, false, func(d *SyncEngineDeps) { d.Remote = remote })
	id, err := h.engine.Enqueue(context.Background(), models.OperationCreate, "order", "X", models.Payload{})
	require.NoError(t, err)
	_, err = h.engine.Enqueue(context.Background(), models.OperationCreate, "order", "Y", models.Payload{})
	require.NoError(t, err)
	h.source.SetOnline(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan SyncResult)
	go func() {
		res, _ := h.engine.Sync(ctx)
		done <- res
	}()
	<-remote.entered
	cancel()
	close(remote.release)
	res := <-done

	assert.NoError(t, remote.ctxErr, "remote call saw the caller's cancellation")
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Zero(t, res.Requeued)
	_, err = h.queue.Get(id)
	assert.ErrorIs(t, err, queue.ErrNotFound)
	assert.Equal(t, 1, remote.count("create order/X"))
	assert.Zero(t, remote.count("create order/Y"), "cancellation stops the cycle before the next operation")
}

func TestSyncEngine_Conflicts(t *testing.T) {
	tests := []struct {
		name         string
		resolver     conflict.Resolver
		remoteAt     time.Time
		wantPushed   models.Payload
		wantConflict int
	}{
		{
			name:         "remote newer keeps server copy",
			resolver:     nil,
			remoteAt:     epoch.Add(time.Hour),
			wantPushed:   nil,
			wantConflict: 1,
		},
		{
			name:         "remote older is not a conflict",
			resolver:     nil,
			remoteAt:     epoch.Add(-time.Hour),
			wantPushed:   models.Payload{"title": "local"},
			wantConflict: 0,
		},
		{
			name:         "client wins pushes local payload",
			resolver:     conflict.ClientWins,
			remoteAt:     epoch.Add(time.Hour),
			wantPushed:   models.Payload{"title": "local"},
			wantConflict: 1,
		},
		{
			name:         "merge pushes combined payload",
			resolver:     conflict.AlwaysMerge,
			remoteAt:     epoch.Add(time.Hour),
			wantPushed:   models.Payload{"title": "local", "notes": "from erp"},
			wantConflict: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false, func(d *SyncEngineDeps) { d.Resolver = tt.resolver })
			h.remote.put("order/1", models.Payload{"title": "server", "notes": "from erp"}, tt.remoteAt)
			ctx := context.Background()
			_, err := h.engine.Enqueue(ctx, models.OperationUpdate, "order", "1", models.Payload{"title": "local"})
			require.NoError(t, err)
			h.source.SetOnline(true)

			res, err := h.engine.Sync(ctx)

			require.NoError(t, err)
			assert.Equal(t, 1, res.Succeeded)
			assert.Equal(t, tt.wantConflict, res.Conflicts)
			assert.Empty(t, h.engine.GetPendingOperations())
			if tt.wantPushed == nil {
				assert.Zero(t, h.remote.count("update order/1"))
				assert.Equal(t, "server", h.remote.get("order/1")["title"])
			} else {
				assert.Equal(t, 1, h.remote.count("update order/1"))
				assert.Equal(t, tt.wantPushed, h.remote.get("order/1"))
			}
		})
	}
}

func TestSyncEngine_PushConflictResolvedOnce(t *testing.T) {
	h := newHarness(t, false, func(d *SyncEngineDeps) { d.Resolver = conflict.ClientWins })
	ctx := context.Background()
	_, err := h.engine.Enqueue(ctx, models.OperationCreate, "order", "1", models.Payload{"title": "local"})
	require.NoError(t, err)
	h.source.SetOnline(true)

	rejected := 0
	h.remote.setBefore(func(call string) error {
		if rejected == 0 {
			rejected++
			return &transport.ConflictError{
				EntityType: "order",
				EntityID:   "1",
				Remote:     &transport.RemoteState{Payload: models.Payload{"title": "server"}, UpdatedAt: epoch.Add(time.Minute)},
			}
		}
		return nil
	})

	res, err := h.engine.Sync(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 2, h.remote.count("create order/1"))
}

func TestSyncEngine_RepeatedPushConflictIsFailure(t *testing.T) {
	h := newHarness(t, false, func(d *SyncEngineDeps) { d.Resolver = conflict.ClientWins })
	ctx := context.Background()
	id, err := h.engine.Enqueue(ctx, models.OperationCreate, "order", "1", models.Payload{})
	require.NoError(t, err)
	h.source.SetOnline(true)
	h.remote.setBefore(func(call string) error {
		return &transport.ConflictError{
			EntityType: "order",
			EntityID:   "1",
			Remote:     &transport.RemoteState{UpdatedAt: epoch},
		}
	})

	res, err := h.engine.Sync(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, h.remote.count("create order/1"))
	assert.Equal(t, 1, h.pendingOp(t, id).RetryCount)
}

func TestSyncEngine_DeleteOfMissingEntitySucceeds(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_, err := h.engine.Enqueue(ctx, models.OperationDelete, "customer", "gone", nil)
	require.NoError(t, err)
	h.source.SetOnline(true)

	res, err := h.engine.Sync(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Zero(t, h.remote.count("delete customer/gone"))
	assert.Empty(t, h.engine.GetPendingOperations())
}

func TestSyncEngine_PermanentErrors(t *testing.T) {
	rejected := &transport.PermanentError{Op: "create", StatusCode: 422, Message: "title is required"}

	t.Run("retried by default", func(t *testing.T) {
		h := newHarness(t, false)
		h.remote.failAlways(rejected)
		id := h.enqueueOnline(t, "X")

		_, err := h.engine.Sync(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, h.pendingOp(t, id).RetryCount)
		assert.Empty(t, h.engine.GetFailedOperations())
	})

	t.Run("fail fast dead-letters at once", func(t *testing.T) {
		h := newHarness(t, false, func(d *SyncEngineDeps) { d.FailFastPermanent = true })
		h.remote.failAlways(rejected)
		h.enqueueOnline(t, "X")

		_, err := h.engine.Sync(context.Background())
		require.NoError(t, err)

		failed := h.engine.GetFailedOperations()
		require.Len(t, failed, 1)
		assert.Equal(t, 1, failed[0].RetryCount)
	})
}

func TestSyncEngine_Status(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []models.SyncStatus
	unsubscribe := h.engine.SubscribeStatus(func(s models.SyncStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	h.remote.failNext(errUnreachable)
	h.enqueueOnline(t, "X")

	_, err := h.engine.Sync(ctx)
	require.NoError(t, err)
	status := h.engine.GetStatus()
	assert.True(t, status.Online)
	assert.Equal(t, 1, status.PendingCount)
	require.NotNil(t, status.LastError)
	assert.Contains(t, *status.LastError, "connection refused")
	require.NotNil(t, status.LastSyncAt)

	h.clock.Advance(time.Second)
	h.engine.Wait()
	status = h.engine.GetStatus()
	assert.Zero(t, status.PendingCount)
	assert.Nil(t, status.LastError)
	assert.Equal(t, epoch.Add(time.Second), *status.LastSyncAt)

	mu.Lock()
	received := len(seen)
	mu.Unlock()
	assert.Positive(t, received)

	unsubscribe()
	_, err = h.engine.Enqueue(ctx, models.OperationCreate, "order", "Y", nil)
	require.NoError(t, err)
	h.engine.Wait()
	mu.Lock()
	assert.Equal(t, received, len(seen))
	mu.Unlock()
}

func TestSyncEngine_RemoveAndClear(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	a, err := h.engine.Enqueue(ctx, models.OperationCreate, "order", "A", nil)
	require.NoError(t, err)
	_, err = h.engine.Enqueue(ctx, models.OperationCreate, "order", "B", nil)
	require.NoError(t, err)

	require.NoError(t, h.engine.Remove(ctx, a))
	assert.Len(t, h.engine.GetPendingOperations(), 1)
	assert.ErrorIs(t, h.engine.Remove(ctx, a), queue.ErrNotFound)

	require.NoError(t, h.engine.Clear(ctx))
	assert.Zero(t, h.engine.GetStatus().PendingCount)
}

func TestSyncEngine_StartDrainsLoadedQueue(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.engine.Enqueue(context.Background(), models.OperationCreate, "order", "A", nil)
	require.NoError(t, err)
	h.source.SetOnline(true)

	h.engine.Start()
	h.engine.Wait()

	assert.Equal(t, 1, h.remote.count("create order/A"))
	assert.Empty(t, h.engine.GetPendingOperations())
}

func TestSyncEngine_StoppedRejectsCalls(t *testing.T) {
	h := newHarness(t, true)
	h.engine.Stop()

	_, err := h.engine.Enqueue(context.Background(), models.OperationCreate, "order", "A", nil)
	assert.ErrorIs(t, err, ErrEngineStopped)
	_, err = h.engine.Sync(context.Background())
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestNewSyncEngine_RequiresDependencies(t *testing.T) {
	_, err := NewSyncEngine(SyncEngineDeps{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

// Helper functions for test setup

type harness struct {
	engine *SyncEngine
	queue  *queue.Queue
	remote *fakeRemote
	source *connectivity.ManualSource
	clock  *clock.Manual
}

func newHarness(t *testing.T, online bool, opts ...func(*SyncEngineDeps)) *harness {
	t.Helper()
	clk := clock.NewManual(epoch)
	q, err := queue.Open(context.Background(), repositories.NewMemoryStore(), queue.WithClock(clk))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source := connectivity.NewManualSource(online)
	monitor := connectivity.NewMonitor(source, clk, 0, logger)
	monitor.Start()
	t.Cleanup(monitor.Stop)

	remote := newFakeRemote()
	deps := SyncEngineDeps{
		Queue:   q,
		Remote:  remote,
		Monitor: monitor,
		Clock:   clk,
		Logger:  logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	engine, err := NewSyncEngine(deps)
	require.NoError(t, err)
	t.Cleanup(engine.Stop)

	return &harness{engine: engine, queue: q, remote: remote, source: source, clock: clk}
}

func (h *harness) pendingOp(t *testing.T, id string) *models.SyncOperation {
	t.Helper()
	op, err := h.queue.Get(id)
	require.NoError(t, err)
	return op
}

// enqueueOnline enqueues a create while offline, then comes back online
// without starting a cycle.
func (h *harness) enqueueOnline(t *testing.T, entityID string) string {
	t.Helper()
	h.source.SetOnline(false)
	id, err := h.engine.Enqueue(context.Background(), models.OperationCreate, "order", entityID, models.Payload{})
	require.NoError(t, err)
	h.source.SetOnline(true)
	return id
}

// driveToFailed fails a create until it is dead-lettered.
func (h *harness) driveToFailed(t *testing.T, entityID string) string {
	t.Helper()
	id := h.enqueueOnline(t, entityID)
	for i := 0; i < 5; i++ {
		res, err := h.engine.Sync(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, res.Failed)
	}
	op, err := h.queue.Get(id)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, op.Status)
	return id
}

type fakeRemote struct {
	mu       sync.Mutex
	entities map[string]*transport.RemoteState
	calls    []string
	errs     []error
	always   error
	before   func(call string) error
	after    func(call string)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{entities: make(map[string]*transport.RemoteState)}
}

func (f *fakeRemote) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeRemote) failAlways(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always = err
}

func (f *fakeRemote) setBefore(fn func(call string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = fn
}

func (f *fakeRemote) setAfter(fn func(call string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.after = fn
}

func (f *fakeRemote) put(key string, payload models.Payload, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[key] = &transport.RemoteState{Payload: payload, UpdatedAt: at}
}

func (f *fakeRemote) get(key string) models.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.entities[key]; ok {
		return s.Payload
	}
	return nil
}

func (f *fakeRemote) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeRemote) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// mutate records the call, runs the hooks outside the lock and applies fn
// when nothing failed.
func (f *fakeRemote) mutate(call string, fn func()) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	before, after := f.before, f.after
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	} else {
		err = f.always
	}
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if before != nil {
		if err := before(call); err != nil {
			return err
		}
	}

	f.mu.Lock()
	fn()
	f.mu.Unlock()

	if after != nil {
		after(call)
	}
	return nil
}

func (f *fakeRemote) Create(ctx context.Context, entityType, entityID string, payload models.Payload) (models.Payload, error) {
	err := f.mutate("create "+entityType+"/"+entityID, func() {
		f.entities[entityType+"/"+entityID] = &transport.RemoteState{Payload: payload.Clone(), UpdatedAt: epoch}
	})
	return payload, err
}

func (f *fakeRemote) Update(ctx context.Context, entityType, entityID string, payload models.Payload) (models.Payload, error) {
	err := f.mutate("update "+entityType+"/"+entityID, func() {
		f.entities[entityType+"/"+entityID] = &transport.RemoteState{Payload: payload.Clone(), UpdatedAt: epoch}
	})
	return payload, err
}

func (f *fakeRemote) Delete(ctx context.Context, entityType, entityID string) error {
	return f.mutate("delete "+entityType+"/"+entityID, func() {
		delete(f.entities, entityType+"/"+entityID)
	})
}

func (f *fakeRemote) Fetch(ctx context.Context, entityType, entityID string) (*transport.RemoteState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fetch "+entityType+"/"+entityID)
	s, ok := f.entities[entityType+"/"+entityID]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return &transport.RemoteState{Payload: s.Payload.Clone(), UpdatedAt: s.UpdatedAt}, nil
}

// blockingRemote holds the first create until release is closed and records
// what its context looked like afterwards.
type blockingRemote struct {
	*fakeRemote
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	ctxErr  error
}

func (r *blockingRemote) Create(ctx context.Context, entityType, entityID string, payload models.Payload) (models.Payload, error) {
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.entered)
		<-r.release
		r.ctxErr = ctx.Err()
	}
	return r.fakeRemote.Create(ctx, entityType, entityID, payload)
}
