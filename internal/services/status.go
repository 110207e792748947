package services

import (
	"sync"

	"github.com/prudhvinik1/offlinesync/internal/metrics"
	"github.com/prudhvinik1/offlinesync/internal/models"
)

// StatusReporter derives SyncStatus on demand and pushes it to listeners
// whenever the engine reports a change. Nothing is cached: every read goes
// back to the queue and the engine.
type StatusReporter struct {
	compute func() models.SyncStatus
	metrics *metrics.Metrics

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(models.SyncStatus)
}

func NewStatusReporter(compute func() models.SyncStatus, m *metrics.Metrics) *StatusReporter {
	return &StatusReporter{
		compute:   compute,
		metrics:   m,
		listeners: make(map[int]func(models.SyncStatus)),
	}
}

func (r *StatusReporter) Status() models.SyncStatus {
	return r.compute()
}

// Subscribe registers fn for every refresh and returns a function that
// unregisters it. Listeners run synchronously in the refreshing goroutine
// and must not block.
func (r *StatusReporter) Subscribe(fn func(models.SyncStatus)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

// Refresh recomputes the status and publishes it.
func (r *StatusReporter) Refresh() models.SyncStatus {
	status := r.compute()
	r.metrics.SetQueue(status.PendingCount, status.FailedCount)
	r.metrics.SetOnline(status.Online)

	r.mu.Lock()
	listeners := make([]func(models.SyncStatus), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
	return status
}
