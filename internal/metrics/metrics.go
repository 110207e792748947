// Package metrics exposes the sync engine's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for operation attempts.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetrying  = "retrying"
	OutcomeFailed    = "failed"
	OutcomeRequeued  = "requeued"
	OutcomeDiscarded = "discarded"
)

// Metrics groups the instruments. Build one per registry; the engine
// accepts nil and then records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	conflicts  *prometheus.CounterVec
	cycles     *prometheus.CounterVec
	duration   prometheus.Histogram
	pending    prometheus.Gauge
	failed     prometheus.Gauge
	online     prometheus.Gauge
}

// New registers every instrument on reg. Pass prometheus.DefaultRegisterer
// in the server and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Labels: outcome (succeeded, retrying, failed, requeued, discarded)
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offlinesync",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Operation attempts by outcome",
		}, []string{"outcome"}),
		// Labels: resolution (use_local, use_server, merge)
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offlinesync",
			Subsystem: "engine",
			Name:      "conflicts_total",
			Help:      "Detected conflicts by resolution",
		}, []string{"resolution"}),
		// Labels: trigger (manual, enqueue, retry, reconnect, start)
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offlinesync",
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Completed sync cycles by trigger",
		}, []string{"trigger"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "offlinesync",
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a sync cycle",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "offlinesync",
			Subsystem: "queue",
			Name:      "pending_operations",
			Help:      "Operations not yet applied remotely",
		}),
		failed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "offlinesync",
			Subsystem: "queue",
			Name:      "failed_operations",
			Help:      "Dead-lettered operations",
		}),
		online: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "offlinesync",
			Subsystem: "connectivity",
			Name:      "online",
			Help:      "1 when the remote API is reachable",
		}),
	}
}

func (m *Metrics) RecordOperation(outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordConflict(resolution string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(resolution).Inc()
}

func (m *Metrics) RecordCycle(trigger string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(trigger).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// SetQueue publishes the current queue depth.
func (m *Metrics) SetQueue(pending, failed int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	m.failed.Set(float64(failed))
}

func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}
