package connectivity

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/clock"
)

type Listener func(online bool)

// Monitor turns raw source transitions into notifications. Going offline is
// reported at once. Coming back online is reported only after the source
// has stayed online for the debounce window, so a flapping link does not
// start a burst of cycles.
type Monitor struct {
	source   Source
	clock    clock.Clock
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	online    bool
	gen       uint64
	pending   clock.Timer
	listeners []Listener
	stop      func()
}

func NewMonitor(source Source, clk clock.Clock, debounce time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		source:   source,
		clock:    clk,
		debounce: debounce,
		logger:   logger,
		online:   source.IsOnline(),
	}
}

// Start begins watching the source. Calling it twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.online = m.source.IsOnline()
	m.mu.Unlock()

	stop := m.source.Watch(m.handle)

	m.mu.Lock()
	m.stop = stop
	m.mu.Unlock()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	stop := m.stop
	m.stop = nil
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// IsOnline asks the source directly so callers never act on a stale flag.
func (m *Monitor) IsOnline() bool {
	return m.source.IsOnline()
}

func (m *Monitor) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Monitor) handle(online bool) {
	m.mu.Lock()
	if online == m.online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.gen++
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}

	if !online || m.debounce <= 0 {
		listeners := m.snapshotLocked()
		m.mu.Unlock()
		m.logger.Info("connectivity transition", "online", online)
		notify(listeners, online)
		return
	}

	gen := m.gen
	m.pending = m.clock.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		if m.gen != gen || !m.online {
			m.mu.Unlock()
			return
		}
		m.pending = nil
		listeners := m.snapshotLocked()
		m.mu.Unlock()

		m.logger.Info("connectivity transition", "online", true)
		notify(listeners, true)
	})
	m.mu.Unlock()
}

func (m *Monitor) snapshotLocked() []Listener {
	return append([]Listener(nil), m.listeners...)
}

func notify(listeners []Listener, online bool) {
	for _, l := range listeners {
		l(online)
	}
}
