// Package retry holds the backoff table and the per-operation timers that
// request a new sync cycle once an operation's backoff has elapsed.
package retry

import (
	"sync"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/clock"
)

// Scheduler keeps at most one armed timer per operation. A fired timer only
// runs the callback it was armed with; deciding whether a cycle may start
// is the callback's job.
type Scheduler struct {
	clock  clock.Clock
	mu     sync.Mutex
	seq    uint64
	timers map[string]*armedTimer
}

type armedTimer struct {
	seq   uint64
	timer clock.Timer
	due   time.Time
}

func NewScheduler(c clock.Clock) *Scheduler {
	return &Scheduler{
		clock:  c,
		timers: make(map[string]*armedTimer),
	}
}

// Arm schedules fn after delay for the operation, replacing any timer
// already armed for it. It returns the deadline.
func (s *Scheduler) Arm(opID string, delay time.Duration, fn func()) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[opID]; ok {
		existing.timer.Stop()
	}

	s.seq++
	seq := s.seq
	due := s.clock.Now().Add(delay)
	timer := s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		current, ok := s.timers[opID]
		if !ok || current.seq != seq {
			s.mu.Unlock()
			return
		}
		delete(s.timers, opID)
		s.mu.Unlock()

		fn()
	})
	s.timers[opID] = &armedTimer{seq: seq, timer: timer, due: due}
	return due
}

func (s *Scheduler) Cancel(opID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[opID]; ok {
		existing.timer.Stop()
		delete(s.timers, opID)
	}
}

func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.timers {
		existing.timer.Stop()
		delete(s.timers, id)
	}
}

// Due returns the deadline of the timer armed for the operation.
func (s *Scheduler) Due(opID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.timers[opID]
	if !ok {
		return time.Time{}, false
	}
	return existing.due, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
