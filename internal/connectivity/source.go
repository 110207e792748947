// Package connectivity observes whether the remote API is reachable and
// turns availability transitions into sync triggers.
package connectivity

import "sync"

// Source reports transport availability and emits transitions.
type Source interface {
	IsOnline() bool
	// Watch registers fn for every online/offline transition and returns a
	// function that unregisters it.
	Watch(fn func(online bool)) (stop func())
}

// ManualSource is a Source flipped by calling SetOnline. Tests use it
// directly; HTTPProbe uses it to broadcast what it observes.
type ManualSource struct {
	mu       sync.Mutex
	online   bool
	nextID   int
	watchers map[int]func(bool)
}

func NewManualSource(online bool) *ManualSource {
	return &ManualSource{
		online:   online,
		watchers: make(map[int]func(bool)),
	}
}

func (s *ManualSource) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline records the state and notifies watchers if it changed.
// Watchers run synchronously in the caller's goroutine.
func (s *ManualSource) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	watchers := make([]func(bool), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(online)
	}
}

func (s *ManualSource) Watch(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}
