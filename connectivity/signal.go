// Package connectivity tells the sync machinery whether the backend is
// reachable. The signal gates queue draining and triggers an immediate pull
// on reconnect; it never causes queued work to be dropped.
package connectivity

import (
	"sync"

	"github.com/sidelinehq/coachsync/logging"
)

// Signal reports current backend reachability and transition events.
type Signal interface {
	Online() bool
	// Subscribe registers fn for online/offline transitions. The returned
	// func unsubscribes.
	Subscribe(fn func(online bool)) func()
}

// signalState is the shared online flag + subscriber fan-out used by both
// signal implementations.
type signalState struct {
	logger *logging.Logger

	mu     sync.RWMutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

func newSignalState(online bool, logger *logging.Logger) *signalState {
	if logger == nil {
		logger = logging.Nop()
	}
	return &signalState{
		logger: logger,
		online: online,
		subs:   make(map[int]func(bool)),
	}
}

func (s *signalState) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

func (s *signalState) Subscribe(fn func(online bool)) func() {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// set flips the flag and notifies subscribers on change. Notifications run
// on their own goroutines; a panicking subscriber is contained.
func (s *signalState) set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	handlers := make([]func(bool), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		go func(notify func(bool)) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("connectivity subscriber panicked")
				}
			}()
			notify(online)
		}(h)
	}
}

// Manual is a host-driven signal: the embedding app flips it when its own
// reachability detection changes. Starts in the given state.
type Manual struct {
	*signalState
}

var _ Signal = (*Manual)(nil)

// NewManual creates a Manual signal with the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{signalState: newSignalState(online, nil)}
}

// Set updates the state; subscribers are notified only on change.
func (m *Manual) Set(online bool) {
	m.set(online)
}
