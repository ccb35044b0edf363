// Package connectivity tracks whether the remote API is reachable and
// notifies listeners on transitions.
package connectivity

import (
	"context"
	"sync"
)

type Listener func(ctx context.Context, online bool)

// State is a thread-safe online flag. Listeners fire only on transitions.
type State struct {
	mu        sync.Mutex
	online    bool
	listeners []Listener
}

func NewState(online bool) *State {
	return &State{online: online}
}

func (s *State) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *State) OnChange(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Set records the new flag and, if it changed, runs listeners synchronously
// in registration order. It reports whether a transition happened.
func (s *State) Set(ctx context.Context, online bool) bool {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return false
	}
	s.online = online
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(ctx, online)
	}
	return true
}

// Status is "online" or "offline".
func (s *State) Status() string {
	if s.Online() {
		return "online"
	}
	return "offline"
}
