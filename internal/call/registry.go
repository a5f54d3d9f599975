package call

import (
	"errors"
	"sync"
)

// Registry is the single synchronization point between concurrent call tasks:
// the dialer and the outbound API insert, relay loops look up, terminal
// handling removes. All mutations are single-key compare-and-set style.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var ErrDuplicateCall = errors.New("call: session already registered for call id")

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert registers a session insert-if-absent. A duplicate call id returns
// ErrDuplicateCall and leaves the existing session untouched.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.CallID]; ok {
		return ErrDuplicateCall
	}
	r.sessions[s.CallID] = s
	return nil
}

// Get looks up a live session.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Remove evicts remove-if-present. Removing an absent id is a no-op.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Each calls fn on a point-in-time snapshot of the live sessions.
func (r *Registry) Each(fn func(*Session)) {
	r.mu.RLock()
	snap := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snap = append(snap, s)
	}
	r.mu.RUnlock()
	for _, s := range snap {
		fn(s)
	}
}
