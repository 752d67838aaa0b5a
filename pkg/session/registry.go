package session

import (
	"errors"
	"sync"
)

// Registry errors.
var (
	// ErrAtCapacity is returned when the concurrent-session cap is reached.
	ErrAtCapacity = errors.New("maximum concurrent sessions reached")
	// ErrDuplicateSession is returned when a session id is already registered.
	ErrDuplicateSession = errors.New("session already registered")
	// ErrSessionNotFound is returned for lookups of unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// Registry tracks the live sessions of this process and enforces the
// concurrent-session cap. Terminal sessions stay registered (the planner can
// be resumed by a later user message) but stop counting against the cap.
type Registry struct {
	mu       sync.RWMutex
	max      int
	sessions map[string]*Session
}

// NewRegistry creates a registry capped at max concurrently active sessions.
// max <= 0 means unlimited.
func NewRegistry(max int) *Registry {
	return &Registry{
		max:      max,
		sessions: make(map[string]*Session),
	}
}

// Reserve claims a slot for a session being constructed. The slot counts as
// active until Bind or Remove, so concurrent creates cannot pass the cap
// together.
func (r *Registry) Reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return ErrDuplicateSession
	}
	if r.max > 0 && r.activeCountLocked() >= r.max {
		return ErrAtCapacity
	}
	r.sessions[id] = nil
	return nil
}

// Bind attaches the constructed session to its reserved slot.
func (r *Registry) Bind(id string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = s
}

// Remove drops a session (or an unbound reservation) from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}

// ActiveCount returns the number of sessions counting against the cap.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCountLocked()
}

func (r *Registry) activeCountLocked() int {
	n := 0
	for _, s := range r.sessions {
		if s == nil || !s.Terminal() {
			n++
		}
	}
	return n
}

// ActiveIDs returns the ids of non-terminal sessions, for shutdown logging.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id, s := range r.sessions {
		if s == nil || !s.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// All returns every bound session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the total number of registered sessions, terminal included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
