package server

import "sync"

// Registry tracks every currently open session for broadcast
// enumeration. It is the only structure mutated from multiple
// connection goroutines; all access goes through the mutex.
type Registry struct {
	mu       sync.RWMutex
	sessions []*Session
	index    map[*Session]struct{}
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[*Session]struct{}),
	}
}

// Register adds a session. Registering an already-present session is a
// no-op, so insertion order is the order of first registration.
func (r *Registry) Register(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[sess]; ok {
		return
	}
	r.index[sess] = struct{}{}
	r.sessions = append(r.sessions, sess)
}

// Unregister removes a session. Unregistering an absent session is a
// no-op.
func (r *Registry) Unregister(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[sess]; !ok {
		return
	}
	delete(r.index, sess)
	for i, s := range r.sessions {
		if s == sess {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			break
		}
	}
}

// Snapshot returns the registered sessions in insertion order. The
// returned slice is a copy and safe to iterate while sessions are
// concurrently added or removed.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]*Session, len(r.sessions))
	copy(snapshot, r.sessions)
	return snapshot
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
