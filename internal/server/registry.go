package server

import (
	"sort"
	"sync"
)

// Registry maps client IDs to live sessions. Callers that need to walk the
// sessions get a snapshot slice; the map itself never leaves the lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers sess. It reports false if the ID is already taken.
func (r *Registry) Add(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sess.id]; exists {
		return false
	}
	r.sessions[sess.id] = sess
	return true
}

// Remove deletes sess if it is still the entry for its ID.
func (r *Registry) Remove(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[sess.id]; ok && current == sess {
		delete(r.sessions, sess.id)
		return true
	}
	return false
}

// RemoveIf deletes every session matching pred and returns them.
func (r *Registry) RemoveIf(pred func(*Session) bool) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []*Session
	for id, sess := range r.sessions {
		if pred(sess) {
			delete(r.sessions, id)
			removed = append(removed, sess)
		}
	}
	return removed
}

// Get looks up a session by client ID
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the registered sessions ordered by connect time.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].connectedAt.Equal(out[j].connectedAt) {
			return out[i].id < out[j].id
		}
		return out[i].connectedAt.Before(out[j].connectedAt)
	})
	return out
}

// Connected returns the snapshot filtered to live sessions
func (r *Registry) Connected() []*Session {
	all := r.Snapshot()
	live := all[:0]
	for _, sess := range all {
		if sess.Connected() {
			live = append(live, sess)
		}
	}
	return live
}
