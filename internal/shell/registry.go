package shell

import (
	"sync"

	"github.com/hirelane/livewire/internal/metrics"
)

// Registry is the per-worker map of candidate id to live shell session.
// It is deliberately process-local: in a horizontally scaled deployment each
// worker holds its own sessions, and the write path tolerates a miss by
// recreating the session here. It is an injectable object so tests can run
// several isolated registries in-process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the live session for a candidate, if any
func (r *Registry) Get(candidateID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[candidateID]
	return s, ok
}

// Put registers a session, replacing any existing entry
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.CandidateID]; !exists {
		metrics.ShellSessions.Inc()
	}
	r.sessions[s.CandidateID] = s
}

// Remove drops the entry for a candidate if it still maps to sess.
// A stale exit reaper must not evict a newer replacement session.
func (r *Registry) Remove(candidateID string, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[candidateID]
	if !ok || (sess != nil && current != sess) {
		return false
	}
	delete(r.sessions, candidateID)
	metrics.ShellSessions.Dec()
	return true
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot of all live sessions
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
