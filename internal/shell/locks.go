package shell

import (
	"sync"
)

// candidateLockMap provides a per-candidate mutex so that concurrent
// create-or-attach calls for the same candidate serialize on one lock
// instead of one global lock.
type candidateLockMap struct {
	locks sync.Map // candidateID -> *sync.Mutex
}

func (m *candidateLockMap) getOrCreateLock(candidateID string) *sync.Mutex {
	lock, _ := m.locks.LoadOrStore(candidateID, &sync.Mutex{})
	mu, _ := lock.(*sync.Mutex)
	return mu
}

// Lock acquires the exclusive lock for a candidate
func (m *candidateLockMap) Lock(candidateID string) {
	m.getOrCreateLock(candidateID).Lock()
}

// Unlock releases the lock for a candidate
func (m *candidateLockMap) Unlock(candidateID string) {
	m.getOrCreateLock(candidateID).Unlock()
}
