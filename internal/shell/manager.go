package shell

import (
	"context"
	"errors"
	"fmt"

	"github.com/hirelane/livewire/internal/logger"
	"github.com/hirelane/livewire/internal/metrics"
	"github.com/hirelane/livewire/internal/sandbox"
)

var (
	// ErrSessionUnavailable means the execution backend could not create or
	// attach a shell. Surfaced to the client as a visible terminal error.
	ErrSessionUnavailable = errors.New("shell session unavailable")

	// ErrWriteTargetMissing means the candidate has no backend-side workspace
	// at all; reconnecting will not help.
	ErrWriteTargetMissing = errors.New("no workspace exists for candidate")
)

// Manager owns the lifecycle of one remote shell per candidate: create or
// attach, reader-slot handoff, and stdin writes that transparently recreate
// sessions evicted from this worker's registry.
type Manager struct {
	registry *Registry
	runtime  sandbox.Runtime
	workdir  string
	env      []string

	createLocks candidateLockMap
}

// NewManager creates a shell session manager backed by the given runtime
func NewManager(registry *Registry, runtime sandbox.Runtime, workdir string, env []string) *Manager {
	return &Manager{
		registry: registry,
		runtime:  runtime,
		workdir:  workdir,
		env:      env,
	}
}

// CreateOrAttach returns the live session for a candidate, spawning a new
// remote shell if this worker has none. Idempotent.
func (m *Manager) CreateOrAttach(ctx context.Context, candidateID string) (*Session, error) {
	if s, ok := m.registry.Get(candidateID); ok {
		return s, nil
	}

	m.createLocks.Lock(candidateID)
	defer m.createLocks.Unlock(candidateID)

	// Re-check under the lock: a concurrent caller may have created it
	if s, ok := m.registry.Get(candidateID); ok {
		return s, nil
	}

	sh, err := m.runtime.CreateShell(ctx, sandbox.ShellSpec{
		CandidateID: candidateID,
		WorkingDir:  m.workdir,
		Env:         m.env,
	})
	if err != nil {
		if errors.Is(err, sandbox.ErrWorkspaceMissing) {
			return nil, fmt.Errorf("%w: %s", ErrWriteTargetMissing, candidateID)
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	s := newSession(candidateID, sh)
	m.registry.Put(s)
	logger.Info("Shell session created for candidate %s (backend: %s)", candidateID, m.runtime.Name())

	go m.reapOnExit(s)

	return s, nil
}

// PrepareForReading acquires the exclusive reader slot for a candidate,
// preempting any current holder. The previous holder's context is cancelled
// before this returns, so the new reader never interleaves with the old one.
func (m *Manager) PrepareForReading(ctx context.Context, candidateID string) (*ReaderLease, error) {
	s, err := m.CreateOrAttach(ctx, candidateID)
	if err != nil {
		return nil, err
	}

	preempting := s.readerGeneration() > 0
	lease := s.acquireReader(ctx)
	if preempting {
		metrics.ReaderPreemptions.Inc()
		logger.Info("Reader preempted for candidate %s (gen %d)", candidateID, lease.Generation())
	}
	return lease, nil
}

// ReleaseReader clears the reader slot if gen is still the current
// generation. A preempted reader calling this late is a no-op.
func (m *Manager) ReleaseReader(candidateID string, gen uint64) {
	if s, ok := m.registry.Get(candidateID); ok {
		s.releaseReader(gen)
	}
}

// Write sends bytes to the session's stdin, transparently recreating the
// session if it was evicted from this worker's registry. The recreated flag
// tells the caller the browser should drop and re-open its stream.
func (m *Manager) Write(ctx context.Context, candidateID string, data []byte) (recreated bool, err error) {
	_, existed := m.registry.Get(candidateID)

	s, err := m.CreateOrAttach(ctx, candidateID)
	if err != nil {
		return false, err
	}
	if !existed {
		recreated = true
		metrics.SessionRecreations.Inc()
		logger.Debug("Write to candidate %s recreated the shell session", candidateID)
	}

	if _, err := s.Shell.Stdin.Write(data); err != nil {
		// Stdin gone means the remote process died; drop the entry so the
		// next write recreates it.
		m.dropSession(s)
		return recreated, fmt.Errorf("%w: write failed: %v", ErrSessionUnavailable, err)
	}

	return recreated, nil
}

// Session returns the live session for a candidate without creating one
func (m *Manager) Session(candidateID string) (*Session, bool) {
	return m.registry.Get(candidateID)
}

// Teardown destroys a candidate's session if present
func (m *Manager) Teardown(candidateID string) {
	if s, ok := m.registry.Get(candidateID); ok {
		m.dropSession(s)
		logger.Info("Shell session torn down for candidate %s", candidateID)
	}
}

// Close tears down every session in the registry
func (m *Manager) Close() {
	for _, s := range m.registry.All() {
		m.dropSession(s)
	}
}

func (m *Manager) dropSession(s *Session) {
	if m.registry.Remove(s.CandidateID, s) {
		s.close()
	}
}

// reapOnExit removes the registry entry when the remote process ends
func (m *Manager) reapOnExit(s *Session) {
	<-s.Shell.Done()
	if m.registry.Remove(s.CandidateID, s) {
		s.close()
		logger.Info("Shell session for candidate %s exited, removed from registry", s.CandidateID)
	}
}
