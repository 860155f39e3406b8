package shell

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hirelane/livewire/internal/sandbox"
)

// ErrPreempted is the cancellation cause delivered to a reader whose slot was
// taken over by a newer connection. Not an error condition for the client;
// the relay translates it into a silent reconnect signal.
var ErrPreempted = errors.New("reader preempted by newer connection")

// Session is one candidate's live shell in this worker's registry.
// The underlying remote process is owned by the execution backend; the
// registry entry owns only the attach handles.
type Session struct {
	CandidateID string
	Shell       *sandbox.Shell
	CreatedAt   time.Time

	// mu serializes reader handoff so two callers can never both believe
	// they hold the reader slot.
	mu           sync.Mutex
	readerGen    uint64
	cancelReader context.CancelCauseFunc
}

func newSession(candidateID string, sh *sandbox.Shell) *Session {
	return &Session{
		CandidateID: candidateID,
		Shell:       sh,
		CreatedAt:   time.Now(),
	}
}

// acquireReader takes over the exclusive reader slot, cancelling any previous
// holder before the new lease is returned. The returned context is derived
// from parent, so client disconnect and preemption both cancel it.
func (s *Session) acquireReader(parent context.Context) *ReaderLease {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelReader != nil {
		s.cancelReader(ErrPreempted)
	}

	ctx, cancel := context.WithCancelCause(parent)
	s.readerGen++
	s.cancelReader = cancel

	return &ReaderLease{
		session: s,
		gen:     s.readerGen,
		ctx:     ctx,
	}
}

// releaseReader clears the slot only if gen is still the current generation.
// A just-preempted reader releasing late must not revoke the newer holder.
func (s *Session) releaseReader(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readerGen != gen {
		return false
	}
	if s.cancelReader != nil {
		s.cancelReader(context.Canceled)
		s.cancelReader = nil
	}
	return true
}

// readerGeneration returns the current reader generation
func (s *Session) readerGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readerGen
}

// close tears down the shell and cancels any attached reader
func (s *Session) close() {
	s.mu.Lock()
	if s.cancelReader != nil {
		s.cancelReader(context.Canceled)
		s.cancelReader = nil
	}
	s.mu.Unlock()

	if s.Shell != nil {
		_ = s.Shell.Close()
	}
}

// ReaderLease is the exclusive right to read a session's output until
// released or preempted.
type ReaderLease struct {
	session *Session
	gen     uint64
	ctx     context.Context
}

// Context is cancelled when the client disconnects or a newer reader attaches
func (l *ReaderLease) Context() context.Context {
	return l.ctx
}

// Generation returns the lease's generation token
func (l *ReaderLease) Generation() uint64 {
	return l.gen
}

// Preempted reports whether the lease was cancelled by a newer reader
// (as opposed to client disconnect or teardown)
func (l *ReaderLease) Preempted() bool {
	return errors.Is(context.Cause(l.ctx), ErrPreempted)
}

// Release clears the reader slot if this lease is still the current holder
func (l *ReaderLease) Release() {
	l.session.releaseReader(l.gen)
}
