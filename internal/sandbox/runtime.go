package sandbox

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrWorkspaceMissing indicates the candidate has no provisioned workspace at
// all, so recreating a shell cannot succeed until the dashboard provisions one.
var ErrWorkspaceMissing = errors.New("candidate workspace does not exist")

// Runtime is the remote code-execution backend the transport layer talks to.
// The production implementation runs shells inside per-candidate containers;
// tests substitute an in-memory runtime.
type Runtime interface {
	// CreateShell spawns a long-lived interactive shell bound to the
	// candidate's workspace and returns its I/O handles.
	CreateShell(ctx context.Context, spec ShellSpec) (*Shell, error)

	// Run executes a one-shot command in the candidate's workspace.
	Run(ctx context.Context, candidateID string, cmd []string) (*RunResult, error)

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error

	// Close releases backend resources
	Close() error

	// Name returns the backend name for logging
	Name() string
}

// ShellSpec describes the shell to spawn
type ShellSpec struct {
	CandidateID string
	WorkingDir  string
	Env         []string
}

// Shell is a live remote shell process. Stdin and Stdout are independent
// paths; callers must not assume a write is visible in the next read chunk.
type Shell struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser

	// SupportsPush is false when the backend's output channel cannot be
	// iterated push-style and the relay must fall back to bounded polling.
	SupportsPush bool

	// PollRead performs one bounded read of pending output. Only set when
	// SupportsPush is false.
	PollRead func(ctx context.Context, max int) ([]byte, error)

	done     chan struct{}
	doneOnce sync.Once
	wait     func() (int, error)

	pumpOnce sync.Once
	output   chan []byte
	readErr  error
}

// NewShell creates a Shell from backend I/O handles. When wait is set, a
// watcher goroutine drives it so Done fires on process exit even if no one
// ever calls Wait.
func NewShell(stdin io.WriteCloser, stdout io.ReadCloser, supportsPush bool, wait func() (int, error)) *Shell {
	s := &Shell{
		Stdin:        stdin,
		Stdout:       stdout,
		SupportsPush: supportsPush,
		done:         make(chan struct{}),
		wait:         wait,
	}
	if wait != nil {
		go func() {
			_, _ = wait()
			s.markDone()
		}()
	}
	return s
}

// Output returns the shell's output chunks. A single resident pump reads
// Stdout, so consumers can hand off mid-stream without losing a chunk that
// was in flight at the moment of handoff. The channel is closed when Stdout
// ends; ReadErr then reports why.
func (s *Shell) Output() <-chan []byte {
	s.pumpOnce.Do(func() {
		s.output = make(chan []byte, 64)
		go s.pump()
	})
	return s.output
}

// ReadErr returns the error that ended the output pump. Only meaningful
// after the Output channel is closed.
func (s *Shell) ReadErr() error {
	return s.readErr
}

func (s *Shell) pump() {
	defer close(s.output)
	buf := make([]byte, 32*1024)
	for {
		n, err := s.Stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.output <- chunk
		}
		if err != nil {
			s.readErr = err
			// Stdout ending means the attach handles are dead, whether or
			// not the process is; either way this Shell is finished.
			s.markDone()
			return
		}
	}
}

// Done returns a channel closed when the shell process exits or its attach
// streams end
func (s *Shell) Done() <-chan struct{} {
	return s.done
}

func (s *Shell) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Wait waits for the shell to exit and returns the exit code
func (s *Shell) Wait() (int, error) {
	code, err := s.wait()
	s.markDone()
	return code, err
}

// Close closes the shell's I/O streams
func (s *Shell) Close() error {
	if s.Stdin != nil {
		_ = s.Stdin.Close()
	}
	if s.Stdout != nil {
		_ = s.Stdout.Close()
	}
	s.markDone()
	return nil
}

// RunResult holds the output of a one-shot command
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}
