package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hirelane/livewire/internal/sandbox"
)

// captureWriter records everything written to a fake shell's stdin
type captureWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *captureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *captureWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// FakeShell is one in-memory shell spawned by FakeRuntime. Tests write to
// StdoutWriter to emit terminal output and call StdinString to observe what
// the code under test sent to the process.
type FakeShell struct {
	Shell        *sandbox.Shell
	StdoutWriter *io.PipeWriter

	stdin *captureWriter

	exitOnce sync.Once
	exited   chan struct{}
	code     int
}

// StdinString returns everything written to the shell's stdin so far
func (f *FakeShell) StdinString() string {
	return f.stdin.String()
}

// FailStdin makes subsequent stdin writes fail, simulating a dead process
func (f *FakeShell) FailStdin() {
	_ = f.stdin.Close()
}

// Exit simulates the remote process ending with the given code. The shell's
// own exit watcher observes it and closes Done.
func (f *FakeShell) Exit(code int) {
	f.exitOnce.Do(func() {
		f.code = code
		_ = f.StdoutWriter.Close()
		close(f.exited)
	})
}

// FakeRuntime is an in-memory sandbox.Runtime backed by io.Pipe output
// streams. The zero value is not usable; call NewFakeRuntime.
type FakeRuntime struct {
	mu     sync.Mutex
	shells map[string]*FakeShell

	// MissingWorkspaces lists candidate ids with no provisioned workspace
	MissingWorkspaces map[string]bool
	// CreateErr, when set, fails every CreateShell call
	CreateErr error
	// RunResults maps space-joined commands to scripted results
	RunResults map[string]*sandbox.RunResult

	createCalls int
}

// NewFakeRuntime creates an empty fake runtime
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		shells:            make(map[string]*FakeShell),
		MissingWorkspaces: make(map[string]bool),
		RunResults:        make(map[string]*sandbox.RunResult),
	}
}

// CreateShell implements sandbox.Runtime
func (r *FakeRuntime) CreateShell(_ context.Context, spec sandbox.ShellSpec) (*sandbox.Shell, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.createCalls++
	if r.CreateErr != nil {
		return nil, r.CreateErr
	}
	if r.MissingWorkspaces[spec.CandidateID] {
		return nil, sandbox.ErrWorkspaceMissing
	}

	stdoutR, stdoutW := io.Pipe()
	fake := &FakeShell{
		StdoutWriter: stdoutW,
		stdin:        &captureWriter{},
		exited:       make(chan struct{}),
	}
	fake.Shell = sandbox.NewShell(fake.stdin, stdoutR, true, func() (int, error) {
		<-fake.exited
		return fake.code, nil
	})

	r.shells[spec.CandidateID] = fake
	return fake.Shell, nil
}

// Run implements sandbox.Runtime using the RunResults script
func (r *FakeRuntime) Run(_ context.Context, candidateID string, cmd []string) (*sandbox.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.MissingWorkspaces[candidateID] {
		return nil, sandbox.ErrWorkspaceMissing
	}
	if res, ok := r.RunResults[strings.Join(cmd, " ")]; ok {
		return res, nil
	}
	return &sandbox.RunResult{ExitCode: 0}, nil
}

// Ping implements sandbox.Runtime
func (r *FakeRuntime) Ping(context.Context) error { return nil }

// Close implements sandbox.Runtime
func (r *FakeRuntime) Close() error { return nil }

// Name implements sandbox.Runtime
func (r *FakeRuntime) Name() string { return "fake" }

// ShellFor returns the fake shell most recently created for a candidate
func (r *FakeRuntime) ShellFor(candidateID string) (*FakeShell, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.shells[candidateID]
	if !ok {
		return nil, fmt.Errorf("no shell created for candidate %s", candidateID)
	}
	return f, nil
}

// CreateCalls returns how many times CreateShell ran
func (r *FakeRuntime) CreateCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createCalls
}
