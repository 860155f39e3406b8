package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hirelane/livewire/internal/llm"
	"github.com/hirelane/livewire/internal/sandbox"
	"github.com/hirelane/livewire/internal/stream"
)

// evalScript is the grading entrypoint each interview workspace ships with
const evalScript = "./.livewire/evaluate.sh"

// handleEvaluationStream runs the workspace's grading script, then streams
// the model's written assessment, as staged progress events over SSE.
func (s *Server) handleEvaluationStream(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionAccess(w, r, false)
	if !ok {
		return
	}

	run := &evalRun{events: make(chan stream.Event, 8)}
	go run.execute(r.Context(), s, sessionID)

	src := stream.NewChanSource(run.events, run.Err)
	s.evalRelay.Stream(r.Context(), w, r, src)
}

// evalRun is one in-flight evaluation
type evalRun struct {
	events chan stream.Event

	mu  sync.Mutex
	err error
}

// Err reports why the evaluation ended early, if it did
func (e *evalRun) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *evalRun) fail(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *evalRun) emit(ctx context.Context, ev stream.Event) bool {
	select {
	case e.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *evalRun) execute(ctx context.Context, s *Server, sessionID string) {
	defer close(e.events)

	if !e.emit(ctx, stream.Event{"stage": "running_tests", "progress": 10}) {
		return
	}

	result, err := s.runtime.Run(ctx, sessionID, []string{"/bin/bash", "-lc", evalScript})
	if err != nil {
		if errors.Is(err, sandbox.ErrWorkspaceMissing) {
			e.fail(fmt.Errorf("no workspace exists for this session"))
			return
		}
		e.fail(fmt.Errorf("test run failed: %w", err))
		return
	}

	if !e.emit(ctx, stream.Event{"stage": "tests_finished", "progress": 50, "exitCode": result.ExitCode}) {
		return
	}

	st, err := s.provider.Stream(ctx, llm.Request{
		SessionID: sessionID,
		Message:   evalPrompt(result),
	})
	if err != nil {
		e.fail(fmt.Errorf("failed to start assessment: %w", err))
		return
	}

	if !e.emit(ctx, stream.Event{"stage": "summarizing", "progress": 70}) {
		return
	}

	for chunk := range st.Chunks() {
		if chunk.Token == "" {
			continue
		}
		if !e.emit(ctx, stream.Event{"token": chunk.Token}) {
			return
		}
	}
	if err := st.Err(); err != nil {
		e.fail(fmt.Errorf("assessment failed: %w", err))
		return
	}

	e.emit(ctx, stream.Event{"stage": "complete", "progress": 100})
}

func evalPrompt(result *sandbox.RunResult) string {
	return fmt.Sprintf(
		"Write a short evaluation of the candidate's solution.\n\nTest run exit code: %d\n\nTest output:\n%s\n%s",
		result.ExitCode, result.Stdout, result.Stderr,
	)
}
