package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/hirelane/livewire/internal/checkpoint"
	"github.com/hirelane/livewire/internal/logger"
	"github.com/hirelane/livewire/internal/stream"
)

// Runner executes one chat turn: it pumps provider chunks into SSE events
// and checkpoints progress so a dropped browser can resume the response.
type Runner struct {
	provider Provider
	recovery *checkpoint.Controller
}

// NewRunner creates a chat turn runner
func NewRunner(provider Provider, recovery *checkpoint.Controller) *Runner {
	return &Runner{provider: provider, recovery: recovery}
}

// Turn is a running chat generation. Events feeds the SSE relay; Err is
// valid once Events is closed.
type Turn struct {
	MessageID string

	events chan stream.Event

	mu  sync.Mutex
	err error
}

// Events returns the SSE event feed for this turn
func (t *Turn) Events() <-chan stream.Event {
	return t.events
}

// Err reports why the turn ended early, if it did
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Turn) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Run starts generating a response for req. The checkpoint row advances on
// every chunk; it is finalized when generation completes or fails while the
// client is connected, and left streaming on client disconnect so the
// partial response can be resumed.
func (r *Runner) Run(ctx context.Context, req Request) (*Turn, error) {
	st, err := r.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	turn := &Turn{
		MessageID: uuid.New().String(),
		events:    make(chan stream.Event, 16),
	}

	go r.pump(ctx, req, st, turn)
	return turn, nil
}

func (r *Runner) pump(ctx context.Context, req Request, st Stream, turn *Turn) {
	defer close(turn.events)

	cp := &checkpoint.Checkpoint{
		SessionID:   req.SessionID,
		MessageID:   turn.MessageID,
		QuestionID:  req.QuestionID,
		UserMessage: req.Message,
	}
	if err := r.recovery.BeginOrUpdate(cp); err != nil {
		logger.Error("Failed to open checkpoint for session %s: %v", req.SessionID, err)
	}

	for chunk := range st.Chunks() {
		var ev stream.Event
		switch {
		case chunk.ToolCall != nil:
			cp.ToolCalls = append(cp.ToolCalls, *chunk.ToolCall)
			ev = stream.Event{"toolCall": chunk.ToolCall}
		case chunk.Token != "":
			cp.PartialResponse += chunk.Token
			ev = stream.Event{"token": chunk.Token}
		default:
			continue
		}

		if err := r.recovery.BeginOrUpdate(cp); err != nil {
			logger.Error("Failed to checkpoint session %s message %s: %v", req.SessionID, turn.MessageID, err)
		}

		select {
		case turn.events <- ev:
		case <-ctx.Done():
			// The browser is gone; keep consuming so the rest of the
			// response is checkpointed and recoverable on reconnect.
			r.drain(st, cp)
			turn.setErr(context.Cause(ctx))
			return
		}
	}

	// A stream that ended because the client dropped mid-generation is not
	// a verdict on the response. Leave the row streaming so GetActive can
	// offer the partial for recovery.
	streamErr := st.Err()
	if ctx.Err() != nil || errors.Is(streamErr, context.Canceled) {
		turn.setErr(disconnectCause(ctx, streamErr))
		return
	}

	r.finalize(streamErr, cp, turn)
}

// drain consumes the rest of a stream after the client disconnected,
// checkpointing chunks so the partial response survives for recovery. The
// row stays streaming: finalization happens only for a connected client,
// and GetActive needs the streaming status to offer the row on reconnect.
func (r *Runner) drain(st Stream, cp *checkpoint.Checkpoint) {
	for chunk := range st.Chunks() {
		switch {
		case chunk.ToolCall != nil:
			cp.ToolCalls = append(cp.ToolCalls, *chunk.ToolCall)
		case chunk.Token != "":
			cp.PartialResponse += chunk.Token
		default:
			continue
		}
		if err := r.recovery.BeginOrUpdate(cp); err != nil {
			logger.Error("Failed to checkpoint session %s message %s: %v", cp.SessionID, cp.MessageID, err)
		}
	}
}

// disconnectCause picks the most specific error describing a dropped client
func disconnectCause(ctx context.Context, streamErr error) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return streamErr
}

func (r *Runner) finalize(streamErr error, cp *checkpoint.Checkpoint, turn *Turn) {
	status := checkpoint.StatusCompleted
	if streamErr != nil {
		status = checkpoint.StatusFailed
		if turn != nil {
			turn.setErr(streamErr)
		}
	}
	if err := r.recovery.Finalize(cp, status); err != nil {
		logger.Error("Failed to finalize checkpoint for session %s message %s: %v", cp.SessionID, cp.MessageID, err)
	}
}
