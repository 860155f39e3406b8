package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hirelane/livewire/internal/checkpoint"
)

// cannedStream replays fixed chunks as a Stream
type cannedStream struct {
	ch  chan Chunk
	err error
}

func (s *cannedStream) Chunks() <-chan Chunk { return s.ch }
func (s *cannedStream) Err() error           { return s.err }

// cannedProvider scripts one generation
type cannedProvider struct {
	chunks   []Chunk
	finalErr error
	startErr error
}

func (p *cannedProvider) Stream(_ context.Context, _ Request) (Stream, error) {
	if p.startErr != nil {
		return nil, p.startErr
	}
	st := &cannedStream{ch: make(chan Chunk), err: p.finalErr}
	go func() {
		defer close(st.ch)
		for _, c := range p.chunks {
			st.ch <- c
		}
	}()
	return st, nil
}

func newTestRunner(t *testing.T, provider Provider) (*Runner, *checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create checkpoint store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewRunner(provider, checkpoint.NewController(store, 5*time.Minute)), store
}

func collectEvents(t *testing.T, turn *Turn) []map[string]any {
	t.Helper()
	var events []map[string]any
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-turn.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out draining turn events")
		}
	}
}

func TestRunner_StreamsAndFinalizesCompleted(t *testing.T) {
	provider := &cannedProvider{chunks: []Chunk{
		{Token: "Let's "},
		{Token: "begin."},
	}}
	runner, store := newTestRunner(t, provider)

	turn, err := runner.Run(context.Background(), Request{SessionID: "sess-1", Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events := collectEvents(t, turn)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0]["token"] != "Let's " || events[1]["token"] != "begin." {
		t.Errorf("tokens out of order: %+v", events)
	}
	if turn.Err() != nil {
		t.Errorf("Err() = %v, want nil", turn.Err())
	}

	cp, err := store.Get("sess-1", turn.MessageID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cp.Status != checkpoint.StatusCompleted {
		t.Errorf("Status = %q, want completed", cp.Status)
	}
	if cp.PartialResponse != "Let's begin." {
		t.Errorf("PartialResponse = %q, want the full text", cp.PartialResponse)
	}
	if cp.UserMessage != "hi" {
		t.Errorf("UserMessage = %q, want hi", cp.UserMessage)
	}
}

func TestRunner_RecordsToolCalls(t *testing.T) {
	call := &checkpoint.ToolCall{ID: "t1", Name: "run_tests", Arguments: json.RawMessage(`{}`)}
	provider := &cannedProvider{chunks: []Chunk{
		{Token: "Running tests"},
		{ToolCall: call},
	}}
	runner, store := newTestRunner(t, provider)

	turn, err := runner.Run(context.Background(), Request{SessionID: "sess-1", Message: "check"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := collectEvents(t, turn)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1]["toolCall"] == nil {
		t.Error("second event should carry the tool call")
	}

	cp, err := store.Get("sess-1", turn.MessageID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(cp.ToolCalls) != 1 || cp.ToolCalls[0].Name != "run_tests" {
		t.Errorf("ToolCalls = %+v, want one run_tests call", cp.ToolCalls)
	}
}

func TestRunner_FinalizesFailedOnStreamError(t *testing.T) {
	provider := &cannedProvider{
		chunks:   []Chunk{{Token: "partial"}},
		finalErr: errors.New("model overloaded"),
	}
	runner, store := newTestRunner(t, provider)

	turn, err := runner.Run(context.Background(), Request{SessionID: "sess-1", Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	collectEvents(t, turn)

	if turn.Err() == nil {
		t.Error("Err() should report the generation failure")
	}

	cp, err := store.Get("sess-1", turn.MessageID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cp.Status != checkpoint.StatusFailed {
		t.Errorf("Status = %q, want failed", cp.Status)
	}
	if cp.PartialResponse != "partial" {
		t.Errorf("PartialResponse = %q, want the partial text", cp.PartialResponse)
	}
}

func TestRunner_DisconnectLeavesCheckpointResumable(t *testing.T) {
	provider := &cannedProvider{chunks: []Chunk{
		{Token: "one "},
		{Token: "two "},
		{Token: "three"},
	}}
	runner, store := newTestRunner(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	turn, err := runner.Run(ctx, Request{SessionID: "sess-1", Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Take one event, then drop the client without draining the rest
	select {
	case <-turn.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first event")
	}
	cancel()

	// The rest of the response must still be checkpointed, and the row must
	// stay streaming so a reconnecting client can resume it
	deadline := time.Now().Add(2 * time.Second)
	for {
		cp, err := store.Get("sess-1", turn.MessageID)
		if err == nil && cp.PartialResponse == "one two three" {
			if cp.Status != checkpoint.StatusStreaming {
				t.Fatalf("Status = %q after disconnect, want streaming", cp.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("full response never checkpointed after disconnect (last: %+v, err %v)", cp, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctrl := checkpoint.NewController(store, 5*time.Minute)
	active, err := ctrl.GetActive("sess-1")
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if active == nil {
		t.Fatal("GetActive() = nil right after disconnect, want the partial response")
	}
	if active.PartialResponse != "one two three" {
		t.Errorf("PartialResponse = %q, want the checkpointed text", active.PartialResponse)
	}
}

func TestRunner_CancelledUpstreamIsNotFinalized(t *testing.T) {
	// A provider sharing the request context reports context.Canceled when
	// the client drops; that must not finalize the row as failed.
	provider := &cannedProvider{
		chunks:   []Chunk{{Token: "partial"}},
		finalErr: context.Canceled,
	}
	runner, store := newTestRunner(t, provider)

	turn, err := runner.Run(context.Background(), Request{SessionID: "sess-1", Message: "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	collectEvents(t, turn)

	cp, err := store.Get("sess-1", turn.MessageID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cp.Status != checkpoint.StatusStreaming {
		t.Errorf("Status = %q, want streaming after a cancelled upstream", cp.Status)
	}
	if cp.PartialResponse != "partial" {
		t.Errorf("PartialResponse = %q, want the partial text", cp.PartialResponse)
	}
}

func TestRunner_ProviderStartFailure(t *testing.T) {
	provider := &cannedProvider{startErr: errors.New("gateway unreachable")}
	runner, _ := newTestRunner(t, provider)

	if _, err := runner.Run(context.Background(), Request{SessionID: "sess-1", Message: "hi"}); err == nil {
		t.Error("Run() should surface the provider start failure")
	}
}
