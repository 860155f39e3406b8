package stream

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// scriptSource replays fixed events then returns a final error
type scriptSource struct {
	events   []Event
	finalErr error
}

func (s *scriptSource) Next(ctx context.Context) (Event, error) {
	if len(s.events) == 0 {
		return nil, s.finalErr
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

// blockingSource never produces an event; it waits for cancellation
type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) (Event, error) {
	<-ctx.Done()
	return nil, context.Cause(ctx)
}

func streamToRecorder(t *testing.T, rl *Relay, ctx context.Context, src Source) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/stream", nil)
	rl.Stream(ctx, rec, req, src)
	return rec.Body.String()
}

func TestRelay_ConnectedDataAndDone(t *testing.T) {
	rl := NewRelay(Options{Kind: "terminal", KeepAlive: time.Minute})
	src := &scriptSource{
		events:   []Event{{"output": "$ "}, {"output": "ls\r\n"}},
		finalErr: io.EOF,
	}

	body := streamToRecorder(t, rl, context.Background(), src)

	for i, want := range []string{
		`{"connected":true}`,
		`{"output":"$ "}`,
		`{"output":"ls\r\n"}`,
		`{"done":true}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("frame %d: body missing %q\nbody: %s", i, want, body)
		}
	}

	// Frames must arrive in order
	if strings.Index(body, `"connected"`) > strings.Index(body, `"output"`) {
		t.Error("connected frame should precede output")
	}
	if strings.Index(body, `"output"`) > strings.Index(body, `"done"`) {
		t.Error("output frames should precede done")
	}
}

func TestRelay_SetsStreamHeaders(t *testing.T) {
	rl := NewRelay(Options{Kind: "terminal"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/stream", nil)
	rl.Stream(context.Background(), rec, req, &scriptSource{finalErr: io.EOF})

	for header, want := range map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache, no-transform",
		"Connection":        "keep-alive",
		"X-Accel-Buffering": "no",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestRelay_AmbiguousEndSignalsReconnect(t *testing.T) {
	rl := NewRelay(Options{Kind: "terminal"})
	src := &scriptSource{finalErr: ErrEndOfStream}

	body := streamToRecorder(t, rl, context.Background(), src)

	if !strings.Contains(body, `"reconnect":true`) {
		t.Errorf("body missing reconnect signal: %s", body)
	}
	if !strings.Contains(body, ReasonStreamEnded) {
		t.Errorf("body missing reason %q: %s", ReasonStreamEnded, body)
	}
	if strings.Contains(body, `"done":true`) {
		t.Errorf("ambiguous end should not emit done: %s", body)
	}
}

func TestRelay_RecoverableErrorSignalsReconnect(t *testing.T) {
	rl := NewRelay(Options{Kind: "chat"})
	src := &scriptSource{finalErr: errors.New("read tcp 10.0.0.1: connection reset by peer")}

	body := streamToRecorder(t, rl, context.Background(), src)

	if !strings.Contains(body, ReasonTransport) {
		t.Errorf("body missing reason %q: %s", ReasonTransport, body)
	}
	if strings.Contains(body, `"error"`) {
		t.Errorf("recoverable failure should not render an error: %s", body)
	}
}

func TestRelay_FatalErrorOnTerminalIsColored(t *testing.T) {
	rl := NewRelay(Options{Kind: "terminal", ColorErrors: true})
	src := &scriptSource{finalErr: errors.New("workspace destroyed")}

	body := streamToRecorder(t, rl, context.Background(), src)

	if !strings.Contains(body, `[31m`) && !strings.Contains(body, "\x1b[31m") {
		t.Errorf("terminal error should be ANSI red: %s", body)
	}
	if !strings.Contains(body, "workspace destroyed") {
		t.Errorf("error text missing: %s", body)
	}
	if !strings.Contains(body, `"done":true`) {
		t.Errorf("fatal error should end with done: %s", body)
	}
}

func TestRelay_FatalErrorOnChatIsEnvelope(t *testing.T) {
	rl := NewRelay(Options{Kind: "chat"})
	src := &scriptSource{finalErr: errors.New("generation rejected")}

	body := streamToRecorder(t, rl, context.Background(), src)

	if !strings.Contains(body, `{"error":"generation rejected"}`) {
		t.Errorf("body missing error envelope: %s", body)
	}
	if !strings.Contains(body, `"done":true`) {
		t.Errorf("fatal error should end with done: %s", body)
	}
}

func TestRelay_PreemptionSendsSilentReconnect(t *testing.T) {
	preempted := errors.New("taken over")
	rl := NewRelay(Options{Kind: "terminal", PreemptionCause: preempted})

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(preempted)
	}()

	body := streamToRecorder(t, rl, ctx, blockingSource{})

	if !strings.Contains(body, ReasonNewConnection) {
		t.Errorf("body missing reason %q: %s", ReasonNewConnection, body)
	}
	if strings.Contains(body, `"error"`) {
		t.Errorf("preemption must not render an error: %s", body)
	}
	if strings.Contains(body, `"done":true`) {
		t.Errorf("preemption must not emit done: %s", body)
	}
}

func TestRelay_ClientDisconnectWritesNothing(t *testing.T) {
	rl := NewRelay(Options{Kind: "terminal"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	body := streamToRecorder(t, rl, ctx, blockingSource{})

	if strings.Contains(body, `"reconnect"`) {
		t.Errorf("plain disconnect should not signal reconnect: %s", body)
	}
}

func TestRelay_KeepAlivePings(t *testing.T) {
	rl := NewRelay(Options{Kind: "terminal", KeepAlive: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()

	body := streamToRecorder(t, rl, ctx, blockingSource{})

	if !strings.Contains(body, ": ping") {
		t.Errorf("idle stream should carry keep-alive comments: %s", body)
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", errors.New("i/o timeout"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"socket hang up", errors.New("socket hang up"), true},
		{"closed connection", errors.New("use of closed network connection"), true},
		{"workspace gone", errors.New("workspace does not exist"), false},
		{"plain failure", errors.New("exec failed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.want {
				t.Errorf("IsRecoverable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
