package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/hirelane/livewire/internal/checkpoint"
	"github.com/hirelane/livewire/internal/llm"
	"github.com/hirelane/livewire/internal/testutil"
)

func TestChatStream_StreamsTokensAndFinalizes(t *testing.T) {
	provider := &testutil.ScriptedProvider{Chunks: []llm.Chunk{
		{Token: "Hello "},
		{Token: "candidate"},
	}}
	env := newTestEnv(t, provider, nil)

	resp := env.do(t, "GET", "/api/sessions/sess-1/chat/stream?message=hi&questionId=q1", env.adminToken, "")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)
	for _, want := range []string{
		`{"connected":true}`,
		`{"token":"Hello "}`,
		`{"token":"candidate"}`,
		`{"done":true}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}

	cp, err := env.store.Latest("sess-1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if cp.Status != checkpoint.StatusCompleted {
		t.Errorf("checkpoint status = %q, want completed", cp.Status)
	}
	if cp.PartialResponse != "Hello candidate" {
		t.Errorf("PartialResponse = %q, want the full response", cp.PartialResponse)
	}
	if cp.QuestionID != "q1" || cp.UserMessage != "hi" {
		t.Errorf("turn inputs not recorded: questionId=%q userMessage=%q", cp.QuestionID, cp.UserMessage)
	}
}

func TestChatStream_MissingMessage(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	status, _ := env.doJSON(t, "GET", "/api/sessions/sess-1/chat/stream", env.adminToken, "")
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestChatStream_ProviderStartFailure(t *testing.T) {
	provider := &testutil.ScriptedProvider{StreamErr: errors.New("gateway unreachable")}
	env := newTestEnv(t, provider, nil)

	status, _ := env.doJSON(t, "GET", "/api/sessions/sess-1/chat/stream?message=hi", env.adminToken, "")
	if status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", status)
	}
}

func TestChatStream_GenerationFailureFinalizesFailed(t *testing.T) {
	provider := &testutil.ScriptedProvider{
		Chunks:   []llm.Chunk{{Token: "partial"}},
		FinalErr: errors.New("model overloaded"),
	}
	env := newTestEnv(t, provider, nil)

	resp := env.do(t, "GET", "/api/sessions/sess-1/chat/stream?message=hi", env.adminToken, "")
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)

	if !strings.Contains(body, `"error"`) {
		t.Errorf("body should carry an error frame:\n%s", body)
	}
	if !strings.Contains(body, `{"done":true}`) {
		t.Errorf("body should end with done:\n%s", body)
	}

	cp, err := env.store.Latest("sess-1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if cp.Status != checkpoint.StatusFailed {
		t.Errorf("checkpoint status = %q, want failed", cp.Status)
	}
	if cp.PartialResponse != "partial" {
		t.Errorf("PartialResponse = %q, want the partial text", cp.PartialResponse)
	}
}

func TestCheckpoint_Roundtrip(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	path := "/api/sessions/sess-1/chat/checkpoint"

	// Nothing to resume yet
	status, body := env.doJSON(t, "GET", path, env.adminToken, "")
	if status != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", status)
	}
	if body["checkpoint"] != nil {
		t.Errorf("checkpoint = %v, want null before any progress", body["checkpoint"])
	}

	// Record in-flight progress; the response echoes the stored row
	status, body = env.doJSON(t, "POST", path, env.adminToken,
		`{"messageId":"msg-1","userMessage":"explain","partialResponse":"Let me","status":"streaming"}`)
	if status != http.StatusOK {
		t.Fatalf("POST streaming status = %d, want 200", status)
	}
	stored, ok := body["checkpoint"].(map[string]any)
	if !ok {
		t.Fatalf("POST body = %v, want a checkpoint object", body)
	}
	if stored["messageId"] != "msg-1" || stored["status"] != "streaming" {
		t.Errorf("stored checkpoint = %v", stored)
	}

	status, body = env.doJSON(t, "GET", path, env.adminToken, "")
	if status != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", status)
	}
	cp, ok := body["checkpoint"].(map[string]any)
	if !ok {
		t.Fatalf("checkpoint = %v, want an object while streaming", body["checkpoint"])
	}
	if cp["messageId"] != "msg-1" || cp["partialResponse"] != "Let me" {
		t.Errorf("checkpoint = %v", cp)
	}

	// Finalize; nothing is resumable afterwards
	status, _ = env.doJSON(t, "POST", path, env.adminToken,
		`{"messageId":"msg-1","partialResponse":"Let me explain.","status":"completed"}`)
	if status != http.StatusOK {
		t.Fatalf("POST completed status = %d, want 200", status)
	}

	_, body = env.doJSON(t, "GET", path, env.adminToken, "")
	if body["checkpoint"] != nil {
		t.Errorf("checkpoint = %v, want null after finalize", body["checkpoint"])
	}

	// A late streaming update loses the race; the echo shows the final row
	status, body = env.doJSON(t, "POST", path, env.adminToken,
		`{"messageId":"msg-1","partialResponse":"stale flush","status":"streaming"}`)
	if status != http.StatusOK {
		t.Fatalf("POST late streaming status = %d, want 200", status)
	}
	stored, ok = body["checkpoint"].(map[string]any)
	if !ok {
		t.Fatalf("POST body = %v, want a checkpoint object", body)
	}
	if stored["status"] != "completed" {
		t.Errorf("stored status = %v, want completed after a dropped late update", stored["status"])
	}
	if stored["partialResponse"] != "Let me explain." {
		t.Errorf("stored partialResponse = %v, want the finalized text", stored["partialResponse"])
	}
}

func TestCheckpoint_Delete(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	path := "/api/sessions/sess-1/chat/checkpoint"

	for _, msg := range []string{"msg-1", "msg-2"} {
		status, _ := env.doJSON(t, "POST", path, env.adminToken,
			`{"messageId":"`+msg+`","partialResponse":"in flight","status":"streaming"}`)
		if status != http.StatusOK {
			t.Fatalf("POST status = %d, want 200", status)
		}
	}

	status, body := env.doJSON(t, "DELETE", path, env.adminToken, "")
	if status != http.StatusOK {
		t.Fatalf("DELETE status = %d, want 200", status)
	}
	if body["deleted"] != float64(2) {
		t.Errorf("deleted = %v, want 2", body["deleted"])
	}

	status, body = env.doJSON(t, "DELETE", path, env.adminToken, "")
	if status != http.StatusOK {
		t.Fatalf("second DELETE status = %d, want 200", status)
	}
	if body["deleted"] != float64(0) {
		t.Errorf("second delete reported %v rows, want 0", body["deleted"])
	}

	_, body = env.doJSON(t, "GET", path, env.adminToken, "")
	if body["checkpoint"] != nil {
		t.Errorf("checkpoint = %v, want null after delete", body["checkpoint"])
	}
}

func TestCheckpoint_Validation(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	path := "/api/sessions/sess-1/chat/checkpoint"

	tests := []struct {
		name string
		body string
	}{
		{"missing message id", `{"partialResponse":"x","status":"streaming"}`},
		{"bad message id", `{"messageId":"msg;rm -rf","status":"streaming"}`},
		{"bad status", `{"messageId":"msg-1","status":"paused"}`},
		{"malformed body", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := env.doJSON(t, "POST", path, env.adminToken, tt.body)
			if status != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", status)
			}
		})
	}
}
