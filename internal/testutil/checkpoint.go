package testutil

import (
	"testing"

	"github.com/hirelane/livewire/internal/checkpoint"
)

// TempCheckpointStore creates a checkpoint store backed by a per-test
// temporary directory
func TempCheckpointStore(t testing.TB) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create checkpoint store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// StreamingCheckpoint builds a minimal in-flight checkpoint
func StreamingCheckpoint(sessionID, messageID string) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		SessionID:       sessionID,
		MessageID:       messageID,
		UserMessage:     "explain your solution",
		PartialResponse: "Let's walk through it",
		Status:          checkpoint.StatusStreaming,
	}
}
