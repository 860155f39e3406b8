package shell

import (
	"context"
	"testing"
)

func TestSession_AcquireReaderPreemptsPrevious(t *testing.T) {
	s := newSession("cand-1", nil)

	lease1 := s.acquireReader(context.Background())
	if lease1.Generation() != 1 {
		t.Fatalf("first lease generation = %d, want 1", lease1.Generation())
	}
	if lease1.Context().Err() != nil {
		t.Fatal("first lease should start uncancelled")
	}

	lease2 := s.acquireReader(context.Background())

	// acquireReader cancels the old holder before returning
	if lease1.Context().Err() == nil {
		t.Error("first lease should be cancelled after second attach")
	}
	if !lease1.Preempted() {
		t.Error("first lease should report preemption")
	}
	if lease2.Context().Err() != nil {
		t.Error("second lease should be live")
	}
	if lease2.Preempted() {
		t.Error("second lease should not report preemption")
	}
	if lease2.Generation() != 2 {
		t.Errorf("second lease generation = %d, want 2", lease2.Generation())
	}
}

func TestSession_StaleReleaseDoesNotRevokeNewerReader(t *testing.T) {
	s := newSession("cand-1", nil)

	lease1 := s.acquireReader(context.Background())
	lease2 := s.acquireReader(context.Background())

	// The preempted reader releasing late must be a no-op
	lease1.Release()
	if lease2.Context().Err() != nil {
		t.Fatal("stale release revoked the current reader")
	}

	lease2.Release()
	if lease2.Context().Err() == nil {
		t.Fatal("current holder's release should cancel its context")
	}
	if lease2.Preempted() {
		t.Error("self-release should not look like preemption")
	}
}

func TestSession_ClientDisconnectIsNotPreemption(t *testing.T) {
	s := newSession("cand-1", nil)

	parent, cancel := context.WithCancel(context.Background())
	lease := s.acquireReader(parent)

	cancel()
	<-lease.Context().Done()

	if lease.Preempted() {
		t.Error("parent cancellation should not report preemption")
	}
}

func TestSession_CloseCancelsReader(t *testing.T) {
	s := newSession("cand-1", nil)
	lease := s.acquireReader(context.Background())

	s.close()

	if lease.Context().Err() == nil {
		t.Fatal("close should cancel the attached reader")
	}
	if lease.Preempted() {
		t.Error("teardown should not look like preemption")
	}
}
