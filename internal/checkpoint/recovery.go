package checkpoint

import (
	"fmt"
	"time"

	"github.com/hirelane/livewire/internal/logger"
	"github.com/hirelane/livewire/internal/metrics"
)

// Controller implements stream recovery on top of the store: it decides
// what a reconnecting client should resume, and guarantees finalization is
// one-way even when a stale writer races a finalize.
type Controller struct {
	store     *Store
	staleness time.Duration
}

// NewController creates a recovery controller. staleness bounds how old a
// streaming checkpoint may be and still count as resumable.
func NewController(store *Store, staleness time.Duration) *Controller {
	return &Controller{store: store, staleness: staleness}
}

// BeginOrUpdate records progress of an in-flight response. Called once per
// appended chunk or tool call, not per token. If the row was already
// finalized the write is dropped.
func (c *Controller) BeginOrUpdate(cp *Checkpoint) error {
	cp.Status = StatusStreaming
	if err := c.store.Upsert(cp); err != nil {
		metrics.RecordCheckpointOp("update", "error")
		return err
	}
	metrics.RecordCheckpointOp("update", "ok")
	return nil
}

// Finalize marks a response completed or failed. Idempotent: finalizing an
// already-terminal row is a no-op, and finalizing an unknown (session,
// message) inserts a terminal row so a crash between generation and
// checkpointing still leaves a definitive record.
func (c *Controller) Finalize(cp *Checkpoint, status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize requires a terminal status, got %q", status)
	}
	cp.Status = status
	if err := c.store.Upsert(cp); err != nil {
		metrics.RecordCheckpointOp("finalize", "error")
		return err
	}
	metrics.RecordCheckpointOp("finalize", "ok")
	return nil
}

// GetActive returns the session's resumable checkpoint: the latest row, if
// it is still streaming and fresh. Returns nil without error when there is
// nothing to resume.
func (c *Controller) GetActive(sessionID string) (*Checkpoint, error) {
	cp, err := c.store.Latest(sessionID)
	if err == ErrCheckpointNotFound {
		metrics.RecordCheckpointOp("get_active", "miss")
		return nil, nil
	}
	if err != nil {
		metrics.RecordCheckpointOp("get_active", "error")
		return nil, err
	}

	if cp.Status != StatusStreaming || time.Since(cp.UpdatedAt) >= c.staleness {
		metrics.RecordCheckpointOp("get_active", "miss")
		return nil, nil
	}

	metrics.RecordCheckpointOp("get_active", "hit")
	return cp, nil
}

// Checkpoint returns the stored row for one (session, message) pair. This is
// how writers observe what actually landed, since a stale update racing a
// finalize is dropped by the store.
func (c *Controller) Checkpoint(sessionID, messageID string) (*Checkpoint, error) {
	return c.store.Get(sessionID, messageID)
}

// ClearAll drops every checkpoint for one session, leaving other sessions
// untouched. Returns how many rows were removed.
func (c *Controller) ClearAll(sessionID string) (int64, error) {
	n, err := c.store.DeleteBySession(sessionID)
	if err != nil {
		metrics.RecordCheckpointOp("clear", "error")
		return 0, err
	}
	metrics.RecordCheckpointOp("clear", "ok")
	if n > 0 {
		logger.Info("Cleared %d checkpoint(s) for session %s", n, sessionID)
	}
	return n, nil
}
