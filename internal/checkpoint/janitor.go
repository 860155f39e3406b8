package checkpoint

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hirelane/livewire/internal/logger"
)

// cronParser is configured for standard 5-field cron (minute hour day month weekday)
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Janitor periodically prunes checkpoint rows nothing will ever resume:
// finalized rows past the retention window and streaming rows abandoned far
// beyond the staleness window.
type Janitor struct {
	store     *Store
	cron      *cron.Cron
	retention time.Duration
	staleness time.Duration
}

// NewJanitor schedules a cleanup sweep on the given cron expression
func NewJanitor(store *Store, cronExpr string, retention, staleness time.Duration) (*Janitor, error) {
	j := &Janitor{
		store:     store,
		cron:      cron.New(cron.WithParser(cronParser)),
		retention: retention,
		staleness: staleness,
	}

	if _, err := j.cron.AddFunc(cronExpr, j.sweep); err != nil {
		return nil, fmt.Errorf("invalid janitor cron expression %q: %w", cronExpr, err)
	}
	return j, nil
}

// Start begins the sweep schedule
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule, waiting for a running sweep to finish
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// sweep runs one cleanup pass
func (j *Janitor) sweep() {
	now := time.Now()

	finalized, err := j.store.DeleteFinalizedBefore(now.Add(-j.retention))
	if err != nil {
		logger.Error("Checkpoint janitor failed pruning finalized rows: %v", err)
	}

	// An abandoned streaming row stops being resumable after the staleness
	// window, but keep it around a few multiples longer for debugging.
	abandoned, err := j.store.DeleteAbandonedBefore(now.Add(-4 * j.staleness))
	if err != nil {
		logger.Error("Checkpoint janitor failed pruning abandoned rows: %v", err)
	}

	if finalized > 0 || abandoned > 0 {
		logger.Info("Checkpoint janitor pruned %d finalized, %d abandoned row(s)", finalized, abandoned)
	}
}
