package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/pkg/logger"
	"github.com/s35241607/ticket-system/internal/usecase"
)

// TimeoutSweepArgs is a periodic job that handles approvals whose current
// step ran past its timeout.
type TimeoutSweepArgs struct{}

// Kind returns the job kind identifier for the timeout sweep.
func (TimeoutSweepArgs) Kind() string { return "approval_timeout_sweep" }

// InsertOpts keeps at most one sweep per minute; a failed sweep is not
// retried because the next tick covers it.
func (TimeoutSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Minute,
			ByQueue:  true,
		},
	}
}

// Sweeper handles timed-out approvals.
type Sweeper interface {
	SweepTimeouts(ctx context.Context) (usecase.SweepResult, error)
}

// TimeoutSweepWorker runs one timeout sweep.
type TimeoutSweepWorker struct {
	river.WorkerDefaults[TimeoutSweepArgs]
	sweeper Sweeper
}

// NewTimeoutSweepWorker creates a sweep worker.
func NewTimeoutSweepWorker(sweeper Sweeper) *TimeoutSweepWorker {
	return &TimeoutSweepWorker{sweeper: sweeper}
}

// Timeout allows a sweep to fan out over a full batch.
func (w *TimeoutSweepWorker) Timeout(*river.Job[TimeoutSweepArgs]) time.Duration {
	return 5 * time.Minute
}

// Work runs the sweep.
func (w *TimeoutSweepWorker) Work(ctx context.Context, _ *river.Job[TimeoutSweepArgs]) error {
	if w == nil || w.sweeper == nil {
		return fmt.Errorf("timeout sweep worker is not initialized")
	}
	res, err := w.sweeper.SweepTimeouts(ctx)
	if err != nil {
		return fmt.Errorf("sweep approval timeouts: %w", err)
	}
	logger.Debug("timeout sweep completed",
		zap.Int("scanned", res.Scanned),
		zap.Int("auto_approved", res.AutoApproved),
		zap.Int("escalated", res.Escalated),
		zap.Int("failed", res.Failed),
	)
	return nil
}

// SweepSchedule parses a standard 5-field cron expression into a River
// periodic schedule.
func SweepSchedule(expr string) (river.PeriodicSchedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse timeout sweep schedule %q: %w", expr, err)
	}
	return schedule, nil
}
