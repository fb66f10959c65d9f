package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

const (
	// DefaultStaleAfter is how long an event may stay PENDING before the
	// stale relay sweep enqueues it again.
	DefaultStaleAfter = 5 * time.Minute

	staleBatchSize = 500
)

// StaleRelayArgs is a periodic job that re-enqueues the relay of events
// still PENDING, for example ones written before a relay enqueuer existed or
// ones whose completion was never recorded.
type StaleRelayArgs struct{}

// Kind returns the job kind identifier for the stale relay sweep.
func (StaleRelayArgs) Kind() string { return "approval_stale_relay" }

// InsertOpts keeps at most one stale sweep per period.
func (StaleRelayArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueEvents,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: DefaultStaleAfter,
			ByQueue:  true,
		},
	}
}

// StaleEventLister lists ids of events still PENDING after olderThan.
type StaleEventLister interface {
	ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]string, error)
}

// Enqueuer schedules relays of stored events.
type Enqueuer interface {
	EnqueueRelay(ctx context.Context, tx pgx.Tx, eventIDs []string) error
}

// StaleRelayWorker re-enqueues stale events.
type StaleRelayWorker struct {
	river.WorkerDefaults[StaleRelayArgs]
	events     StaleEventLister
	enqueuer   Enqueuer
	staleAfter time.Duration
}

// NewStaleRelayWorker creates a stale relay worker. Non-positive staleAfter
// falls back to DefaultStaleAfter.
func NewStaleRelayWorker(events StaleEventLister, enqueuer Enqueuer, staleAfter time.Duration) *StaleRelayWorker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &StaleRelayWorker{events: events, enqueuer: enqueuer, staleAfter: staleAfter}
}

// Work enqueues one batch of stale events as a single relay, oldest first.
func (w *StaleRelayWorker) Work(ctx context.Context, _ *river.Job[StaleRelayArgs]) error {
	if w == nil || w.events == nil || w.enqueuer == nil {
		return fmt.Errorf("stale relay worker is not initialized")
	}
	ids, err := w.events.ListStale(ctx, w.staleAfter, staleBatchSize)
	if err != nil {
		return fmt.Errorf("list stale domain events: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := w.enqueuer.EnqueueRelay(ctx, nil, ids); err != nil {
		return fmt.Errorf("re-enqueue stale domain events: %w", err)
	}
	logger.Info("stale domain events re-enqueued",
		zap.Int("count", len(ids)),
		zap.Duration("stale_after", w.staleAfter),
	)
	return nil
}
