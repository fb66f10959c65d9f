package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/eventsink"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

// EventRelayArgs carries the ids of the events one transaction stored, in
// the order they were raised.
type EventRelayArgs struct {
	EventIDs []string `json:"event_ids"`
}

// Kind returns the job kind identifier for event relay.
func (EventRelayArgs) Kind() string { return "approval_event_relay" }

// InsertOpts deduplicates relays of the same events while one is still
// queued or running. Completed relays do not block a later re-enqueue.
func (EventRelayArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueEvents,
		MaxAttempts: 5,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
			ByState: relayUniqueStates,
		},
	}
}

var relayUniqueStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// EventRelayWorker delivers the stored domain events of one job in order.
//
// Execution flow, per event:
//  1. Fetch the DomainEvent by id
//  2. Skip it when an earlier attempt already completed it
//  3. Mark it PROCESSING
//  4. Dispatch it to the in-process handlers (audit, notifications)
//  5. Publish it to the external sink
//  6. Mark it COMPLETED, or FAILED and return the error so River retries
//
// A failure stops the job so later events never overtake an undelivered one.
type EventRelayWorker struct {
	river.WorkerDefaults[EventRelayArgs]
	events     EventStore
	dispatcher *domain.EventDispatcher
	publisher  eventsink.Publisher
}

// NewEventRelayWorker creates a relay worker. publisher may be nil.
func NewEventRelayWorker(events EventStore, dispatcher *domain.EventDispatcher, publisher eventsink.Publisher) *EventRelayWorker {
	return &EventRelayWorker{events: events, dispatcher: dispatcher, publisher: publisher}
}

// Timeout bounds one delivery attempt.
func (w *EventRelayWorker) Timeout(*river.Job[EventRelayArgs]) time.Duration {
	return 30 * time.Second
}

// Work relays the events named by the job.
func (w *EventRelayWorker) Work(ctx context.Context, job *river.Job[EventRelayArgs]) error {
	if w == nil || w.events == nil || w.dispatcher == nil {
		return fmt.Errorf("event relay worker is not initialized")
	}

	missing := 0
	for _, eventID := range job.Args.EventIDs {
		err := w.relay(ctx, eventID)
		if isNotFound(err) {
			missing++
			logger.Warn("domain event to relay not found", zap.String("event_id", eventID))
			continue
		}
		if err != nil {
			return err
		}
	}
	if missing > 0 && missing == len(job.Args.EventIDs) {
		return river.JobCancel(fmt.Errorf("none of %d domain events found: %w", missing, domain.ErrNotFound))
	}
	return nil
}

func (w *EventRelayWorker) relay(ctx context.Context, eventID string) error {
	event, err := w.events.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load domain event %s: %w", eventID, err)
	}
	if event.Status == domain.EventStatusCompleted || event.Status == domain.EventStatusCancelled {
		logger.Debug("domain event already relayed",
			zap.String("event_id", eventID),
			zap.String("status", string(event.Status)),
		)
		return nil
	}

	markEvent(ctx, w.events, eventID, domain.EventStatusProcessing)

	if err := w.dispatcher.Dispatch(ctx, event); err != nil {
		markEvent(ctx, w.events, eventID, domain.EventStatusFailed)
		return fmt.Errorf("dispatch %s %s: %w", event.EventType, eventID, err)
	}
	if w.publisher != nil {
		if err := w.publisher.Publish(ctx, event); err != nil {
			markEvent(ctx, w.events, eventID, domain.EventStatusFailed)
			return fmt.Errorf("publish %s %s: %w", event.EventType, eventID, err)
		}
	}

	markEvent(ctx, w.events, eventID, domain.EventStatusCompleted)
	logger.Debug("domain event relayed",
		zap.String("event_id", eventID),
		zap.String("event_type", string(event.EventType)),
		zap.String("aggregate_id", event.AggregateID),
	)
	return nil
}

// jobInserter is the subset of *river.Client used to enqueue relays.
type jobInserter interface {
	InsertMany(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error)
	InsertManyTx(ctx context.Context, tx pgx.Tx, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error)
}

// RelayEnqueuer inserts one EventRelayArgs job for the events of one
// transaction. Inserted inside the writing transaction, the job becomes
// visible exactly when the events commit.
type RelayEnqueuer struct {
	client jobInserter
}

// NewRelayEnqueuer creates an enqueuer on a River client.
func NewRelayEnqueuer(client *river.Client[pgx.Tx]) *RelayEnqueuer {
	return &RelayEnqueuer{client: client}
}

// EnqueueRelay implements postgres.RelayEnqueuer.
func (e *RelayEnqueuer) EnqueueRelay(ctx context.Context, tx pgx.Tx, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	params := []river.InsertManyParams{{Args: EventRelayArgs{EventIDs: eventIDs}}}

	var err error
	if tx != nil {
		_, err = e.client.InsertManyTx(ctx, tx, params)
	} else {
		_, err = e.client.InsertMany(ctx, params)
	}
	if err != nil {
		return fmt.Errorf("insert relay of %d events: %w", len(eventIDs), err)
	}
	return nil
}
