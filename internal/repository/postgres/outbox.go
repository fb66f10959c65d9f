package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/s35241607/ticket-system/internal/domain"
)

// systemActor is recorded as creator of events raised without an actor in
// the context, such as timeout handling.
const systemActor = "system"

// RelayEnqueuer schedules delivery of stored events. tx is nil when the
// events were written outside a transaction.
type RelayEnqueuer interface {
	EnqueueRelay(ctx context.Context, tx pgx.Tx, eventIDs []string) error
}

// OutboxSink implements domain.EventSink by writing events to domain_events
// and enqueueing their relay in the same transaction.
type OutboxSink struct {
	db       DBTX
	tx       pgx.Tx
	enqueuer RelayEnqueuer
}

// Publish stores events in order. Without an enqueuer the rows stay PENDING
// until the stale relay sweep picks them up.
func (s *OutboxSink) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	createdBy := systemActor
	if actor, ok := domain.ActorFrom(ctx); ok {
		createdBy = actor.String()
	}

	batch := &pgx.Batch{}
	ids := make([]string, 0, len(events))
	for _, e := range events {
		rec, err := domain.NewEventRecord(e, createdBy)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO domain_events (id, event_type, aggregate_type, aggregate_id, payload, status, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.EventID, string(rec.EventType), rec.AggregateType, rec.AggregateID, rec.Payload,
			string(rec.Status), rec.CreatedBy, rec.CreatedAt.UTC(),
		)
		ids = append(ids, rec.EventID)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store %d domain events: %w", len(events), mapError(err))
	}

	if s.enqueuer == nil {
		return nil
	}
	if err := s.enqueuer.EnqueueRelay(ctx, s.tx, ids); err != nil {
		return fmt.Errorf("enqueue relay of %d events: %w", len(ids), err)
	}
	return nil
}

// EventStore reads and updates stored domain events for the relay.
type EventStore struct {
	db DBTX
}

// NewEventStore creates an event store on db.
func NewEventStore(db DBTX) *EventStore {
	return &EventStore{db: db}
}

const eventColumns = `id, event_type, aggregate_type, aggregate_id, payload, status, created_by, created_at, archived_at`

// GetEvent loads one stored event.
func (s *EventStore) GetEvent(ctx context.Context, id string) (*domain.DomainEvent, error) {
	row := s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM domain_events WHERE id = $1`, id)
	rec, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("get domain event %s: %w", id, mapError(err))
	}
	return rec, nil
}

// MarkStatus moves an event to status. Completed events are archived.
func (s *EventStore) MarkStatus(ctx context.Context, id string, status domain.EventStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE domain_events
		SET status = $2, updated_at = now(),
			archived_at = CASE WHEN $2 = 'COMPLETED' THEN now() ELSE archived_at END
		WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("mark domain event %s %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark domain event %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListStale returns ids of events still PENDING after olderThan.
func (s *EventStore) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM domain_events
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`,
		string(domain.EventStatusPending), time.Now().UTC().Add(-olderThan), clampLimit(limit, 500))
	if err != nil {
		return nil, fmt.Errorf("list stale domain events: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan stale domain events: %w", err)
	}
	return ids, nil
}

// ListByAggregate returns the event history of one aggregate.
func (s *EventStore) ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*domain.DomainEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+eventColumns+` FROM domain_events
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY created_at, id`, aggregateType, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("list events of %s %s: %w", aggregateType, aggregateID, err)
	}
	defer rows.Close()

	var out []*domain.DomainEvent
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain event: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain events: %w", err)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (*domain.DomainEvent, error) {
	var (
		rec       domain.DomainEvent
		eventType string
		status    string
	)
	if err := row.Scan(
		&rec.EventID, &eventType, &rec.AggregateType, &rec.AggregateID, &rec.Payload,
		&status, &rec.CreatedBy, &rec.CreatedAt, &rec.ArchivedAt,
	); err != nil {
		return nil, err
	}
	rec.EventType = domain.EventType(eventType)
	rec.Status = domain.EventStatus(status)
	return &rec, nil
}

var _ domain.EventSink = (*OutboxSink)(nil)
