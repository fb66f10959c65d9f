// Package jobs defines the River job types of the approval engine.
//
// Jobs carry only identifiers (claim-check): the relay job carries the
// stored event ids and loads the payloads from domain_events.
package jobs

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

// QueueEvents is the River queue consumed by the event relay.
const QueueEvents = "approval_events"

// EventStore is the part of the outbox the relay reads and updates.
type EventStore interface {
	GetEvent(ctx context.Context, id string) (*domain.DomainEvent, error)
	MarkStatus(ctx context.Context, id string, status domain.EventStatus) error
}

// markEvent updates the delivery status of a stored event. This is a
// best-effort operation: failures are logged but not propagated, since River
// owns the retry state of the job.
func markEvent(ctx context.Context, store EventStore, eventID string, status domain.EventStatus) {
	if store == nil || eventID == "" {
		return
	}
	if err := store.MarkStatus(ctx, eventID, status); err != nil {
		logger.Warn("failed to update domain event status",
			zap.String("event_id", eventID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
