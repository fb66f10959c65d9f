package domain

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

// EventHandler processes a stored domain event.
type EventHandler func(ctx context.Context, event *DomainEvent) error

// EventDispatcher routes stored events to in-process consumers such as
// notifications and the audit log.
type EventDispatcher struct {
	handlers map[EventType][]EventHandler
	mu       sync.RWMutex
}

// NewEventDispatcher creates a new EventDispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Register registers a handler for one or more event types.
func (d *EventDispatcher) Register(handler EventHandler, types ...EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range types {
		d.handlers[t] = append(d.handlers[t], handler)
	}
}

// HasHandlers reports whether any handler is registered for t.
func (d *EventDispatcher) HasHandlers(t EventType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[t]) > 0
}

// Dispatch calls every handler registered for the event type. A failing
// handler does not stop the others; the first error is returned.
func (d *EventDispatcher) Dispatch(ctx context.Context, event *DomainEvent) error {
	d.mu.RLock()
	handlers := d.handlers[event.EventType]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		logger.Debug("No handlers registered for event type",
			zap.String("event_type", string(event.EventType)),
			zap.String("event_id", event.EventID),
		)
		return nil
	}

	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			logger.Error("Event handler failed",
				zap.String("event_type", string(event.EventType)),
				zap.String("event_id", event.EventID),
				zap.String("aggregate_id", event.AggregateID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("handler for %s failed: %w", event.EventType, err)
			}
		}
	}

	return firstErr
}

// AllEventTypes lists every event type the engine emits.
func AllEventTypes() []EventType {
	return []EventType{
		EventSubmittedForApproval,
		EventApproved,
		EventRejected,
		EventChangesRequested,
		EventApprovalStepCompleted,
		EventApprovalTimeoutOccurred,
		EventWorkflowCompleted,
		EventApprovalResetForResubmission,
		EventWorkflowCreated,
		EventWorkflowUpdated,
		EventWorkflowActivated,
		EventWorkflowDeactivated,
		EventStepCreated,
		EventStepUpdated,
		EventApprovalActionCreated,
	}
}
