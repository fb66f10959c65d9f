// Package handlers implements the operational HTTP endpoints of the approval
// engine: probes, log level, worker pool occupancy, the manual timeout sweep
// and the event history of an aggregate.
package handlers

import (
	"context"

	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/pkg/worker"
	"github.com/s35241607/ticket-system/internal/usecase"
)

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sweeper runs a timeout sweep on demand.
type Sweeper interface {
	SweepTimeouts(ctx context.Context) (usecase.SweepResult, error)
}

// EventHistory lists the stored events of one aggregate.
type EventHistory interface {
	ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*domain.DomainEvent, error)
}

// Pools reports worker pool occupancy and runs detached background tasks.
type Pools interface {
	Metrics() map[string]interface{}
	SubmitDetached(poolName string, task worker.Task) error
}

// Server holds the dependencies of the ops handlers.
type Server struct {
	db      Pinger
	sweeper Sweeper
	events  EventHistory
	pools   Pools
}

// ServerDeps holds all dependencies for creating a Server.
// Manual DI; modules fill the fields they own.
type ServerDeps struct {
	DB      Pinger
	Sweeper Sweeper
	Events  EventHistory
	Pools   Pools
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		db:      deps.DB,
		sweeper: deps.Sweeper,
		events:  deps.Events,
		pools:   deps.Pools,
	}
}
