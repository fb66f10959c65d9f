package modules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/s35241607/ticket-system/internal/api/handlers"
	"github.com/s35241607/ticket-system/internal/jobs"
	"github.com/s35241607/ticket-system/internal/repository/postgres"
)

// EventsModule runs the outbox relay: one job per stored event dispatches it
// to the registered handlers and publishes it, and a periodic job re-enqueues
// events whose relay job was lost.
type EventsModule struct {
	infra  *Infrastructure
	events *postgres.EventStore
	// relay is resolved lazily because the River client is created after
	// workers are registered.
	relay *lazyEnqueuer
}

// NewEventsModule creates the events module.
func NewEventsModule(infra *Infrastructure) (*EventsModule, error) {
	if infra == nil || infra.Store == nil || infra.Dispatcher == nil {
		return nil, fmt.Errorf("events module requires store and dispatcher")
	}
	return &EventsModule{
		infra:  infra,
		events: infra.Store.EventStore(),
		relay:  &lazyEnqueuer{infra: infra},
	}, nil
}

func (m *EventsModule) Name() string { return "events" }

func (m *EventsModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Events = m.events
}

func (m *EventsModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	river.AddWorker(workers, jobs.NewEventRelayWorker(m.events, m.infra.Dispatcher, m.infra.Publisher))
	river.AddWorker(workers, jobs.NewStaleRelayWorker(m.events, m.relay, jobs.DefaultStaleAfter))
}

func (m *EventsModule) Shutdown(context.Context) error { return nil }

// lazyEnqueuer forwards to a RelayEnqueuer over the infra River client.
type lazyEnqueuer struct {
	infra *Infrastructure
}

func (l *lazyEnqueuer) EnqueueRelay(ctx context.Context, tx pgx.Tx, eventIDs []string) error {
	if l.infra.RiverClient == nil {
		return fmt.Errorf("river client is not initialized")
	}
	return jobs.NewRelayEnqueuer(l.infra.RiverClient).EnqueueRelay(ctx, tx, eventIDs)
}
