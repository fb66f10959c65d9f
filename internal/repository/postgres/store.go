package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/s35241607/ticket-system/internal/domain"
)

// Store implements domain.Store on a shared pgx pool.
type Store struct {
	pool     *pgxpool.Pool
	enqueuer RelayEnqueuer
}

// NewStore creates a store. The relay enqueuer may be attached later with
// UseRelayEnqueuer, once the job client exists.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UseRelayEnqueuer sets the enqueuer used by outbox sinks. Call it before
// the store serves requests.
func (s *Store) UseRelayEnqueuer(e RelayEnqueuer) {
	s.enqueuer = e
}

// Repositories returns repositories bound to the pool.
func (s *Store) Repositories() domain.Repositories {
	return s.bind(s.pool, nil)
}

// WithinTx runs fn in one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, s.bind(tx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", mapError(err))
	}
	return nil
}

func (s *Store) bind(db DBTX, tx pgx.Tx) domain.Repositories {
	return domain.Repositories{
		Approvals: NewApprovalRepo(db),
		Workflows: NewWorkflowRepo(db),
		Actions:   NewActionRepo(db),
		Events:    &OutboxSink{db: db, tx: tx, enqueuer: s.enqueuer},
	}
}

// Workflows returns a pool-bound workflow repository with admin queries.
func (s *Store) Workflows() *WorkflowRepo { return NewWorkflowRepo(s.pool) }

// EventStore returns the outbox reader.
func (s *Store) EventStore() *EventStore { return NewEventStore(s.pool) }

// Directory returns the org directory.
func (s *Store) Directory() *DirectoryRepo { return NewDirectoryRepo(s.pool) }

// Documents returns the document projection.
func (s *Store) Documents() *DocumentRepo { return NewDocumentRepo(s.pool) }

// Notifications returns the inbox.
func (s *Store) Notifications() *NotificationRepo { return NewNotificationRepo(s.pool) }

var _ domain.Store = (*Store)(nil)
