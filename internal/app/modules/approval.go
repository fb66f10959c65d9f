package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/s35241607/ticket-system/internal/api/handlers"
	"github.com/s35241607/ticket-system/internal/jobs"
	"github.com/s35241607/ticket-system/internal/notification"
	"github.com/s35241607/ticket-system/internal/repository/postgres"
	"github.com/s35241607/ticket-system/internal/resolver"
	"github.com/s35241607/ticket-system/internal/usecase"
)

// ApprovalModule wires the approval engine, its approver resolution and the
// notification triggers.
type ApprovalModule struct {
	infra    *Infrastructure
	engine   *usecase.Engine
	notifier *notification.Triggers
}

// NewApprovalModule creates the approval module. The engine may serve
// commands before the River client exists; outbox relay jobs are enqueued
// once InitRiver has attached the enqueuer to the store.
func NewApprovalModule(infra *Infrastructure) (*ApprovalModule, error) {
	if infra == nil || infra.Config == nil || infra.Store == nil || infra.Dispatcher == nil || infra.Directory == nil {
		return nil, fmt.Errorf("approval module requires config, store, dispatcher and directory")
	}
	cfg := infra.Config.Approval

	escalator := resolver.NewManagerEscalator(infra.Directory, cfg.EscalationFallbackUser())
	engine := usecase.NewEngine(
		infra.Store,
		infra.Store.Documents(),
		resolver.New(infra.Directory),
		escalator,
		infra.sweepPool(),
		usecase.Config{
			SystemUserID:   cfg.SystemUser(),
			SweepBatchSize: cfg.SweepBatchSize,
		},
	)

	inbox := infra.Store.Notifications()
	notifier := notification.NewTriggers(notification.NewInboxSender(inbox), postgres.NewApprovalRepo(infra.Pool))
	notifier.Register(infra.Dispatcher)

	return &ApprovalModule{infra: infra, engine: engine, notifier: notifier}, nil
}

// Engine returns the approval engine.
func (m *ApprovalModule) Engine() *usecase.Engine { return m.engine }

func (m *ApprovalModule) Name() string { return "approval" }

func (m *ApprovalModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Sweeper = m.engine
}

func (m *ApprovalModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	river.AddWorker(workers, jobs.NewTimeoutSweepWorker(m.engine))
	river.AddWorker(workers, jobs.NewNotificationCleanupWorker(m.infra.Store.Notifications(), jobs.DefaultNotificationRetention))
}

func (m *ApprovalModule) Shutdown(context.Context) error { return nil }
