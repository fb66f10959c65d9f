package modules

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/s35241607/ticket-system/internal/api/handlers"
)

// GovernanceModule subscribes the audit logger to every relayed event.
// It owns no workers; audit rows are written by the event relay.
type GovernanceModule struct {
	infra *Infrastructure
}

func NewGovernanceModule(infra *Infrastructure) *GovernanceModule {
	if infra != nil && infra.AuditLogger != nil && infra.Dispatcher != nil {
		infra.AuditLogger.Register(infra.Dispatcher)
	}
	return &GovernanceModule{infra: infra}
}

func (m *GovernanceModule) Name() string { return "governance" }

func (m *GovernanceModule) ContributeServerDeps(_ *handlers.ServerDeps) {}

func (m *GovernanceModule) RegisterWorkers(_ *river.Workers) {}

func (m *GovernanceModule) Shutdown(context.Context) error { return nil }
