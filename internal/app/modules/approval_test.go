package modules

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/riverqueue/river"

	"github.com/s35241607/ticket-system/internal/api/handlers"
	"github.com/s35241607/ticket-system/internal/config"
	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/governance/audit"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
	"github.com/s35241607/ticket-system/internal/repository/postgres"
)

func init() {
	_ = logger.Init("error", "json")
}

// offlineInfra builds the infrastructure graph without a database; nothing
// here touches the pool until a command runs.
func offlineInfra() *Infrastructure {
	store := postgres.NewStore(nil)
	return &Infrastructure{
		Config: &config.Config{
			Approval: config.ApprovalConfig{
				SystemUserID:         "6f1c2b1e-8a52-4c1a-9d59-0a3d2f0b7c11",
				TimeoutSweepSchedule: "*/5 * * * *",
			},
		},
		Store:       store,
		Dispatcher:  domain.NewEventDispatcher(),
		AuditLogger: audit.NewLogger(nil),
		Directory:   store.Directory(),
	}
}

func TestNewApprovalModule_RequiresInfraDependencies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		infra *Infrastructure
	}{
		{name: "nil infra", infra: nil},
		{name: "missing all core deps", infra: &Infrastructure{}},
		{name: "missing dispatcher", infra: &Infrastructure{Config: &config.Config{}, Store: postgres.NewStore(nil)}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewApprovalModule(tc.infra); err == nil {
				t.Fatalf("NewApprovalModule(%s) expected error, got nil", tc.name)
			}
		})
	}
}

func TestApprovalModule_Wiring(t *testing.T) {
	infra := offlineInfra()

	mod, err := NewApprovalModule(infra)
	if err != nil {
		t.Fatalf("NewApprovalModule() error = %v", err)
	}
	if mod.Engine() == nil {
		t.Fatal("Engine() = nil")
	}
	for _, et := range []domain.EventType{
		domain.EventSubmittedForApproval,
		domain.EventWorkflowCompleted,
		domain.EventChangesRequested,
		domain.EventApprovalTimeoutOccurred,
	} {
		if !infra.Dispatcher.HasHandlers(et) {
			t.Errorf("no notification handler registered for %s", et)
		}
	}

	var deps handlers.ServerDeps
	mod.ContributeServerDeps(&deps)
	if deps.Sweeper == nil {
		t.Error("approval module did not contribute the sweeper")
	}

	workers := river.NewWorkers()
	mod.RegisterWorkers(workers)
	if err := mod.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestGovernanceModule_RegistersAudit(t *testing.T) {
	infra := offlineInfra()
	NewGovernanceModule(infra)

	for _, et := range domain.AllEventTypes() {
		if !infra.Dispatcher.HasHandlers(et) {
			t.Errorf("audit logger not registered for %s", et)
		}
	}
}

func TestEventsModule_Wiring(t *testing.T) {
	if _, err := NewEventsModule(&Infrastructure{}); err == nil {
		t.Fatal("NewEventsModule() expected error without store")
	}

	infra := offlineInfra()
	mod, err := NewEventsModule(infra)
	if err != nil {
		t.Fatalf("NewEventsModule() error = %v", err)
	}

	deps := NewServerDeps(infra, []Module{mod, nil})
	if deps.Events == nil {
		t.Error("events module did not contribute the event history")
	}
	if deps.DB != nil || deps.Pools != nil {
		t.Error("offline infra must not contribute db or pools")
	}

	mod.RegisterWorkers(river.NewWorkers())

	if err := mod.relay.EnqueueRelay(context.Background(), nil, []string{"e-1"}); err == nil {
		t.Error("EnqueueRelay() expected error before river is initialized")
	}
}

func TestApprovalModule_WiringContract(t *testing.T) {
	t.Parallel()

	src, err := os.ReadFile("infrastructure.go")
	if err != nil {
		t.Fatalf("read infrastructure.go: %v", err)
	}
	text := string(src)

	required := []string{
		"jobs.PeriodicJobs(",
		"UseRelayEnqueuer(jobs.NewRelayEnqueuer(",
		"resolver.NewCachedDirectory(",
		"eventsink.New(",
	}
	for _, fragment := range required {
		if !strings.Contains(text, fragment) {
			t.Fatalf("infrastructure missing required wiring fragment %q", fragment)
		}
	}
}
