// Package modules contains the dependency modules of the composition root.
// Each module owns one slice of the engine (approval core, event relay,
// audit) and contributes workers and ops handler dependencies.
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/s35241607/ticket-system/internal/api/handlers"
)

// ServerDepsContributor injects module-owned dependencies into the ops server deps.
type ServerDepsContributor interface {
	ContributeServerDeps(*handlers.ServerDeps)
}

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	ServerDepsContributor

	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}
