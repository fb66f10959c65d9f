package modules

import (
	"github.com/s35241607/ticket-system/internal/api/handlers"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(infra *Infrastructure, mods []Module) handlers.ServerDeps {
	var deps handlers.ServerDeps
	if infra != nil {
		if infra.Pool != nil {
			deps.DB = infra.Pool
		}
		if infra.Pools != nil {
			deps.Pools = infra.Pools
		}
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}
