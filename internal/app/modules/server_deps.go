package modules

import (
	"procurement.io/orchestrator/internal/api/handlers"
	"procurement.io/orchestrator/internal/config"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(cfg *config.Config, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		CommandTimeout: cfg.Server.CommandTimeout,
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		contributor, ok := mod.(ServerDepsContributor)
		if !ok {
			continue
		}
		contributor.ContributeServerDeps(&deps)
	}
	return deps
}
