// Package modules contains domain-oriented dependency modules for the
// composition root.
//
// Import Path: procurement.io/orchestrator/internal/app/modules
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"procurement.io/orchestrator/internal/api/handlers"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// PeriodicJobs returns the jobs River schedules for this module.
	PeriodicJobs() []*river.PeriodicJob

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}

// ServerDepsContributor is implemented by modules that own HTTP dependencies.
type ServerDepsContributor interface {
	ContributeServerDeps(*handlers.ServerDeps)
}
