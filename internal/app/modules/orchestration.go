package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"procurement.io/orchestrator/internal/api/handlers"
	"procurement.io/orchestrator/internal/pkg/worker"
	"procurement.io/orchestrator/internal/usecase"
)

// OrchestrationModule wires the event bus and the command service over the
// final store.
type OrchestrationModule struct {
	svc   *usecase.OrchestrationService
	store Store
	pools *worker.Pools
}

// NewOrchestrationModule creates the module after River has been initialized,
// so the store already stages events when the outbox is on.
func NewOrchestrationModule(infra *Infrastructure) (*OrchestrationModule, error) {
	if infra == nil || infra.Store == nil || infra.Chains == nil {
		return nil, fmt.Errorf("orchestration module requires a store and approval chains")
	}

	bus := usecase.NewEventBus(infra.Chains, infra.Triggers, infra.Outbox)
	opts := usecase.DefaultOptions()
	opts.MaxConflictRetries = infra.Config.Orchestration.MaxConflictRetries
	if c := infra.Config.Orchestration.DefaultCurrency; c != "" {
		opts.DefaultCurrency = c
	}

	return &OrchestrationModule{
		svc:   usecase.NewOrchestrationService(infra.Store, bus, opts),
		store: infra.Store,
		pools: infra.Pools,
	}, nil
}

func (m *OrchestrationModule) Name() string { return "orchestration" }

// Service returns the command facade.
func (m *OrchestrationModule) Service() *usecase.OrchestrationService { return m.svc }

func (m *OrchestrationModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Service = m.svc
	deps.Store = m.store
	if m.pools != nil {
		deps.Pools = m.pools
	}
}

func (m *OrchestrationModule) RegisterWorkers(*river.Workers) {}

func (m *OrchestrationModule) PeriodicJobs() []*river.PeriodicJob { return nil }

func (m *OrchestrationModule) Shutdown(context.Context) error { return nil }
