package usecase

import (
	"procurement.io/orchestrator/internal/approval"
	"procurement.io/orchestrator/internal/eventbus"
	"procurement.io/orchestrator/internal/notification"
	"procurement.io/orchestrator/internal/purchasing"
	"procurement.io/orchestrator/internal/repository"
)

// RegisterHandlers wires every subscription of the core into b: the
// purchase request reactions to order events, approval creation on
// submission, and the after-commit notification triggers. triggers may be
// nil.
func RegisterHandlers(b *eventbus.Builder[repository.Tx], chains *approval.Chains, triggers *notification.Triggers) {
	purchasing.RegisterHandlers(b)
	approval.RegisterHandlers(b, chains)
	if triggers != nil {
		notification.Register(b, triggers)
	}
}

// NewEventBus builds the frozen bus. With outbox set, every dispatched event
// is also staged for relay to the external broker.
func NewEventBus(chains *approval.Chains, triggers *notification.Triggers, outbox bool) *eventbus.Bus[repository.Tx] {
	b := eventbus.NewBuilder[repository.Tx]()
	RegisterHandlers(b, chains, triggers)
	if outbox {
		b.WithOutbox()
	}
	return b.Build()
}
