// Package eventbus routes domain events to in-process handlers.
//
// Handlers registered with Subscribe run synchronously inside the caller's
// unit of work, in registration order; the first failure aborts the command.
// Listeners registered with SubscribeAfterCommit run only after the host
// transaction commits and can never fail it.
//
// The registry is assembled once with a Builder and frozen by Build. A Bus
// has no runtime registration and needs no locking.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/domain"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/pkg/logger"
)

// ErrCycle is returned when an event type re-enters its own dispatch chain.
var ErrCycle = errors.New("event cycle")

// Tx is the slice of the host unit of work the bus needs.
type Tx interface {
	// AfterCommit schedules fn to run once the transaction has committed.
	// It is dropped on rollback.
	AfterCommit(fn func(ctx context.Context))
	// Stage persists env in the same transaction for external relay.
	Stage(ctx context.Context, env domain.Envelope) error
}

// Handler reacts to an event inside the publishing transaction.
type Handler[T Tx] func(ctx context.Context, tx T, ev domain.Event) error

// Listener reacts to an event after commit. Errors are logged only.
type Listener func(ctx context.Context, ev domain.Event) error

// Publisher is the publish contract the orchestration layer depends on.
type Publisher[T Tx] interface {
	Publish(ctx context.Context, tx T, ev domain.Event) error
	PublishAfterCommit(ctx context.Context, tx T, ev domain.Event)
}

type subscription[T Tx] struct {
	name   string
	handle Handler[T]
}

type listener struct {
	name   string
	handle Listener
}

// Builder collects subscriptions at process start.
type Builder[T Tx] struct {
	handlers  map[domain.EventType][]subscription[T]
	listeners map[domain.EventType][]listener
	outbox    bool
	built     bool
}

// NewBuilder creates an empty Builder.
func NewBuilder[T Tx]() *Builder[T] {
	return &Builder[T]{
		handlers:  make(map[domain.EventType][]subscription[T]),
		listeners: make(map[domain.EventType][]listener),
	}
}

// Subscribe registers an in-transaction handler. Panics after Build.
func (b *Builder[T]) Subscribe(eventType domain.EventType, name string, h Handler[T]) *Builder[T] {
	b.mustOpen()
	b.handlers[eventType] = append(b.handlers[eventType], subscription[T]{name: name, handle: h})
	return b
}

// SubscribeAfterCommit registers an after-commit listener. Panics after Build.
func (b *Builder[T]) SubscribeAfterCommit(eventType domain.EventType, name string, l Listener) *Builder[T] {
	b.mustOpen()
	b.listeners[eventType] = append(b.listeners[eventType], listener{name: name, handle: l})
	return b
}

// WithOutbox makes Publish stage every successfully dispatched event through
// Tx.Stage so a relay can forward it to an external broker after commit.
func (b *Builder[T]) WithOutbox() *Builder[T] {
	b.mustOpen()
	b.outbox = true
	return b
}

func (b *Builder[T]) mustOpen() {
	if b.built {
		panic("eventbus: registration after Build")
	}
}

// Build freezes the registry.
func (b *Builder[T]) Build() *Bus[T] {
	b.built = true
	bus := &Bus[T]{
		handlers:  make(map[domain.EventType][]subscription[T], len(b.handlers)),
		listeners: make(map[domain.EventType][]listener, len(b.listeners)),
		outbox:    b.outbox,
	}
	for k, v := range b.handlers {
		bus.handlers[k] = append([]subscription[T](nil), v...)
	}
	for k, v := range b.listeners {
		bus.listeners[k] = append([]listener(nil), v...)
	}
	return bus
}

// On registers a typed in-transaction handler for event variant E.
func On[T Tx, E domain.Event](b *Builder[T], name string, fn func(ctx context.Context, tx T, ev E) error) {
	var zero E
	b.Subscribe(zero.EventType(), name, func(ctx context.Context, tx T, ev domain.Event) error {
		typed, ok := ev.(E)
		if !ok {
			return apperrors.Internal(nil, fmt.Sprintf("handler %s: unexpected event %T", name, ev))
		}
		return fn(ctx, tx, typed)
	})
}

// AfterCommit registers a typed after-commit listener for event variant E.
func AfterCommit[T Tx, E domain.Event](b *Builder[T], name string, fn func(ctx context.Context, ev E) error) {
	var zero E
	b.SubscribeAfterCommit(zero.EventType(), name, func(ctx context.Context, ev domain.Event) error {
		typed, ok := ev.(E)
		if !ok {
			return fmt.Errorf("listener %s: unexpected event %T", name, ev)
		}
		return fn(ctx, typed)
	})
}

// Bus dispatches events. Immutable and safe for concurrent use.
type Bus[T Tx] struct {
	handlers  map[domain.EventType][]subscription[T]
	listeners map[domain.EventType][]listener
	outbox    bool
}

var _ Publisher[Tx] = (*Bus[Tx])(nil)

type chainKey struct{}

func chainFrom(ctx context.Context) []domain.EventType {
	chain, _ := ctx.Value(chainKey{}).([]domain.EventType)
	return chain
}

// Publish delivers ev to its in-transaction handlers in registration order.
// The first handler error is returned wrapped with the handler name; the
// caller must abandon the unit of work. On success the after-commit
// listeners are scheduled and, with the outbox enabled, ev is staged.
func (b *Bus[T]) Publish(ctx context.Context, tx T, ev domain.Event) error {
	eventType := ev.EventType()
	chain := chainFrom(ctx)
	for _, seen := range chain {
		if seen == eventType {
			return apperrors.Internal(
				fmt.Errorf("%w: %s", ErrCycle, formatChain(append(chain, eventType))),
				"event dispatch re-entered its own event type",
			)
		}
	}
	next := make([]domain.EventType, len(chain), len(chain)+1)
	copy(next, chain)
	ctx = context.WithValue(ctx, chainKey{}, append(next, eventType))

	ctx, span := otel.Tracer("procurement.io/orchestrator/eventbus").Start(ctx, "eventbus.publish")
	span.SetAttributes(
		attribute.String("event.type", string(eventType)),
		attribute.String("event.aggregate_id", ev.AggregateID()),
	)
	defer span.End()

	for _, sub := range b.handlers[eventType] {
		if err := sub.handle(ctx, tx, ev); err != nil {
			logger.Error("Event handler failed",
				zap.String("event_type", string(eventType)),
				zap.String("aggregate_id", ev.AggregateID()),
				zap.String("handler", sub.name),
				zap.Error(err),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, sub.name)
			return fmt.Errorf("handler %s for %s failed: %w", sub.name, eventType, err)
		}
	}

	if b.outbox {
		env, err := domain.NewEnvelope(ev)
		if err != nil {
			return apperrors.Internal(err, "encode event envelope")
		}
		if err := tx.Stage(ctx, env); err != nil {
			return fmt.Errorf("stage %s: %w", eventType, err)
		}
	}

	b.PublishAfterCommit(ctx, tx, ev)
	return nil
}

// PublishAfterCommit schedules only the after-commit listeners for ev.
func (b *Bus[T]) PublishAfterCommit(_ context.Context, tx T, ev domain.Event) {
	listeners := b.listeners[ev.EventType()]
	if len(listeners) == 0 {
		return
	}
	tx.AfterCommit(func(ctx context.Context) {
		for _, l := range listeners {
			if err := l.handle(ctx, ev); err != nil {
				logger.Error("After-commit listener failed",
					zap.String("event_type", string(ev.EventType())),
					zap.String("aggregate_id", ev.AggregateID()),
					zap.String("listener", l.name),
					zap.Error(err),
				)
			}
		}
	})
}

// Handlers returns the names of the in-transaction handlers for eventType in
// dispatch order.
func (b *Bus[T]) Handlers(eventType domain.EventType) []string {
	subs := b.handlers[eventType]
	names := make([]string, len(subs))
	for i, s := range subs {
		names[i] = s.name
	}
	return names
}

// Listeners returns the names of the after-commit listeners for eventType.
func (b *Bus[T]) Listeners(eventType domain.EventType) []string {
	ls := b.listeners[eventType]
	names := make([]string, len(ls))
	for i, l := range ls {
		names[i] = l.name
	}
	return names
}

func formatChain(chain []domain.EventType) string {
	parts := make([]string, len(chain))
	for i, c := range chain {
		parts[i] = string(c)
	}
	return strings.Join(parts, " -> ")
}
