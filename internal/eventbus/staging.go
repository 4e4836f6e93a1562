package eventbus

import (
	"context"
	"fmt"

	"procurement.io/orchestrator/internal/domain"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
)

// StagingPublisher is the broker-side Publisher: instead of invoking
// in-process handlers it stages every event envelope in the current
// transaction for an external relay. Cascades then become the consumer's
// concern, and so does anything a command would otherwise read back from its
// own handlers: approval requests, for one, appear only after the consumer
// has run.
type StagingPublisher[T Tx] struct{}

var _ Publisher[Tx] = StagingPublisher[Tx]{}

// Publish stages ev.
func (StagingPublisher[T]) Publish(ctx context.Context, tx T, ev domain.Event) error {
	env, err := domain.NewEnvelope(ev)
	if err != nil {
		return apperrors.Internal(err, "encode event envelope")
	}
	if err := tx.Stage(ctx, env); err != nil {
		return fmt.Errorf("stage %s: %w", ev.EventType(), err)
	}
	return nil
}

// PublishAfterCommit is a no-op; relayed consumers see every staged event.
func (StagingPublisher[T]) PublishAfterCommit(context.Context, T, domain.Event) {}
