package approval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/domain"
	"procurement.io/orchestrator/internal/eventbus"
	"procurement.io/orchestrator/internal/pkg/logger"
)

// Repository is the persistence contract for approval requests inside a
// unit of work. SaveApproval follows the same optimistic rules as the
// purchasing repository.
type Repository interface {
	LoadApproval(ctx context.Context, id string) (*Request, error)
	// FindPendingApproval returns the PENDING request for the entity, or nil.
	FindPendingApproval(ctx context.Context, entityType, entityID string) (*Request, error)
	SaveApproval(ctx context.Context, r *Request) error
}

// Tx is a unit of work exposing the approval repository.
type Tx interface {
	eventbus.Tx
	Repository
}

// RegisterHandlers subscribes approval creation to ApprovalSubmitted. The
// request is created inside the submitting transaction, so a failure here
// fails the submission. A second submission for an entity that already has a
// PENDING request is a no-op.
func RegisterHandlers[T Tx](b *eventbus.Builder[T], chains *Chains) {
	eventbus.On(b, "approval.create_from_submission", func(ctx context.Context, tx T, ev domain.ApprovalSubmitted) error {
		existing, err := tx.FindPendingApproval(ctx, ev.EntityType, ev.EntityID)
		if err != nil {
			return fmt.Errorf("find pending approval: %w", err)
		}
		if existing != nil {
			logger.Info("Approval already pending, submission ignored",
				zap.String("approval_request_id", existing.ID),
				zap.String("entity_type", ev.EntityType),
				zap.String("entity_id", ev.EntityID),
			)
			return nil
		}

		chain, err := chains.For(ev.EntityType)
		if err != nil {
			return err
		}
		req, err := NewFromSubmission(chain, ev.EntityID, ev.Description, ev.SubmitterID, ev.At)
		if err != nil {
			return err
		}
		if err := tx.SaveApproval(ctx, req); err != nil {
			return fmt.Errorf("save approval request: %w", err)
		}
		logger.Info("Approval request created",
			zap.String("approval_request_id", req.ID),
			zap.String("entity_type", req.EntityType),
			zap.String("entity_id", req.EntityID),
			zap.Int("levels", req.TotalLevels),
		)
		return nil
	})
}
