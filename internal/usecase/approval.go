package usecase

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"procurement.io/orchestrator/internal/approval"
	"procurement.io/orchestrator/internal/domain"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/repository"
)

// SubmitForApprovalInput names the entity that needs approval.
type SubmitForApprovalInput struct {
	EntityType  string
	EntityID    string
	Description string
	SubmitterID string
}

// SubmitForApproval publishes ApprovalSubmitted. The approval request is
// created by its handler inside this transaction, so an unknown entity type
// or an invalid chain fails the submission. Submitting an entity that already
// has a PENDING request returns that request and publishes nothing.
//
// With a publisher that only stages events for a broker, the request does not
// exist yet when the command commits; SubmitForApproval then returns a nil
// request and no error.
func (s *OrchestrationService) SubmitForApproval(ctx context.Context, in SubmitForApprovalInput) (*approval.Request, error) {
	if err := requireActor("submitter_id", in.SubmitterID); err != nil {
		return nil, err
	}
	if in.EntityType == "" {
		return nil, apperrors.InvalidRequestField("entity_type", "entity type is required")
	}
	if in.EntityID == "" {
		return nil, apperrors.InvalidRequestField("entity_id", "entity id is required")
	}

	var out *approval.Request
	attrs := []attribute.KeyValue{
		attribute.String("approval.entity_type", in.EntityType),
		attribute.String("approval.entity_id", in.EntityID),
		attribute.String("actor.id", in.SubmitterID),
	}
	err := s.run(ctx, "submit_for_approval", attrs, func(ctx context.Context, tx repository.Tx) error {
		existing, err := tx.FindPendingApproval(ctx, in.EntityType, in.EntityID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		err = s.bus.Publish(ctx, tx, domain.ApprovalSubmitted{
			EntityType:  in.EntityType,
			EntityID:    in.EntityID,
			Description: in.Description,
			SubmitterID: in.SubmitterID,
			At:          s.now(),
		})
		if err != nil {
			return err
		}
		req, err := tx.FindPendingApproval(ctx, in.EntityType, in.EntityID)
		if err != nil {
			return err
		}
		if req == nil {
			if s.dispatchesInProcess(domain.EventApprovalSubmitted) {
				return apperrors.Internal(nil, "no approval handler created a request for "+in.EntityType)
			}
			// The broker consumer creates the request after commit.
			return nil
		}
		out = req
		return nil
	})
	return out, err
}

// DecideApprovalInput is one approver's decision on one level.
type DecideApprovalInput struct {
	ApprovalRequestID string
	LevelOrder        int
	ApproverID        string
	Outcome           domain.ApprovalOutcome
	Comments          string
}

// DecideApproval records a decision. The final approval or any rejection
// completes the request and publishes ApprovalCompleted.
func (s *OrchestrationService) DecideApproval(ctx context.Context, in DecideApprovalInput) (*approval.Request, error) {
	return s.mutateApproval(ctx, "decide_approval", in.ApprovalRequestID, in.ApproverID, func(r *approval.Request, now time.Time) error {
		return r.Decide(in.LevelOrder, in.ApproverID, in.Outcome, in.Comments, now)
	}, attribute.Int("approval.level", in.LevelOrder), attribute.String("approval.outcome", string(in.Outcome)))
}

// RecallApproval lets the submitter withdraw a PENDING request.
func (s *OrchestrationService) RecallApproval(ctx context.Context, approvalID, actor string) (*approval.Request, error) {
	return s.mutateApproval(ctx, "recall_approval", approvalID, actor, func(r *approval.Request, now time.Time) error {
		return r.Recall(actor, now)
	})
}

// GetApproval loads an approval request with its level decisions.
func (s *OrchestrationService) GetApproval(ctx context.Context, approvalID string) (*approval.Request, error) {
	var out *approval.Request
	err := s.run(ctx, "get_approval", []attribute.KeyValue{attribute.String("approval_request.id", approvalID)},
		func(ctx context.Context, tx repository.Tx) error {
			r, err := tx.LoadApproval(ctx, approvalID)
			out = r
			return err
		})
	return out, err
}

func (s *OrchestrationService) mutateApproval(
	ctx context.Context,
	command, approvalID, actor string,
	mutate func(r *approval.Request, now time.Time) error,
	attrs ...attribute.KeyValue,
) (*approval.Request, error) {
	if err := requireActor("actor_id", actor); err != nil {
		return nil, err
	}
	attrs = append(attrs, attribute.String("approval_request.id", approvalID), attribute.String("actor.id", actor))

	var out *approval.Request
	err := s.run(ctx, command, attrs, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.LoadApproval(ctx, approvalID)
		if err != nil {
			return err
		}
		if err := mutate(r, s.now()); err != nil {
			return err
		}
		if err := tx.SaveApproval(ctx, r); err != nil {
			return err
		}
		if err := s.publish(ctx, tx, r.PullEvents()); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// dispatchesInProcess reports whether publishing eventType runs handlers in
// the command's transaction.
func (s *OrchestrationService) dispatchesInProcess(eventType domain.EventType) bool {
	d, ok := s.bus.(interface {
		Handlers(domain.EventType) []string
	})
	return ok && len(d.Handlers(eventType)) > 0
}
