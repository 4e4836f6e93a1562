package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/approval"
	"procurement.io/orchestrator/internal/domain"
	"procurement.io/orchestrator/internal/eventbus"
	"procurement.io/orchestrator/internal/pkg/logger"
	"procurement.io/orchestrator/internal/pkg/worker"
)

// Triggers turns committed domain events into notifications. Four trigger
// points exist:
//  1. RFQ_SENT: each invited vendor
//  2. PURCHASE_ORDER_CREATED: the selected vendor
//  3. APPROVAL_PENDING: the first-level approver and its overrides
//  4. APPROVAL_COMPLETED / REJECTED / CANCELED: the submitter
type Triggers struct {
	sender Sender
	pools  *worker.Pools
	chains *approval.Chains
}

// NewTriggers creates the trigger set. With nil pools, delivery runs inline
// in the after-commit hook.
func NewTriggers(sender Sender, pools *worker.Pools, chains *approval.Chains) *Triggers {
	return &Triggers{sender: sender, pools: pools, chains: chains}
}

// Register subscribes the triggers as after-commit listeners. They never
// run for a rolled-back command.
func Register[T eventbus.Tx](b *eventbus.Builder[T], t *Triggers) {
	eventbus.AfterCommit(b, "notification.rfq_sent", func(ctx context.Context, ev domain.RfqSent) error {
		return t.dispatch(ctx, ev, func(ctx context.Context) error { return t.OnRfqSent(ctx, ev) })
	})
	eventbus.AfterCommit(b, "notification.purchase_order_created", func(ctx context.Context, ev domain.PurchaseOrderCreated) error {
		return t.dispatch(ctx, ev, func(ctx context.Context) error { return t.OnPurchaseOrderCreated(ctx, ev) })
	})
	eventbus.AfterCommit(b, "notification.approval_submitted", func(ctx context.Context, ev domain.ApprovalSubmitted) error {
		return t.dispatch(ctx, ev, func(ctx context.Context) error { return t.OnApprovalSubmitted(ctx, ev) })
	})
	eventbus.AfterCommit(b, "notification.approval_completed", func(ctx context.Context, ev domain.ApprovalCompleted) error {
		return t.dispatch(ctx, ev, func(ctx context.Context) error { return t.OnApprovalCompleted(ctx, ev) })
	})
}

func (t *Triggers) dispatch(ctx context.Context, ev domain.Event, send func(ctx context.Context) error) error {
	run := func(ctx context.Context) {
		if err := send(ctx); err != nil {
			logger.Error("Notification trigger failed",
				zap.String("event_type", string(ev.EventType())),
				zap.String("aggregate_id", ev.AggregateID()),
				zap.Error(err),
			)
		}
	}
	if t.pools == nil {
		run(ctx)
		return nil
	}
	if err := t.pools.Submit(worker.PoolNotify, run); err != nil {
		return fmt.Errorf("submit notification for %s: %w", ev.EventType(), err)
	}
	return nil
}

// OnRfqSent notifies every vendor that received an RFQ.
func (t *Triggers) OnRfqSent(ctx context.Context, ev domain.RfqSent) error {
	return t.sender.SendToMany(ctx, ev.VendorIDs, Params{
		Type:         TypeRfqSent,
		Title:        "Request for quotation",
		Message:      fmt.Sprintf("You are invited to quote on purchase request %s", ev.RequestNumber),
		ResourceType: domain.AggregatePurchaseRequest,
		ResourceID:   ev.PurchaseRequestID,
	})
}

// OnPurchaseOrderCreated notifies the vendor an order was issued to.
func (t *Triggers) OnPurchaseOrderCreated(ctx context.Context, ev domain.PurchaseOrderCreated) error {
	return t.sender.Send(ctx, Params{
		RecipientID: ev.VendorID,
		Type:        TypePurchaseOrderCreated,
		Title:       "Purchase order issued",
		Message: fmt.Sprintf("Purchase order %s for %s %s has been issued",
			ev.OrderNumber, ev.TotalAmount.StringFixed(2), ev.Currency),
		ResourceType: domain.AggregatePurchaseOrder,
		ResourceID:   ev.PurchaseOrderID,
	})
}

// OnApprovalSubmitted notifies whoever may decide the first level.
func (t *Triggers) OnApprovalSubmitted(ctx context.Context, ev domain.ApprovalSubmitted) error {
	recipients := t.firstLevelApprovers(ev.EntityType)
	if len(recipients) == 0 {
		logger.Warn("no approvers found for notification",
			zap.String("entity_type", ev.EntityType),
			zap.String("entity_id", ev.EntityID),
		)
		return nil
	}
	return t.sender.SendToMany(ctx, recipients, Params{
		Type:         TypeApprovalPending,
		Title:        "Approval pending",
		Message:      fmt.Sprintf("%s %s submitted by %s awaits your decision", ev.EntityType, ev.EntityID, ev.SubmitterID),
		ResourceType: ev.EntityType,
		ResourceID:   ev.EntityID,
	})
}

// OnApprovalCompleted notifies the submitter of the final outcome.
func (t *Triggers) OnApprovalCompleted(ctx context.Context, ev domain.ApprovalCompleted) error {
	if ev.SubmitterID == "" {
		return nil
	}
	p := Params{
		RecipientID:  ev.SubmitterID,
		ResourceType: domain.AggregateApproval,
		ResourceID:   ev.ApprovalRequestID,
	}
	switch ev.Outcome {
	case domain.OutcomeApproved:
		p.Type = TypeApprovalCompleted
		p.Title = "Approval granted"
		p.Message = fmt.Sprintf("%s %s has been approved", ev.EntityType, ev.EntityID)
	case domain.OutcomeRejected:
		p.Type = TypeApprovalRejected
		p.Title = "Approval rejected"
		p.Message = fmt.Sprintf("%s %s was rejected by %s: %s", ev.EntityType, ev.EntityID, ev.DecidedBy, ev.Reason)
	default:
		p.Type = TypeApprovalCanceled
		p.Title = "Approval canceled"
		p.Message = fmt.Sprintf("Approval of %s %s was canceled", ev.EntityType, ev.EntityID)
	}
	return t.sender.Send(ctx, p)
}

// RemindPending nudges whoever may decide the current level of a request
// that is still PENDING.
func (t *Triggers) RemindPending(ctx context.Context, r *approval.Request) error {
	if r.Status != approval.StatusPending {
		return nil
	}
	level := r.Level(r.CurrentLevel)
	if level == nil || level.ExpectedApproverID == "" {
		return nil
	}
	recipients := append([]string{level.ExpectedApproverID}, level.Overrides...)
	return t.sender.SendToMany(ctx, recipients, Params{
		Type:  TypeApprovalReminder,
		Title: "Approval waiting",
		Message: fmt.Sprintf("%s %s has waited at level %d (%s) since %s",
			r.EntityType, r.EntityID, level.Order, level.Name, r.SubmittedAt.Format("2006-01-02")),
		ResourceType: domain.AggregateApproval,
		ResourceID:   r.ID,
	})
}

func (t *Triggers) firstLevelApprovers(entityType string) []string {
	if t.chains == nil {
		return nil
	}
	chain, err := t.chains.For(entityType)
	if err != nil {
		return nil
	}
	for _, l := range chain.Levels {
		if l.ApproverID == "" {
			continue
		}
		return append([]string{l.ApproverID}, l.Overrides...)
	}
	return nil
}
