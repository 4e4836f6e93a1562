package purchasing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"procurement.io/orchestrator/internal/domain"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/pkg/fsm"
)

type orderGuardCtx struct {
	orderDate    time.Time
	expectedDate time.Time
}

func deliveryNotBeforeOrder(c orderGuardCtx) error {
	if c.expectedDate.Before(c.orderDate) {
		return apperrors.GuardRejectedf("expected delivery date %s is before order date %s",
			c.expectedDate.Format(time.DateOnly), c.orderDate.Format(time.DateOnly))
	}
	return nil
}

type orderRow = fsm.Transition[OrderStatus, orderTransition, orderGuardCtx]

var orderMachine = fsm.MustNew("purchase_order",
	orderRow{Name: trUpdateOrder, From: []OrderStatus{OrderDraft}, To: OrderDraft, Guard: deliveryNotBeforeOrder},
	orderRow{Name: trSendOrder, From: []OrderStatus{OrderDraft}, To: OrderSent},
	orderRow{Name: trConfirmOrder, From: []OrderStatus{OrderSent}, To: OrderConfirmed},
	orderRow{Name: trReceiveOrder, From: []OrderStatus{OrderConfirmed}, To: OrderReceived},
	orderRow{Name: trCancelOrder, From: []OrderStatus{OrderDraft, OrderSent, OrderConfirmed}, To: OrderCanceled},
)

// PurchaseOrder is created from exactly one RFQ item. It references the item
// by id; the owning request is reached through the item.
type PurchaseOrder struct {
	ID                   string
	OrderNumber          string
	RfqItemID            string
	ProjectID            *string
	VendorID             string
	OrderDate            time.Time
	ExpectedDeliveryDate time.Time
	TotalAmount          decimal.Decimal
	Currency             string
	Status               OrderStatus
	Notes                string
	CreatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time

	// Version is the optimistic lock stamp; 0 means not yet persisted.
	Version int64

	events []domain.Event
}

// NewOrderParams are the inputs of order creation.
type NewOrderParams struct {
	OrderNumber          string
	RfqItemID            string
	OrderDate            time.Time
	ExpectedDeliveryDate time.Time
	Currency             string
	Notes                string
	CreatedBy            string
}

// NewPurchaseOrder creates a DRAFT order from an RFQ item of pr.
//
// The item must be SELECTED, or REPLIED while the request has no selection.
// The request must not be terminal and the delivery date must not precede
// the order date. The total is the item's quoted price.
func NewPurchaseOrder(pr *PurchaseRequest, p NewOrderParams, now time.Time) (*PurchaseOrder, error) {
	if p.OrderDate.IsZero() {
		return nil, apperrors.InvalidRequestField("order_date", "order date is required")
	}
	if p.ExpectedDeliveryDate.IsZero() {
		return nil, apperrors.InvalidRequestField("expected_delivery_date", "expected delivery date is required")
	}
	if err := deliveryNotBeforeOrder(orderGuardCtx{orderDate: p.OrderDate, expectedDate: p.ExpectedDeliveryDate}); err != nil {
		return nil, err
	}
	if pr.Status.IsTerminal() {
		return nil, apperrors.GuardRejectedf("purchase request %s is %s", pr.ID, pr.Status)
	}
	item := pr.Item(p.RfqItemID)
	if item == nil {
		return nil, apperrors.NotFound("rfq_item", p.RfqItemID)
	}
	switch item.Status {
	case RfqItemSelected:
	case RfqItemReplied:
		if sel := pr.SelectedItem(); sel != nil {
			return nil, apperrors.GuardRejectedf("purchase request %s already selected item %s", pr.ID, sel.ID)
		}
	default:
		return nil, apperrors.GuardRejectedf("purchase order requires a REPLIED or SELECTED rfq item, %s is %s", item.ID, item.Status)
	}
	if item.QuotedPrice == nil {
		return nil, apperrors.Internal(nil, fmt.Sprintf("rfq item %s has no quoted price", item.ID))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate purchase order id: %w", err)
	}
	po := &PurchaseOrder{
		ID:                   id.String(),
		OrderNumber:          p.OrderNumber,
		RfqItemID:            item.ID,
		VendorID:             item.VendorID,
		OrderDate:            p.OrderDate,
		ExpectedDeliveryDate: p.ExpectedDeliveryDate,
		TotalAmount:          *item.QuotedPrice,
		Currency:             p.Currency,
		Status:               OrderDraft,
		Notes:                p.Notes,
		CreatedBy:            p.CreatedBy,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if pr.ProjectID != nil {
		v := *pr.ProjectID
		po.ProjectID = &v
	}
	po.record(domain.PurchaseOrderCreated{
		PurchaseOrderID:   po.ID,
		OrderNumber:       po.OrderNumber,
		RfqItemID:         po.RfqItemID,
		PurchaseRequestID: pr.ID,
		VendorID:          po.VendorID,
		TotalAmount:       po.TotalAmount,
		Currency:          po.Currency,
		CreatedBy:         po.CreatedBy,
		At:                now,
	})
	return po, nil
}

func (po *PurchaseOrder) fire(t orderTransition, c orderGuardCtx) error {
	next, err := orderMachine.Apply(context.Background(), po.Status, t, c)
	if err != nil {
		return err
	}
	po.Status = next
	return nil
}

// OrderChanges is a partial update; nil fields are kept.
type OrderChanges struct {
	OrderDate            *time.Time
	ExpectedDeliveryDate *time.Time
	Notes                *string
}

// Update edits a DRAFT order. The delivery date invariant is re-checked
// against the resulting dates.
func (po *PurchaseOrder) Update(ch OrderChanges, now time.Time) error {
	c := orderGuardCtx{orderDate: po.OrderDate, expectedDate: po.ExpectedDeliveryDate}
	if ch.OrderDate != nil {
		c.orderDate = *ch.OrderDate
	}
	if ch.ExpectedDeliveryDate != nil {
		c.expectedDate = *ch.ExpectedDeliveryDate
	}
	if err := po.fire(trUpdateOrder, c); err != nil {
		return err
	}
	po.OrderDate = c.orderDate
	po.ExpectedDeliveryDate = c.expectedDate
	if ch.Notes != nil {
		po.Notes = *ch.Notes
	}
	po.UpdatedAt = now
	return nil
}

// Send moves DRAFT to SENT.
func (po *PurchaseOrder) Send(now time.Time) error {
	if err := po.fire(trSendOrder, orderGuardCtx{}); err != nil {
		return err
	}
	po.UpdatedAt = now
	return nil
}

// Confirm moves SENT to CONFIRMED.
func (po *PurchaseOrder) Confirm(now time.Time) error {
	if err := po.fire(trConfirmOrder, orderGuardCtx{}); err != nil {
		return err
	}
	po.UpdatedAt = now
	return nil
}

// Receive moves CONFIRMED to RECEIVED and records PurchaseOrderReceived.
// requestID is the request owning the source item.
func (po *PurchaseOrder) Receive(requestID string, now time.Time) error {
	if err := po.fire(trReceiveOrder, orderGuardCtx{}); err != nil {
		return err
	}
	po.UpdatedAt = now
	po.record(domain.PurchaseOrderReceived{
		PurchaseOrderID:   po.ID,
		RfqItemID:         po.RfqItemID,
		PurchaseRequestID: requestID,
		At:                now,
	})
	return nil
}

// Cancel moves any non-terminal order to CANCELED and records
// PurchaseOrderCanceled.
func (po *PurchaseOrder) Cancel(requestID string, now time.Time) error {
	if err := po.fire(trCancelOrder, orderGuardCtx{}); err != nil {
		return err
	}
	po.UpdatedAt = now
	po.record(domain.PurchaseOrderCanceled{
		PurchaseOrderID:   po.ID,
		RfqItemID:         po.RfqItemID,
		PurchaseRequestID: requestID,
		At:                now,
	})
	return nil
}

func (po *PurchaseOrder) record(ev domain.Event) {
	po.events = append(po.events, ev)
}

// PullEvents returns and clears the events recorded since the last call.
func (po *PurchaseOrder) PullEvents() []domain.Event {
	evs := po.events
	po.events = nil
	return evs
}

// Clone returns a deep copy without pending events.
func (po *PurchaseOrder) Clone() *PurchaseOrder {
	c := *po
	c.events = nil
	if po.ProjectID != nil {
		v := *po.ProjectID
		c.ProjectID = &v
	}
	return &c
}
