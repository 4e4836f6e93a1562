package usecase

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/purchasing"
	"procurement.io/orchestrator/internal/repository"
)

// CreatePurchaseRequestInput carries a new request.
type CreatePurchaseRequestInput struct {
	Details   purchasing.RequestDetails
	CreatedBy string
}

// CreatePurchaseRequest creates a DRAFT request with the next PR number.
func (s *OrchestrationService) CreatePurchaseRequest(ctx context.Context, in CreatePurchaseRequestInput) (*purchasing.PurchaseRequest, error) {
	if err := requireActor("created_by", in.CreatedBy); err != nil {
		return nil, err
	}
	var out *purchasing.PurchaseRequest
	err := s.run(ctx, "create_purchase_request", nil, func(ctx context.Context, tx repository.Tx) error {
		now := s.now()
		number, err := tx.NextNumber(ctx, purchasing.RequestNumberPrefix, now)
		if err != nil {
			return fmt.Errorf("next request number: %w", err)
		}
		pr, err := purchasing.NewPurchaseRequest(number, in.Details, in.CreatedBy, now)
		if err != nil {
			return err
		}
		if err := tx.SaveRequest(ctx, pr); err != nil {
			return err
		}
		out = pr
		return nil
	})
	return out, err
}

// UpdatePurchaseRequest replaces the editable fields of a DRAFT request.
func (s *OrchestrationService) UpdatePurchaseRequest(ctx context.Context, requestID string, details purchasing.RequestDetails, actor string) (*purchasing.PurchaseRequest, error) {
	return s.mutateRequest(ctx, "update_purchase_request", requestID, actor, func(pr *purchasing.PurchaseRequest, now time.Time) error {
		return pr.Update(details, now)
	})
}

// SendRfq sends RFQs to vendorIDs, creating one SENT item per vendor.
func (s *OrchestrationService) SendRfq(ctx context.Context, requestID string, vendorIDs []string, actor string) (*purchasing.PurchaseRequest, error) {
	return s.mutateRequest(ctx, "send_rfq", requestID, actor, func(pr *purchasing.PurchaseRequest, now time.Time) error {
		_, err := pr.SendRfq(vendorIDs, actor, now)
		return err
	})
}

// RecordQuoteInput carries a vendor reply.
type RecordQuoteInput struct {
	PurchaseRequestID string
	RfqItemID         string
	Quote             purchasing.Quote
	// RepliedAt defaults to the command time.
	RepliedAt  *time.Time
	RecordedBy string
}

// RecordQuote records a vendor reply on a SENT item.
func (s *OrchestrationService) RecordQuote(ctx context.Context, in RecordQuoteInput) (*purchasing.PurchaseRequest, error) {
	return s.mutateRequest(ctx, "record_quote", in.PurchaseRequestID, in.RecordedBy, func(pr *purchasing.PurchaseRequest, now time.Time) error {
		at := now
		if in.RepliedAt != nil {
			at = *in.RepliedAt
		}
		return pr.RecordReply(in.RfqItemID, in.Quote, at)
	}, attribute.String("rfq_item.id", in.RfqItemID))
}

// MarkNoResponse closes a SENT item whose vendor never replied.
func (s *OrchestrationService) MarkNoResponse(ctx context.Context, requestID, rfqItemID, actor string) (*purchasing.PurchaseRequest, error) {
	return s.mutateRequest(ctx, "mark_no_response", requestID, actor, func(pr *purchasing.PurchaseRequest, now time.Time) error {
		return pr.MarkNoResponse(rfqItemID, now)
	}, attribute.String("rfq_item.id", rfqItemID))
}

// SelectVendor selects a REPLIED item and rejects its REPLIED siblings.
func (s *OrchestrationService) SelectVendor(ctx context.Context, requestID, rfqItemID, actor string) (*purchasing.PurchaseRequest, error) {
	return s.mutateRequest(ctx, "select_vendor", requestID, actor, func(pr *purchasing.PurchaseRequest, now time.Time) error {
		return pr.MarkVendorSelected(rfqItemID, now)
	}, attribute.String("rfq_item.id", rfqItemID))
}

// CancelPurchaseRequest cancels a non-terminal request. Its items are frozen.
func (s *OrchestrationService) CancelPurchaseRequest(ctx context.Context, requestID, actor string) (*purchasing.PurchaseRequest, error) {
	return s.mutateRequest(ctx, "cancel_purchase_request", requestID, actor, func(pr *purchasing.PurchaseRequest, now time.Time) error {
		return pr.Cancel(now)
	})
}

// GetPurchaseRequest loads a request with its items.
func (s *OrchestrationService) GetPurchaseRequest(ctx context.Context, requestID string) (*purchasing.PurchaseRequest, error) {
	var out *purchasing.PurchaseRequest
	err := s.run(ctx, "get_purchase_request", []attribute.KeyValue{attribute.String("purchase_request.id", requestID)},
		func(ctx context.Context, tx repository.Tx) error {
			pr, err := tx.LoadRequest(ctx, requestID)
			out = pr
			return err
		})
	return out, err
}

func (s *OrchestrationService) mutateRequest(
	ctx context.Context,
	command, requestID, actor string,
	mutate func(pr *purchasing.PurchaseRequest, now time.Time) error,
	attrs ...attribute.KeyValue,
) (*purchasing.PurchaseRequest, error) {
	if err := requireActor("actor_id", actor); err != nil {
		return nil, err
	}
	attrs = append(attrs, attribute.String("purchase_request.id", requestID), attribute.String("actor.id", actor))

	var out *purchasing.PurchaseRequest
	err := s.run(ctx, command, attrs, func(ctx context.Context, tx repository.Tx) error {
		pr, err := tx.LoadRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := mutate(pr, s.now()); err != nil {
			return err
		}
		if err := tx.SaveRequest(ctx, pr); err != nil {
			return err
		}
		if err := s.publish(ctx, tx, pr.PullEvents()); err != nil {
			return err
		}
		out = pr
		return nil
	})
	return out, err
}

// CreatePurchaseOrderInput carries a new order.
type CreatePurchaseOrderInput struct {
	RfqItemID            string
	OrderDate            time.Time
	ExpectedDeliveryDate time.Time
	// Currency defaults to the configured default currency.
	Currency  string
	Notes     string
	CreatedBy string
}

// CreatePurchaseOrder creates a DRAFT order from a SELECTED (or REPLIED) RFQ
// item. A REPLIED item is selected first, rejecting its REPLIED siblings. The
// PurchaseOrderCreated cascade marks the parent request ORDERED in the same
// transaction. At most one non-canceled order exists per item.
func (s *OrchestrationService) CreatePurchaseOrder(ctx context.Context, in CreatePurchaseOrderInput) (*purchasing.PurchaseOrder, error) {
	if err := requireActor("created_by", in.CreatedBy); err != nil {
		return nil, err
	}
	currency := in.Currency
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}

	var out *purchasing.PurchaseOrder
	attrs := []attribute.KeyValue{attribute.String("rfq_item.id", in.RfqItemID), attribute.String("actor.id", in.CreatedBy)}
	err := s.run(ctx, "create_purchase_order", attrs, func(ctx context.Context, tx repository.Tx) error {
		pr, err := tx.LoadRequestByItem(ctx, in.RfqItemID)
		if err != nil {
			return err
		}
		open, err := tx.FindOpenOrderByItem(ctx, in.RfqItemID)
		if err != nil {
			return err
		}
		if open != nil {
			return apperrors.GuardRejectedf("rfq item %s already has open purchase order %s", in.RfqItemID, open.OrderNumber)
		}

		now := s.now()
		number, err := tx.NextNumber(ctx, purchasing.OrderNumberPrefix, now)
		if err != nil {
			return fmt.Errorf("next order number: %w", err)
		}
		po, err := purchasing.NewPurchaseOrder(pr, purchasing.NewOrderParams{
			OrderNumber:          number,
			RfqItemID:            in.RfqItemID,
			OrderDate:            in.OrderDate,
			ExpectedDeliveryDate: in.ExpectedDeliveryDate,
			Currency:             currency,
			Notes:                in.Notes,
			CreatedBy:            in.CreatedBy,
		}, now)
		if err != nil {
			return err
		}
		if pr.Item(in.RfqItemID).Status == purchasing.RfqItemReplied {
			if err := s.selectForOrder(ctx, tx, pr, in.RfqItemID, now); err != nil {
				return err
			}
		}
		if err := tx.SaveOrder(ctx, po); err != nil {
			return err
		}
		if err := s.publish(ctx, tx, po.PullEvents()); err != nil {
			return err
		}
		out = po
		return nil
	})
	return out, err
}

// selectForOrder selects a REPLIED item that an order is placed against, so
// every open order belongs to the request's selected item.
func (s *OrchestrationService) selectForOrder(ctx context.Context, tx repository.Tx, pr *purchasing.PurchaseRequest, rfqItemID string, now time.Time) error {
	if err := pr.MarkVendorSelected(rfqItemID, now); err != nil {
		return err
	}
	if err := tx.SaveRequest(ctx, pr); err != nil {
		return err
	}
	return s.publish(ctx, tx, pr.PullEvents())
}

// UpdatePurchaseOrder edits a DRAFT order, re-checking the delivery date.
func (s *OrchestrationService) UpdatePurchaseOrder(ctx context.Context, orderID string, changes purchasing.OrderChanges, actor string) (*purchasing.PurchaseOrder, error) {
	return s.mutateOrder(ctx, "update_purchase_order", orderID, actor, func(_ *purchasing.PurchaseRequest, po *purchasing.PurchaseOrder, now time.Time) error {
		return po.Update(changes, now)
	})
}

// SendPurchaseOrder sends a DRAFT order to its vendor.
func (s *OrchestrationService) SendPurchaseOrder(ctx context.Context, orderID, actor string) (*purchasing.PurchaseOrder, error) {
	return s.mutateOrder(ctx, "send_purchase_order", orderID, actor, func(_ *purchasing.PurchaseRequest, po *purchasing.PurchaseOrder, now time.Time) error {
		return po.Send(now)
	})
}

// ConfirmPurchaseOrder records the vendor's confirmation of a SENT order.
func (s *OrchestrationService) ConfirmPurchaseOrder(ctx context.Context, orderID, actor string) (*purchasing.PurchaseOrder, error) {
	return s.mutateOrder(ctx, "confirm_purchase_order", orderID, actor, func(_ *purchasing.PurchaseRequest, po *purchasing.PurchaseOrder, now time.Time) error {
		return po.Confirm(now)
	})
}

// ReceivePurchaseOrder receives a CONFIRMED order; the cascade closes the
// parent request.
func (s *OrchestrationService) ReceivePurchaseOrder(ctx context.Context, orderID, actor string) (*purchasing.PurchaseOrder, error) {
	return s.mutateOrder(ctx, "receive_purchase_order", orderID, actor, func(pr *purchasing.PurchaseRequest, po *purchasing.PurchaseOrder, now time.Time) error {
		return po.Receive(pr.ID, now)
	})
}

// CancelPurchaseOrder cancels a non-terminal order; the cascade reverts the
// vendor selection on the parent request.
func (s *OrchestrationService) CancelPurchaseOrder(ctx context.Context, orderID, actor string) (*purchasing.PurchaseOrder, error) {
	return s.mutateOrder(ctx, "cancel_purchase_order", orderID, actor, func(pr *purchasing.PurchaseRequest, po *purchasing.PurchaseOrder, now time.Time) error {
		return po.Cancel(pr.ID, now)
	})
}

// GetPurchaseOrder loads an order.
func (s *OrchestrationService) GetPurchaseOrder(ctx context.Context, orderID string) (*purchasing.PurchaseOrder, error) {
	var out *purchasing.PurchaseOrder
	err := s.run(ctx, "get_purchase_order", []attribute.KeyValue{attribute.String("purchase_order.id", orderID)},
		func(ctx context.Context, tx repository.Tx) error {
			po, err := tx.LoadOrder(ctx, orderID)
			out = po
			return err
		})
	return out, err
}

// mutateOrder loads the order and, through its RFQ item, the parent request
// id that order events carry.
func (s *OrchestrationService) mutateOrder(
	ctx context.Context,
	command, orderID, actor string,
	mutate func(pr *purchasing.PurchaseRequest, po *purchasing.PurchaseOrder, now time.Time) error,
) (*purchasing.PurchaseOrder, error) {
	if err := requireActor("actor_id", actor); err != nil {
		return nil, err
	}
	attrs := []attribute.KeyValue{attribute.String("purchase_order.id", orderID), attribute.String("actor.id", actor)}

	var out *purchasing.PurchaseOrder
	err := s.run(ctx, command, attrs, func(ctx context.Context, tx repository.Tx) error {
		po, err := tx.LoadOrder(ctx, orderID)
		if err != nil {
			return err
		}
		pr, err := tx.LoadRequestByItem(ctx, po.RfqItemID)
		if err != nil {
			return err
		}
		if err := mutate(pr, po, s.now()); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, po); err != nil {
			return err
		}
		if err := s.publish(ctx, tx, po.PullEvents()); err != nil {
			return err
		}
		out = po
		return nil
	})
	return out, err
}
