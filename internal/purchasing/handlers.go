package purchasing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/domain"
	"procurement.io/orchestrator/internal/eventbus"
	"procurement.io/orchestrator/internal/pkg/logger"
)

// Tx is a unit of work exposing the purchasing repository.
type Tx interface {
	eventbus.Tx
	Repository
}

// RegisterHandlers subscribes the purchase request reactions to purchase
// order lifecycle events. Each handler re-loads the request by id inside the
// publishing transaction and is a no-op when the request is not in the
// expected state.
func RegisterHandlers[T Tx](b *eventbus.Builder[T]) {
	eventbus.On(b, "purchasing.mark_ordered", func(ctx context.Context, tx T, ev domain.PurchaseOrderCreated) error {
		return react(ctx, tx, ev.PurchaseRequestID, "mark_ordered", ev.PurchaseOrderID, func(pr *PurchaseRequest) (bool, error) {
			return pr.MarkOrdered(ev.RfqItemID, ev.At)
		})
	})
	eventbus.On(b, "purchasing.close", func(ctx context.Context, tx T, ev domain.PurchaseOrderReceived) error {
		return react(ctx, tx, ev.PurchaseRequestID, "close", ev.PurchaseOrderID, func(pr *PurchaseRequest) (bool, error) {
			return pr.Close(ev.RfqItemID, ev.At)
		})
	})
	eventbus.On(b, "purchasing.revert_vendor_selection", func(ctx context.Context, tx T, ev domain.PurchaseOrderCanceled) error {
		return react(ctx, tx, ev.PurchaseRequestID, "revert_vendor_selection", ev.PurchaseOrderID, func(pr *PurchaseRequest) (bool, error) {
			return pr.RevertVendorSelection(ev.RfqItemID, ev.At)
		})
	})
}

func react(ctx context.Context, repo Repository, requestID, reaction, orderID string, fn func(*PurchaseRequest) (bool, error)) error {
	pr, err := repo.LoadRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load purchase request %s: %w", requestID, err)
	}
	applied, err := fn(pr)
	if err != nil {
		return err
	}
	if !applied {
		logger.Debug("Purchase request reaction skipped",
			zap.String("reaction", reaction),
			zap.String("purchase_request_id", pr.ID),
			zap.String("purchase_order_id", orderID),
			zap.String("status", string(pr.Status)),
		)
		return nil
	}
	if err := repo.SaveRequest(ctx, pr); err != nil {
		return fmt.Errorf("save purchase request %s: %w", pr.ID, err)
	}
	return nil
}
