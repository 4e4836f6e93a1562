package purchasing

import (
	"context"
	"time"
)

// Repository is the persistence contract for purchasing aggregates inside a
// unit of work.
//
// Save methods insert when Version is 0 and otherwise update only if the
// stored version still equals Version, failing with CONCURRENT_MODIFICATION.
// On success they advance Version.
type Repository interface {
	LoadRequest(ctx context.Context, id string) (*PurchaseRequest, error)
	// LoadRequestByItem returns the request owning the RFQ item.
	LoadRequestByItem(ctx context.Context, rfqItemID string) (*PurchaseRequest, error)
	SaveRequest(ctx context.Context, pr *PurchaseRequest) error

	LoadOrder(ctx context.Context, id string) (*PurchaseOrder, error)
	// FindOpenOrderByItem returns the non-canceled order created from the
	// item, or nil.
	FindOpenOrderByItem(ctx context.Context, rfqItemID string) (*PurchaseOrder, error)
	SaveOrder(ctx context.Context, po *PurchaseOrder) error

	// NextNumber atomically allocates "<prefix>-<YYYY>-<NNNNNN>" for the year
	// of at.
	NextNumber(ctx context.Context, prefix string, at time.Time) (string, error)
}
