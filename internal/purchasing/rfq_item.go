package purchasing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/pkg/fsm"
)

// Quote is a vendor reply to an RFQ.
type Quote struct {
	Price        decimal.Decimal
	LeadTimeDays *int
	Notes        string
}

func validQuote(q Quote) error {
	if q.Price.IsNegative() {
		return apperrors.GuardRejectedf("quoted price must not be negative, got %s", q.Price)
	}
	if q.LeadTimeDays != nil && *q.LeadTimeDays < 0 {
		return apperrors.GuardRejectedf("lead time must not be negative, got %d days", *q.LeadTimeDays)
	}
	return nil
}

var rfqItemMachine = fsm.MustNew("rfq_item",
	fsm.Transition[RfqItemStatus, rfqItemTransition, Quote]{Name: trRecordReply, From: []RfqItemStatus{RfqItemSent}, To: RfqItemReplied, Guard: validQuote},
	fsm.Transition[RfqItemStatus, rfqItemTransition, Quote]{Name: trMarkNoResponse, From: []RfqItemStatus{RfqItemSent}, To: RfqItemNoResponse},
	fsm.Transition[RfqItemStatus, rfqItemTransition, Quote]{Name: trSelect, From: []RfqItemStatus{RfqItemReplied}, To: RfqItemSelected},
	fsm.Transition[RfqItemStatus, rfqItemTransition, Quote]{Name: trReject, From: []RfqItemStatus{RfqItemReplied}, To: RfqItemRejected},
	fsm.Transition[RfqItemStatus, rfqItemTransition, Quote]{Name: trDeselect, From: []RfqItemStatus{RfqItemSelected}, To: RfqItemReplied},
	fsm.Transition[RfqItemStatus, rfqItemTransition, Quote]{Name: trUnreject, From: []RfqItemStatus{RfqItemRejected}, To: RfqItemReplied},
)

// RfqItem is one vendor's quote lifecycle inside a PurchaseRequest.
type RfqItem struct {
	ID                 string
	PurchaseRequestID  string
	VendorID           string
	OfferingID         *string
	Status             RfqItemStatus
	QuotedPrice        *decimal.Decimal
	QuotedLeadTimeDays *int
	Notes              string
	SentAt             time.Time
	RepliedAt          *time.Time
}

func (i *RfqItem) fire(t rfqItemTransition, q Quote) error {
	next, err := rfqItemMachine.Apply(context.Background(), i.Status, t, q)
	if err != nil {
		return err
	}
	i.Status = next
	return nil
}

// RecordReply stores the vendor's quote. Only from SENT.
func (i *RfqItem) RecordReply(q Quote, at time.Time) error {
	if err := i.fire(trRecordReply, q); err != nil {
		return err
	}
	price := q.Price
	i.QuotedPrice = &price
	if q.LeadTimeDays != nil {
		days := *q.LeadTimeDays
		i.QuotedLeadTimeDays = &days
	}
	i.Notes = q.Notes
	i.RepliedAt = &at
	return nil
}

// MarkNoResponse closes an unanswered RFQ. Only from SENT.
func (i *RfqItem) MarkNoResponse() error {
	return i.fire(trMarkNoResponse, Quote{})
}

// Select marks the item as the winning quote. Only from REPLIED; sibling
// handling belongs to the owning PurchaseRequest.
func (i *RfqItem) Select() error {
	return i.fire(trSelect, Quote{})
}

// Reject marks a replied item as losing. Only from REPLIED.
func (i *RfqItem) Reject() error {
	return i.fire(trReject, Quote{})
}

func (i *RfqItem) deselect() error {
	return i.fire(trDeselect, Quote{})
}

func (i *RfqItem) unreject() error {
	return i.fire(trUnreject, Quote{})
}

func (i *RfqItem) clone() *RfqItem {
	c := *i
	if i.OfferingID != nil {
		v := *i.OfferingID
		c.OfferingID = &v
	}
	if i.QuotedPrice != nil {
		v := *i.QuotedPrice
		c.QuotedPrice = &v
	}
	if i.QuotedLeadTimeDays != nil {
		v := *i.QuotedLeadTimeDays
		c.QuotedLeadTimeDays = &v
	}
	if i.RepliedAt != nil {
		v := *i.RepliedAt
		c.RepliedAt = &v
	}
	return &c
}
