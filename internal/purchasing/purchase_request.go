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

// Number prefixes for human-readable identifiers.
const (
	RequestNumberPrefix = "PR"
	OrderNumberPrefix   = "PO"
)

type requestGuardCtx struct {
	pr     *PurchaseRequest
	itemID string
}

func canUpdate(c requestGuardCtx) error {
	if c.pr.Status != RequestDraft {
		return apperrors.GuardRejectedf("purchase request %s can only be updated in DRAFT, status is %s", c.pr.ID, c.pr.Status)
	}
	return nil
}

func canSendRfq(c requestGuardCtx) error {
	if c.pr.Status != RequestDraft && c.pr.Status != RequestRfqSent {
		return apperrors.GuardRejectedf("cannot send RFQ for purchase request %s in status %s", c.pr.ID, c.pr.Status)
	}
	return nil
}

func (pr *PurchaseRequest) validateVendors(vendorIDs []string) error {
	if len(vendorIDs) == 0 {
		return apperrors.GuardRejected("cannot send RFQ with zero vendors")
	}
	seen := make(map[string]struct{}, len(vendorIDs))
	for _, v := range vendorIDs {
		if v == "" {
			return apperrors.InvalidRequestField("vendor_ids", "vendor id must not be empty")
		}
		if _, dup := seen[v]; dup {
			return apperrors.GuardRejectedf("vendor %s listed more than once", v)
		}
		seen[v] = struct{}{}
		if item := pr.outstandingItemFor(v); item != nil {
			return apperrors.GuardRejectedf("vendor %s already has an outstanding RFQ item %s (%s)", v, item.ID, item.Status)
		}
	}
	return nil
}

func canSelectVendor(c requestGuardCtx) error {
	item := c.pr.Item(c.itemID)
	if item == nil {
		return apperrors.NotFound("rfq_item", c.itemID)
	}
	if item.Status != RfqItemReplied {
		return apperrors.GuardRejectedf("rfq item %s must be REPLIED to be selected, status is %s", item.ID, item.Status)
	}
	if sel := c.pr.SelectedItem(); sel != nil {
		return apperrors.GuardRejectedf("purchase request %s already has selected item %s", c.pr.ID, sel.ID)
	}
	return nil
}

func canCancel(c requestGuardCtx) error {
	if c.pr.Status.IsTerminal() {
		return apperrors.GuardRejectedf("purchase request %s is already %s", c.pr.ID, c.pr.Status)
	}
	return nil
}

type requestRow = fsm.Transition[RequestStatus, requestTransition, requestGuardCtx]

// update, sendRfq and cancel are declared from every state so that their
// preconditions surface as GUARD_REJECTED rather than INVALID_TRANSITION.
var requestMachine = fsm.MustNew("purchase_request",
	requestRow{Name: trUpdate, From: allRequestStatuses, To: RequestDraft, Guard: canUpdate},
	requestRow{Name: trSendRfq, From: allRequestStatuses, To: RequestRfqSent, Guard: canSendRfq},
	requestRow{Name: trSelectVendor, From: []RequestStatus{RequestRfqSent}, To: RequestVendorSelected, Guard: canSelectVendor},
	requestRow{Name: trMarkOrdered, From: []RequestStatus{RequestVendorSelected}, To: RequestOrdered},
	requestRow{Name: trClose, From: []RequestStatus{RequestOrdered}, To: RequestClosed},
	requestRow{Name: trRevertSelected, From: []RequestStatus{RequestVendorSelected, RequestOrdered}, To: RequestRfqSent},
	requestRow{Name: trCancelRequest, From: allRequestStatuses, To: RequestCanceled, Guard: canCancel},
)

// PurchaseRequest is the aggregate root owning its RFQ items.
type PurchaseRequest struct {
	ID            string
	RequestNumber string
	ProjectID     *string
	CategoryID    string
	Description   string
	Quantity      decimal.Decimal
	Unit          string
	RequiredDate  time.Time
	Status        RequestStatus
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Items         []*RfqItem

	// Version is the optimistic lock stamp; 0 means not yet persisted.
	Version int64

	events []domain.Event
}

// RequestDetails are the user-editable fields of a PurchaseRequest.
type RequestDetails struct {
	ProjectID    *string
	CategoryID   string
	Description  string
	Quantity     decimal.Decimal
	Unit         string
	RequiredDate time.Time
}

func (d RequestDetails) validate() error {
	switch {
	case d.CategoryID == "":
		return apperrors.InvalidRequestField("category_id", "category is required")
	case !d.Quantity.IsPositive():
		return apperrors.InvalidRequestField("quantity", "quantity must be positive")
	case d.Unit == "":
		return apperrors.InvalidRequestField("unit", "unit is required")
	case d.RequiredDate.IsZero():
		return apperrors.InvalidRequestField("required_date", "required date is required")
	}
	return nil
}

// NewPurchaseRequest creates a DRAFT request. number comes from the race-free
// sequence of the persistence layer.
func NewPurchaseRequest(number string, details RequestDetails, createdBy string, now time.Time) (*PurchaseRequest, error) {
	if err := details.validate(); err != nil {
		return nil, err
	}
	if createdBy == "" {
		return nil, apperrors.InvalidRequestField("created_by", "creator is required")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate purchase request id: %w", err)
	}
	pr := &PurchaseRequest{
		ID:            id.String(),
		RequestNumber: number,
		Status:        RequestDraft,
		CreatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	pr.apply(details)
	return pr, nil
}

func (pr *PurchaseRequest) apply(d RequestDetails) {
	pr.ProjectID = d.ProjectID
	pr.CategoryID = d.CategoryID
	pr.Description = d.Description
	pr.Quantity = d.Quantity
	pr.Unit = d.Unit
	pr.RequiredDate = d.RequiredDate
}

func (pr *PurchaseRequest) fire(t requestTransition, c requestGuardCtx) error {
	c.pr = pr
	next, err := requestMachine.Apply(context.Background(), pr.Status, t, c)
	if err != nil {
		return err
	}
	pr.Status = next
	return nil
}

// Item returns the RFQ item with id, or nil.
func (pr *PurchaseRequest) Item(id string) *RfqItem {
	for _, it := range pr.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// SelectedItem returns the SELECTED item, or nil.
func (pr *PurchaseRequest) SelectedItem() *RfqItem {
	for _, it := range pr.Items {
		if it.Status == RfqItemSelected {
			return it
		}
	}
	return nil
}

func (pr *PurchaseRequest) outstandingItemFor(vendorID string) *RfqItem {
	for _, it := range pr.Items {
		if it.VendorID == vendorID && !it.Status.IsTerminal() {
			return it
		}
	}
	return nil
}

// Update replaces the editable fields. DRAFT only.
func (pr *PurchaseRequest) Update(d RequestDetails, now time.Time) error {
	if err := d.validate(); err != nil {
		return err
	}
	if err := pr.fire(trUpdate, requestGuardCtx{}); err != nil {
		return err
	}
	pr.apply(d)
	pr.UpdatedAt = now
	return nil
}

// SendRfq creates one SENT item per vendor and moves the request to RFQ_SENT.
// Adding vendors while already RFQ_SENT is legal.
func (pr *PurchaseRequest) SendRfq(vendorIDs []string, sentBy string, now time.Time) ([]*RfqItem, error) {
	next, err := requestMachine.Apply(context.Background(), pr.Status, trSendRfq, requestGuardCtx{pr: pr})
	if err != nil {
		return nil, err
	}
	if err := pr.validateVendors(vendorIDs); err != nil {
		return nil, err
	}
	pr.Status = next
	created := make([]*RfqItem, 0, len(vendorIDs))
	itemIDs := make([]string, 0, len(vendorIDs))
	for _, v := range vendorIDs {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate rfq item id: %w", err)
		}
		item := &RfqItem{
			ID:                id.String(),
			PurchaseRequestID: pr.ID,
			VendorID:          v,
			Status:            RfqItemSent,
			SentAt:            now,
		}
		pr.Items = append(pr.Items, item)
		created = append(created, item)
		itemIDs = append(itemIDs, item.ID)
	}
	pr.UpdatedAt = now
	pr.record(domain.RfqSent{
		PurchaseRequestID: pr.ID,
		RequestNumber:     pr.RequestNumber,
		RfqItemIDs:        itemIDs,
		VendorIDs:         append([]string(nil), vendorIDs...),
		SentBy:            sentBy,
		At:                now,
	})
	return created, nil
}

func (pr *PurchaseRequest) mutableItem(itemID string) (*RfqItem, error) {
	if pr.Status.IsTerminal() {
		return nil, apperrors.GuardRejectedf("purchase request %s is %s; its RFQ items are frozen", pr.ID, pr.Status)
	}
	item := pr.Item(itemID)
	if item == nil {
		return nil, apperrors.NotFound("rfq_item", itemID).WithParams(map[string]interface{}{
			"purchase_request_id": pr.ID,
		})
	}
	return item, nil
}

// RecordReply records a vendor quote on one of the request's items.
func (pr *PurchaseRequest) RecordReply(itemID string, q Quote, at time.Time) error {
	item, err := pr.mutableItem(itemID)
	if err != nil {
		return err
	}
	if err := item.RecordReply(q, at); err != nil {
		return err
	}
	pr.UpdatedAt = at
	return nil
}

// MarkNoResponse closes an unanswered item. NO_RESPONSE is terminal.
func (pr *PurchaseRequest) MarkNoResponse(itemID string, now time.Time) error {
	item, err := pr.mutableItem(itemID)
	if err != nil {
		return err
	}
	if err := item.MarkNoResponse(); err != nil {
		return err
	}
	pr.UpdatedAt = now
	return nil
}

// MarkVendorSelected selects itemID and rejects every other REPLIED sibling.
// Items in other states are left alone.
func (pr *PurchaseRequest) MarkVendorSelected(itemID string, now time.Time) error {
	next, err := requestMachine.Apply(context.Background(), pr.Status, trSelectVendor, requestGuardCtx{pr: pr, itemID: itemID})
	if err != nil {
		return err
	}

	// Work on copies so a failure half way leaves the aggregate untouched.
	items := make([]*RfqItem, len(pr.Items))
	var selected *RfqItem
	var rejected []string
	for i, it := range pr.Items {
		c := it.clone()
		items[i] = c
		switch {
		case c.ID == itemID:
			if err := c.Select(); err != nil {
				return err
			}
			selected = c
		case c.Status == RfqItemReplied:
			if err := c.Reject(); err != nil {
				return err
			}
			rejected = append(rejected, c.ID)
		}
	}

	pr.Items = items
	pr.Status = next
	pr.UpdatedAt = now
	pr.record(domain.VendorSelected{
		PurchaseRequestID: pr.ID,
		RfqItemID:         selected.ID,
		VendorID:          selected.VendorID,
		RejectedItemIDs:   rejected,
		At:                now,
	})
	return nil
}

// MarkOrdered moves VENDOR_SELECTED to ORDERED when itemID is the selected
// item. Any other status or item is a no-op so duplicate or stray delivery of
// the order-created event is harmless.
func (pr *PurchaseRequest) MarkOrdered(itemID string, now time.Time) (bool, error) {
	if pr.Status != RequestVendorSelected || !pr.isSelected(itemID) {
		return false, nil
	}
	if err := pr.fire(trMarkOrdered, requestGuardCtx{}); err != nil {
		return false, err
	}
	pr.UpdatedAt = now
	return true, nil
}

// Close moves ORDERED to CLOSED when itemID is the selected item. No-op
// otherwise, so receiving an order for any other item leaves the request open.
func (pr *PurchaseRequest) Close(itemID string, now time.Time) (bool, error) {
	if pr.Status != RequestOrdered || !pr.isSelected(itemID) {
		return false, nil
	}
	if err := pr.fire(trClose, requestGuardCtx{}); err != nil {
		return false, err
	}
	pr.UpdatedAt = now
	return true, nil
}

func (pr *PurchaseRequest) isSelected(itemID string) bool {
	sel := pr.SelectedItem()
	return sel != nil && sel.ID == itemID
}

// RevertVendorSelection undoes a selection after its order was canceled: the
// named SELECTED item and every REJECTED sibling return to REPLIED and the
// request returns to RFQ_SENT. NO_RESPONSE and SENT items are untouched.
// No-op unless the request is VENDOR_SELECTED or ORDERED and itemID is the
// selected item.
func (pr *PurchaseRequest) RevertVendorSelection(itemID string, now time.Time) (bool, error) {
	if pr.Status != RequestVendorSelected && pr.Status != RequestOrdered {
		return false, nil
	}
	target := pr.Item(itemID)
	if target == nil {
		return false, apperrors.NotFound("rfq_item", itemID).WithParams(map[string]interface{}{
			"purchase_request_id": pr.ID,
		})
	}
	if target.Status != RfqItemSelected {
		return false, nil
	}

	next, err := requestMachine.Apply(context.Background(), pr.Status, trRevertSelected, requestGuardCtx{pr: pr, itemID: itemID})
	if err != nil {
		return false, err
	}
	items := make([]*RfqItem, len(pr.Items))
	for i, it := range pr.Items {
		c := it.clone()
		items[i] = c
		switch c.Status {
		case RfqItemSelected:
			if err := c.deselect(); err != nil {
				return false, err
			}
		case RfqItemRejected:
			if err := c.unreject(); err != nil {
				return false, err
			}
		}
	}
	pr.Items = items
	pr.Status = next
	pr.UpdatedAt = now
	return true, nil
}

// Cancel moves any non-terminal request to CANCELED. Items are frozen, not
// deleted.
func (pr *PurchaseRequest) Cancel(now time.Time) error {
	if err := pr.fire(trCancelRequest, requestGuardCtx{}); err != nil {
		return err
	}
	pr.UpdatedAt = now
	return nil
}

// AllowedActions lists the user commands whose preconditions hold in the
// current state, sorted by name. sendRfq is listed when the status accepts
// it; the vendor list is checked when the command runs. Event reactions are
// never listed.
func (pr *PurchaseRequest) AllowedActions() []string {
	c := requestGuardCtx{pr: pr}
	for _, it := range pr.Items {
		if it.Status == RfqItemReplied {
			c.itemID = it.ID
			break
		}
	}
	ts := requestMachine.Allowed(context.Background(), pr.Status, c, trUpdate, trSendRfq, trSelectVendor, trCancelRequest)
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

func (pr *PurchaseRequest) record(ev domain.Event) {
	pr.events = append(pr.events, ev)
}

// PullEvents returns and clears the events recorded since the last call.
func (pr *PurchaseRequest) PullEvents() []domain.Event {
	evs := pr.events
	pr.events = nil
	return evs
}

// Clone returns a deep copy without pending events.
func (pr *PurchaseRequest) Clone() *PurchaseRequest {
	c := *pr
	c.events = nil
	if pr.ProjectID != nil {
		v := *pr.ProjectID
		c.ProjectID = &v
	}
	c.Items = make([]*RfqItem, len(pr.Items))
	for i, it := range pr.Items {
		c.Items[i] = it.clone()
	}
	return &c
}
