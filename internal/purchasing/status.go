// Package purchasing holds the purchase request, RFQ item and purchase order
// aggregates and the handlers that keep them consistent through events.
package purchasing

// RequestStatus is the lifecycle state of a PurchaseRequest.
type RequestStatus string

const (
	RequestDraft          RequestStatus = "DRAFT"
	RequestRfqSent        RequestStatus = "RFQ_SENT"
	RequestVendorSelected RequestStatus = "VENDOR_SELECTED"
	RequestOrdered        RequestStatus = "ORDERED"
	RequestClosed         RequestStatus = "CLOSED"
	RequestCanceled       RequestStatus = "CANCELED"
)

var allRequestStatuses = []RequestStatus{
	RequestDraft, RequestRfqSent, RequestVendorSelected, RequestOrdered, RequestClosed, RequestCanceled,
}

// IsTerminal reports whether no further transition can change the request.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestClosed || s == RequestCanceled
}

// RfqItemStatus is the lifecycle state of an RfqItem.
type RfqItemStatus string

const (
	RfqItemSent       RfqItemStatus = "SENT"
	RfqItemReplied    RfqItemStatus = "REPLIED"
	RfqItemNoResponse RfqItemStatus = "NO_RESPONSE"
	RfqItemSelected   RfqItemStatus = "SELECTED"
	RfqItemRejected   RfqItemStatus = "REJECTED"
)

// IsTerminal reports whether the item can never transition again.
func (s RfqItemStatus) IsTerminal() bool {
	return s == RfqItemNoResponse
}

// OrderStatus is the lifecycle state of a PurchaseOrder.
type OrderStatus string

const (
	OrderDraft     OrderStatus = "DRAFT"
	OrderSent      OrderStatus = "SENT"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderReceived  OrderStatus = "RECEIVED"
	OrderCanceled  OrderStatus = "CANCELED"
)

// IsTerminal reports whether the order is RECEIVED or CANCELED.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderReceived || s == OrderCanceled
}

type (
	requestTransition string
	rfqItemTransition string
	orderTransition   string
)

const (
	trUpdate         requestTransition = "update"
	trSendRfq        requestTransition = "sendRfq"
	trSelectVendor   requestTransition = "markVendorSelected"
	trMarkOrdered    requestTransition = "markOrdered"
	trClose          requestTransition = "close"
	trRevertSelected requestTransition = "revertVendorSelection"
	trCancelRequest  requestTransition = "cancel"

	trRecordReply    rfqItemTransition = "recordReply"
	trMarkNoResponse rfqItemTransition = "markNoResponse"
	trSelect         rfqItemTransition = "select"
	trReject         rfqItemTransition = "reject"
	trDeselect       rfqItemTransition = "deselect"
	trUnreject       rfqItemTransition = "unreject"

	trUpdateOrder  orderTransition = "update"
	trSendOrder    orderTransition = "send"
	trConfirmOrder orderTransition = "confirm"
	trReceiveOrder orderTransition = "receive"
	trCancelOrder  orderTransition = "cancel"
)
