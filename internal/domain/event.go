package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType defines the type of domain event.
type EventType string

const (
	// Purchasing
	EventRfqSent               EventType = "RFQ_SENT"
	EventVendorSelected        EventType = "VENDOR_SELECTED"
	EventPurchaseOrderCreated  EventType = "PURCHASE_ORDER_CREATED"
	EventPurchaseOrderCanceled EventType = "PURCHASE_ORDER_CANCELED"
	EventPurchaseOrderReceived EventType = "PURCHASE_ORDER_RECEIVED"

	// Approval
	EventApprovalSubmitted EventType = "APPROVAL_SUBMITTED"
	EventApprovalCompleted EventType = "APPROVAL_COMPLETED"
)

// Aggregate types carried on events and envelopes.
const (
	AggregatePurchaseRequest = "purchase_request"
	AggregatePurchaseOrder   = "purchase_order"
	AggregateApproval        = "approval_request"
)

// ApprovalOutcome is the final result of an approval chain.
type ApprovalOutcome string

const (
	OutcomeApproved ApprovalOutcome = "APPROVED"
	OutcomeRejected ApprovalOutcome = "REJECTED"
	OutcomeCanceled ApprovalOutcome = "CANCELED"
)

// Event is an immutable, self-contained domain fact.
//
// The set of variants is closed: only types in this package implement it, so
// a type switch over the variants below is exhaustive.
type Event interface {
	EventType() EventType
	AggregateType() string
	AggregateID() string
	OccurredAt() time.Time
	isEvent()
}

// RfqSent is emitted when RFQs go out to one or more vendors.
type RfqSent struct {
	PurchaseRequestID string    `json:"purchase_request_id"`
	RequestNumber     string    `json:"request_number"`
	RfqItemIDs        []string  `json:"rfq_item_ids"`
	VendorIDs         []string  `json:"vendor_ids"`
	SentBy            string    `json:"sent_by"`
	At                time.Time `json:"at"`
}

// VendorSelected is emitted when a replied RFQ item wins.
type VendorSelected struct {
	PurchaseRequestID string    `json:"purchase_request_id"`
	RfqItemID         string    `json:"rfq_item_id"`
	VendorID          string    `json:"vendor_id"`
	RejectedItemIDs   []string  `json:"rejected_item_ids"`
	At                time.Time `json:"at"`
}

// PurchaseOrderCreated is emitted when an order is created from an RFQ item.
type PurchaseOrderCreated struct {
	PurchaseOrderID   string          `json:"purchase_order_id"`
	OrderNumber       string          `json:"order_number"`
	RfqItemID         string          `json:"rfq_item_id"`
	PurchaseRequestID string          `json:"purchase_request_id"`
	VendorID          string          `json:"vendor_id"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Currency          string          `json:"currency"`
	CreatedBy         string          `json:"created_by"`
	At                time.Time       `json:"at"`
}

// PurchaseOrderCanceled is emitted when a non-terminal order is canceled.
type PurchaseOrderCanceled struct {
	PurchaseOrderID   string    `json:"purchase_order_id"`
	RfqItemID         string    `json:"rfq_item_id"`
	PurchaseRequestID string    `json:"purchase_request_id"`
	At                time.Time `json:"at"`
}

// PurchaseOrderReceived is emitted when a confirmed order is received.
type PurchaseOrderReceived struct {
	PurchaseOrderID   string    `json:"purchase_order_id"`
	RfqItemID         string    `json:"rfq_item_id"`
	PurchaseRequestID string    `json:"purchase_request_id"`
	At                time.Time `json:"at"`
}

// ApprovalSubmitted asks for an approval chain on any entity type.
type ApprovalSubmitted struct {
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Description string    `json:"description"`
	SubmitterID string    `json:"submitter_id"`
	At          time.Time `json:"at"`
}

// ApprovalCompleted reports the terminal outcome of an approval chain.
type ApprovalCompleted struct {
	ApprovalRequestID string          `json:"approval_request_id"`
	EntityType        string          `json:"entity_type"`
	EntityID          string          `json:"entity_id"`
	Outcome           ApprovalOutcome `json:"outcome"`
	Reason            string          `json:"reason,omitempty"`
	DecidedBy         string          `json:"decided_by"`
	SubmitterID       string          `json:"submitter_id"`
	At                time.Time       `json:"at"`
}

func (e RfqSent) EventType() EventType  { return EventRfqSent }
func (e RfqSent) AggregateType() string { return AggregatePurchaseRequest }
func (e RfqSent) AggregateID() string   { return e.PurchaseRequestID }
func (e RfqSent) OccurredAt() time.Time { return e.At }
func (RfqSent) isEvent()                {}

func (e VendorSelected) EventType() EventType  { return EventVendorSelected }
func (e VendorSelected) AggregateType() string { return AggregatePurchaseRequest }
func (e VendorSelected) AggregateID() string   { return e.PurchaseRequestID }
func (e VendorSelected) OccurredAt() time.Time { return e.At }
func (VendorSelected) isEvent()                {}

func (e PurchaseOrderCreated) EventType() EventType  { return EventPurchaseOrderCreated }
func (e PurchaseOrderCreated) AggregateType() string { return AggregatePurchaseOrder }
func (e PurchaseOrderCreated) AggregateID() string   { return e.PurchaseOrderID }
func (e PurchaseOrderCreated) OccurredAt() time.Time { return e.At }
func (PurchaseOrderCreated) isEvent()                {}

func (e PurchaseOrderCanceled) EventType() EventType  { return EventPurchaseOrderCanceled }
func (e PurchaseOrderCanceled) AggregateType() string { return AggregatePurchaseOrder }
func (e PurchaseOrderCanceled) AggregateID() string   { return e.PurchaseOrderID }
func (e PurchaseOrderCanceled) OccurredAt() time.Time { return e.At }
func (PurchaseOrderCanceled) isEvent()                {}

func (e PurchaseOrderReceived) EventType() EventType  { return EventPurchaseOrderReceived }
func (e PurchaseOrderReceived) AggregateType() string { return AggregatePurchaseOrder }
func (e PurchaseOrderReceived) AggregateID() string   { return e.PurchaseOrderID }
func (e PurchaseOrderReceived) OccurredAt() time.Time { return e.At }
func (PurchaseOrderReceived) isEvent()                {}

func (e ApprovalSubmitted) EventType() EventType  { return EventApprovalSubmitted }
func (e ApprovalSubmitted) AggregateType() string { return e.EntityType }
func (e ApprovalSubmitted) AggregateID() string   { return e.EntityID }
func (e ApprovalSubmitted) OccurredAt() time.Time { return e.At }
func (ApprovalSubmitted) isEvent()                {}

func (e ApprovalCompleted) EventType() EventType  { return EventApprovalCompleted }
func (e ApprovalCompleted) AggregateType() string { return AggregateApproval }
func (e ApprovalCompleted) AggregateID() string   { return e.ApprovalRequestID }
func (e ApprovalCompleted) OccurredAt() time.Time { return e.At }
func (ApprovalCompleted) isEvent()                {}
