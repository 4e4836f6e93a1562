package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the serialized form of an Event, used by the outbox relay and
// the broker publisher.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewEnvelope serializes ev with a fresh UUIDv7 event id.
func NewEnvelope(ev Event) (Envelope, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Envelope{}, fmt.Errorf("generate event id: %w", err)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", ev.EventType(), err)
	}
	return Envelope{
		EventID:       id.String(),
		EventType:     ev.EventType(),
		AggregateType: ev.AggregateType(),
		AggregateID:   ev.AggregateID(),
		Payload:       payload,
		OccurredAt:    ev.OccurredAt(),
	}, nil
}

// Decode restores the typed Event carried by env.
func Decode(env Envelope) (Event, error) {
	switch env.EventType {
	case EventRfqSent:
		return decodeAs[RfqSent](env)
	case EventVendorSelected:
		return decodeAs[VendorSelected](env)
	case EventPurchaseOrderCreated:
		return decodeAs[PurchaseOrderCreated](env)
	case EventPurchaseOrderCanceled:
		return decodeAs[PurchaseOrderCanceled](env)
	case EventPurchaseOrderReceived:
		return decodeAs[PurchaseOrderReceived](env)
	case EventApprovalSubmitted:
		return decodeAs[ApprovalSubmitted](env)
	case EventApprovalCompleted:
		return decodeAs[ApprovalCompleted](env)
	default:
		return nil, fmt.Errorf("unknown event type %q", env.EventType)
	}
}

func decodeAs[E Event](env Envelope) (Event, error) {
	var ev E
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", env.EventType, err)
	}
	return ev, nil
}

// EventTypes lists every event type in declaration order.
func EventTypes() []EventType {
	return []EventType{
		EventRfqSent,
		EventVendorSelected,
		EventPurchaseOrderCreated,
		EventPurchaseOrderCanceled,
		EventPurchaseOrderReceived,
		EventApprovalSubmitted,
		EventApprovalCompleted,
	}
}
