// Package notification tells people about procurement progress.
//
// Notifications are a side channel: they are dispatched after the business
// transaction commits, on the notify worker pool, and a delivery failure is
// logged without affecting the command that produced it.
//
// Import Path: procurement.io/orchestrator/internal/notification
package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/pkg/logger"
)

// Notification types.
const (
	TypeRfqSent              = "RFQ_SENT"
	TypePurchaseOrderCreated = "PURCHASE_ORDER_CREATED"
	TypeApprovalPending      = "APPROVAL_PENDING"
	TypeApprovalCompleted    = "APPROVAL_COMPLETED"
	TypeApprovalRejected     = "APPROVAL_REJECTED"
	TypeApprovalCanceled     = "APPROVAL_CANCELED"
	TypeApprovalReminder     = "APPROVAL_REMINDER"
)

// Params holds the required fields for a notification.
type Params struct {
	RecipientID  string // User or vendor id of the recipient
	Type         string // One of Type* constants above
	Title        string // Human-readable title
	Message      string // Body text
	ResourceType string // e.g. "purchase_request", "approval_request"
	ResourceID   string // ID of the related resource for navigation
}

// Sender delivers notifications.
type Sender interface {
	// Send delivers a notification to a single recipient.
	Send(ctx context.Context, params Params) error

	// SendToMany delivers to multiple recipients.
	// Best-effort: logs errors but does not abort on individual failures.
	SendToMany(ctx context.Context, recipientIDs []string, params Params) error
}

// LogSender writes notifications to the structured log. It stands in for
// real delivery channels, which live outside this service.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender creates a sender logging through the "notification" component
// logger.
func NewLogSender() *LogSender {
	return &LogSender{log: logger.Named("notification")}
}

// Send logs a single notification.
func (s *LogSender) Send(ctx context.Context, params Params) error {
	if err := validateParams(params); err != nil {
		return fmt.Errorf("notification params invalid: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.log.Info("notification sent",
		zap.String("recipient", params.RecipientID),
		zap.String("type", params.Type),
		zap.String("title", params.Title),
		zap.String("message", params.Message),
		zap.String("resource_type", params.ResourceType),
		zap.String("resource_id", params.ResourceID),
	)
	return nil
}

// SendToMany delivers to multiple recipients (best-effort).
// Failures are logged but do not prevent delivery to other recipients.
func (s *LogSender) SendToMany(ctx context.Context, recipientIDs []string, params Params) error {
	return sendToMany(ctx, s, recipientIDs, params)
}

// compile-time check
var _ Sender = (*LogSender)(nil)

func sendToMany(ctx context.Context, s Sender, recipientIDs []string, params Params) error {
	if len(recipientIDs) == 0 {
		return nil
	}

	var failCount int
	for _, recipientID := range recipientIDs {
		p := params
		p.RecipientID = recipientID
		if err := s.Send(ctx, p); err != nil {
			failCount++
			logger.Error("notification delivery failed",
				zap.String("recipient", recipientID),
				zap.String("type", params.Type),
				zap.Error(err),
			)
		}
	}

	if failCount > 0 {
		return fmt.Errorf("notification delivery failed for %d/%d recipients", failCount, len(recipientIDs))
	}
	return nil
}

func validateParams(p Params) error {
	if p.RecipientID == "" {
		return fmt.Errorf("recipient_id is required")
	}
	if p.Type == "" {
		return fmt.Errorf("type is required")
	}
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	if p.Message == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}
