package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/approval"
	"procurement.io/orchestrator/internal/pkg/logger"
)

const (
	// DefaultReminderAfter is how long after submission a PENDING request
	// waits before the approvers of its current level are reminded.
	DefaultReminderAfter = 48 * time.Hour

	reminderBatchSize = 500
)

// ApprovalReminderArgs is a periodic job that reminds approvers of requests
// that have been PENDING for too long.
type ApprovalReminderArgs struct{}

// Kind returns the job kind identifier for approval reminders.
func (ApprovalReminderArgs) Kind() string { return "approval_reminder" }

// InsertOpts ensures at most one reminder sweep is enqueued within the same day.
func (ApprovalReminderArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// PendingApprovalLister reads committed PENDING approval requests.
type PendingApprovalLister interface {
	ListPendingApprovals(ctx context.Context, submittedBefore time.Time, limit int) ([]*approval.Request, error)
}

// Reminder notifies the current approvers of one request.
type Reminder interface {
	RemindPending(ctx context.Context, r *approval.Request) error
}

// ApprovalReminderWorker sends reminders for requests submitted more than
// the configured duration ago.
type ApprovalReminderWorker struct {
	river.WorkerDefaults[ApprovalReminderArgs]
	lister   PendingApprovalLister
	reminder Reminder
	after    time.Duration
	now      func() time.Time
}

// NewApprovalReminderWorker creates a reminder worker. Non-positive after
// falls back to the 48-hour default.
func NewApprovalReminderWorker(lister PendingApprovalLister, reminder Reminder, after time.Duration) *ApprovalReminderWorker {
	if after <= 0 {
		after = DefaultReminderAfter
	}
	return &ApprovalReminderWorker{
		lister:   lister,
		reminder: reminder,
		after:    after,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Work reminds every overdue request. Individual delivery failures are
// logged and skipped.
func (w *ApprovalReminderWorker) Work(ctx context.Context, _ *river.Job[ApprovalReminderArgs]) error {
	if w == nil || w.lister == nil || w.reminder == nil {
		return fmt.Errorf("approval reminder worker is not initialized")
	}

	cutoff := w.now().Add(-w.after)
	pending, err := w.lister.ListPendingApprovals(ctx, cutoff, reminderBatchSize)
	if err != nil {
		return fmt.Errorf("list pending approvals before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	var failed int
	for _, r := range pending {
		if err := w.reminder.RemindPending(ctx, r); err != nil {
			failed++
			logger.Warn("approval reminder failed",
				zap.String("approval_request_id", r.ID),
				zap.Error(err),
			)
		}
	}

	logger.Info("approval reminder sweep completed",
		zap.Int("pending", len(pending)),
		zap.Int("failed", failed),
		zap.String("cutoff", cutoff.Format(time.RFC3339)),
	)
	return nil
}
