// Package approval implements the generic multi-level sequential approval
// workflow. It is parametrized by entity type through chain templates and
// is independent of purchasing.
package approval

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"procurement.io/orchestrator/internal/domain"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/pkg/fsm"
)

// Status is the aggregate status of an approval request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusCanceled Status = "CANCELED"
)

// IsTerminal reports whether the request is decided or recalled.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// DecisionStatus is the status of one level.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "PENDING"
	DecisionApproved DecisionStatus = "APPROVED"
	DecisionRejected DecisionStatus = "REJECTED"
	DecisionCanceled DecisionStatus = "CANCELED"
)

type transition string

const (
	trApprove      transition = "approve"
	trApproveFinal transition = "approveFinal"
	trReject       transition = "reject"
	trRecall       transition = "recall"
	trCancel       transition = "cancel"
)

type decision struct {
	req      *Request
	level    *LevelDecision
	approver string
	comments string
}

func mayDecide(d decision) error {
	if d.level.Order != d.req.CurrentLevel {
		return apperrors.Forbidden(fmt.Sprintf("level %d is not the current level (%d)", d.level.Order, d.req.CurrentLevel)).
			WithParams(map[string]interface{}{"approval_request_id": d.req.ID, "level": d.level.Order})
	}
	if !d.level.CanBeDecidedBy(d.approver) {
		return apperrors.Forbidden(fmt.Sprintf("%s is not an approver of level %d", d.approver, d.level.Order)).
			WithParams(map[string]interface{}{"approval_request_id": d.req.ID, "level": d.level.Order})
	}
	return nil
}

func mayReject(d decision) error {
	if err := mayDecide(d); err != nil {
		return err
	}
	if strings.TrimSpace(d.comments) == "" {
		return apperrors.GuardRejected("a rejection reason is required")
	}
	return nil
}

func mayRecall(d decision) error {
	if d.approver != d.req.SubmitterID {
		return apperrors.Forbidden("only the submitter can recall an approval request")
	}
	return nil
}

type requestRow = fsm.Transition[Status, transition, decision]
type levelRow = fsm.Transition[DecisionStatus, transition, decision]

var requestMachine = fsm.MustNew("approval_request",
	requestRow{Name: trApprove, From: []Status{StatusPending}, To: StatusPending, Guard: mayDecide},
	requestRow{Name: trApproveFinal, From: []Status{StatusPending}, To: StatusApproved, Guard: mayDecide},
	requestRow{Name: trReject, From: []Status{StatusPending}, To: StatusRejected, Guard: mayReject},
	requestRow{Name: trRecall, From: []Status{StatusPending}, To: StatusCanceled, Guard: mayRecall},
)

var levelMachine = fsm.MustNew("approval_level",
	levelRow{Name: trApprove, From: []DecisionStatus{DecisionPending}, To: DecisionApproved},
	levelRow{Name: trReject, From: []DecisionStatus{DecisionPending}, To: DecisionRejected},
	levelRow{Name: trCancel, From: []DecisionStatus{DecisionPending}, To: DecisionCanceled},
)

// LevelDecision is one step of the chain.
type LevelDecision struct {
	Order              int
	Name               string
	ExpectedApproverID string
	// Overrides may decide in place of the expected approver.
	Overrides        []string
	ActualApproverID string
	Status           DecisionStatus
	DecidedAt        *time.Time
	Comments         string
}

// CanBeDecidedBy reports whether approverID is the expected approver or one
// of the configured overrides.
func (l *LevelDecision) CanBeDecidedBy(approverID string) bool {
	if approverID == "" {
		return false
	}
	return approverID == l.ExpectedApproverID || slices.Contains(l.Overrides, approverID)
}

// Request is the approval aggregate. Levels are ordered 1..N without gaps.
type Request struct {
	ID          string
	EntityType  string
	EntityID    string
	Description string
	// CurrentLevel is the lowest PENDING level order, or 0 once terminal.
	CurrentLevel int
	TotalLevels  int
	Status       Status
	SubmitterID  string
	SubmittedAt  time.Time
	CompletedAt  *time.Time
	Levels       []*LevelDecision

	// Version is the optimistic lock stamp; 0 means not yet persisted.
	Version int64

	events []domain.Event
}

// NewFromSubmission materializes the chain for a submitted entity: one
// PENDING decision per level, current level 1.
func NewFromSubmission(chain ChainTemplate, entityID, description, submitterID string, now time.Time) (*Request, error) {
	if entityID == "" {
		return nil, apperrors.InvalidRequestField("entity_id", "entity id is required")
	}
	if submitterID == "" {
		return nil, apperrors.InvalidRequestField("submitter_id", "submitter is required")
	}
	levels := chain.materialize()
	if len(levels) == 0 {
		return nil, apperrors.GuardRejectedf("approval chain for %s has no levels", chain.EntityType)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate approval request id: %w", err)
	}
	return &Request{
		ID:           id.String(),
		EntityType:   chain.EntityType,
		EntityID:     entityID,
		Description:  description,
		CurrentLevel: 1,
		TotalLevels:  len(levels),
		Status:       StatusPending,
		SubmitterID:  submitterID,
		SubmittedAt:  now,
		Levels:       levels,
	}, nil
}

// Level returns the decision with the given order, or nil.
func (r *Request) Level(order int) *LevelDecision {
	if order < 1 || order > len(r.Levels) {
		return nil
	}
	return r.Levels[order-1]
}

// Decide records approverID's decision on levelOrder.
//
// Approving the last level approves the request; any rejection terminates
// the whole chain. Both record ApprovalCompleted.
func (r *Request) Decide(levelOrder int, approverID string, outcome domain.ApprovalOutcome, comments string, now time.Time) error {
	var t transition
	switch outcome {
	case domain.OutcomeApproved:
		t = trApprove
	case domain.OutcomeRejected:
		t = trReject
	default:
		return apperrors.InvalidRequestField("outcome", fmt.Sprintf("outcome must be APPROVED or REJECTED, got %q", outcome))
	}

	level := r.Level(levelOrder)
	if level == nil {
		return apperrors.NotFound("approval_level", fmt.Sprintf("%s/%d", r.ID, levelOrder))
	}
	ctx := context.Background()
	d := decision{req: r, level: level, approver: approverID, comments: comments}

	if r.Status.IsTerminal() {
		return apperrors.InvalidTransition("approval_request", string(r.Status), string(t))
	}
	nextLevel, err := levelMachine.Apply(ctx, level.Status, t, d)
	if err != nil {
		return err
	}
	aggregateTransition := t
	if t == trApprove && levelOrder == r.TotalLevels {
		aggregateTransition = trApproveFinal
	}
	next, err := requestMachine.Apply(ctx, r.Status, aggregateTransition, d)
	if err != nil {
		return err
	}

	decidedAt := now
	level.Status = nextLevel
	level.ActualApproverID = approverID
	level.DecidedAt = &decidedAt
	level.Comments = comments
	r.Status = next

	if !next.IsTerminal() {
		r.CurrentLevel = levelOrder + 1
		return nil
	}
	r.complete(outcome, comments, approverID, now)
	return nil
}

// Recall lets the submitter withdraw a PENDING request.
func (r *Request) Recall(actorID string, now time.Time) error {
	next, err := requestMachine.Apply(context.Background(), r.Status, trRecall, decision{req: r, approver: actorID})
	if err != nil {
		return err
	}
	r.Status = next
	r.complete(domain.OutcomeCanceled, "recalled by submitter", actorID, now)
	return nil
}

func (r *Request) complete(outcome domain.ApprovalOutcome, reason, actorID string, now time.Time) {
	for _, l := range r.Levels {
		if next, err := levelMachine.Apply(context.Background(), l.Status, trCancel, decision{}); err == nil {
			l.Status = next
		}
	}
	completedAt := now
	r.CompletedAt = &completedAt
	r.CurrentLevel = 0
	if outcome == domain.OutcomeApproved {
		reason = ""
	}
	r.events = append(r.events, domain.ApprovalCompleted{
		ApprovalRequestID: r.ID,
		EntityType:        r.EntityType,
		EntityID:          r.EntityID,
		Outcome:           outcome,
		Reason:            reason,
		DecidedBy:         actorID,
		SubmitterID:       r.SubmitterID,
		At:                now,
	})
}

// PullEvents returns and clears the events recorded since the last call.
func (r *Request) PullEvents() []domain.Event {
	evs := r.events
	r.events = nil
	return evs
}

// Clone returns a deep copy without pending events.
func (r *Request) Clone() *Request {
	c := *r
	c.events = nil
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		c.CompletedAt = &v
	}
	c.Levels = make([]*LevelDecision, len(r.Levels))
	for i, l := range r.Levels {
		lc := *l
		lc.Overrides = slices.Clone(l.Overrides)
		if l.DecidedAt != nil {
			v := *l.DecidedAt
			lc.DecidedAt = &v
		}
		c.Levels[i] = &lc
	}
	return &c
}
