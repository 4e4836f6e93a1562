// Package memory is an in-process store with serializable transactions.
//
// One transaction runs at a time. Writes are staged on clones and applied at
// commit, so a failed command leaves no trace. Saves enforce the same
// optimistic version check and single-selection constraint as the
// PostgreSQL store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/approval"
	"procurement.io/orchestrator/internal/domain"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/pkg/logger"
	"procurement.io/orchestrator/internal/purchasing"
	"procurement.io/orchestrator/internal/repository"
)

// RelayFunc forwards a staged envelope after commit.
type RelayFunc func(ctx context.Context, env domain.Envelope) error

// Option configures a Store.
type Option func(*Store)

// WithRelay forwards envelopes staged by committed transactions to fn.
func WithRelay(fn RelayFunc) Option {
	return func(s *Store) { s.relay = fn }
}

// Runner schedules task off the committing goroutine.
type Runner func(task func(ctx context.Context)) error

// WithRelayRunner relays each commit's envelopes, in staging order, as one
// task on run. Without it the relay runs inline after commit.
func WithRelayRunner(run Runner) Option {
	return func(s *Store) { s.runner = run }
}

// Store holds committed aggregates.
type Store struct {
	mu sync.Mutex

	requests  map[string]*purchasing.PurchaseRequest
	orders    map[string]*purchasing.PurchaseOrder
	approvals map[string]*approval.Request
	sequences map[string]int64

	relay  RelayFunc
	runner Runner
}

var _ repository.UnitOfWork = (*Store)(nil)

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		requests:  make(map[string]*purchasing.PurchaseRequest),
		orders:    make(map[string]*purchasing.PurchaseOrder),
		approvals: make(map[string]*approval.Request),
		sequences: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds; the store lives in process memory.
func (s *Store) Ping(context.Context) error { return nil }

// InTx runs fn in a serializable transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	t := newTx(s)
	committed := false
	defer func() {
		if !committed {
			s.mu.Unlock()
		}
	}()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit aborted: %w", err)
	}
	t.commit()
	committed = true
	s.mu.Unlock()

	after := context.WithoutCancel(ctx)
	for _, hook := range t.hooks {
		hook(after)
	}
	if s.relay != nil && len(t.staged) > 0 {
		s.dispatchRelay(after, t.staged)
	}
	return nil
}

func (s *Store) dispatchRelay(ctx context.Context, staged []domain.Envelope) {
	relay := func(ctx context.Context) {
		for _, env := range staged {
			if err := s.relay(ctx, env); err != nil {
				logger.Error("Event relay failed",
					zap.String("event_id", env.EventID),
					zap.String("event_type", string(env.EventType)),
					zap.Error(err),
				)
			}
		}
	}
	if s.runner == nil {
		relay(ctx)
		return
	}
	if err := s.runner(relay); err != nil {
		logger.Error("Event relay not scheduled",
			zap.Int("events", len(staged)),
			zap.Error(err),
		)
	}
}

// ListPendingApprovals returns up to limit PENDING requests submitted before
// the cutoff, oldest first. It reads committed state only.
func (s *Store) ListPendingApprovals(_ context.Context, submittedBefore time.Time, limit int) ([]*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*approval.Request
	for _, r := range s.approvals {
		if r.Status == approval.StatusPending && r.SubmittedAt.Before(submittedBefore) {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *approval.Request) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type tx struct {
	s *Store

	requests  map[string]*purchasing.PurchaseRequest
	orders    map[string]*purchasing.PurchaseOrder
	approvals map[string]*approval.Request
	sequences map[string]int64

	hooks  []func(context.Context)
	staged []domain.Envelope
}

var _ repository.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:         s,
		requests:  make(map[string]*purchasing.PurchaseRequest),
		orders:    make(map[string]*purchasing.PurchaseOrder),
		approvals: make(map[string]*approval.Request),
		sequences: make(map[string]int64),
	}
}

func (t *tx) commit() {
	for id, v := range t.requests {
		t.s.requests[id] = v
	}
	for id, v := range t.orders {
		t.s.orders[id] = v
	}
	for id, v := range t.approvals {
		t.s.approvals[id] = v
	}
	for k, v := range t.sequences {
		t.s.sequences[k] = v
	}
}

// AfterCommit implements eventbus.Tx.
func (t *tx) AfterCommit(fn func(context.Context)) {
	t.hooks = append(t.hooks, fn)
}

// Stage implements eventbus.Tx.
func (t *tx) Stage(_ context.Context, env domain.Envelope) error {
	t.staged = append(t.staged, env)
	return nil
}

func (t *tx) request(id string) *purchasing.PurchaseRequest {
	if v, ok := t.requests[id]; ok {
		return v
	}
	return t.s.requests[id]
}

func (t *tx) order(id string) *purchasing.PurchaseOrder {
	if v, ok := t.orders[id]; ok {
		return v
	}
	return t.s.orders[id]
}

func (t *tx) approvalByID(id string) *approval.Request {
	if v, ok := t.approvals[id]; ok {
		return v
	}
	return t.s.approvals[id]
}

// LoadRequest implements purchasing.Repository.
func (t *tx) LoadRequest(_ context.Context, id string) (*purchasing.PurchaseRequest, error) {
	pr := t.request(id)
	if pr == nil {
		return nil, apperrors.NotFound("purchase_request", id)
	}
	return pr.Clone(), nil
}

// LoadRequestByItem implements purchasing.Repository.
func (t *tx) LoadRequestByItem(ctx context.Context, rfqItemID string) (*purchasing.PurchaseRequest, error) {
	seen := make(map[string]struct{})
	for _, m := range []map[string]*purchasing.PurchaseRequest{t.requests, t.s.requests} {
		for id := range m {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if pr := t.request(id); pr.Item(rfqItemID) != nil {
				return t.LoadRequest(ctx, id)
			}
		}
	}
	return nil, apperrors.NotFound("rfq_item", rfqItemID)
}

// SaveRequest implements purchasing.Repository.
func (t *tx) SaveRequest(_ context.Context, pr *purchasing.PurchaseRequest) error {
	if err := checkVersion("purchase_request", pr.ID, pr.Version, t.request(pr.ID) != nil, func() int64 {
		return t.request(pr.ID).Version
	}); err != nil {
		return err
	}
	selected := 0
	for _, it := range pr.Items {
		if it.Status == purchasing.RfqItemSelected {
			selected++
		}
	}
	if selected > 1 {
		return apperrors.ConcurrentModification("purchase_request", pr.ID).
			WithParams(map[string]interface{}{"constraint": "one_selected_rfq_item"})
	}
	pr.Version++
	t.requests[pr.ID] = pr.Clone()
	return nil
}

// LoadOrder implements purchasing.Repository.
func (t *tx) LoadOrder(_ context.Context, id string) (*purchasing.PurchaseOrder, error) {
	po := t.order(id)
	if po == nil {
		return nil, apperrors.NotFound("purchase_order", id)
	}
	return po.Clone(), nil
}

// FindOpenOrderByItem implements purchasing.Repository.
func (t *tx) FindOpenOrderByItem(_ context.Context, rfqItemID string) (*purchasing.PurchaseOrder, error) {
	seen := make(map[string]struct{})
	for _, m := range []map[string]*purchasing.PurchaseOrder{t.orders, t.s.orders} {
		for id := range m {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			po := t.order(id)
			if po.RfqItemID == rfqItemID && po.Status != purchasing.OrderCanceled {
				return po.Clone(), nil
			}
		}
	}
	return nil, nil
}

// SaveOrder implements purchasing.Repository.
func (t *tx) SaveOrder(_ context.Context, po *purchasing.PurchaseOrder) error {
	if err := checkVersion("purchase_order", po.ID, po.Version, t.order(po.ID) != nil, func() int64 {
		return t.order(po.ID).Version
	}); err != nil {
		return err
	}
	po.Version++
	t.orders[po.ID] = po.Clone()
	return nil
}

// NextNumber implements purchasing.Repository.
func (t *tx) NextNumber(_ context.Context, prefix string, at time.Time) (string, error) {
	key := fmt.Sprintf("%s-%04d", prefix, at.Year())
	last, ok := t.sequences[key]
	if !ok {
		last = t.s.sequences[key]
	}
	last++
	t.sequences[key] = last
	return repository.FormatNumber(prefix, at, last), nil
}

// LoadApproval implements approval.Repository.
func (t *tx) LoadApproval(_ context.Context, id string) (*approval.Request, error) {
	r := t.approvalByID(id)
	if r == nil {
		return nil, apperrors.NotFound("approval_request", id)
	}
	return r.Clone(), nil
}

// FindPendingApproval implements approval.Repository.
func (t *tx) FindPendingApproval(_ context.Context, entityType, entityID string) (*approval.Request, error) {
	seen := make(map[string]struct{})
	for _, m := range []map[string]*approval.Request{t.approvals, t.s.approvals} {
		for id := range m {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			r := t.approvalByID(id)
			if r.EntityType == entityType && r.EntityID == entityID && r.Status == approval.StatusPending {
				return r.Clone(), nil
			}
		}
	}
	return nil, nil
}

// SaveApproval implements approval.Repository.
func (t *tx) SaveApproval(_ context.Context, r *approval.Request) error {
	if err := checkVersion("approval_request", r.ID, r.Version, t.approvalByID(r.ID) != nil, func() int64 {
		return t.approvalByID(r.ID).Version
	}); err != nil {
		return err
	}
	r.Version++
	t.approvals[r.ID] = r.Clone()
	return nil
}

func checkVersion(aggregate, id string, version int64, exists bool, stored func() int64) error {
	switch {
	case version == 0 && exists:
		return apperrors.ConcurrentModification(aggregate, id)
	case version == 0:
		return nil
	case !exists:
		return apperrors.NotFound(aggregate, id)
	case stored() != version:
		return apperrors.ConcurrentModification(aggregate, id).
			WithParams(map[string]interface{}{"expected_version": version, "actual_version": stored()})
	}
	return nil
}
