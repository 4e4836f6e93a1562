package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procurement.io/orchestrator/internal/approval"
	"procurement.io/orchestrator/internal/domain"
	"procurement.io/orchestrator/internal/eventbus"
	"procurement.io/orchestrator/internal/notification"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/pkg/logger"
	"procurement.io/orchestrator/internal/purchasing"
	"procurement.io/orchestrator/internal/repository"
	"procurement.io/orchestrator/internal/repository/memory"
)

func init() {
	_ = logger.Init("error", "json")
}

var clock = time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testChains(t *testing.T) *approval.Chains {
	t.Helper()
	chains, err := approval.NewChains(approval.ChainTemplate{
		EntityType: "quotation",
		Levels: []approval.LevelTemplate{
			{Name: "Level1", ApproverID: "userA"},
			{Name: "Level2", ApproverID: "userB"},
		},
	})
	require.NoError(t, err)
	return chains
}

type recordingSender struct {
	mu   sync.Mutex
	sent []notification.Params
}

func (s *recordingSender) Send(_ context.Context, p notification.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, p)
	return nil
}

func (s *recordingSender) SendToMany(ctx context.Context, ids []string, p notification.Params) error {
	for _, id := range ids {
		p.RecipientID = id
		_ = s.Send(ctx, p)
	}
	return nil
}

func (s *recordingSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, p := range s.sent {
		out[i] = p.Type + ":" + p.RecipientID
	}
	return out
}

type harness struct {
	store  *memory.Store
	bus    *eventbus.Bus[repository.Tx]
	svc    *OrchestrationService
	sender *recordingSender
}

func newHarness(t *testing.T, extra ...func(b *eventbus.Builder[repository.Tx])) *harness {
	t.Helper()
	chains := testChains(t)
	sender := &recordingSender{}
	b := eventbus.NewBuilder[repository.Tx]()
	RegisterHandlers(b, chains, notification.NewTriggers(sender, nil, chains))
	for _, fn := range extra {
		fn(b)
	}
	store := memory.New()
	bus := b.Build()
	svc := NewOrchestrationService(store, bus, Options{
		MaxConflictRetries: 2,
		Clock:              func() time.Time { return clock },
	})
	return &harness{store: store, bus: bus, svc: svc, sender: sender}
}

func details() purchasing.RequestDetails {
	return purchasing.RequestDetails{
		CategoryID:   "steel",
		Description:  "rebar",
		Quantity:     decimal.NewFromInt(10),
		Unit:         "t",
		RequiredDate: date(2026, 2, 28),
	}
}

func leadTime(d int) *int { return &d }

func itemFor(t *testing.T, pr *purchasing.PurchaseRequest, vendorID string) *purchasing.RfqItem {
	t.Helper()
	for _, it := range pr.Items {
		if it.VendorID == vendorID {
			return it
		}
	}
	t.Fatalf("no item for vendor %s", vendorID)
	return nil
}

// scenarioA runs PR creation through PO creation and returns the ids.
func scenarioA(t *testing.T, h *harness) (prID string, po *purchasing.PurchaseOrder) {
	t.Helper()
	ctx := context.Background()

	pr, err := h.svc.CreatePurchaseRequest(ctx, CreatePurchaseRequestInput{Details: details(), CreatedBy: "buyer"})
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestDraft, pr.Status)
	assert.Equal(t, "PR-2026-000001", pr.RequestNumber)

	pr, err = h.svc.SendRfq(ctx, pr.ID, []string{"V1", "V2", "V3"}, "buyer")
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestRfqSent, pr.Status)
	require.Len(t, pr.Items, 3)
	for _, it := range pr.Items {
		assert.Equal(t, purchasing.RfqItemSent, it.Status)
	}

	v1, v2 := itemFor(t, pr, "V1").ID, itemFor(t, pr, "V2").ID
	_, err = h.svc.RecordQuote(ctx, RecordQuoteInput{PurchaseRequestID: pr.ID, RfqItemID: v1,
		Quote: purchasing.Quote{Price: decimal.NewFromInt(100000), LeadTimeDays: leadTime(5)}, RecordedBy: "buyer"})
	require.NoError(t, err)
	_, err = h.svc.RecordQuote(ctx, RecordQuoteInput{PurchaseRequestID: pr.ID, RfqItemID: v2,
		Quote: purchasing.Quote{Price: decimal.NewFromInt(90000), LeadTimeDays: leadTime(7)}, RecordedBy: "buyer"})
	require.NoError(t, err)

	pr, err = h.svc.SelectVendor(ctx, pr.ID, v2, "buyer")
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestVendorSelected, pr.Status)
	assert.Equal(t, purchasing.RfqItemSelected, itemFor(t, pr, "V2").Status)
	assert.Equal(t, purchasing.RfqItemRejected, itemFor(t, pr, "V1").Status)
	assert.Equal(t, purchasing.RfqItemSent, itemFor(t, pr, "V3").Status)

	po, err = h.svc.CreatePurchaseOrder(ctx, CreatePurchaseOrderInput{
		RfqItemID:            v2,
		OrderDate:            date(2026, 1, 20),
		ExpectedDeliveryDate: date(2026, 2, 10),
		CreatedBy:            "buyer",
	})
	require.NoError(t, err)
	assert.Equal(t, purchasing.OrderDraft, po.Status)
	assert.Equal(t, "PO-2026-000001", po.OrderNumber)
	assert.True(t, decimal.NewFromInt(90000).Equal(po.TotalAmount))
	assert.Equal(t, "KRW", po.Currency)

	pr, err = h.svc.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestOrdered, pr.Status)
	return pr.ID, po
}

func TestScenarioA_SelectAndOrder(t *testing.T) {
	h := newHarness(t)
	scenarioA(t, h)

	assert.Equal(t, []string{
		"RFQ_SENT:V1", "RFQ_SENT:V2", "RFQ_SENT:V3",
		"PURCHASE_ORDER_CREATED:V2",
	}, h.sender.types())
}

func TestScenarioB_CancelOrderRevertsSelection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	prID, po := scenarioA(t, h)

	po, err := h.svc.CancelPurchaseOrder(ctx, po.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, purchasing.OrderCanceled, po.Status)

	pr, err := h.svc.GetPurchaseRequest(ctx, prID)
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestRfqSent, pr.Status)
	assert.Equal(t, purchasing.RfqItemReplied, itemFor(t, pr, "V2").Status)
	assert.Equal(t, purchasing.RfqItemReplied, itemFor(t, pr, "V1").Status)
	assert.Equal(t, purchasing.RfqItemSent, itemFor(t, pr, "V3").Status)

	// The user can now reconsider a previously rejected vendor.
	pr, err = h.svc.SelectVendor(ctx, prID, itemFor(t, pr, "V1").ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, purchasing.RfqItemSelected, itemFor(t, pr, "V1").Status)
	assert.Equal(t, purchasing.RfqItemRejected, itemFor(t, pr, "V2").Status)
}

func TestScenarioC_ReceiveClosesRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	prID, po := scenarioA(t, h)

	_, err := h.svc.ReceivePurchaseOrder(ctx, po.ID, "buyer")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition), "DRAFT cannot be received: %v", err)

	_, err = h.svc.SendPurchaseOrder(ctx, po.ID, "buyer")
	require.NoError(t, err)
	po, err = h.svc.ConfirmPurchaseOrder(ctx, po.ID, "vendor")
	require.NoError(t, err)
	assert.Equal(t, purchasing.OrderConfirmed, po.Status)
	po, err = h.svc.ReceivePurchaseOrder(ctx, po.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, purchasing.OrderReceived, po.Status)

	pr, err := h.svc.GetPurchaseRequest(ctx, prID)
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestClosed, pr.Status)

	_, err = h.svc.CancelPurchaseRequest(ctx, prID, "buyer")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGuardRejected), "err = %v", err)

	_, err = h.svc.CancelPurchaseOrder(ctx, po.ID, "buyer")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition), "err = %v", err)
}

func TestCreatePurchaseOrder_Guards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, po := scenarioA(t, h)

	_, err := h.svc.CreatePurchaseOrder(ctx, CreatePurchaseOrderInput{
		RfqItemID: po.RfqItemID, OrderDate: date(2026, 1, 20), ExpectedDeliveryDate: date(2026, 2, 1), CreatedBy: "buyer",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGuardRejected), "second open order: %v", err)

	_, err = h.svc.CreatePurchaseOrder(ctx, CreatePurchaseOrderInput{
		RfqItemID: po.RfqItemID, OrderDate: date(2026, 1, 20), ExpectedDeliveryDate: date(2026, 1, 19), CreatedBy: "buyer",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGuardRejected), "early delivery: %v", err)

	_, err = h.svc.CreatePurchaseOrder(ctx, CreatePurchaseOrderInput{
		RfqItemID: "missing", OrderDate: date(2026, 1, 20), ExpectedDeliveryDate: date(2026, 2, 1), CreatedBy: "buyer",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "err = %v", err)

	_, err = h.svc.CreatePurchaseOrder(ctx, CreatePurchaseOrderInput{RfqItemID: po.RfqItemID})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidRequestField))
}

// quotedRequest creates a request with V1 and V2 both REPLIED.
func quotedRequest(t *testing.T, h *harness) *purchasing.PurchaseRequest {
	t.Helper()
	ctx := context.Background()
	pr, err := h.svc.CreatePurchaseRequest(ctx, CreatePurchaseRequestInput{Details: details(), CreatedBy: "buyer"})
	require.NoError(t, err)
	pr, err = h.svc.SendRfq(ctx, pr.ID, []string{"V1", "V2"}, "buyer")
	require.NoError(t, err)
	for i, v := range []string{"V1", "V2"} {
		pr, err = h.svc.RecordQuote(ctx, RecordQuoteInput{PurchaseRequestID: pr.ID, RfqItemID: itemFor(t, pr, v).ID,
			Quote: purchasing.Quote{Price: decimal.NewFromInt(int64(1000 * (i + 1)))}, RecordedBy: "buyer"})
		require.NoError(t, err)
	}
	return pr
}

func TestCreatePurchaseOrder_FromRepliedItemSelectsIt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pr := quotedRequest(t, h)
	v1, v2 := itemFor(t, pr, "V1").ID, itemFor(t, pr, "V2").ID

	po1, err := h.svc.CreatePurchaseOrder(ctx, CreatePurchaseOrderInput{
		RfqItemID: v1, OrderDate: date(2026, 1, 20), ExpectedDeliveryDate: date(2026, 2, 1), CreatedBy: "buyer",
	})
	require.NoError(t, err)

	pr, err = h.svc.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestOrdered, pr.Status)
	assert.Equal(t, purchasing.RfqItemSelected, itemFor(t, pr, "V1").Status)
	assert.Equal(t, purchasing.RfqItemRejected, itemFor(t, pr, "V2").Status)

	// The open order pins the selection.
	_, err = h.svc.SelectVendor(ctx, pr.ID, v2, "buyer")
	require.Error(t, err)
	_, err = h.svc.CreatePurchaseOrder(ctx, CreatePurchaseOrderInput{
		RfqItemID: v2, OrderDate: date(2026, 1, 20), ExpectedDeliveryDate: date(2026, 2, 1), CreatedBy: "buyer",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGuardRejected), "err = %v", err)

	for _, step := range []func(context.Context, string, string) (*purchasing.PurchaseOrder, error){
		h.svc.SendPurchaseOrder, h.svc.ConfirmPurchaseOrder, h.svc.ReceivePurchaseOrder,
	} {
		_, err = step(ctx, po1.ID, "buyer")
		require.NoError(t, err)
	}
	pr, err = h.svc.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestClosed, pr.Status)
}

func TestCreatePurchaseOrder_FromRepliedItemRollsBackSelection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pr := quotedRequest(t, h)

	_, err := h.svc.CreatePurchaseOrder(ctx, CreatePurchaseOrderInput{
		RfqItemID: itemFor(t, pr, "V1").ID, OrderDate: date(2026, 1, 20), ExpectedDeliveryDate: date(2026, 1, 10), CreatedBy: "buyer",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGuardRejected), "err = %v", err)

	pr, err = h.svc.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestRfqSent, pr.Status)
	assert.Equal(t, purchasing.RfqItemReplied, itemFor(t, pr, "V1").Status)
	assert.Equal(t, purchasing.RfqItemReplied, itemFor(t, pr, "V2").Status)
}

func TestPurchaseRequestCascade_IgnoresOtherItemsAndRedelivery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	prID, po := scenarioA(t, h)

	before, err := h.svc.GetPurchaseRequest(ctx, prID)
	require.NoError(t, err)
	rejected := itemFor(t, before, "V1").ID

	deliver := func(ev domain.Event) {
		t.Helper()
		require.NoError(t, h.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			return h.bus.Publish(ctx, tx, ev)
		}))
	}
	deliver(domain.PurchaseOrderCreated{PurchaseOrderID: "po-x", RfqItemID: rejected, PurchaseRequestID: prID, VendorID: "V1", At: clock})
	deliver(domain.PurchaseOrderReceived{PurchaseOrderID: "po-x", RfqItemID: rejected, PurchaseRequestID: prID, At: clock})
	deliver(domain.PurchaseOrderCreated{PurchaseOrderID: po.ID, RfqItemID: po.RfqItemID, PurchaseRequestID: prID, VendorID: "V2", At: clock})

	after, err := h.svc.GetPurchaseRequest(ctx, prID)
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestOrdered, after.Status)
	assert.Equal(t, before.Version, after.Version, "no reaction applied")

	deliver(domain.PurchaseOrderReceived{PurchaseOrderID: po.ID, RfqItemID: po.RfqItemID, PurchaseRequestID: prID, At: clock})
	deliver(domain.PurchaseOrderReceived{PurchaseOrderID: po.ID, RfqItemID: po.RfqItemID, PurchaseRequestID: prID, At: clock})
	after, err = h.svc.GetPurchaseRequest(ctx, prID)
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestClosed, after.Status)
	assert.Equal(t, before.Version+1, after.Version)
}

func TestUpdatePurchaseOrder_RechecksDates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, po := scenarioA(t, h)

	early := date(2026, 1, 10)
	_, err := h.svc.UpdatePurchaseOrder(ctx, po.ID, purchasing.OrderChanges{ExpectedDeliveryDate: &early}, "buyer")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGuardRejected), "err = %v", err)

	later := date(2026, 2, 20)
	notes := "split delivery"
	updated, err := h.svc.UpdatePurchaseOrder(ctx, po.ID, purchasing.OrderChanges{ExpectedDeliveryDate: &later, Notes: &notes}, "buyer")
	require.NoError(t, err)
	assert.Equal(t, later, updated.ExpectedDeliveryDate)
	assert.Equal(t, notes, updated.Notes)
}

func TestMarkNoResponseAndCancelRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	pr, err := h.svc.CreatePurchaseRequest(ctx, CreatePurchaseRequestInput{Details: details(), CreatedBy: "buyer"})
	require.NoError(t, err)

	d := details()
	d.Description = "rebar, grade 60"
	pr, err = h.svc.UpdatePurchaseRequest(ctx, pr.ID, d, "buyer")
	require.NoError(t, err)
	assert.Equal(t, "rebar, grade 60", pr.Description)

	pr, err = h.svc.SendRfq(ctx, pr.ID, []string{"V1"}, "buyer")
	require.NoError(t, err)
	item := pr.Items[0].ID

	_, err = h.svc.UpdatePurchaseRequest(ctx, pr.ID, d, "buyer")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGuardRejected), "err = %v", err)

	pr, err = h.svc.MarkNoResponse(ctx, pr.ID, item, "buyer")
	require.NoError(t, err)
	assert.Equal(t, purchasing.RfqItemNoResponse, pr.Items[0].Status)

	pr, err = h.svc.CancelPurchaseRequest(ctx, pr.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestCanceled, pr.Status)

	_, err = h.svc.SendRfq(ctx, pr.ID, []string{"V2"}, "buyer")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGuardRejected), "err = %v", err)
}

func TestCommands_RequireActor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.SendRfq(ctx, "pr", []string{"V1"}, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidRequestField))
	_, err = h.svc.CancelPurchaseOrder(ctx, "po", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidRequestField))
	_, err = h.svc.RecallApproval(ctx, "ap", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidRequestField))
	_, err = h.svc.CreatePurchaseRequest(ctx, CreatePurchaseRequestInput{Details: details()})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidRequestField))
}

func TestApprovalScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	req, err := h.svc.SubmitForApproval(ctx, SubmitForApprovalInput{
		EntityType: "quotation", EntityID: "Q#1", Description: "steel quotation", SubmitterID: "submitter",
	})
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, req.Status)
	assert.Equal(t, 1, req.CurrentLevel)

	decide := func(level int, approver string, outcome domain.ApprovalOutcome, comments string) (*approval.Request, error) {
		return h.svc.DecideApproval(ctx, DecideApprovalInput{
			ApprovalRequestID: req.ID, LevelOrder: level, ApproverID: approver, Outcome: outcome, Comments: comments,
		})
	}

	req, err = decide(1, "userA", domain.OutcomeApproved, "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, req.Status)
	assert.Equal(t, 2, req.CurrentLevel)

	_, err = decide(1, "userA", domain.OutcomeApproved, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden) || apperrors.HasCode(err, apperrors.CodeInvalidTransition), "err = %v", err)

	_, err = decide(2, "userC", domain.OutcomeApproved, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden), "err = %v", err)

	req, err = decide(2, "userB", domain.OutcomeRejected, "price too high")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, req.Status)
	assert.Equal(t, 0, req.CurrentLevel)

	stored, err := h.svc.GetApproval(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, stored.Status)
	assert.Equal(t, "price too high", stored.Levels[1].Comments)

	assert.Equal(t, []string{"APPROVAL_PENDING:userA", "APPROVAL_REJECTED:submitter"}, h.sender.types())
}

func TestSubmitForApproval_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	in := SubmitForApprovalInput{EntityType: "quotation", EntityID: "Q#1", SubmitterID: "submitter"}

	first, err := h.svc.SubmitForApproval(ctx, in)
	require.NoError(t, err)
	second, err := h.svc.SubmitForApproval(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"APPROVAL_PENDING:userA"}, h.sender.types(), "approvers are told once")

	// Once recalled, a new submission opens a new request.
	_, err = h.svc.RecallApproval(ctx, first.ID, "submitter")
	require.NoError(t, err)
	third, err := h.svc.SubmitForApproval(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestSubmitForApproval_HandlerFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.SubmitForApproval(ctx, SubmitForApprovalInput{EntityType: "invoice", EntityID: "I#1", SubmitterID: "submitter"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "the handler's error surfaces: %v", err)

	require.NoError(t, h.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.FindPendingApproval(ctx, "invoice", "I#1")
		require.NoError(t, err)
		assert.Nil(t, r)
		return nil
	}))
	assert.Empty(t, h.sender.types(), "no notification for a rolled-back submission")
}

func TestCreatePurchaseOrder_CascadeFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("ledger unavailable")
	failing := true
	h := newHarness(t, func(b *eventbus.Builder[repository.Tx]) {
		eventbus.On(b, "test.ledger", func(context.Context, repository.Tx, domain.PurchaseOrderCreated) error {
			if failing {
				return boom
			}
			return nil
		})
	})

	pr, err := h.svc.CreatePurchaseRequest(ctx, CreatePurchaseRequestInput{Details: details(), CreatedBy: "buyer"})
	require.NoError(t, err)
	pr, err = h.svc.SendRfq(ctx, pr.ID, []string{"V1"}, "buyer")
	require.NoError(t, err)
	item := pr.Items[0].ID
	_, err = h.svc.RecordQuote(ctx, RecordQuoteInput{PurchaseRequestID: pr.ID, RfqItemID: item,
		Quote: purchasing.Quote{Price: decimal.NewFromInt(500)}, RecordedBy: "buyer"})
	require.NoError(t, err)
	_, err = h.svc.SelectVendor(ctx, pr.ID, item, "buyer")
	require.NoError(t, err)

	in := CreatePurchaseOrderInput{RfqItemID: item, OrderDate: date(2026, 1, 20), ExpectedDeliveryDate: date(2026, 1, 30), CreatedBy: "buyer"}
	_, err = h.svc.CreatePurchaseOrder(ctx, in)
	require.ErrorIs(t, err, boom)

	// mark_ordered ran before the failing handler; its write is gone too.
	got, err := h.svc.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, purchasing.RequestVendorSelected, got.Status)
	require.NoError(t, h.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		open, err := tx.FindOpenOrderByItem(ctx, item)
		require.NoError(t, err)
		assert.Nil(t, open)
		return nil
	}))

	failing = false
	po, err := h.svc.CreatePurchaseOrder(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "PO-2026-000001", po.OrderNumber, "the rolled-back number is reused")
}

// conflictingUoW fails the first n transactions with a version conflict.
type conflictingUoW struct {
	inner    repository.UnitOfWork
	n        int
	attempts int
}

func (c *conflictingUoW) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	c.attempts++
	if c.attempts <= c.n {
		return c.inner.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return apperrors.ConcurrentModification("purchase_request", "raced")
		})
	}
	return c.inner.InTx(ctx, fn)
}

func TestRun_RetriesConcurrentModification(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int
		retries   int
		wantErr   bool
		attempts  int
	}{
		{"no conflict", 0, 2, false, 1},
		{"recovers", 2, 2, false, 3},
		{"gives up", 3, 2, true, 3},
		{"retries disabled", 1, 0, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uow := &conflictingUoW{inner: memory.New(), n: tt.conflicts}
			svc := NewOrchestrationService(uow, NewEventBus(testChains(t), nil, false), Options{
				MaxConflictRetries: tt.retries,
				Clock:              func() time.Time { return clock },
			})

			pr, err := svc.CreatePurchaseRequest(context.Background(), CreatePurchaseRequestInput{Details: details(), CreatedBy: "buyer"})
			assert.Equal(t, tt.attempts, uow.attempts)
			if tt.wantErr {
				assert.True(t, apperrors.HasCode(err, apperrors.CodeConcurrentModification))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "PR-2026-000001", pr.RequestNumber, "rolled-back attempts do not consume numbers")
		})
	}
}

func TestOutbox_RelaysCommittedEvents(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var relayed []domain.EventType
	store := memory.New(memory.WithRelay(func(_ context.Context, env domain.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		relayed = append(relayed, env.EventType)
		return nil
	}))
	svc := NewOrchestrationService(store, NewEventBus(testChains(t), nil, true), Options{Clock: func() time.Time { return clock }})

	pr, err := svc.CreatePurchaseRequest(ctx, CreatePurchaseRequestInput{Details: details(), CreatedBy: "buyer"})
	require.NoError(t, err)
	_, err = svc.SendRfq(ctx, pr.ID, []string{"V1"}, "buyer")
	require.NoError(t, err)
	_, err = svc.SendRfq(ctx, pr.ID, nil, "buyer")
	require.Error(t, err)
	_, err = svc.SubmitForApproval(ctx, SubmitForApprovalInput{EntityType: "quotation", EntityID: "Q#9", SubmitterID: "s"})
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{domain.EventRfqSent, domain.EventApprovalSubmitted}, relayed)
}

func TestNewEventBus_Registrations(t *testing.T) {
	chains := testChains(t)
	bus := NewEventBus(chains, notification.NewTriggers(&recordingSender{}, nil, chains), false)

	assert.Equal(t, []string{"purchasing.mark_ordered"}, bus.Handlers(domain.EventPurchaseOrderCreated))
	assert.Equal(t, []string{"purchasing.close"}, bus.Handlers(domain.EventPurchaseOrderReceived))
	assert.Equal(t, []string{"purchasing.revert_vendor_selection"}, bus.Handlers(domain.EventPurchaseOrderCanceled))
	assert.Equal(t, []string{"approval.create_from_submission"}, bus.Handlers(domain.EventApprovalSubmitted))
	assert.Equal(t, []string{"notification.approval_completed"}, bus.Listeners(domain.EventApprovalCompleted))
	assert.Empty(t, bus.Handlers(domain.EventVendorSelected))
}

func TestStagingPublisher_SubmitLeavesCreationToConsumer(t *testing.T) {
	ctx := context.Background()
	var relayed []domain.Envelope
	store := memory.New(memory.WithRelay(func(_ context.Context, env domain.Envelope) error {
		relayed = append(relayed, env)
		return nil
	}))
	svc := NewOrchestrationService(store, eventbus.StagingPublisher[repository.Tx]{}, Options{Clock: func() time.Time { return clock }})

	req, err := svc.SubmitForApproval(ctx, SubmitForApprovalInput{EntityType: "quotation", EntityID: "Q#7", SubmitterID: "submitter"})
	require.NoError(t, err)
	assert.Nil(t, req)

	require.Len(t, relayed, 1)
	ev, err := domain.Decode(relayed[0])
	require.NoError(t, err)
	assert.Equal(t, domain.EventApprovalSubmitted, ev.EventType())
	assert.Equal(t, "Q#7", ev.AggregateID())
}
