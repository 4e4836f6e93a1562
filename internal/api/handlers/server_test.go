package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procurement.io/orchestrator/internal/api/middleware"
	"procurement.io/orchestrator/internal/approval"
	"procurement.io/orchestrator/internal/eventbus"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/pkg/logger"
	"procurement.io/orchestrator/internal/repository"
	"procurement.io/orchestrator/internal/repository/memory"
	"procurement.io/orchestrator/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newRouter(t *testing.T, store Pinger) *gin.Engine {
	t.Helper()
	chains, err := approval.NewChains(approval.ChainTemplate{
		EntityType: "quotation",
		Levels: []approval.LevelTemplate{
			{Name: "Level1", ApproverID: "userA"},
			{Name: "Level2", ApproverID: "userB"},
		},
	})
	require.NoError(t, err)

	mem := memory.New()
	if store == nil {
		store = mem
	}
	svc := usecase.NewOrchestrationService(mem, usecase.NewEventBus(chains, nil, false), usecase.DefaultOptions())
	srv := NewServer(ServerDeps{Service: svc, Store: store, CommandTimeout: 5 * time.Second})

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.ErrorHandler())
	srv.RegisterHealth(r.Group(""))
	api := r.Group("/api/v1")
	api.Use(middleware.ActorAuth(middleware.JWTConfig{AllowHeaderActor: true}))
	srv.Register(api)
	return r
}

func do(r *gin.Engine, method, path, actor string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(middleware.ActorHeader, actor)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type errorBody struct {
	Code   string         `json:"code"`
	Params map[string]any `json:"params"`
}

func newRequestBody() gin.H {
	return gin.H{
		"category_id":   "steel",
		"description":   "rebar",
		"quantity":      "10",
		"unit":          "t",
		"required_date": "2030-02-28",
	}
}

func itemID(t *testing.T, pr PurchaseRequestResponse, vendorID string) string {
	t.Helper()
	for _, it := range pr.Items {
		if it.VendorID == vendorID {
			return it.ID
		}
	}
	t.Fatalf("no item for vendor %s", vendorID)
	return ""
}

func TestPurchasingFlow(t *testing.T) {
	r := newRouter(t, nil)

	w := do(r, http.MethodPost, "/api/v1/purchase-requests", "buyer", newRequestBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	pr := decode[PurchaseRequestResponse](t, w)
	assert.Equal(t, "DRAFT", pr.Status)
	assert.Equal(t, "buyer", pr.CreatedBy)
	assert.Regexp(t, `^PR-\d{4}-\d{6}$`, pr.RequestNumber)
	assert.Equal(t, "2030-02-28", pr.RequiredDate)
	assert.Equal(t, []string{"cancel", "sendRfq", "update"}, pr.AllowedActions)

	w = do(r, http.MethodPost, "/api/v1/purchase-requests/"+pr.ID+"/rfqs", "buyer", gin.H{"vendor_ids": []string{"V1", "V2"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pr = decode[PurchaseRequestResponse](t, w)
	assert.Equal(t, "RFQ_SENT", pr.Status)
	require.Len(t, pr.Items, 2)

	v2 := itemID(t, pr, "V2")
	w = do(r, http.MethodPost, "/api/v1/purchase-requests/"+pr.ID+"/items/"+v2+"/quote", "buyer",
		gin.H{"price": "90000", "lead_time_days": 7})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/v1/purchase-requests/"+pr.ID+"/items/"+itemID(t, pr, "V1")+"/no-response", "buyer", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/v1/purchase-requests/"+pr.ID+"/items/"+v2+"/select", "buyer", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pr = decode[PurchaseRequestResponse](t, w)
	assert.Equal(t, "VENDOR_SELECTED", pr.Status)
	assert.Equal(t, []string{"cancel"}, pr.AllowedActions)

	w = do(r, http.MethodPost, "/api/v1/purchase-orders", "buyer", gin.H{
		"rfq_item_id":            v2,
		"order_date":             "2030-01-20",
		"expected_delivery_date": "2030-01-27",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	po := decode[PurchaseOrderResponse](t, w)
	assert.Equal(t, "DRAFT", po.Status)
	assert.Equal(t, "V2", po.VendorID)
	assert.Equal(t, "KRW", po.Currency)
	assert.True(t, po.TotalAmount.Equal(decimal.RequireFromString("90000")))

	w = do(r, http.MethodGet, "/api/v1/purchase-requests/"+pr.ID, "buyer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ORDERED", decode[PurchaseRequestResponse](t, w).Status)

	w = do(r, http.MethodPatch, "/api/v1/purchase-orders/"+po.ID, "buyer", gin.H{"notes": "gate 3"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "gate 3", decode[PurchaseOrderResponse](t, w).Notes)

	w = do(r, http.MethodPost, "/api/v1/purchase-orders/"+po.ID+"/receive", "buyer", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.CodeInvalidTransition, decode[errorBody](t, w).Code)

	for _, step := range []string{"send", "confirm", "receive"} {
		w = do(r, http.MethodPost, "/api/v1/purchase-orders/"+po.ID+"/"+step, "buyer", nil)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", step, w.Body.String())
	}
	assert.Equal(t, "RECEIVED", decode[PurchaseOrderResponse](t, w).Status)
}

func TestApprovalFlow(t *testing.T) {
	r := newRouter(t, nil)

	w := do(r, http.MethodPost, "/api/v1/approvals", "submitter", gin.H{"entity_type": "quotation", "entity_id": "Q-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	req := decode[ApprovalResponse](t, w)
	assert.Equal(t, "PENDING", req.Status)
	assert.Equal(t, 1, req.CurrentLevel)
	require.Len(t, req.Levels, 2)

	w = do(r, http.MethodPost, "/api/v1/approvals/"+req.ID+"/decisions", "userA", gin.H{"level": 1, "outcome": "approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[ApprovalResponse](t, w).CurrentLevel)

	w = do(r, http.MethodPost, "/api/v1/approvals/"+req.ID+"/decisions", "userC", gin.H{"level": 2, "outcome": "APPROVED"})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Equal(t, apperrors.CodeForbidden, decode[errorBody](t, w).Code)

	w = do(r, http.MethodPost, "/api/v1/approvals/"+req.ID+"/decisions", "userB", gin.H{"level": 2, "outcome": "REJECTED", "comments": "price too high"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decode[ApprovalResponse](t, w)
	assert.Equal(t, "REJECTED", done.Status)
	require.NotNil(t, done.CompletedAt)

	w = do(r, http.MethodGet, "/api/v1/approvals/"+req.ID, "anyone", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "price too high", decode[ApprovalResponse](t, w).Levels[1].Comments)
}

func TestRequestErrors(t *testing.T) {
	r := newRouter(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		actor      string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"missing actor", http.MethodPost, "/api/v1/purchase-requests", "", newRequestBody(), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown request", http.MethodGet, "/api/v1/purchase-requests/nope", "buyer", nil, http.StatusNotFound, apperrors.CodeNotFound},
		{"unknown order", http.MethodPost, "/api/v1/purchase-orders/nope/send", "buyer", nil, http.StatusNotFound, apperrors.CodeNotFound},
		{"bad date", http.MethodPost, "/api/v1/purchase-requests", "buyer", gin.H{"category_id": "steel", "required_date": "28/02/2030"}, http.StatusBadRequest, apperrors.CodeInvalidRequestField},
		{"malformed body", http.MethodPost, "/api/v1/purchase-requests/x/rfqs", "buyer", "not an object", http.StatusBadRequest, apperrors.CodeInvalidRequestField},
		{"bad outcome", http.MethodPost, "/api/v1/approvals/x/decisions", "userA", gin.H{"level": 1, "outcome": "MAYBE"}, http.StatusBadRequest, apperrors.CodeInvalidRequestField},
		{"zero level", http.MethodPost, "/api/v1/approvals/x/decisions", "userA", gin.H{"level": 0, "outcome": "APPROVED"}, http.StatusBadRequest, apperrors.CodeInvalidRequestField},
		{"unknown entity type", http.MethodPost, "/api/v1/approvals", "submitter", gin.H{"entity_type": "invoice", "entity_id": "I-1"}, http.StatusNotFound, apperrors.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.method, tt.path, tt.actor, tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode[errorBody](t, w).Code)
		})
	}
}

func TestSendRfqWithoutVendorsIsRejected(t *testing.T) {
	r := newRouter(t, nil)
	w := do(r, http.MethodPost, "/api/v1/purchase-requests", "buyer", newRequestBody())
	require.Equal(t, http.StatusCreated, w.Code)
	pr := decode[PurchaseRequestResponse](t, w)

	w = do(r, http.MethodPost, "/api/v1/purchase-requests/"+pr.ID+"/rfqs", "buyer", gin.H{"vendor_ids": []string{}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apperrors.CodeGuardRejected, decode[errorBody](t, w).Code)
}

func TestSubmitForApproval_AcceptedWhenCreatedOffProcess(t *testing.T) {
	svc := usecase.NewOrchestrationService(memory.New(), eventbus.StagingPublisher[repository.Tx]{}, usecase.DefaultOptions())
	srv := NewServer(ServerDeps{Service: svc})
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	api := r.Group("/api/v1")
	api.Use(middleware.ActorAuth(middleware.JWTConfig{AllowHeaderActor: true}))
	srv.Register(api)

	w := do(r, http.MethodPost, "/api/v1/approvals", "submitter", gin.H{"entity_type": "quotation", "entity_id": "Q-1"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	got := decode[SubmissionAcceptedResponse](t, w)
	assert.Equal(t, "ACCEPTED", got.Status)
	assert.Equal(t, "Q-1", got.EntityID)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		store      Pinger
		path       string
		wantStatus int
		wantState  string
	}{
		{"liveness", nil, "/health/live", http.StatusOK, healthOK},
		{"ready", nil, "/health/ready", http.StatusOK, healthOK},
		{"store down", failingPinger{}, "/health/ready", http.StatusServiceUnavailable, healthDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(t, tt.store)
			w := do(r, http.MethodGet, tt.path, "", nil)
			require.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantState, decode[HealthResponse](t, w).Status)
		})
	}
}
