package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"procurement.io/orchestrator/internal/purchasing"
	"procurement.io/orchestrator/internal/usecase"
)

// CreatePurchaseOrder handles POST /purchase-orders.
func (s *Server) CreatePurchaseOrder(c *gin.Context) {
	var body createOrderBody
	if !bind(c, &body) {
		return
	}
	orderDate, err := parseDate("order_date", body.OrderDate)
	if err != nil {
		_ = c.Error(err)
		return
	}
	expected, err := parseDate("expected_delivery_date", body.ExpectedDeliveryDate)
	if err != nil {
		_ = c.Error(err)
		return
	}

	ctx, cancel := s.commandCtx(c)
	defer cancel()
	po, err := s.svc.CreatePurchaseOrder(ctx, usecase.CreatePurchaseOrderInput{
		RfqItemID:            body.RfqItemID,
		OrderDate:            orderDate,
		ExpectedDeliveryDate: expected,
		Currency:             body.Currency,
		Notes:                body.Notes,
		CreatedBy:            actorFromCtx(c),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, toPurchaseOrderResponse(po))
}

// GetPurchaseOrder handles GET /purchase-orders/:id.
func (s *Server) GetPurchaseOrder(c *gin.Context) {
	po, err := s.svc.GetPurchaseOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toPurchaseOrderResponse(po))
}

// UpdatePurchaseOrder handles PATCH /purchase-orders/:id.
// Absent fields are left unchanged.
func (s *Server) UpdatePurchaseOrder(c *gin.Context) {
	var body updateOrderBody
	if !bind(c, &body) {
		return
	}
	orderDate, err := parseOptionalDate("order_date", body.OrderDate)
	if err != nil {
		_ = c.Error(err)
		return
	}
	expected, err := parseOptionalDate("expected_delivery_date", body.ExpectedDeliveryDate)
	if err != nil {
		_ = c.Error(err)
		return
	}
	changes := purchasing.OrderChanges{
		OrderDate:            orderDate,
		ExpectedDeliveryDate: expected,
		Notes:                body.Notes,
	}
	s.orderCommand(c, func(r call) (*purchasing.PurchaseOrder, error) {
		return s.svc.UpdatePurchaseOrder(r.ctx, r.id, changes, r.actor)
	})
}

// SendPurchaseOrder handles POST /purchase-orders/:id/send.
func (s *Server) SendPurchaseOrder(c *gin.Context) {
	s.orderCommand(c, func(r call) (*purchasing.PurchaseOrder, error) {
		return s.svc.SendPurchaseOrder(r.ctx, r.id, r.actor)
	})
}

// ConfirmPurchaseOrder handles POST /purchase-orders/:id/confirm.
func (s *Server) ConfirmPurchaseOrder(c *gin.Context) {
	s.orderCommand(c, func(r call) (*purchasing.PurchaseOrder, error) {
		return s.svc.ConfirmPurchaseOrder(r.ctx, r.id, r.actor)
	})
}

// ReceivePurchaseOrder handles POST /purchase-orders/:id/receive.
func (s *Server) ReceivePurchaseOrder(c *gin.Context) {
	s.orderCommand(c, func(r call) (*purchasing.PurchaseOrder, error) {
		return s.svc.ReceivePurchaseOrder(r.ctx, r.id, r.actor)
	})
}

// CancelPurchaseOrder handles POST /purchase-orders/:id/cancel.
func (s *Server) CancelPurchaseOrder(c *gin.Context) {
	s.orderCommand(c, func(r call) (*purchasing.PurchaseOrder, error) {
		return s.svc.CancelPurchaseOrder(r.ctx, r.id, r.actor)
	})
}

func (s *Server) orderCommand(c *gin.Context, fn func(call) (*purchasing.PurchaseOrder, error)) {
	runCommand(s, c, fn, toPurchaseOrderResponse)
}
