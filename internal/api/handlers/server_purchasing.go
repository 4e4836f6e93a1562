package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"procurement.io/orchestrator/internal/purchasing"
	"procurement.io/orchestrator/internal/usecase"
)

// CreatePurchaseRequest handles POST /purchase-requests.
func (s *Server) CreatePurchaseRequest(c *gin.Context) {
	var body requestDetailsBody
	if !bind(c, &body) {
		return
	}
	details, err := body.toDetails()
	if err != nil {
		_ = c.Error(err)
		return
	}

	ctx, cancel := s.commandCtx(c)
	defer cancel()
	pr, err := s.svc.CreatePurchaseRequest(ctx, usecase.CreatePurchaseRequestInput{
		Details:   details,
		CreatedBy: actorFromCtx(c),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, toPurchaseRequestResponse(pr))
}

// GetPurchaseRequest handles GET /purchase-requests/:id.
func (s *Server) GetPurchaseRequest(c *gin.Context) {
	pr, err := s.svc.GetPurchaseRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toPurchaseRequestResponse(pr))
}

// UpdatePurchaseRequest handles PUT /purchase-requests/:id.
func (s *Server) UpdatePurchaseRequest(c *gin.Context) {
	var body requestDetailsBody
	if !bind(c, &body) {
		return
	}
	details, err := body.toDetails()
	if err != nil {
		_ = c.Error(err)
		return
	}
	s.requestCommand(c, func(r call) (*purchasing.PurchaseRequest, error) {
		return s.svc.UpdatePurchaseRequest(r.ctx, r.id, details, r.actor)
	})
}

// SendRfq handles POST /purchase-requests/:id/rfqs.
func (s *Server) SendRfq(c *gin.Context) {
	var body sendRfqBody
	if !bind(c, &body) {
		return
	}
	s.requestCommand(c, func(r call) (*purchasing.PurchaseRequest, error) {
		return s.svc.SendRfq(r.ctx, r.id, body.VendorIDs, r.actor)
	})
}

// RecordQuote handles POST /purchase-requests/:id/items/:itemId/quote.
func (s *Server) RecordQuote(c *gin.Context) {
	var body quoteBody
	if !bind(c, &body) {
		return
	}
	repliedAt, err := parseOptionalDate("replied_at", body.RepliedAt)
	if err != nil {
		_ = c.Error(err)
		return
	}
	s.requestCommand(c, func(r call) (*purchasing.PurchaseRequest, error) {
		return s.svc.RecordQuote(r.ctx, usecase.RecordQuoteInput{
			PurchaseRequestID: r.id,
			RfqItemID:         c.Param("itemId"),
			Quote: purchasing.Quote{
				Price:        body.Price,
				LeadTimeDays: body.LeadTimeDays,
				Notes:        body.Notes,
			},
			RepliedAt:  repliedAt,
			RecordedBy: r.actor,
		})
	})
}

// MarkNoResponse handles POST /purchase-requests/:id/items/:itemId/no-response.
func (s *Server) MarkNoResponse(c *gin.Context) {
	s.requestCommand(c, func(r call) (*purchasing.PurchaseRequest, error) {
		return s.svc.MarkNoResponse(r.ctx, r.id, c.Param("itemId"), r.actor)
	})
}

// SelectVendor handles POST /purchase-requests/:id/items/:itemId/select.
func (s *Server) SelectVendor(c *gin.Context) {
	s.requestCommand(c, func(r call) (*purchasing.PurchaseRequest, error) {
		return s.svc.SelectVendor(r.ctx, r.id, c.Param("itemId"), r.actor)
	})
}

// CancelPurchaseRequest handles POST /purchase-requests/:id/cancel.
func (s *Server) CancelPurchaseRequest(c *gin.Context) {
	s.requestCommand(c, func(r call) (*purchasing.PurchaseRequest, error) {
		return s.svc.CancelPurchaseRequest(r.ctx, r.id, r.actor)
	})
}

func (s *Server) requestCommand(c *gin.Context, fn func(call) (*purchasing.PurchaseRequest, error)) {
	runCommand(s, c, fn, toPurchaseRequestResponse)
}
