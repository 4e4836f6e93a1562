// Package handlers exposes the orchestration commands over HTTP.
//
// Handlers are thin: they bind the request body, take the actor from the
// authenticated context, call the OrchestrationService and render the
// resulting aggregate. Domain errors are attached with c.Error and rendered
// by middleware.ErrorHandler.
//
// Import Path: procurement.io/orchestrator/internal/api/handlers
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"procurement.io/orchestrator/internal/api/middleware"
	"procurement.io/orchestrator/internal/pkg/worker"
	"procurement.io/orchestrator/internal/usecase"
)

// Pinger reports store health for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolStats reports background worker pool usage.
type PoolStats interface {
	Stats() []worker.Stats
}

// Server implements the API handlers.
type Server struct {
	svc            *usecase.OrchestrationService
	store          Pinger
	pools          PoolStats
	commandTimeout time.Duration
}

// ServerDeps holds all dependencies for creating a Server.
// Manual DI, no container.
type ServerDeps struct {
	Service *usecase.OrchestrationService
	// Store is optional; without it readiness only reports the process.
	Store Pinger
	// Pools is optional; readiness lists their usage when set.
	Pools PoolStats
	// CommandTimeout bounds each command. Zero leaves the request context as is.
	CommandTimeout time.Duration
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		svc:            deps.Service,
		store:          deps.Store,
		pools:          deps.Pools,
		commandTimeout: deps.CommandTimeout,
	}
}

// Register mounts the command routes on an authenticated group.
func (s *Server) Register(g *gin.RouterGroup) {
	pr := g.Group("/purchase-requests")
	pr.POST("", s.CreatePurchaseRequest)
	pr.GET("/:id", s.GetPurchaseRequest)
	pr.PUT("/:id", s.UpdatePurchaseRequest)
	pr.POST("/:id/rfqs", s.SendRfq)
	pr.POST("/:id/cancel", s.CancelPurchaseRequest)
	pr.POST("/:id/items/:itemId/quote", s.RecordQuote)
	pr.POST("/:id/items/:itemId/no-response", s.MarkNoResponse)
	pr.POST("/:id/items/:itemId/select", s.SelectVendor)

	po := g.Group("/purchase-orders")
	po.POST("", s.CreatePurchaseOrder)
	po.GET("/:id", s.GetPurchaseOrder)
	po.PATCH("/:id", s.UpdatePurchaseOrder)
	po.POST("/:id/send", s.SendPurchaseOrder)
	po.POST("/:id/confirm", s.ConfirmPurchaseOrder)
	po.POST("/:id/receive", s.ReceivePurchaseOrder)
	po.POST("/:id/cancel", s.CancelPurchaseOrder)

	ap := g.Group("/approvals")
	ap.POST("", s.SubmitForApproval)
	ap.GET("/:id", s.GetApproval)
	ap.POST("/:id/decisions", s.DecideApproval)
	ap.POST("/:id/recall", s.RecallApproval)
}

// RegisterHealth mounts the unauthenticated probes.
func (s *Server) RegisterHealth(g *gin.RouterGroup) {
	g.GET("/health/live", s.GetLiveness)
	g.GET("/health/ready", s.GetReadiness)
}

// commandCtx derives the context a command runs under.
func (s *Server) commandCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	if s.commandTimeout <= 0 {
		return c.Request.Context(), func() {}
	}
	return context.WithTimeout(c.Request.Context(), s.commandTimeout)
}

// actorFromCtx returns the authenticated actor; empty when none was set, in
// which case the service rejects the command.
func actorFromCtx(c *gin.Context) string {
	return middleware.GetActor(c.Request.Context())
}

// call carries what every command on an existing aggregate needs.
type call struct {
	ctx   context.Context
	id    string
	actor string
}

// runCommand executes fn for the aggregate named by the :id path parameter
// and renders the result with 200.
func runCommand[T, R any](s *Server, c *gin.Context, fn func(call) (T, error), render func(T) R) {
	ctx, cancel := s.commandCtx(c)
	defer cancel()
	out, err := fn(call{ctx: ctx, id: c.Param("id"), actor: actorFromCtx(c)})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, render(out))
}

// bind decodes the JSON body, attaching a field error on failure.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(invalidBody(err))
		return false
	}
	return true
}
