package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"procurement.io/orchestrator/internal/approval"
	"procurement.io/orchestrator/internal/domain"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/usecase"
)

// SubmitForApproval handles POST /approvals.
// Resubmitting an entity with a PENDING request returns that request. When
// the request is created off-process the response is 202 Accepted.
func (s *Server) SubmitForApproval(c *gin.Context) {
	var body submitApprovalBody
	if !bind(c, &body) {
		return
	}

	ctx, cancel := s.commandCtx(c)
	defer cancel()
	req, err := s.svc.SubmitForApproval(ctx, usecase.SubmitForApprovalInput{
		EntityType:  body.EntityType,
		EntityID:    body.EntityID,
		Description: body.Description,
		SubmitterID: actorFromCtx(c),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	if req == nil {
		c.JSON(http.StatusAccepted, SubmissionAcceptedResponse{
			EntityType: body.EntityType,
			EntityID:   body.EntityID,
			Status:     "ACCEPTED",
		})
		return
	}
	c.JSON(http.StatusCreated, toApprovalResponse(req))
}

// SubmissionAcceptedResponse is returned when the approval request is created
// asynchronously by a broker consumer.
type SubmissionAcceptedResponse struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Status     string `json:"status"`
}

// GetApproval handles GET /approvals/:id.
func (s *Server) GetApproval(c *gin.Context) {
	req, err := s.svc.GetApproval(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toApprovalResponse(req))
}

// DecideApproval handles POST /approvals/:id/decisions.
func (s *Server) DecideApproval(c *gin.Context) {
	var body decisionBody
	if !bind(c, &body) {
		return
	}
	outcome := domain.ApprovalOutcome(strings.ToUpper(strings.TrimSpace(body.Outcome)))
	if outcome != domain.OutcomeApproved && outcome != domain.OutcomeRejected {
		_ = c.Error(apperrors.InvalidRequestField("outcome", "outcome must be APPROVED or REJECTED"))
		return
	}
	if body.Level <= 0 {
		_ = c.Error(apperrors.InvalidRequestField("level", "level must be a positive level order"))
		return
	}
	runCommand(s, c, func(r call) (*approval.Request, error) {
		return s.svc.DecideApproval(r.ctx, usecase.DecideApprovalInput{
			ApprovalRequestID: r.id,
			LevelOrder:        body.Level,
			ApproverID:        r.actor,
			Outcome:           outcome,
			Comments:          body.Comments,
		})
	}, toApprovalResponse)
}

// RecallApproval handles POST /approvals/:id/recall.
func (s *Server) RecallApproval(c *gin.Context) {
	runCommand(s, c, func(r call) (*approval.Request, error) {
		return s.svc.RecallApproval(r.ctx, r.id, r.actor)
	}, toApprovalResponse)
}
