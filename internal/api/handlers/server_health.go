package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"procurement.io/orchestrator/internal/pkg/worker"
)

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
)

// HealthResponse is returned by the probes.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Pools  []worker.Stats    `json:"pools,omitempty"`
}

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: healthOK})
}

// GetReadiness handles GET /health/ready.
func (s *Server) GetReadiness(c *gin.Context) {
	checks := make(map[string]string)
	allHealthy := true

	if s.store != nil {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			checks["store"] = "error"
			allHealthy = false
		} else {
			checks["store"] = healthOK
		}
	}

	status := healthOK
	httpStatus := http.StatusOK
	if !allHealthy {
		status = healthDegraded
		httpStatus = http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status: status,
		Checks: checks,
	}
	if s.pools != nil {
		resp.Pools = s.pools.Stats()
	}
	c.JSON(httpStatus, resp)
}
