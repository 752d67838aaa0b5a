package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DistilledAI/conductor/pkg/database"
	"github.com/DistilledAI/conductor/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /api/v1/health. Only conductor's own components
// are checked; the LLM endpoint and Function Hub are external services whose
// outages must not make an orchestrator restart this process.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.pool != nil {
		if _, err := database.Health(reqCtx, s.pool); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	wsConns := 0
	if s.connManager != nil {
		wsConns = s.connManager.ActiveConnections()
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, &HealthResponse{
		Status:              status,
		Version:             version.GitCommit,
		Checks:              checks,
		ActiveConversations: s.manager.ActiveCount(),
		WSConnections:       wsConns,
	})
}
