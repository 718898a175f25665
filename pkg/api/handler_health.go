package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/unifyinbox/unifyinbox/pkg/database"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one dependency's status.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}

// rootHandler serves service metadata for probes and humans.
func (s *Server) rootHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service": "unifyinbox",
		"status":  "running",
	})
}

// healthHandler handles GET /health. The database is load-bearing, Redis
// only degrades caching and rate limits, so a dead cache reports degraded
// while a dead database reports unhealthy.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if _, err := database.Health(reqCtx, s.db); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	if err := s.cache.Ping(reqCtx); err != nil {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["cache"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
	} else {
		checks["cache"] = HealthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{Status: status, Checks: checks})
}
