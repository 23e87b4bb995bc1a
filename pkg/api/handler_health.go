package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/devtrack/eventpipeline/pkg/database"
	"github.com/devtrack/eventpipeline/pkg/metrics"
)

// healthHandler reports database reachability, pipeline queue depth, and
// active WebSocket connections, returning 503 whenever the database is
// unreachable since every other dependency is downstream of it.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := shortCtx(c.Request().Context())
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	if err != nil || dbHealth.Status != "healthy" {
		if dbHealth == nil {
			dbHealth = &database.HealthStatus{Status: "unhealthy"}
		}
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:   "unhealthy",
			Database: dbHealth,
			Pipeline: s.pool.Health(),
			Metrics:  metrics.Gather(),
		})
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:            "healthy",
		Database:          dbHealth,
		Pipeline:          s.pool.Health(),
		ActiveConnections: s.wsManager.ActiveConnections(),
		Metrics:           metrics.Gather(),
	})
}
