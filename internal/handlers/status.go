package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/event-processing-service/internal/auth"
	"github.com/PratikDhanave/event-processing-service/internal/ingest"
)

// RegisterStatusRoutes registers the polling endpoint.
//
// GET /v1/status/unprocessed
// - unprocessed_count is global, total_count is the caller's own events
// - read straight from the store on every request
func RegisterStatusRoutes(r gin.IRoutes, svc *ingest.Service, logger *slog.Logger) {
	r.GET("/v1/status/unprocessed", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)
		if ownerID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		status, err := svc.Status(c.Request.Context(), ownerID)
		if err != nil {
			logger.ErrorContext(c.Request.Context(), "status query failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		c.JSON(http.StatusOK, status)
	})
}
