package handlers

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/event-processing-service/internal/auth"
	"github.com/PratikDhanave/event-processing-service/internal/ingest"
	"github.com/PratikDhanave/event-processing-service/internal/models"
)

// RegisterEventRoutes registers the ingestion-path endpoints.
//
// POST /v1/events                  store one event, dispatch it (202)
// POST /v1/events/batch            store 1..100 events atomically, dispatch as one task (202)
// GET  /v1/events/:id              read an event (owner-scoped)
// POST /v1/events/:id/reprocess    re-dispatch an unprocessed event
//
// Ingestion succeeds once the store write commits; a queue outage only
// changes the reported status from "enqueued" to "stored".
func RegisterEventRoutes(r gin.IRoutes, svc *ingest.Service, logger *slog.Logger) {
	r.POST("/v1/events", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)
		if ownerID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req models.EventIngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload", "details": err.Error()})
			return
		}

		resp, err := svc.Submit(c.Request.Context(), ownerID, req, clientOf(c))
		if err != nil {
			logger.ErrorContext(c.Request.Context(), "store event failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db insert failed"})
			return
		}
		c.JSON(http.StatusAccepted, resp)
	})

	r.POST("/v1/events/batch", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)
		if ownerID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req models.EventBatchIngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch payload", "details": err.Error()})
			return
		}

		resp, err := svc.SubmitBatch(c.Request.Context(), ownerID, req.Events, clientOf(c))
		if err != nil {
			logger.ErrorContext(c.Request.Context(), "store batch failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db insert failed"})
			return
		}
		c.JSON(http.StatusAccepted, resp)
	})

	r.GET("/v1/events/:id", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)
		if ownerID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ev, err := svc.Get(c.Request.Context(), ownerID, c.Param("id"))
		if err != nil {
			writeLookupError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, ev)
	})

	r.POST("/v1/events/:id/reprocess", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)
		if ownerID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		resp, err := svc.Reprocess(c.Request.Context(), ownerID, c.Param("id"))
		if errors.Is(err, ingest.ErrAlreadyProcessed) {
			c.JSON(http.StatusConflict, gin.H{"error": "event already processed"})
			return
		}
		if err != nil {
			writeLookupError(c, logger, err)
			return
		}
		c.JSON(http.StatusAccepted, resp)
	})
}

func writeLookupError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case ingest.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
	case errors.Is(err, ingest.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		logger.ErrorContext(c.Request.Context(), "load event failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
	}
}

// clientOf captures the caller's address (first X-Forwarded-For hop) and
// user agent.
func clientOf(c *gin.Context) ingest.Client {
	ip := ""
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip == "" {
		if host, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
			ip = host
		} else {
			ip = c.Request.RemoteAddr
		}
	}
	return ingest.Client{IP: ip, UserAgent: c.Request.UserAgent()}
}
