package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/PratikDhanave/event-processing-service/internal/auth"
	"github.com/PratikDhanave/event-processing-service/internal/handlers"
	"github.com/PratikDhanave/event-processing-service/internal/ingest"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// Deps carries what the router needs to serve the public and tenant APIs.
type Deps struct {
	APIKeys map[string]string
	Service *ingest.Service
	// Checks run on /ready, keyed by dependency name.
	Checks map[string]Check
	Logger *slog.Logger
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready
// Authenticated: /v1/events..., /v1/status/unprocessed
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	// Payload numbers are bound as json.Number so large integers are stored exactly.
	binding.EnableDecoderUseNumber = true

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(logger))

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: every dependency must answer within a second.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		names := make([]string, 0, len(deps.Checks))
		for name := range deps.Checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if err := deps.Checks[name](ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "dependency": name, "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Auth group resolves the owner via X-API-Key.
	authGroup := r.Group("/")
	authGroup.Use(auth.APIKeyMiddleware(deps.APIKeys))

	handlers.RegisterEventRoutes(authGroup, deps.Service, logger)
	handlers.RegisterStatusRoutes(authGroup, deps.Service, logger)

	return r
}
