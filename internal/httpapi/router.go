package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gps-ingest-gateway/internal/config"
	"gps-ingest-gateway/internal/httpapi/middleware"
)

// NewRouter builds the Gin engine, wiring the same middleware stack the
// teacher's cmd/main.go assembled (request ID, structured logging,
// security headers, size limit, rate limit, CORS) ahead of the
// ingestion routes themselves, plus /healthz outside any group.
func NewRouter(cfg *config.Config, h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.RequestSizeLimitMiddleware(middleware.DefaultMaxRequestSize))
	router.Use(middleware.RateLimitMiddleware(cfg.RateLimit.GeneralRPS, cfg.RateLimit.GeneralBurst))
	router.Use(middleware.CORSMiddleware(&cfg.CORS))

	router.GET("/healthz", func(c *gin.Context) {
		health := h.coord.Health()
		status := http.StatusOK
		if !health.Running {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, health)
	})

	router.GET("/ws/stats", h.StatsWS)

	v1 := router.Group("/api/v1")
	h.RegisterRoutes(v1)

	return router
}
