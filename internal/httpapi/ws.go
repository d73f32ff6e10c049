package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gps-ingest-gateway/internal/logger"
)

// wsUpgrader accepts any origin — this gateway has no browser session
// model to protect, and CORS already governs the plain HTTP surface.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsStatsInterval = 5 * time.Second

// StatsWS streams the same Coordinator.Stats snapshot the /stats
// endpoint returns, once every wsStatsInterval, until the client
// disconnects. Supplemental to spec.md (the HTTP adapter's /ws/stats,
// see SPEC_FULL.md §4.8); there is no polling alternative in spec.md.
func (h *Handler) StatsWS(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("stats websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(wsStatsInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := h.coord.Stats(ctx)
			if err != nil {
				_ = conn.WriteJSON(gin.H{"error": err.Error()})
				continue
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		}
	}
}
