package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is the platform version reported by /v1/info.
const Version = "0.1.0"

// dbPinger is satisfied by *pgxpool.Pool.
type dbPinger interface {
	Ping(ctx context.Context) error
}

// InfoHandler serves the platform descriptor and health probe.
type InfoHandler struct {
	db dbPinger
}

// NewInfoHandler creates an InfoHandler. db may be nil, in which case
// /healthz reports ok without a store check.
func NewInfoHandler(db dbPinger) *InfoHandler {
	return &InfoHandler{db: db}
}

// Register mounts /info under the versioned group.
func (h *InfoHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/info", h.Info)
}

// Info handles GET /v1/info — a static descriptor of the platform surface.
func (h *InfoHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "clawcierge",
		"version": Version,
		"protocol": gin.H{
			"websocket": "/v1/agents/{agent_id}/ws?token={api_key}",
			"message_types": gin.H{
				"platform_to_agent": []string{"request.received", "request.cancel", "ping"},
				"agent_to_platform": []string{"ack", "action.result", "heartbeat"},
			},
		},
		"endpoints": gin.H{
			"register":  "POST /v1/agents",
			"resolve":   "GET /v1/agents/{id-or-handle}",
			"directory": "GET /v1/directory/{handle}",
			"submit":    "POST /v1/agents/{handle}/requests",
			"poll":      "GET /v1/requests/{id}",
		},
	})
}

// Health handles GET /healthz, pinging the store when configured.
func (h *InfoHandler) Health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
