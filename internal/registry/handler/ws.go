package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/internal/connection"
	"github.com/clawcierge/clawcierge/internal/registry/model"
	"github.com/clawcierge/clawcierge/internal/registry/service"
	"github.com/clawcierge/clawcierge/pkg/wire"
)

// closeWriteWait bounds how long a close frame write may block.
const closeWriteWait = 5 * time.Second

// WSConfig carries the channel timings from configuration.
type WSConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxMessageSize    int64
}

// WSHandler owns the agent channel: authentication, session registration,
// the ping loop, and the inbound frame demux.
type WSHandler struct {
	keys    keyValidator
	agents  *service.AgentService
	tracker *service.Tracker
	reg     *connection.Registry
	cfg     WSConfig
	logger  *zap.Logger

	upgrader websocket.Upgrader
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(keys keyValidator, agents *service.AgentService, tracker *service.Tracker, reg *connection.Registry, cfg WSConfig, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		keys:    keys,
		agents:  agents,
		tracker: tracker,
		reg:     reg,
		cfg:     cfg,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents are headless processes, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the channel route on the provided router group.
// Authentication happens after the upgrade, from the token query parameter.
func (h *WSHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/agents/:agent/ws", h.Serve)
}

// wsChannel adapts *websocket.Conn to connection.Channel.
type wsChannel struct {
	conn *websocket.Conn
}

func (w wsChannel) WriteJSON(v any) error {
	return w.conn.WriteJSON(v)
}

func (w wsChannel) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(closeWriteWait)
	if err := w.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil &&
		err != websocket.ErrCloseSent {
		w.conn.Close()
		return err
	}
	return w.conn.Close()
}

// Serve handles GET /v1/agents/{id}/ws. The socket is upgraded first — a
// close code can only be delivered over an established connection — and the
// token is checked immediately after: it must belong to an agent key owning
// the path id, or the session is closed with 4001.
func (h *WSHandler) Serve(c *gin.Context) {
	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	ch := wsChannel{conn: raw}

	agentID, authErr := h.authenticate(c)
	if authErr != nil {
		ch.Close(wire.CloseAuthFailed, wire.ReasonAuthFailed)
		return
	}

	raw.SetReadLimit(h.cfg.MaxMessageSize)

	conn := h.reg.Register(agentID, ch)
	if err := h.agents.SetStatus(c.Request.Context(), agentID, model.AgentStatusActive); err != nil {
		h.logger.Error("mark agent active", zap.String("agent_id", agentID.String()), zap.Error(err))
	}
	SetConnectedAgents(h.reg.Count())

	done := make(chan struct{})
	go h.pingLoop(conn, done)

	h.readLoop(c, conn, raw)

	close(done)
	// Only the session that still owns the registry slot flips the agent
	// inactive; a replaced session must not clobber its replacement.
	if h.reg.Release(agentID, conn) {
		if err := h.agents.SetStatus(c.Request.Context(), agentID, model.AgentStatusInactive); err != nil {
			h.logger.Error("mark agent inactive", zap.String("agent_id", agentID.String()), zap.Error(err))
		}
	}
	SetConnectedAgents(h.reg.Count())
	raw.Close()
}

// authenticate resolves the token query parameter against the path agent id.
func (h *WSHandler) authenticate(c *gin.Context) (uuid.UUID, error) {
	agentID, err := uuid.Parse(c.Param("agent"))
	if err != nil {
		return uuid.Nil, err
	}
	token := c.Query("token")
	if token == "" {
		return uuid.Nil, errAuthFailed
	}
	auth, err := h.keys.Validate(c.Request.Context(), token)
	if err != nil {
		return uuid.Nil, err
	}
	if auth == nil || auth.OwnerType != model.OwnerTypeAgent || auth.OwnerID != agentID {
		return uuid.Nil, errAuthFailed
	}
	return agentID, nil
}

var errAuthFailed = &authError{}

type authError struct{}

func (*authError) Error() string { return "authentication failed" }

// pingLoop probes the agent on the heartbeat interval and closes the
// session when no heartbeat has arrived within the dead-idle threshold.
func (h *WSHandler) pingLoop(conn *connection.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if time.Since(conn.LastHeartbeat()) > h.cfg.HeartbeatTimeout {
				h.logger.Info("heartbeat timeout",
					zap.String("agent_id", conn.AgentID().String()))
				conn.CloseWith(wire.CloseNormal, "Heartbeat timeout")
				return
			}
			if err := conn.WriteJSON(wire.NewPing()); err != nil {
				return
			}
		}
	}
}

// readLoop consumes inbound frames until the socket errors or closes.
// Malformed frames are logged and dropped; unknown types are ignored.
func (h *WSHandler) readLoop(c *gin.Context, conn *connection.Conn, raw *websocket.Conn) {
	agentID := conn.AgentID()
	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn("malformed frame",
				zap.String("agent_id", agentID.String()), zap.Error(err))
			continue
		}

		switch env.Type {
		case wire.TypeHeartbeat:
			conn.MarkHeartbeat()

		case wire.TypeAck:
			var frame wire.Ack
			if err := json.Unmarshal(data, &frame); err != nil {
				h.logger.Warn("malformed ack frame",
					zap.String("agent_id", agentID.String()), zap.Error(err))
				continue
			}
			if err := h.tracker.Transition(c.Request.Context(), frame.RequestID, model.RequestStatusAcked, nil); err != nil {
				h.logger.Error("apply ack",
					zap.String("request_id", frame.RequestID.String()), zap.Error(err))
			}

		case wire.TypeActionResult:
			var frame wire.ActionResult
			if err := json.Unmarshal(data, &frame); err != nil {
				h.logger.Warn("malformed action.result frame",
					zap.String("agent_id", agentID.String()), zap.Error(err))
				continue
			}
			status := model.RequestStatusCompleted
			result := frame.Result
			if frame.Status != wire.ResultCompleted {
				status = model.RequestStatusRejected
				result = map[string]any{"error": frame.Error}
			}
			if err := h.tracker.Transition(c.Request.Context(), frame.RequestID, status, result); err != nil {
				h.logger.Error("apply action result",
					zap.String("request_id", frame.RequestID.String()), zap.Error(err))
			}

		default:
			// Unknown frame types are forward-compatible no-ops.
		}
	}
}
