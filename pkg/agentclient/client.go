// Package agentclient is the Go SDK for agents connecting to a Clawcierge
// platform. It maintains the WebSocket channel (heartbeats, reconnection
// with capped exponential backoff) and dispatches incoming requests to
// registered per-action handlers.
package agentclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/pkg/wire"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// ActionFunc handles one dispatched request. The returned map becomes the
// action.result payload; a non-nil error reports an error result instead.
type ActionFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// CancelFunc is called when the platform cancels an in-flight request.
// Acting on it is optional.
type CancelFunc func(requestID uuid.UUID, reason string)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithAction registers a handler for an action type.
func WithAction(action string, fn ActionFunc) Option {
	return func(c *Client) { c.handlers[action] = fn }
}

// WithCancelHandler registers an optional request.cancel callback.
func WithCancelHandler(fn CancelFunc) Option {
	return func(c *Client) { c.onCancel = fn }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client is one agent's connection to the platform.
type Client struct {
	baseURL  string
	agentID  uuid.UUID
	apiKey   string
	handlers map[string]ActionFunc
	onCancel CancelFunc
	dialer   *websocket.Dialer
	logger   *zap.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Client for the agent identified by agentID, authenticating
// with its API key. baseURL is the platform's HTTP base (http:// or
// https://); the websocket scheme is derived from it.
func New(baseURL string, agentID uuid.UUID, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		agentID:  agentID,
		apiKey:   apiKey,
		handlers: make(map[string]ActionFunc),
		dialer:   websocket.DefaultDialer,
		logger:   zap.NewNop(),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnAction registers a handler after construction.
func (c *Client) OnAction(action string, fn ActionFunc) {
	c.handlers[action] = fn
}

// wsEndpoint derives the channel URL from the HTTP base.
func (c *Client) wsEndpoint() string {
	ws := c.baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return fmt.Sprintf("%s/v1/agents/%s/ws?token=%s", ws, c.agentID, url.QueryEscape(c.apiKey))
}

// Run connects the channel and serves it until ctx is cancelled or Close is
// called. A dropped connection is retried with exponential backoff from 1s
// capped at 30s; a successful session resets the backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectBase
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		default:
		}

		err := c.runSession(ctx)
		if err == nil {
			// Clean shutdown.
			return nil
		}
		c.logger.Warn("channel session ended", zap.Error(err),
			zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// Close shuts the client down. Safe to call from any goroutine.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		if c.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			c.conn.Close()
		}
		c.writeMu.Unlock()
	})
	return nil
}

// runSession dials once and serves frames until the connection drops.
// Returns nil only on deliberate shutdown.
func (c *Client) runSession(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.wsEndpoint(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	defer conn.Close()

	c.logger.Info("channel connected", zap.String("agent_id", c.agentID.String()))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			if websocket.IsCloseError(err, wire.CloseAuthFailed) {
				// Retrying with the same bad credential cannot succeed.
				return fmt.Errorf("authentication rejected: %w", err)
			}
			return fmt.Errorf("read: %w", err)
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed frame from platform", zap.Error(err))
			continue
		}

		switch env.Type {
		case wire.TypePing:
			if err := c.writeJSON(wire.NewHeartbeat()); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}

		case wire.TypeRequestReceived:
			var frame wire.RequestReceived
			if err := json.Unmarshal(data, &frame); err != nil {
				c.logger.Warn("malformed request frame", zap.Error(err))
				continue
			}
			go c.handleRequest(ctx, frame)

		case wire.TypeRequestCancel:
			var frame wire.RequestCancel
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			if c.onCancel != nil {
				c.onCancel(frame.RequestID, frame.Reason)
			}

		default:
			// Unknown frame types are forward-compatible no-ops.
		}
	}
}

// handleRequest acks the request, runs the action handler, and reports the
// result.
func (c *Client) handleRequest(ctx context.Context, frame wire.RequestReceived) {
	if err := c.writeJSON(wire.NewAck(frame.RequestID)); err != nil {
		c.logger.Error("send ack", zap.Error(err))
		return
	}

	result := wire.ActionResult{
		Type:      wire.TypeActionResult,
		RequestID: frame.RequestID,
	}
	fn, ok := c.handlers[frame.Action]
	if !ok {
		result.Status = wire.ResultError
		result.Error = fmt.Sprintf("No handler for action '%s'", frame.Action)
	} else if out, err := fn(ctx, frame.Params); err != nil {
		result.Status = wire.ResultError
		result.Error = err.Error()
	} else {
		result.Status = wire.ResultCompleted
		result.Result = out
	}

	if err := c.writeJSON(result); err != nil {
		c.logger.Error("send action result",
			zap.String("request_id", frame.RequestID.String()), zap.Error(err))
	}
}

// writeJSON serialises all channel writes.
func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteJSON(v)
}
