// Package connection holds the process-wide registry of live agent channels.
// It is the only mutable shared state in the platform; everything else lives
// in the store. The registry is deliberately not shared across nodes.
package connection

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawcierge/clawcierge/pkg/wire"
)

// Channel is the transport surface the registry drives. The WebSocket
// handler wraps *websocket.Conn with this; tests inject fakes.
type Channel interface {
	WriteJSON(v any) error
	Close(code int, reason string) error
}

// Conn is one live agent channel with its session metadata.
type Conn struct {
	agentID     uuid.UUID
	ch          Channel
	connectedAt time.Time

	writeMu sync.Mutex // single-writer discipline on ch

	hbMu          sync.RWMutex
	lastHeartbeat time.Time
}

// AgentID returns the agent this connection belongs to.
func (c *Conn) AgentID() uuid.UUID { return c.agentID }

// ConnectedAt returns when the session was registered.
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// LastHeartbeat returns the time of the most recent heartbeat frame.
func (c *Conn) LastHeartbeat() time.Time {
	c.hbMu.RLock()
	defer c.hbMu.RUnlock()
	return c.lastHeartbeat
}

func (c *Conn) markHeartbeat(t time.Time) {
	c.hbMu.Lock()
	c.lastHeartbeat = t
	c.hbMu.Unlock()
}

// MarkHeartbeat records a heartbeat on this connection now. The session
// read loop uses this rather than Registry.UpdateHeartbeat so a replaced
// session can never refresh its replacement.
func (c *Conn) MarkHeartbeat() {
	c.markHeartbeat(time.Now().UTC())
}

// WriteJSON sends v on this specific connection, serialised with all other
// writers. The session ping loop uses this; dispatch goes through
// Registry.Send.
func (c *Conn) WriteJSON(v any) error {
	return c.writeJSON(v)
}

// CloseWith sends a close frame on this specific connection.
func (c *Conn) CloseWith(code int, reason string) error {
	return c.close(code, reason)
}

// writeJSON serialises writes on the underlying channel.
func (c *Conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ch.WriteJSON(v)
}

// close sends a close frame under the same write discipline.
func (c *Conn) close(code int, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ch.Close(code, reason)
}

// Registry maps agent ids to their single live channel. Register and the
// removal paths serialise on the map lock; sends to different agents run in
// parallel and sends to the same agent serialise on the connection's write
// mutex.
type Registry struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]*Conn
	logger *zap.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		conns:  make(map[uuid.UUID]*Conn),
		logger: logger,
	}
}

// Register installs ch as the agent's live channel and returns the new
// connection. A prior channel for the same agent is closed with a normal
// close and "Replaced by new connection" before being displaced, so at most
// one entry per agent ever exists and duplicate opens are last-writer-wins.
func (r *Registry) Register(agentID uuid.UUID, ch Channel) *Conn {
	now := time.Now().UTC()
	conn := &Conn{
		agentID:       agentID,
		ch:            ch,
		connectedAt:   now,
		lastHeartbeat: now,
	}

	r.mu.Lock()
	existing := r.conns[agentID]
	r.conns[agentID] = conn
	r.mu.Unlock()

	if existing != nil {
		if err := existing.close(wire.CloseNormal, wire.ReasonReplaced); err != nil {
			r.logger.Debug("close replaced channel", zap.String("agent_id", agentID.String()), zap.Error(err))
		}
	}
	r.logger.Info("agent connected", zap.String("agent_id", agentID.String()))
	return conn
}

// Remove deletes the agent's entry if present. Idempotent.
func (r *Registry) Remove(agentID uuid.UUID) {
	r.mu.Lock()
	_, ok := r.conns[agentID]
	delete(r.conns, agentID)
	r.mu.Unlock()

	if ok {
		r.logger.Info("agent disconnected", zap.String("agent_id", agentID.String()))
	}
}

// Release deletes the entry only when it is still conn. Session teardown and
// send failures use this so a connection that has already been replaced
// cannot unregister its replacement. Reports whether the entry was removed.
func (r *Registry) Release(agentID uuid.UUID, conn *Conn) bool {
	r.mu.Lock()
	current, ok := r.conns[agentID]
	if ok && current == conn {
		delete(r.conns, agentID)
		r.mu.Unlock()
		r.logger.Info("agent disconnected", zap.String("agent_id", agentID.String()))
		return true
	}
	r.mu.Unlock()
	return false
}

// Evict removes the agent's entry and closes its channel with the given
// reason. Used by operator deletion. Reports whether a session was live.
func (r *Registry) Evict(agentID uuid.UUID, reason string) bool {
	r.mu.Lock()
	conn, ok := r.conns[agentID]
	delete(r.conns, agentID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := conn.close(wire.CloseNormal, reason); err != nil {
		r.logger.Debug("close evicted channel", zap.String("agent_id", agentID.String()), zap.Error(err))
	}
	r.logger.Info("agent evicted", zap.String("agent_id", agentID.String()), zap.String("reason", reason))
	return true
}

// IsConnected reports whether the agent has a live channel.
func (r *Registry) IsConnected(agentID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[agentID]
	return ok
}

// Get returns the agent's live connection, or nil.
func (r *Registry) Get(agentID uuid.UUID) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[agentID]
}

// Send serialises v onto the agent's channel. Returns false when no channel
// exists. A transmission failure removes the entry (self-heal) and returns
// false; true means the frame was handed to the transport.
func (r *Registry) Send(agentID uuid.UUID, v any) bool {
	r.mu.RLock()
	conn := r.conns[agentID]
	r.mu.RUnlock()

	if conn == nil {
		return false
	}
	if err := conn.writeJSON(v); err != nil {
		r.logger.Error("send failed", zap.String("agent_id", agentID.String()), zap.Error(err))
		r.Release(agentID, conn)
		return false
	}
	return true
}

// UpdateHeartbeat bumps the agent's last-heartbeat time if it is connected.
func (r *Registry) UpdateHeartbeat(agentID uuid.UUID) {
	r.mu.RLock()
	conn := r.conns[agentID]
	r.mu.RUnlock()

	if conn != nil {
		conn.markHeartbeat(time.Now().UTC())
	}
}

// Count returns the number of live channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the ids of all currently connected agents.
func (r *Registry) Snapshot() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}
