// Package wire defines the JSON frames exchanged between the platform and
// connected agents over the WebSocket channel.
//
// All frames are flat JSON objects with a "type" discriminator. Inbound
// handling decodes the Envelope first, then the typed frame the discriminator
// names. Unknown types are ignored for forward compatibility.
package wire

import "github.com/google/uuid"

// Frame type discriminators.
const (
	// Platform → agent.
	TypeRequestReceived = "request.received"
	TypeRequestCancel   = "request.cancel"
	TypePing            = "ping"

	// Agent → platform.
	TypeAck          = "ack"
	TypeActionResult = "action.result"
	TypeHeartbeat    = "heartbeat"
)

// ActionResult.Status values.
const (
	ResultCompleted = "completed"
	ResultError     = "error"
)

// WebSocket close codes used by the channel.
const (
	CloseNormal     = 1000 // normal teardown, replacement, operator delete
	CloseAuthFailed = 4001 // token missing, invalid, or bound to another agent
)

// Close reasons carried alongside the codes above.
const (
	ReasonReplaced   = "Replaced by new connection"
	ReasonAuthFailed = "Authentication failed"
)

// Envelope carries only the discriminator. Decode this first to pick the
// concrete frame type.
type Envelope struct {
	Type string `json:"type"`
}

// RequestReceived dispatches a pipeline-approved request to the agent.
type RequestReceived struct {
	Type      string         `json:"type"`
	RequestID uuid.UUID      `json:"request_id"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	SenderID  string         `json:"sender_id"`
}

// RequestCancel asks the agent to abandon an in-flight request. The platform
// defines the frame for operator use; agents must tolerate it but need not
// act on it.
type RequestCancel struct {
	Type      string    `json:"type"`
	RequestID uuid.UUID `json:"request_id"`
	Reason    string    `json:"reason"`
}

// Ping is the platform's liveness probe. Agents answer with a Heartbeat.
type Ping struct {
	Type string `json:"type"`
}

// Ack acknowledges receipt of a dispatched request.
type Ack struct {
	Type      string    `json:"type"`
	RequestID uuid.UUID `json:"request_id"`
}

// ActionResult reports the outcome of a dispatched request. Status is
// ResultCompleted or ResultError; Result carries the payload on success and
// Error the failure description otherwise.
type ActionResult struct {
	Type      string         `json:"type"`
	RequestID uuid.UUID      `json:"request_id"`
	Status    string         `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Heartbeat keeps the session alive and refreshes the registry's
// last-heartbeat timestamp for the agent.
type Heartbeat struct {
	Type string `json:"type"`
}

// NewRequestReceived builds a dispatch frame with the discriminator set.
func NewRequestReceived(requestID uuid.UUID, action string, params map[string]any, senderID string) RequestReceived {
	return RequestReceived{
		Type:      TypeRequestReceived,
		RequestID: requestID,
		Action:    action,
		Params:    params,
		SenderID:  senderID,
	}
}

// NewAck builds an acknowledgement frame with the discriminator set.
func NewAck(requestID uuid.UUID) Ack {
	return Ack{Type: TypeAck, RequestID: requestID}
}

// NewHeartbeat builds a heartbeat frame.
func NewHeartbeat() Heartbeat {
	return Heartbeat{Type: TypeHeartbeat}
}

// NewPing builds a ping frame.
func NewPing() Ping {
	return Ping{Type: TypePing}
}
