package model

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle state of a submitted request. Transitions
// form a DAG: pending → dispatched → acked → completed, with any non-terminal
// state able to move to rejected or timeout. Terminal states are never left.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusDispatched RequestStatus = "dispatched"
	RequestStatusAcked      RequestStatus = "acked"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusRejected   RequestStatus = "rejected"
	RequestStatusTimeout    RequestStatus = "timeout"
)

// Terminal reports whether the status is an end state.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusRejected, RequestStatusTimeout:
		return true
	}
	return false
}

// forward position on the happy path; terminal failure states sit outside it.
var statusRank = map[RequestStatus]int{
	RequestStatusPending:    0,
	RequestStatusDispatched: 1,
	RequestStatusAcked:      2,
	RequestStatusCompleted:  3,
}

// ValidTransition reports whether from → to respects the lifecycle DAG:
// strictly forward along the happy path (skipping acked is allowed, the
// agent may report a result without acknowledging first), or from any
// non-terminal state into rejected/timeout.
func ValidTransition(from, to RequestStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == RequestStatusRejected || to == RequestStatusTimeout {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// StageResult is one entry of a request's pipeline log.
type StageResult struct {
	Stage      string  `json:"stage"`
	Passed     bool    `json:"passed"`
	Reason     string  `json:"reason"`
	DurationMS float64 `json:"duration_ms"`
}

// Request is a persisted unit of work submitted by a sender.
type Request struct {
	ID         uuid.UUID      `json:"id"          db:"id"`
	AgentID    uuid.UUID      `json:"agent_id"    db:"agent_id"`
	SenderID   string         `json:"sender_id"   db:"sender_id"`
	Handle     string         `json:"handle"      db:"handle"`
	ActionType string         `json:"action_type" db:"action_type"`
	Payload    map[string]any `json:"payload"     db:"payload"`
	Status     RequestStatus  `json:"status"      db:"status"`
	Result     map[string]any `json:"result,omitempty" db:"result"`
	PipelineLog []StageResult `json:"pipeline_log" db:"pipeline_log"`
	CreatedAt  time.Time      `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"  db:"updated_at"`
	ExpiresAt  time.Time      `json:"expires_at"  db:"expires_at"`
}

// SubmitRequestBody is the payload for POST /v1/agents/{handle}/requests.
type SubmitRequestBody struct {
	Action string         `json:"action" binding:"required,min=1,max=200"`
	Params map[string]any `json:"params"`
}

// RequestResponse is the sender-facing view of a request. The submit path
// returns only id/status/action_type; the poll path fills the rest.
type RequestResponse struct {
	ID         uuid.UUID      `json:"id"`
	Status     RequestStatus  `json:"status"`
	ActionType string         `json:"action_type,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	CreatedAt  *time.Time     `json:"created_at,omitempty"`
	UpdatedAt  *time.Time     `json:"updated_at,omitempty"`
}
