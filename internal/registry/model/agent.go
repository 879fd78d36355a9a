package model

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// AgentStatus represents the connection lifecycle state of an agent.
// Agents are created inactive, flip to active while their channel session
// is open, and back to inactive when it closes.
type AgentStatus string

const (
	AgentStatusInactive AgentStatus = "inactive"
	AgentStatusActive   AgentStatus = "active"
)

// handleRE constrains handles to 3-64 chars of lowercase alphanumerics and
// dots, starting and ending with an alphanumeric.
var handleRE = regexp.MustCompile(`^[a-z0-9][a-z0-9.]{1,62}[a-z0-9]$`)

// ValidHandle reports whether the handle string is well formed.
func ValidHandle(handle string) bool {
	return handleRE.MatchString(handle)
}

// Agent is the core domain model for a registered agent identity.
type Agent struct {
	ID          uuid.UUID   `json:"id"           db:"id"`
	OwnerID     uuid.UUID   `json:"owner_id"     db:"owner_id"`
	DisplayName string      `json:"display_name" db:"display_name"`
	Status      AgentStatus `json:"status"       db:"status"`
	CreatedAt   time.Time   `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"   db:"updated_at"`

	// Handle is populated on reads that join the handles table.
	// Empty when the agent has no handle bound (not reachable via the
	// registration path, which always reserves one).
	Handle string `json:"handle,omitempty" db:"-"`
}

// Handle binds a globally unique handle string to an agent. The string
// itself is the primary key.
type Handle struct {
	Handle    string    `json:"handle"     db:"handle"`
	AgentID   uuid.UUID `json:"agent_id"   db:"agent_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CreateAgentRequest is the payload for POST /v1/agents.
type CreateAgentRequest struct {
	DisplayName string `json:"display_name" binding:"required,min=1,max=200"`
	Handle      string `json:"handle"       binding:"required,min=3,max=64"`
}

// CreateAgentResponse is returned once at registration; APIKey is the only
// time the plaintext credential is ever visible.
type CreateAgentResponse struct {
	ID          uuid.UUID   `json:"id"`
	Handle      string      `json:"handle"`
	APIKey      string      `json:"api_key"`
	DisplayName string      `json:"display_name"`
	Status      AgentStatus `json:"status"`
}

// AgentResponse is the public detail view of an agent.
type AgentResponse struct {
	ID          uuid.UUID   `json:"id"`
	OwnerID     uuid.UUID   `json:"owner_id"`
	DisplayName string      `json:"display_name"`
	Handle      string      `json:"handle,omitempty"`
	Status      AgentStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ResolveResponse is the directory view of an agent: identity plus the
// capabilities of its active contract.
type ResolveResponse struct {
	AgentID      uuid.UUID    `json:"agent_id"`
	DisplayName  string       `json:"display_name"`
	Handle       string       `json:"handle"`
	Status       AgentStatus  `json:"status"`
	Capabilities []Capability `json:"capabilities"`
}
