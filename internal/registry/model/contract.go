package model

import (
	"time"

	"github.com/google/uuid"
)

// Capability is one descriptor in a contract: an action the agent accepts,
// an optional JSON Schema (draft-07) for its params, and numeric bounds
// keyed max_<param> / min_<param>.
type Capability struct {
	Action       string         `json:"action"`
	ParamsSchema map[string]any `json:"params_schema"`
	Constraints  map[string]any `json:"constraints"`
}

// CapabilityContract is a versioned, ordered list of capability descriptors
// owned by one agent. At most one contract per agent is active; uploading a
// new one deactivates the old and bumps the version.
type CapabilityContract struct {
	ID           uuid.UUID      `json:"id"           db:"id"`
	AgentID      uuid.UUID      `json:"agent_id"     db:"agent_id"`
	Version      int            `json:"version"      db:"version"`
	Capabilities []Capability   `json:"capabilities" db:"capabilities"`
	Constraints  map[string]any `json:"constraints"  db:"constraints"`
	IsActive     bool           `json:"is_active"    db:"is_active"`
	CreatedAt    time.Time      `json:"created_at"   db:"created_at"`
}

// PolicyRule gates invocation: when the condition evaluates truthy and
// Action is "reject", the request is refused with Reason.
type PolicyRule struct {
	Condition string `json:"condition" binding:"required,min=1,max=500"`
	Action    string `json:"action"    binding:"required,oneof=reject allow"`
	Reason    string `json:"reason"    binding:"max=500"`
}

// Policy is a versioned, ordered rule list owned by one agent, with the
// same activation invariants as CapabilityContract.
type Policy struct {
	ID        uuid.UUID    `json:"id"         db:"id"`
	AgentID   uuid.UUID    `json:"agent_id"   db:"agent_id"`
	Version   int          `json:"version"    db:"version"`
	Rules     []PolicyRule `json:"rules"      db:"rules"`
	IsActive  bool         `json:"is_active"  db:"is_active"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// UploadCapabilitiesRequest is the payload for PUT /v1/agents/{id}/capabilities.
type UploadCapabilitiesRequest struct {
	Capabilities []Capability `json:"capabilities" binding:"required,min=1"`
}

// UploadPoliciesRequest is the payload for PUT /v1/agents/{id}/policies.
type UploadPoliciesRequest struct {
	Rules []PolicyRule `json:"rules" binding:"required,min=1,dive"`
}

// ContractResponse is the public view of an uploaded capability contract.
type ContractResponse struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	Version      int            `json:"version"`
	Capabilities []Capability   `json:"capabilities"`
	Constraints  map[string]any `json:"constraints"`
	IsActive     bool           `json:"is_active"`
}

// PolicyResponse is the public view of an uploaded policy.
type PolicyResponse struct {
	ID       string       `json:"id"`
	AgentID  string       `json:"agent_id"`
	Version  int          `json:"version"`
	Rules    []PolicyRule `json:"rules"`
	IsActive bool         `json:"is_active"`
}
