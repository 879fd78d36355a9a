// Package pipeline implements the sequential enforcement pipeline every
// submitted request passes through before dispatch: the policy engine stage
// followed by the capability sandbox stage, run fail-closed with a per-stage
// timeout.
package pipeline

import (
	"github.com/google/uuid"

	"github.com/clawcierge/clawcierge/internal/registry/model"
)

// Context carries one submission through the pipeline. Stages read it and
// return a StageResult; the executor owns all mutation (log, rejection
// fields).
type Context struct {
	RequestID uuid.UUID
	SenderID  string
	AgentID   uuid.UUID
	Handle    string
	Action    string
	Params    map[string]any

	// Capabilities comes from the agent's active contract, PolicyRules from
	// its active policy. Both may be empty.
	Capabilities []model.Capability
	PolicyRules  []model.PolicyRule

	Log             []model.StageResult
	Rejected        bool
	RejectionStage  string
	RejectionReason string
}
