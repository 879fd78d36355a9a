package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidHandle is returned when a handle fails format validation.
var ErrInvalidHandle = errors.New("handle must be 3-64 lowercase alphanumerics and dots, starting and ending alphanumeric")

// ErrNotAuthorized is returned when a caller's credential does not grant the
// attempted operation.
var ErrNotAuthorized = errors.New("not authorized")

// BadInputError wraps a validation failure of a request payload.
type BadInputError struct {
	Msg string
}

func (e *BadInputError) Error() string { return e.Msg }

// PipelineRejectionError reports that the enforcement pipeline refused the
// submission, naming the stage that failed.
type PipelineRejectionError struct {
	Stage  string
	Reason string
}

func (e *PipelineRejectionError) Error() string {
	return fmt.Sprintf("pipeline rejected at %s: %s", e.Stage, e.Reason)
}

// AgentNotConnectedError reports that dispatch was attempted while the target
// agent has no live channel.
type AgentNotConnectedError struct {
	AgentID uuid.UUID
}

func (e *AgentNotConnectedError) Error() string {
	return fmt.Sprintf("agent %s is not connected", e.AgentID)
}
