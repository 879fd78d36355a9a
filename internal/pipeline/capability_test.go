package pipeline

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/clawcierge/clawcierge/internal/registry/model"
)

func sandboxCtx(action string, params map[string]any, caps []model.Capability) *Context {
	return &Context{
		RequestID:    uuid.New(),
		SenderID:     "sender",
		AgentID:      uuid.New(),
		Handle:       "pink",
		Action:       action,
		Params:       params,
		Capabilities: caps,
	}
}

var echoCap = model.Capability{
	Action: "echo",
	ParamsSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
		"required": []any{"message"},
	},
}

func TestEvalCapability_NoCapabilities(t *testing.T) {
	res := EvalCapability(sandboxCtx("echo", nil, nil))
	if res.Passed {
		t.Fatal("empty contract passed")
	}
	if res.Reason != "No capabilities defined for this agent" {
		t.Errorf("reason: got %q", res.Reason)
	}
}

func TestEvalCapability_UnknownAction(t *testing.T) {
	res := EvalCapability(sandboxCtx("bogus", nil, []model.Capability{echoCap}))
	if res.Passed {
		t.Fatal("unknown action passed")
	}
	want := "Action 'bogus' is not in the agent's capability contract"
	if res.Reason != want {
		t.Errorf("reason: got %q, want %q", res.Reason, want)
	}
}

func TestEvalCapability_SchemaPassAndFail(t *testing.T) {
	caps := []model.Capability{echoCap}

	res := EvalCapability(sandboxCtx("echo", map[string]any{"message": "hi"}, caps))
	if !res.Passed {
		t.Fatalf("valid params rejected: %s", res.Reason)
	}

	res = EvalCapability(sandboxCtx("echo", map[string]any{}, caps))
	if res.Passed {
		t.Fatal("params missing a required property passed")
	}
	if !strings.HasPrefix(res.Reason, "Parameter validation failed: ") {
		t.Errorf("reason: got %q", res.Reason)
	}

	res = EvalCapability(sandboxCtx("echo", map[string]any{"message": 42}, caps))
	if res.Passed {
		t.Fatal("wrongly typed param passed")
	}
}

func TestEvalCapability_EmptySchemaSkipsValidation(t *testing.T) {
	caps := []model.Capability{{Action: "fire"}}
	res := EvalCapability(sandboxCtx("fire", map[string]any{"anything": true}, caps))
	if !res.Passed {
		t.Fatalf("schemaless capability rejected: %s", res.Reason)
	}
}

func TestEvalCapability_MaxConstraint(t *testing.T) {
	caps := []model.Capability{{
		Action:      "calendar.schedule",
		Constraints: map[string]any{"max_duration_minutes": 120.0},
	}}

	res := EvalCapability(sandboxCtx("calendar.schedule",
		map[string]any{"title": "T", "duration_minutes": 200.0}, caps))
	if res.Passed {
		t.Fatal("over-max param passed")
	}
	want := "Constraint violation: duration_minutes=200 exceeds max of 120"
	if res.Reason != want {
		t.Errorf("reason: got %q, want %q", res.Reason, want)
	}

	res = EvalCapability(sandboxCtx("calendar.schedule",
		map[string]any{"duration_minutes": 90.0}, caps))
	if !res.Passed {
		t.Errorf("in-bounds param rejected: %s", res.Reason)
	}
}

func TestEvalCapability_MinConstraint(t *testing.T) {
	caps := []model.Capability{{
		Action:      "transfer",
		Constraints: map[string]any{"min_amount": 10.0},
	}}

	res := EvalCapability(sandboxCtx("transfer", map[string]any{"amount": 5.0}, caps))
	if res.Passed {
		t.Fatal("under-min param passed")
	}
	want := "Constraint violation: amount=5 below min of 10"
	if res.Reason != want {
		t.Errorf("reason: got %q, want %q", res.Reason, want)
	}
}

func TestEvalCapability_MissingParamIsNotAViolation(t *testing.T) {
	caps := []model.Capability{{
		Action:      "calendar.schedule",
		Constraints: map[string]any{"max_duration_minutes": 120.0},
	}}
	res := EvalCapability(sandboxCtx("calendar.schedule", map[string]any{"title": "T"}, caps))
	if !res.Passed {
		t.Errorf("missing constrained param rejected: %s", res.Reason)
	}
}

func TestEvalCapability_NonNumericParamIgnoredByConstraints(t *testing.T) {
	caps := []model.Capability{{
		Action:      "calendar.schedule",
		Constraints: map[string]any{"max_duration_minutes": 120.0},
	}}
	res := EvalCapability(sandboxCtx("calendar.schedule",
		map[string]any{"duration_minutes": "lots"}, caps))
	if !res.Passed {
		t.Errorf("non-numeric param tripped a numeric bound: %s", res.Reason)
	}
}

func TestEvalCapability_FirstMatchingDescriptorWins(t *testing.T) {
	caps := []model.Capability{
		{Action: "echo", Constraints: map[string]any{"max_n": 1.0}},
		{Action: "echo", Constraints: map[string]any{"max_n": 100.0}},
	}
	res := EvalCapability(sandboxCtx("echo", map[string]any{"n": 50.0}, caps))
	if res.Passed {
		t.Fatal("second descriptor shadowed the first")
	}
}

func TestCompileParamsSchema(t *testing.T) {
	if _, err := CompileParamsSchema(echoCap.ParamsSchema); err != nil {
		t.Errorf("valid schema rejected: %v", err)
	}
	bad := map[string]any{"type": 12345}
	if _, err := CompileParamsSchema(bad); err == nil {
		t.Error("invalid schema compiled")
	}
}
