package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/clawcierge/clawcierge/internal/registry/model"
)

// StageCapabilitySandbox names the capability validation stage.
const StageCapabilitySandbox = "capability_sandbox"

// EvalCapability checks the request against the agent's active contract: the
// action must appear in the contract, params must satisfy the capability's
// JSON Schema, and numeric max_/min_ constraints must hold. Missing params
// never violate a constraint; schema `required` is the only required-enforcer.
func EvalCapability(ctx *Context) model.StageResult {
	if len(ctx.Capabilities) == 0 {
		return sandboxFail("No capabilities defined for this agent")
	}

	var match *model.Capability
	for i := range ctx.Capabilities {
		if ctx.Capabilities[i].Action == ctx.Action {
			match = &ctx.Capabilities[i]
			break
		}
	}
	if match == nil {
		return sandboxFail(fmt.Sprintf("Action '%s' is not in the agent's capability contract", ctx.Action))
	}

	if len(match.ParamsSchema) > 0 {
		schema, err := CompileParamsSchema(match.ParamsSchema)
		if err != nil {
			// Upload validation should have caught this; fail closed anyway.
			return sandboxFail(fmt.Sprintf("Parameter validation failed: %v", err))
		}
		if err := schema.Validate(jsonValue(ctx.Params)); err != nil {
			return sandboxFail("Parameter validation failed: " + validationMessage(err))
		}
	}

	// Sorted so multi-constraint rejections are deterministic.
	keys := make([]string, 0, len(match.Constraints))
	for k := range match.Constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		bound, ok := asFloat(match.Constraints[key])
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(key, "max_"):
			name := strings.TrimPrefix(key, "max_")
			if v, ok := asFloat(ctx.Params[name]); ok && v > bound {
				return sandboxFail(fmt.Sprintf("Constraint violation: %s=%v exceeds max of %v",
					name, ctx.Params[name], match.Constraints[key]))
			}
		case strings.HasPrefix(key, "min_"):
			name := strings.TrimPrefix(key, "min_")
			if v, ok := asFloat(ctx.Params[name]); ok && v < bound {
				return sandboxFail(fmt.Sprintf("Constraint violation: %s=%v below min of %v",
					name, ctx.Params[name], match.Constraints[key]))
			}
		}
	}

	return model.StageResult{Stage: StageCapabilitySandbox, Passed: true}
}

// CompileParamsSchema compiles a params_schema document under draft-07.
// Used both at dispatch time and to reject bad schemas at contract upload.
func CompileParamsSchema(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	const url = "https://clawcierge.local/params.schema.json"
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func sandboxFail(reason string) model.StageResult {
	return model.StageResult{Stage: StageCapabilitySandbox, Passed: false, Reason: reason}
}

// jsonValue normalises params into the value shapes the validator expects
// (float64 numbers, plain maps and slices), regardless of how the caller
// constructed the map.
func jsonValue(params map[string]any) any {
	if params == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return params
	}
	return v
}

// validationMessage digs out the leaf cause of a validation error, which
// carries the useful message ("missing properties: 'message'" rather than the
// root "doesn't validate with ...").
func validationMessage(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve.Message
}

// asFloat widens any JSON-ish numeric value to float64. Non-numeric values
// report false and are never treated as constraint violations.
func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
