package pipeline

import (
	"fmt"
	"reflect"
	"regexp"

	"github.com/google/cel-go/cel"

	"github.com/clawcierge/clawcierge/internal/registry/model"
)

// StagePolicyEngine names the policy evaluation stage.
const StagePolicyEngine = "policy_engine"

// Rule conditions run under a hard cost ceiling so a pathological expression
// cannot stall the pipeline past its stage timeout.
const (
	policyCostLimit          = 10000
	policyInterruptFrequency = 100
)

// celIdentRE matches names CEL can declare; params whose derived name is not
// an identifier are unreferenceable from conditions and simply not bound.
var celIdentRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// paramsRefRE finds params_* identifiers inside an expression for
// upload-time checking, when the actual parameter set is unknown.
var paramsRefRE = regexp.MustCompile(`params_[A-Za-z0-9_]*`)

// EvalPolicy evaluates the context's policy rules in declaration order
// against the namespace {sender_id, action, params_<k>...}. The first rule
// whose condition is truthy and whose action is "reject" fails the stage
// with its reason; "allow" rules never short-circuit. Any compile or
// evaluation fault fails the stage closed.
func EvalPolicy(ctx *Context) model.StageResult {
	if len(ctx.PolicyRules) == 0 {
		return model.StageResult{Stage: StagePolicyEngine, Passed: true}
	}

	env, vars, err := policyEnv(ctx)
	if err != nil {
		return evalError(ctx.PolicyRules[0].Condition)
	}

	for _, rule := range ctx.PolicyRules {
		out, err := evalCondition(env, rule.Condition, vars)
		if err != nil {
			return evalError(rule.Condition)
		}
		if truthy(out) && rule.Action == "reject" {
			reason := rule.Reason
			if reason == "" {
				reason = "Policy rule matched"
			}
			return model.StageResult{Stage: StagePolicyEngine, Passed: false, Reason: reason}
		}
	}
	return model.StageResult{Stage: StagePolicyEngine, Passed: true}
}

// CheckRuleExpression validates a condition at upload time: it must compile
// in an environment containing sender_id, action, and any params_* names the
// expression references (their bindings exist only at dispatch time, so each
// referenced name is declared as dyn). Syntax errors and references to
// anything else are rejected.
func CheckRuleExpression(expr string) error {
	opts := []cel.EnvOption{
		cel.Variable("sender_id", cel.StringType),
		cel.Variable("action", cel.StringType),
	}
	seen := map[string]bool{}
	for _, name := range paramsRefRE.FindAllString(expr, -1) {
		if !seen[name] && celIdentRE.MatchString(name) {
			seen[name] = true
			opts = append(opts, cel.Variable(name, cel.DynType))
		}
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return fmt.Errorf("build expression environment: %w", err)
	}
	if _, issues := env.Compile(expr); issues != nil && issues.Err() != nil {
		return issues.Err()
	}
	return nil
}

// policyEnv builds the evaluation environment and variable bindings for one
// submission. Param keys that are not valid identifiers are skipped; they
// cannot be referenced from a condition either way.
func policyEnv(ctx *Context) (*cel.Env, map[string]any, error) {
	opts := []cel.EnvOption{
		cel.Variable("sender_id", cel.StringType),
		cel.Variable("action", cel.StringType),
	}
	vars := map[string]any{
		"sender_id": ctx.SenderID,
		"action":    ctx.Action,
	}
	for k, v := range ctx.Params {
		name := "params_" + k
		if !celIdentRE.MatchString(name) {
			continue
		}
		opts = append(opts, cel.Variable(name, cel.DynType))
		vars[name] = v
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, nil, err
	}
	return env, vars, nil
}

func evalCondition(env *cel.Env, expr string, vars map[string]any) (any, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := env.Program(ast,
		cel.CostLimit(policyCostLimit),
		cel.InterruptCheckFrequency(policyInterruptFrequency),
	)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, err
	}
	return out.Value(), nil
}

func evalError(condition string) model.StageResult {
	return model.StageResult{
		Stage:  StagePolicyEngine,
		Passed: false,
		Reason: fmt.Sprintf("Policy evaluation error for condition: %s", condition),
	}
}

// truthy applies emptiness/zeroness semantics to a condition result, so a
// bare numeric or collection expression behaves the way rule authors expect.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	}
	return true
}
