// Package policy decides, per proposed tool call, whether execution is
// allowed outright, requires a human approval gate, or is blocked.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions a policy evaluation can return.
const (
	DecisionAllow           = "allow"
	DecisionRequireApproval = "require_approval"
	DecisionBlock           = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Evaluate checks the tool policy. Input keys: tool_name, args, user_id,
// tenant_id. Returns the decision and an optional reason.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy is expected to define a default; treat silence as allow.
		return DecisionAllow, "default", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]interface{}:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			decision = DecisionAllow
		}
		return decision, reason, nil
	default:
		return DecisionAllow, "unexpected return type", nil
	}
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package tool_policy

default decision = "allow"

# Block known-dangerous tools outright
decision = "block" {
	input.tool_name == "dangerous.command"
}

# Require a human approval gate for high value transfers
decision = "require_approval" {
	input.tool_name == "payments.transfer"
	input.args.amount > 100
}
`
