package policy

import (
	"context"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestEvaluateDefaultAllow(t *testing.T) {
	engine := newTestEngine(t)
	decision, _, err := engine.Evaluate(context.Background(), map[string]interface{}{
		"tool_name": "weather.query",
		"args":      map[string]interface{}{"city": "Tokyo"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionAllow {
		t.Fatalf("expected allow, got %s", decision)
	}
}

func TestEvaluateBlocksDangerousTool(t *testing.T) {
	engine := newTestEngine(t)
	decision, _, err := engine.Evaluate(context.Background(), map[string]interface{}{
		"tool_name": "dangerous.command",
		"args":      map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionBlock {
		t.Fatalf("expected block, got %s", decision)
	}
}

func TestEvaluateRequiresApprovalAboveLimit(t *testing.T) {
	engine := newTestEngine(t)

	decision, _, err := engine.Evaluate(context.Background(), map[string]interface{}{
		"tool_name": "payments.transfer",
		"args":      map[string]interface{}{"amount": float64(500)},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionRequireApproval {
		t.Fatalf("expected require_approval for 500, got %s", decision)
	}

	decision, _, err = engine.Evaluate(context.Background(), map[string]interface{}{
		"tool_name": "payments.transfer",
		"args":      map[string]interface{}{"amount": float64(50)},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionAllow {
		t.Fatalf("expected allow for 50, got %s", decision)
	}
}

func TestEvaluateStructuredDecision(t *testing.T) {
	policyContent := `
package tool_policy

default decision = {"decision": "allow", "reason": ""}

decision = {"decision": "block", "reason": "tenant suspended"} {
	input.tenant_id == "tenant_bad"
}
`
	engine, err := NewEngine(context.Background(), policyContent)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	decision, reason, err := engine.Evaluate(context.Background(), map[string]interface{}{
		"tool_name": "weather.query",
		"tenant_id": "tenant_bad",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionBlock {
		t.Fatalf("expected block, got %s", decision)
	}
	if reason != "tenant suspended" {
		t.Fatalf("expected reason, got %q", reason)
	}
}
