package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/relaymesh/orchestrator/internal/adapter/llm"
	"github.com/relaymesh/orchestrator/internal/domain"
	"github.com/relaymesh/orchestrator/policy"
)

// handleOrchestrate starts a new model turn when the run is in a position to
// take one. Preconditions: never on a FAILED run, never on a COMPLETED run
// unless the work item explicitly allows reopening, and never while an
// approval is undecided.
func (d *Dispatcher) handleOrchestrate(ctx context.Context, state *domain.RunState, item domain.WorkItem) domain.WorkItemResult {
	var p domain.OrchestrateRunPayload
	if len(item.Payload) > 0 {
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return domain.FailResult(fmt.Sprintf("malformed orchestrate_run payload: %v", err))
		}
	}

	if state.Status == domain.RunStatusFailed {
		log.Printf("WARN: refusing orchestrate_run for failed run %s", item.RunID)
		return domain.OKResult()
	}
	if state.Status == domain.RunStatusCompleted && !p.AllowReopen {
		log.Printf("WARN: refusing orchestrate_run for completed run %s without reopen", item.RunID)
		return domain.OKResult()
	}
	if state.HasPendingApproval() {
		// An undecided approval always wins over starting a model turn.
		return domain.OKResult()
	}
	if state.HasPendingToolCalls() {
		// Tool results must land before the next turn; continue handles the
		// fan-out.
		return domain.OKResult(newWorkItem(item, domain.WorkItemKindContinueRun, domain.ContinueRunPayload{
			OnBehalfOf: domain.SystemActor,
		}))
	}
	if state.CurrentStepID != "" {
		// A model turn is already in flight; re-emit its execution in case
		// the original hint was lost. The step guard makes duplicates no-ops.
		return domain.OKResult(newWorkItem(item, domain.WorkItemKindExecuteLLMCall, domain.ExecuteLLMCallPayload{
			StepID: state.CurrentStepID,
		}))
	}

	stepID := "step_" + uuid.New().String()[:8]
	events := []domain.Event{
		newEvent(item, stepID, domain.EventTypeLLMStarted, domain.LLMStartedPayload{
			StepID: stepID,
			Model:  d.config.Model,
		}),
	}
	if err := d.append(ctx, state, events); err != nil {
		return domain.FailResult(err.Error())
	}

	return domain.OKResult(newWorkItem(item, domain.WorkItemKindExecuteLLMCall, domain.ExecuteLLMCallPayload{
		StepID: stepID,
	}))
}

// handleExecuteLLM invokes the model for one step, records the turn, and
// requests the proposed tool calls, routing each through policy: allowed
// calls become plain requests, gated calls additionally open an approval,
// blocked calls are requested and immediately failed.
func (d *Dispatcher) handleExecuteLLM(ctx context.Context, state *domain.RunState, item domain.WorkItem) domain.WorkItemResult {
	var p domain.ExecuteLLMCallPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return domain.FailResult(fmt.Sprintf("malformed execute_llm_call payload: %v", err))
	}

	if state.Status.IsTerminal() {
		return domain.OKResult()
	}
	if state.CurrentStepID != p.StepID {
		// Stale or duplicate delivery: this step already completed or a
		// newer step superseded it. Re-derive continuation for liveness.
		return domain.OKResult(newWorkItem(item, domain.WorkItemKindContinueRun, domain.ContinueRunPayload{
			OnBehalfOf: domain.SystemActor,
		}))
	}

	req := &llm.CompletionRequest{
		Model:    d.config.Model,
		Messages: d.assemblePrompt(state),
		Tools:    d.toolDefinitions(),
	}
	result, err := d.model.Complete(ctx, req)
	if err != nil {
		// Transient by default; the queue retries.
		return domain.FailResult(fmt.Sprintf("model invocation failed: %v", err))
	}

	events := []domain.Event{
		newEvent(item, p.StepID, domain.EventTypeLLMCompleted, domain.LLMCompletedPayload{
			StepID:             p.StepID,
			AssistantMessage:   result.AssistantMessage,
			ToolCallsRequested: result.ToolCalls,
		}),
	}

	for _, call := range result.ToolCalls {
		toolCallID := call.ToolCallID
		if toolCallID == "" {
			toolCallID = "tc_" + uuid.New().String()
		}
		events = append(events, newEvent(item, p.StepID, domain.EventTypeToolCallRequested, domain.ToolCallRequestedPayload{
			ToolCallID:     toolCallID,
			ToolName:       call.ToolName,
			Args:           call.Args,
			IdempotencyKey: "idem_" + uuid.New().String(),
			StepID:         p.StepID,
		}))

		decision, reason, err := d.evaluatePolicy(ctx, state, call)
		if err != nil {
			return domain.FailResult(fmt.Sprintf("policy evaluation failed: %v", err))
		}
		switch decision {
		case policy.DecisionRequireApproval:
			events = append(events, newEvent(item, p.StepID, domain.EventTypeApprovalRequested, domain.ApprovalRequestedPayload{
				ApprovalID:   "ap_" + uuid.New().String(),
				ToolCallID:   toolCallID,
				ToolName:     call.ToolName,
				OriginalArgs: call.Args,
				Reason:       reason,
			}))
		case policy.DecisionBlock:
			events = append(events, newEvent(item, p.StepID, domain.EventTypeToolCallFailed, domain.ToolCallFailedPayload{
				ToolCallID: toolCallID,
				Code:       "blocked",
				Message:    reason,
			}))
		}
	}

	if len(result.ToolCalls) == 0 {
		events = append(events, newEvent(item, p.StepID, domain.EventTypeRunCompleted, domain.RunCompletedPayload{
			FinalMessage: result.AssistantMessage,
		}))
	}

	if err := d.append(ctx, state, events); err != nil {
		return domain.FailResult(err.Error())
	}

	if len(result.ToolCalls) == 0 {
		return domain.OKResult()
	}
	return domain.OKResult(newWorkItem(item, domain.WorkItemKindContinueRun, domain.ContinueRunPayload{
		OnBehalfOf: domain.SystemActor,
	}))
}

// assemblePrompt builds the model conversation: the projected history,
// prefixed with the configured system prompt when the run carries none.
func (d *Dispatcher) assemblePrompt(state *domain.RunState) []domain.Message {
	if state.SystemPrompt != "" || d.config.SystemPrompt == "" {
		return state.Messages
	}
	messages := make([]domain.Message, 0, len(state.Messages)+1)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: d.config.SystemPrompt})
	messages = append(messages, state.Messages...)
	return messages
}

func (d *Dispatcher) toolDefinitions() []llm.ToolDefinition {
	defs := d.registry.Definitions()
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		out = append(out, llm.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			Schema:      def.Schema,
		})
	}
	return out
}

func (d *Dispatcher) evaluatePolicy(ctx context.Context, state *domain.RunState, call domain.ProposedToolCall) (string, string, error) {
	input := map[string]interface{}{
		"tool_name": call.ToolName,
		"user_id":   state.UserID,
		"tenant_id": state.TenantID,
		"args":      map[string]interface{}{},
	}
	if len(call.Args) > 0 {
		var argsMap map[string]interface{}
		if err := json.Unmarshal(call.Args, &argsMap); err == nil {
			input["args"] = argsMap
		}
	}
	return d.policy.Evaluate(ctx, input)
}
