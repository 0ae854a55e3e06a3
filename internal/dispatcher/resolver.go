package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/relaymesh/orchestrator/internal/domain"
	"github.com/relaymesh/orchestrator/internal/projector"
)

// handleContinue reconciles pending tool calls, pending approvals, and
// conversation continuation. A follow-up message is appended durably before
// anything else: the work item is a transient hint and must never be the only
// copy of user input. The decision order is then fixed: executable tool calls
// fan out first; an undecided approval means wait; otherwise the run takes
// the next model turn. continue_run is the one kind allowed to reopen a
// COMPLETED run, and only when it carries a follow-up message.
func (d *Dispatcher) handleContinue(ctx context.Context, state *domain.RunState, item domain.WorkItem) domain.WorkItemResult {
	var p domain.ContinueRunPayload
	if len(item.Payload) > 0 {
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return domain.FailResult(fmt.Sprintf("malformed continue_run payload: %v", err))
		}
	}

	if state.Status == domain.RunStatusFailed {
		log.Printf("WARN: refusing continue_run for failed run %s", item.RunID)
		return domain.OKResult()
	}

	if p.FollowUpMessage != "" {
		actor := p.OnBehalfOf
		if actor == "" {
			actor = domain.SystemActor
		}
		evt := newEvent(item, "", domain.EventTypeUserMessage, domain.UserMessagePayload{
			UserID:  actor,
			Content: p.FollowUpMessage,
		})
		if err := d.append(ctx, state, []domain.Event{evt}); err != nil {
			return domain.FailResult(err.Error())
		}
		// Fold what just landed so the decision below sees it.
		evt.Seq = state.LastSeq + 1
		var err error
		state, err = projector.ProjectFrom(state, []domain.Event{evt})
		if err != nil {
			return domain.FailResult(fmt.Sprintf("failed to fold follow-up message: %v", err))
		}
	}

	// Fan out one execution per pending executable call. Sibling calls of a
	// step carry no ordering dependency between them.
	if pending := state.PendingToolCalls(); len(pending) > 0 {
		items := make([]domain.WorkItem, 0, len(pending))
		for _, tc := range pending {
			items = append(items, newWorkItem(item, domain.WorkItemKindExecuteToolCall, domain.ExecuteToolCallPayload{
				ToolCallID: tc.ToolCallID,
				ToolName:   tc.ToolName,
				Args:       state.EffectiveArgs(tc.ToolCallID),
			}))
		}
		return domain.OKResult(items...)
	}

	if state.HasPendingApproval() {
		// Wait for the human. process_approval will wake the run up.
		return domain.OKResult()
	}
	if state.HasPendingToolCalls() {
		// Every pending call is gated; nothing executable until a decision.
		return domain.OKResult()
	}

	if state.Status == domain.RunStatusCompleted {
		// No follow-up message landed above, so there is nothing to reopen
		// the run for.
		return domain.OKResult()
	}

	return d.startTurn(ctx, state, item)
}

// startTurn appends llm_started for a fresh step and emits the model call,
// unless a step is already in flight.
func (d *Dispatcher) startTurn(ctx context.Context, state *domain.RunState, item domain.WorkItem) domain.WorkItemResult {
	if state.CurrentStepID != "" {
		// A turn is already in flight; re-emit its execution. Its handler
		// projects fresh, so any just-appended message is still seen.
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

// handleProcessApproval records a human decision on an approval gate.
// Rejection fails the gated call and schedules a system continuation;
// approval (plain or with edited args) schedules the tool execution.
// A decided approval is an idempotent no-op that re-emits its follow-on.
func (d *Dispatcher) handleProcessApproval(ctx context.Context, state *domain.RunState, item domain.WorkItem) domain.WorkItemResult {
	var p domain.ProcessApprovalPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return domain.FailResult(fmt.Sprintf("malformed process_approval payload: %v", err))
	}

	approval, ok := state.Approvals[p.ApprovalID]
	if !ok {
		return domain.FailResult(fmt.Sprintf("approval %s not found in run %s", p.ApprovalID, item.RunID))
	}
	tc, ok := state.ToolCalls[approval.ToolCallID]
	if !ok {
		return domain.FailResult(fmt.Sprintf("approval %s references unknown tool call %s", p.ApprovalID, approval.ToolCallID))
	}

	if approval.Decided() {
		// Duplicate delivery. Re-emit the follow-on so a lost hint cannot
		// stall the run; the tool executor's idempotency guard absorbs it.
		return domain.OKResult(d.approvalFollowOn(item, state, approval.Decision, approval.ToolCallID))
	}

	switch p.Decision {
	case domain.ApprovalDecisionApprove, domain.ApprovalDecisionEditApprove, domain.ApprovalDecisionReject:
	default:
		return domain.FailResult(fmt.Sprintf("invalid approval decision %q", p.Decision))
	}

	events := []domain.Event{
		newEvent(item, tc.StepID, domain.EventTypeApprovalDecided, domain.ApprovalDecidedPayload{
			ApprovalID: p.ApprovalID,
			Decision:   p.Decision,
			EditedArgs: p.EditedArgs,
			DecidedBy:  p.DecidedBy,
			Reason:     p.Reason,
		}),
	}
	if p.Decision == domain.ApprovalDecisionReject {
		events = append(events, newEvent(item, tc.StepID, domain.EventTypeToolCallFailed, domain.ToolCallFailedPayload{
			ToolCallID: approval.ToolCallID,
			Code:       "rejected",
			Message:    "approval rejected",
		}))
	}

	if err := d.append(ctx, state, events); err != nil {
		return domain.FailResult(err.Error())
	}

	if p.Decision == domain.ApprovalDecisionReject {
		return domain.OKResult(newWorkItem(item, domain.WorkItemKindContinueRun, domain.ContinueRunPayload{
			OnBehalfOf: domain.SystemActor,
		}))
	}

	args := tc.Args
	if p.Decision == domain.ApprovalDecisionEditApprove && len(p.EditedArgs) > 0 {
		args = p.EditedArgs
	}
	return domain.OKResult(newWorkItem(item, domain.WorkItemKindExecuteToolCall, domain.ExecuteToolCallPayload{
		ToolCallID: approval.ToolCallID,
		ToolName:   tc.ToolName,
		Args:       args,
	}))
}

// approvalFollowOn re-derives the follow-on work item for an already-decided
// approval.
func (d *Dispatcher) approvalFollowOn(item domain.WorkItem, state *domain.RunState, decision domain.ApprovalDecision, toolCallID string) domain.WorkItem {
	if decision == domain.ApprovalDecisionReject {
		return newWorkItem(item, domain.WorkItemKindContinueRun, domain.ContinueRunPayload{
			OnBehalfOf: domain.SystemActor,
		})
	}
	tc := state.ToolCalls[toolCallID]
	return newWorkItem(item, domain.WorkItemKindExecuteToolCall, domain.ExecuteToolCallPayload{
		ToolCallID: toolCallID,
		ToolName:   tc.ToolName,
		Args:       state.EffectiveArgs(toolCallID),
	})
}

// handleExecuteTool executes one tool call at most once. The guard is the
// fresh projection: a call already resolved is a successful no-op however
// many times the queue redelivers this item. Execution failure is recorded
// as a failed call, not a failed run; the model sees the error on the next
// turn and decides what to do.
func (d *Dispatcher) handleExecuteTool(ctx context.Context, state *domain.RunState, item domain.WorkItem) domain.WorkItemResult {
	var p domain.ExecuteToolCallPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return domain.FailResult(fmt.Sprintf("malformed execute_tool_call payload: %v", err))
	}

	tc, ok := state.ToolCalls[p.ToolCallID]
	if !ok {
		return domain.FailResult(fmt.Sprintf("tool call %s not found in run %s", p.ToolCallID, item.RunID))
	}
	if tc.Status != domain.ToolCallStatusPending {
		// Already resolved: duplicate delivery is a successful no-op.
		return domain.OKResult(newWorkItem(item, domain.WorkItemKindContinueRun, domain.ContinueRunPayload{
			OnBehalfOf: domain.SystemActor,
		}))
	}
	if gate := state.GatedBy(p.ToolCallID); gate != nil {
		// The approval gate is undecided; never execute around it.
		return domain.OKResult()
	}

	args := state.EffectiveArgs(p.ToolCallID)
	result, execErr := d.registry.Execute(ctx, tc.ToolName, args)

	var evt domain.Event
	if execErr != nil {
		log.Printf("WARN: tool %s failed for call %s: %v", tc.ToolName, p.ToolCallID, execErr)
		evt = newEvent(item, tc.StepID, domain.EventTypeToolCallFailed, domain.ToolCallFailedPayload{
			ToolCallID: p.ToolCallID,
			Code:       "execution_error",
			Message:    execErr.Error(),
		})
	} else {
		evt = newEvent(item, tc.StepID, domain.EventTypeToolCallCompleted, domain.ToolCallCompletedPayload{
			ToolCallID: p.ToolCallID,
			Result:     result,
		})
	}

	if err := d.append(ctx, state, []domain.Event{evt}); err != nil {
		return domain.FailResult(err.Error())
	}
	return domain.OKResult(newWorkItem(item, domain.WorkItemKindContinueRun, domain.ContinueRunPayload{
		OnBehalfOf: domain.SystemActor,
	}))
}

func mustMarshal(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal payload: %v", err))
	}
	return data
}
