package domain

import "encoding/json"

// WorkItem is a transient scheduling hint. The event log is the durable
// record; a lost or duplicated work item must never corrupt run state.
type WorkItem struct {
	ID            string          `json:"id"`
	RunID         string          `json:"run_id"`
	TenantID      string          `json:"tenant_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Kind          WorkItemKind    `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// WorkItemResult is what a handler returns to the queue. NewWorkItems are
// enqueued only when OK is true.
type WorkItemResult struct {
	OK           bool
	Reason       string
	NewWorkItems []WorkItem
}

// OKResult builds a successful result with the given follow-on items.
func OKResult(items ...WorkItem) WorkItemResult {
	return WorkItemResult{OK: true, NewWorkItems: items}
}

// FailResult builds a failed result; the queue applies its redelivery policy.
func FailResult(reason string) WorkItemResult {
	return WorkItemResult{OK: false, Reason: reason}
}

// OrchestrateRunPayload is the payload for orchestrate_run work items.
type OrchestrateRunPayload struct {
	// AllowReopen permits transitioning a COMPLETED run back to ACTIVE to
	// accept a follow-up turn. It is an explicit opt-in, never a default.
	AllowReopen bool   `json:"allow_reopen,omitempty"`
	OnBehalfOf  string `json:"on_behalf_of,omitempty"`
}

// ContinueRunPayload is the payload for continue_run work items. A non-empty
// FollowUpMessage reopens a COMPLETED run with a new user turn.
type ContinueRunPayload struct {
	FollowUpMessage string `json:"follow_up_message,omitempty"`
	OnBehalfOf      string `json:"on_behalf_of,omitempty"`
}

// ProcessApprovalPayload is the payload for process_approval work items.
type ProcessApprovalPayload struct {
	ApprovalID string           `json:"approval_id"`
	Decision   ApprovalDecision `json:"decision"`
	EditedArgs json.RawMessage  `json:"edited_args,omitempty"`
	DecidedBy  string           `json:"decided_by,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// ExecuteLLMCallPayload is the payload for execute_llm_call work items.
type ExecuteLLMCallPayload struct {
	StepID string `json:"step_id"`
}

// ExecuteToolCallPayload is the payload for execute_tool_call work items.
// Args mirror the effective (possibly edited) arguments for observability;
// the executor re-derives them from a fresh projection before running.
type ExecuteToolCallPayload struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
}
