package domain

import "encoding/json"

// Event is one immutable entry in a run's append-only log. Seq is assigned
// by the log at append time and is monotonically increasing per run.
type Event struct {
	EventID       string          `json:"event_id"`
	RunID         string          `json:"run_id"`
	TenantID      string          `json:"tenant_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	StepID        string          `json:"step_id,omitempty"`
	Seq           int64           `json:"seq"`
	Ts            int64           `json:"ts"` // Unix milliseconds
	Type          EventType       `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ProposedToolCall is one tool invocation the model asked for in a turn.
type ProposedToolCall struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// RunStartedPayload is the payload for run_started.
type RunStartedPayload struct {
	TenantID     string `json:"tenant_id,omitempty"`
	UserID       string `json:"user_id,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	UserMessage  string `json:"user_message,omitempty"`
}

// UserMessagePayload is the payload for user_message (follow-up turns).
type UserMessagePayload struct {
	UserID  string `json:"user_id,omitempty"`
	Content string `json:"content"`
}

// LLMStartedPayload is the payload for llm_started.
type LLMStartedPayload struct {
	StepID string `json:"step_id"`
	Model  string `json:"model,omitempty"`
}

// LLMCompletedPayload is the payload for llm_completed.
type LLMCompletedPayload struct {
	StepID             string             `json:"step_id"`
	AssistantMessage   string             `json:"assistant_message,omitempty"`
	ToolCallsRequested []ProposedToolCall `json:"tool_calls_requested,omitempty"`
}

// ToolCallRequestedPayload is the payload for tool_call_requested. The
// idempotency key is fixed here, at request time, and is never re-derived
// at execution time.
type ToolCallRequestedPayload struct {
	ToolCallID     string          `json:"tool_call_id"`
	ToolName       string          `json:"tool_name"`
	Args           json.RawMessage `json:"args,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	StepID         string          `json:"step_id"`
}

// ToolCallCompletedPayload is the payload for tool_call_completed.
type ToolCallCompletedPayload struct {
	ToolCallID string          `json:"tool_call_id"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// ToolCallFailedPayload is the payload for tool_call_failed.
type ToolCallFailedPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ApprovalRequestedPayload is the payload for approval_requested.
type ApprovalRequestedPayload struct {
	ApprovalID   string          `json:"approval_id"`
	ToolCallID   string          `json:"tool_call_id"`
	ToolName     string          `json:"tool_name,omitempty"`
	OriginalArgs json.RawMessage `json:"original_args,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// ApprovalDecidedPayload is the payload for approval_decided. EditedArgs is
// set only for EDIT_APPROVE.
type ApprovalDecidedPayload struct {
	ApprovalID string           `json:"approval_id"`
	Decision   ApprovalDecision `json:"decision"`
	EditedArgs json.RawMessage  `json:"edited_args,omitempty"`
	DecidedBy  string           `json:"decided_by,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// RunCompletedPayload is the payload for run_completed.
type RunCompletedPayload struct {
	FinalMessage string `json:"final_message,omitempty"`
}

// RunFailedPayload is the payload for run_failed. Appended only by explicit
// domain decision, never by incidental handler errors.
type RunFailedPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
