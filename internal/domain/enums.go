// Package domain defines the core domain models for the orchestrator.
package domain

// RunStatus is the projected status of a run. It is derived from the event
// log, never stored.
type RunStatus string

const (
	RunStatusActive          RunStatus = "ACTIVE"
	RunStatusWaitingTool     RunStatus = "WAITING_TOOL"
	RunStatusWaitingApproval RunStatus = "WAITING_APPROVAL"
	RunStatusCompleted       RunStatus = "COMPLETED"
	RunStatusFailed          RunStatus = "FAILED"
)

// IsTerminal reports whether no further events may be appended for the run,
// except via an explicit continue that reopens a COMPLETED run.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// EventType identifies an event in the per-run append-only log.
type EventType string

const (
	EventTypeRunStarted        EventType = "run_started"
	EventTypeUserMessage       EventType = "user_message"
	EventTypeLLMStarted        EventType = "llm_started"
	EventTypeLLMCompleted      EventType = "llm_completed"
	EventTypeToolCallRequested EventType = "tool_call_requested"
	EventTypeToolCallCompleted EventType = "tool_call_completed"
	EventTypeToolCallFailed    EventType = "tool_call_failed"
	EventTypeApprovalRequested EventType = "approval_requested"
	EventTypeApprovalDecided   EventType = "approval_decided"
	EventTypeRunCompleted      EventType = "run_completed"
	EventTypeRunFailed         EventType = "run_failed"
)

// ToolCallStatus is the projected status of a single tool call.
type ToolCallStatus string

const (
	ToolCallStatusPending   ToolCallStatus = "PENDING"
	ToolCallStatusCompleted ToolCallStatus = "COMPLETED"
	ToolCallStatusFailed    ToolCallStatus = "FAILED"
)

// ApprovalDecision is a human decision on a gated tool call.
type ApprovalDecision string

const (
	ApprovalDecisionApprove     ApprovalDecision = "APPROVE"
	ApprovalDecisionEditApprove ApprovalDecision = "EDIT_APPROVE"
	ApprovalDecisionReject      ApprovalDecision = "REJECT"
)

// WorkItemKind identifies which dispatcher handler consumes a work item.
// The set is closed; the dispatcher switches over every kind and treats
// anything else as an unsupported-kind failure.
type WorkItemKind string

const (
	WorkItemKindOrchestrateRun  WorkItemKind = "orchestrate_run"
	WorkItemKindContinueRun     WorkItemKind = "continue_run"
	WorkItemKindProcessApproval WorkItemKind = "process_approval"
	WorkItemKindExecuteLLMCall  WorkItemKind = "execute_llm_call"
	WorkItemKindExecuteToolCall WorkItemKind = "execute_tool_call"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// SystemActor is the explicit actor recorded for continuations the
// orchestrator itself schedules, e.g. after an approval rejection. An empty
// user id is never used as a sentinel.
const SystemActor = "system:orchestrator"
