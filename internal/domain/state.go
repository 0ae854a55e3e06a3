package domain

import (
	"encoding/json"
	"sort"
)

// Message is one role-tagged conversation turn in the projected state.
type Message struct {
	Role       string             `json:"role"`
	Content    string             `json:"content,omitempty"`
	ToolCalls  []ProposedToolCall `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
}

// ToolCallState is the projected state of one requested tool call. Entries
// are inserted once by tool_call_requested and only ever transition status.
type ToolCallState struct {
	ToolCallID     string          `json:"tool_call_id"`
	ToolName       string          `json:"tool_name"`
	Args           json.RawMessage `json:"args,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	StepID         string          `json:"step_id"`
	Status         ToolCallStatus  `json:"status"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorCode      string          `json:"error_code,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// ApprovalState is the projected state of one approval gate.
type ApprovalState struct {
	ApprovalID   string           `json:"approval_id"`
	ToolCallID   string           `json:"tool_call_id"`
	OriginalArgs json.RawMessage  `json:"original_args,omitempty"`
	Decision     ApprovalDecision `json:"decision,omitempty"`
	EditedArgs   json.RawMessage  `json:"edited_args,omitempty"`
	DecidedBy    string           `json:"decided_by,omitempty"`
}

// Decided reports whether a human decision has been recorded.
func (a *ApprovalState) Decided() bool {
	return a.Decision != ""
}

// RunState is the materialized view of a run, recomputed by folding its
// event log. It is never stored as authoritative state.
type RunState struct {
	RunID         string                    `json:"run_id"`
	TenantID      string                    `json:"tenant_id,omitempty"`
	UserID        string                    `json:"user_id,omitempty"`
	Status        RunStatus                 `json:"status"`
	SystemPrompt  string                    `json:"system_prompt,omitempty"`
	Messages      []Message                 `json:"messages,omitempty"`
	ToolCalls     map[string]*ToolCallState `json:"tool_calls,omitempty"`
	Approvals     map[string]*ApprovalState `json:"approvals,omitempty"`
	CurrentStepID string                    `json:"current_step_id,omitempty"`
	LastSeq       int64                     `json:"last_seq"`
	FinalMessage  string                    `json:"final_message,omitempty"`
	FailureCode   string                    `json:"failure_code,omitempty"`
}

// NewRunState returns an empty state ready for folding.
func NewRunState() *RunState {
	return &RunState{
		ToolCalls: make(map[string]*ToolCallState),
		Approvals: make(map[string]*ApprovalState),
	}
}

// HasPendingApproval reports whether any approval has no decision yet.
func (s *RunState) HasPendingApproval() bool {
	for _, a := range s.Approvals {
		if !a.Decided() {
			return true
		}
	}
	return false
}

// approvalFor returns the approval gating the given tool call, if any.
func (s *RunState) approvalFor(toolCallID string) *ApprovalState {
	for _, a := range s.Approvals {
		if a.ToolCallID == toolCallID {
			return a
		}
	}
	return nil
}

// PendingToolCalls returns pending calls in a deterministic order. Calls
// gated by an undecided approval are excluded: they are not executable until
// the gate resolves.
func (s *RunState) PendingToolCalls() []*ToolCallState {
	var pending []*ToolCallState
	for _, tc := range s.ToolCalls {
		if tc.Status != ToolCallStatusPending {
			continue
		}
		if a := s.approvalFor(tc.ToolCallID); a != nil && !a.Decided() {
			continue
		}
		pending = append(pending, tc)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ToolCallID < pending[j].ToolCallID
	})
	return pending
}

// HasPendingToolCalls reports whether any tool call is unresolved, gated or
// not. A run cannot progress past WAITING_TOOL while any call is pending.
func (s *RunState) HasPendingToolCalls() bool {
	for _, tc := range s.ToolCalls {
		if tc.Status == ToolCallStatusPending {
			return true
		}
	}
	return false
}

// EffectiveArgs returns the arguments a tool call must execute with: the
// approval's edited args when an EDIT_APPROVE decision exists, otherwise the
// args fixed at request time.
func (s *RunState) EffectiveArgs(toolCallID string) json.RawMessage {
	tc, ok := s.ToolCalls[toolCallID]
	if !ok {
		return nil
	}
	if a := s.approvalFor(toolCallID); a != nil && a.Decision == ApprovalDecisionEditApprove && len(a.EditedArgs) > 0 {
		return a.EditedArgs
	}
	return tc.Args
}

// GatedBy returns the undecided approval gating the call, or nil.
func (s *RunState) GatedBy(toolCallID string) *ApprovalState {
	if a := s.approvalFor(toolCallID); a != nil && !a.Decided() {
		return a
	}
	return nil
}
