package domain

import "encoding/json"

// StartRunRequest starts a new run.
type StartRunRequest struct {
	TenantID      string `json:"tenant_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
	UserMessage   string `json:"user_message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// StartRunResponse is the response for a started run.
type StartRunResponse struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
}

// SendMessageRequest sends a follow-up user message to an existing run.
type SendMessageRequest struct {
	UserID  string `json:"user_id,omitempty"`
	Content string `json:"content"`
}

// ApprovalDecisionRequest decides an approval gate.
type ApprovalDecisionRequest struct {
	Decision   ApprovalDecision `json:"decision"`
	EditedArgs json.RawMessage  `json:"edited_args,omitempty"`
	DecidedBy  string           `json:"decided_by,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// RunSummary is the API view of a projected run.
type RunSummary struct {
	RunID            string           `json:"run_id"`
	TenantID         string           `json:"tenant_id,omitempty"`
	Status           RunStatus        `json:"status"`
	Messages         []Message        `json:"messages,omitempty"`
	PendingApprovals []*ApprovalState `json:"pending_approvals,omitempty"`
	FinalMessage     string           `json:"final_message,omitempty"`
	FailureCode      string           `json:"failure_code,omitempty"`
	LastSeq          int64            `json:"last_seq"`
}
