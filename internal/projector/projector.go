// Package projector folds a run's ordered event log into a materialized
// RunState. The fold is pure: the same event sequence always yields the same
// state, and no writes are performed.
package projector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relaymesh/orchestrator/internal/domain"
)

// Projection failures are distinct from run failures: they mean the log is in
// a state the caller cannot safely act on, and must not be retried blindly.
var (
	ErrOutOfOrder        = errors.New("event out of sequence")
	ErrAfterTerminal     = errors.New("event after terminal event")
	ErrUnknownToolCall   = errors.New("unknown tool call id")
	ErrDuplicateToolCall = errors.New("duplicate tool call id")
	ErrUnknownApproval   = errors.New("unknown approval id")
	ErrDuplicateApproval = errors.New("duplicate approval id")
	ErrResultMismatch    = errors.New("conflicting repeat of resolved tool call")
	ErrMalformedPayload  = errors.New("malformed event payload")
)

// IsProjectionError reports whether err is any projection failure.
func IsProjectionError(err error) bool {
	for _, sentinel := range []error{
		ErrOutOfOrder, ErrAfterTerminal, ErrUnknownToolCall, ErrDuplicateToolCall,
		ErrUnknownApproval, ErrDuplicateApproval, ErrResultMismatch, ErrMalformedPayload,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// Project folds events into a fresh RunState. Events must be in per-run
// sequence order; out-of-order input is rejected rather than mis-folded.
func Project(events []domain.Event) (*domain.RunState, error) {
	return ProjectFrom(domain.NewRunState(), events)
}

// ProjectFrom folds events on top of a prior state, typically a snapshot.
// Folding from a snapshot must be observationally identical to a full fold.
func ProjectFrom(state *domain.RunState, events []domain.Event) (*domain.RunState, error) {
	for _, evt := range events {
		if err := apply(state, evt); err != nil {
			return nil, fmt.Errorf("project run %s seq %d (%s): %w", evt.RunID, evt.Seq, evt.Type, err)
		}
	}
	return state, nil
}

func apply(s *domain.RunState, evt domain.Event) error {
	if evt.Seq <= s.LastSeq {
		return fmt.Errorf("%w: seq %d after %d", ErrOutOfOrder, evt.Seq, s.LastSeq)
	}
	if s.Status.IsTerminal() && evt.Type != domain.EventTypeUserMessage && evt.Type != domain.EventTypeLLMStarted {
		// A COMPLETED run may be reopened by an explicit continue, which
		// appends a user_message or llm_started. Everything else is illegal.
		return ErrAfterTerminal
	}
	if s.Status == domain.RunStatusFailed {
		return ErrAfterTerminal
	}

	switch evt.Type {
	case domain.EventTypeRunStarted:
		var p domain.RunStartedPayload
		if err := decode(evt.Payload, &p); err != nil {
			return err
		}
		s.RunID = evt.RunID
		s.TenantID = p.TenantID
		s.UserID = p.UserID
		s.SystemPrompt = p.SystemPrompt
		if p.SystemPrompt != "" {
			s.Messages = append(s.Messages, domain.Message{Role: domain.RoleSystem, Content: p.SystemPrompt})
		}
		if p.UserMessage != "" {
			s.Messages = append(s.Messages, domain.Message{Role: domain.RoleUser, Content: p.UserMessage})
		}
		s.Status = domain.RunStatusActive

	case domain.EventTypeUserMessage:
		var p domain.UserMessagePayload
		if err := decode(evt.Payload, &p); err != nil {
			return err
		}
		s.Messages = append(s.Messages, domain.Message{Role: domain.RoleUser, Content: p.Content})
		s.Status = domain.RunStatusActive
		s.FinalMessage = ""

	case domain.EventTypeLLMStarted:
		var p domain.LLMStartedPayload
		if err := decode(evt.Payload, &p); err != nil {
			return err
		}
		s.CurrentStepID = p.StepID
		s.Status = domain.RunStatusActive
		s.FinalMessage = ""

	case domain.EventTypeLLMCompleted:
		var p domain.LLMCompletedPayload
		if err := decode(evt.Payload, &p); err != nil {
			return err
		}
		s.Messages = append(s.Messages, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   p.AssistantMessage,
			ToolCalls: p.ToolCallsRequested,
		})
		// The step is over; a later llm_started opens the next one.
		s.CurrentStepID = ""

	case domain.EventTypeToolCallRequested:
		var p domain.ToolCallRequestedPayload
		if err := decode(evt.Payload, &p); err != nil {
			return err
		}
		if _, exists := s.ToolCalls[p.ToolCallID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateToolCall, p.ToolCallID)
		}
		s.ToolCalls[p.ToolCallID] = &domain.ToolCallState{
			ToolCallID:     p.ToolCallID,
			ToolName:       p.ToolName,
			Args:           p.Args,
			IdempotencyKey: p.IdempotencyKey,
			StepID:         p.StepID,
			Status:         domain.ToolCallStatusPending,
		}

	case domain.EventTypeToolCallCompleted:
		var p domain.ToolCallCompletedPayload
		if err := decode(evt.Payload, &p); err != nil {
			return err
		}
		tc, exists := s.ToolCalls[p.ToolCallID]
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownToolCall, p.ToolCallID)
		}
		if tc.Status != domain.ToolCallStatusPending {
			if tc.Status == domain.ToolCallStatusCompleted && bytes.Equal(tc.Result, p.Result) {
				break // identical repeat, idempotent
			}
			return fmt.Errorf("%w: %s already %s", ErrResultMismatch, p.ToolCallID, tc.Status)
		}
		tc.Status = domain.ToolCallStatusCompleted
		tc.Result = p.Result
		s.Messages = append(s.Messages, domain.Message{
			Role:       domain.RoleTool,
			ToolCallID: p.ToolCallID,
			Content:    string(p.Result),
		})

	case domain.EventTypeToolCallFailed:
		var p domain.ToolCallFailedPayload
		if err := decode(evt.Payload, &p); err != nil {
			return err
		}
		tc, exists := s.ToolCalls[p.ToolCallID]
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownToolCall, p.ToolCallID)
		}
		if tc.Status != domain.ToolCallStatusPending {
			if tc.Status == domain.ToolCallStatusFailed && tc.ErrorCode == p.Code && tc.ErrorMessage == p.Message {
				break
			}
			return fmt.Errorf("%w: %s already %s", ErrResultMismatch, p.ToolCallID, tc.Status)
		}
		tc.Status = domain.ToolCallStatusFailed
		tc.ErrorCode = p.Code
		tc.ErrorMessage = p.Message
		s.Messages = append(s.Messages, domain.Message{
			Role:       domain.RoleTool,
			ToolCallID: p.ToolCallID,
			Content:    fmt.Sprintf(`{"error":{"code":%q,"message":%q}}`, p.Code, p.Message),
		})

	case domain.EventTypeApprovalRequested:
		var p domain.ApprovalRequestedPayload
		if err := decode(evt.Payload, &p); err != nil {
			return err
		}
		if _, exists := s.Approvals[p.ApprovalID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateApproval, p.ApprovalID)
		}
		if _, exists := s.ToolCalls[p.ToolCallID]; !exists {
			return fmt.Errorf("%w: approval %s references %s", ErrUnknownToolCall, p.ApprovalID, p.ToolCallID)
		}
		s.Approvals[p.ApprovalID] = &domain.ApprovalState{
			ApprovalID:   p.ApprovalID,
			ToolCallID:   p.ToolCallID,
			OriginalArgs: p.OriginalArgs,
		}

	case domain.EventTypeApprovalDecided:
		var p domain.ApprovalDecidedPayload
		if err := decode(evt.Payload, &p); err != nil {
			return err
		}
		a, exists := s.Approvals[p.ApprovalID]
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownApproval, p.ApprovalID)
		}
		if a.Decided() {
			if a.Decision == p.Decision && bytes.Equal(a.EditedArgs, p.EditedArgs) {
				break
			}
			return fmt.Errorf("%w: approval %s already decided %s", ErrResultMismatch, p.ApprovalID, a.Decision)
		}
		a.Decision = p.Decision
		a.EditedArgs = p.EditedArgs
		a.DecidedBy = p.DecidedBy

	case domain.EventTypeRunCompleted:
		var p domain.RunCompletedPayload
		if err := decode(evt.Payload, &p); err != nil {
			return err
		}
		s.FinalMessage = p.FinalMessage
		s.Status = domain.RunStatusCompleted
		s.LastSeq = evt.Seq
		return nil

	case domain.EventTypeRunFailed:
		var p domain.RunFailedPayload
		if err := decode(evt.Payload, &p); err != nil {
			return err
		}
		s.FailureCode = p.Code
		s.Status = domain.RunStatusFailed
		s.LastSeq = evt.Seq
		return nil

	default:
		return fmt.Errorf("%w: unknown event type %q", ErrMalformedPayload, evt.Type)
	}

	s.LastSeq = evt.Seq
	s.Status = deriveStatus(s)
	return nil
}

// deriveStatus recomputes the non-terminal status after each event: an
// undecided approval takes priority over waiting on tools.
func deriveStatus(s *domain.RunState) domain.RunStatus {
	if s.Status.IsTerminal() {
		return s.Status
	}
	if s.HasPendingApproval() {
		return domain.RunStatusWaitingApproval
	}
	if s.HasPendingToolCalls() {
		return domain.RunStatusWaitingTool
	}
	return domain.RunStatusActive
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
