package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/relaymesh/orchestrator/internal/domain"
)

// DecideApproval validates and enqueues a human decision on an approval
// gate. The dispatcher records the decision; the validation here only gives
// the caller a fast answer for the common mistakes.
func (s *Service) DecideApproval(ctx context.Context, runID, approvalID string, req domain.ApprovalDecisionRequest) error {
	switch req.Decision {
	case domain.ApprovalDecisionApprove, domain.ApprovalDecisionEditApprove, domain.ApprovalDecisionReject:
	default:
		return fmt.Errorf("invalid decision %q", req.Decision)
	}
	if req.Decision == domain.ApprovalDecisionEditApprove && len(req.EditedArgs) == 0 {
		return fmt.Errorf("edited_args is required for %s", domain.ApprovalDecisionEditApprove)
	}

	state, err := s.projectRun(ctx, runID)
	if err != nil {
		return err
	}
	approval, ok := state.Approvals[approvalID]
	if !ok {
		return ErrApprovalNotFound
	}
	if approval.Decided() {
		return fmt.Errorf("%w: %s", ErrAlreadyDecided, approval.Decision)
	}

	payload, err := json.Marshal(domain.ProcessApprovalPayload{
		ApprovalID: approvalID,
		Decision:   req.Decision,
		EditedArgs: req.EditedArgs,
		DecidedBy:  req.DecidedBy,
		Reason:     req.Reason,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal process_approval payload: %w", err)
	}

	item := domain.WorkItem{
		ID:       "wi_" + uuid.New().String(),
		RunID:    runID,
		TenantID: state.TenantID,
		Kind:     domain.WorkItemKindProcessApproval,
		Payload:  payload,
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("failed to enqueue process_approval: %w", err)
	}
	return nil
}
