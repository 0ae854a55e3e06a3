package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaymesh/orchestrator/internal/domain"
	"github.com/relaymesh/orchestrator/internal/projector"
)

// StartRun creates a run: it appends run_started as the first event and
// enqueues the orchestration work item that drives everything else.
func (s *Service) StartRun(ctx context.Context, req domain.StartRunRequest) (*domain.StartRunResponse, error) {
	if req.UserMessage == "" {
		return nil, fmt.Errorf("user_message is required")
	}

	runID := "run_" + uuid.New().String()[:8]
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = "corr_" + uuid.New().String()[:8]
	}
	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = s.config.SystemPrompt
	}

	payload, err := json.Marshal(domain.RunStartedPayload{
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		SystemPrompt: systemPrompt,
		UserMessage:  req.UserMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run_started payload: %w", err)
	}

	evt := domain.Event{
		EventID:       "evt_" + uuid.New().String()[:8],
		RunID:         runID,
		TenantID:      req.TenantID,
		CorrelationID: correlationID,
		Ts:            time.Now().UnixMilli(),
		Type:          domain.EventTypeRunStarted,
		Payload:       payload,
	}
	if err := s.log.Append(ctx, runID, 0, []domain.Event{evt}); err != nil {
		return nil, fmt.Errorf("failed to append run_started: %w", err)
	}

	item := domain.WorkItem{
		ID:            "wi_" + uuid.New().String(),
		RunID:         runID,
		TenantID:      req.TenantID,
		CorrelationID: correlationID,
		Kind:          domain.WorkItemKindOrchestrateRun,
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue orchestrate_run: %w", err)
	}

	return &domain.StartRunResponse{RunID: runID, Status: domain.RunStatusActive}, nil
}

// SendMessage accepts a follow-up user message. A COMPLETED run is reopened;
// a FAILED run refuses further input.
func (s *Service) SendMessage(ctx context.Context, runID string, req domain.SendMessageRequest) error {
	if req.Content == "" {
		return fmt.Errorf("content is required")
	}

	state, err := s.projectRun(ctx, runID)
	if err != nil {
		return err
	}
	if state.Status == domain.RunStatusFailed {
		return fmt.Errorf("%w: %s", ErrRunTerminal, state.Status)
	}

	actor := req.UserID
	if actor == "" {
		actor = state.UserID
	}
	payload, err := json.Marshal(domain.ContinueRunPayload{
		FollowUpMessage: req.Content,
		OnBehalfOf:      actor,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal continue_run payload: %w", err)
	}

	item := domain.WorkItem{
		ID:       "wi_" + uuid.New().String(),
		RunID:    runID,
		TenantID: state.TenantID,
		Kind:     domain.WorkItemKindContinueRun,
		Payload:  payload,
	}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("failed to enqueue continue_run: %w", err)
	}
	return nil
}

// GetRun returns the projected view of a run.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.RunSummary, error) {
	state, err := s.projectRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	summary := &domain.RunSummary{
		RunID:        state.RunID,
		TenantID:     state.TenantID,
		Status:       state.Status,
		Messages:     state.Messages,
		FinalMessage: state.FinalMessage,
		FailureCode:  state.FailureCode,
		LastSeq:      state.LastSeq,
	}
	for _, a := range state.Approvals {
		if !a.Decided() {
			summary.PendingApprovals = append(summary.PendingApprovals, a)
		}
	}
	return summary, nil
}

// ListRuns returns known run ids, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]string, error) {
	runs, err := s.log.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ListEvents returns a run's raw events after the given sequence number.
func (s *Service) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]domain.Event, error) {
	events, err := s.log.ReadFrom(ctx, runID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// projectRun folds the full log; reads never depend on snapshots.
func (s *Service) projectRun(ctx context.Context, runID string) (*domain.RunState, error) {
	events, err := s.log.Read(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	if len(events) == 0 {
		return nil, ErrRunNotFound
	}
	state, err := projector.Project(events)
	if err != nil {
		return nil, fmt.Errorf("failed to project run: %w", err)
	}
	return state, nil
}
