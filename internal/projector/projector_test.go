package projector

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/relaymesh/orchestrator/internal/domain"
)

func evt(t *testing.T, seq int64, typ domain.EventType, payload interface{}) domain.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return domain.Event{
		EventID: fmt.Sprintf("evt_%03d", seq),
		RunID:   "run_test",
		Seq:     seq,
		Ts:      1700000000000 + seq,
		Type:    typ,
		Payload: data,
	}
}

func startedEvents(t *testing.T) []domain.Event {
	t.Helper()
	return []domain.Event{
		evt(t, 1, domain.EventTypeRunStarted, domain.RunStartedPayload{
			TenantID:     "tenant_a",
			UserID:       "user_1",
			SystemPrompt: "You are a test assistant.",
			UserMessage:  "hello",
		}),
		evt(t, 2, domain.EventTypeLLMStarted, domain.LLMStartedPayload{StepID: "step_1", Model: "gpt-4o"}),
	}
}

func TestProjectSimpleCompletion(t *testing.T) {
	events := append(startedEvents(t),
		evt(t, 3, domain.EventTypeLLMCompleted, domain.LLMCompletedPayload{
			StepID:           "step_1",
			AssistantMessage: "hi there",
		}),
		evt(t, 4, domain.EventTypeRunCompleted, domain.RunCompletedPayload{FinalMessage: "hi there"}),
	)

	state, err := Project(events)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if state.Status != domain.RunStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", state.Status)
	}
	if state.FinalMessage != "hi there" {
		t.Fatalf("unexpected final message: %q", state.FinalMessage)
	}
	if state.LastSeq != 4 {
		t.Fatalf("expected last seq 4, got %d", state.LastSeq)
	}
	// system, user, assistant
	if len(state.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(state.Messages))
	}
	if state.Messages[2].Role != domain.RoleAssistant || state.Messages[2].Content != "hi there" {
		t.Fatalf("unexpected assistant message: %+v", state.Messages[2])
	}
}

func TestProjectStepLifecycle(t *testing.T) {
	state, err := Project(startedEvents(t))
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if state.CurrentStepID != "step_1" {
		t.Fatalf("expected in-flight step, got %q", state.CurrentStepID)
	}

	state, err = ProjectFrom(state, []domain.Event{
		evt(t, 3, domain.EventTypeLLMCompleted, domain.LLMCompletedPayload{StepID: "step_1", AssistantMessage: "done"}),
	})
	if err != nil {
		t.Fatalf("ProjectFrom failed: %v", err)
	}
	if state.CurrentStepID != "" {
		t.Fatalf("expected step cleared after completion, got %q", state.CurrentStepID)
	}
}

func TestProjectToolCallLifecycle(t *testing.T) {
	events := append(startedEvents(t),
		evt(t, 3, domain.EventTypeLLMCompleted, domain.LLMCompletedPayload{
			StepID: "step_1",
			ToolCallsRequested: []domain.ProposedToolCall{
				{ToolCallID: "tc_1", ToolName: "weather.query", Args: json.RawMessage(`{"city":"Tokyo"}`)},
			},
		}),
		evt(t, 4, domain.EventTypeToolCallRequested, domain.ToolCallRequestedPayload{
			ToolCallID:     "tc_1",
			ToolName:       "weather.query",
			Args:           json.RawMessage(`{"city":"Tokyo"}`),
			IdempotencyKey: "idem_1",
			StepID:         "step_1",
		}),
	)

	state, err := Project(events)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if state.Status != domain.RunStatusWaitingTool {
		t.Fatalf("expected WAITING_TOOL, got %s", state.Status)
	}
	if len(state.PendingToolCalls()) != 1 {
		t.Fatalf("expected 1 pending call, got %d", len(state.PendingToolCalls()))
	}

	state, err = ProjectFrom(state, []domain.Event{
		evt(t, 5, domain.EventTypeToolCallCompleted, domain.ToolCallCompletedPayload{
			ToolCallID: "tc_1",
			Result:     json.RawMessage(`{"weather":"Sunny"}`),
		}),
	})
	if err != nil {
		t.Fatalf("ProjectFrom failed: %v", err)
	}
	if state.Status != domain.RunStatusActive {
		t.Fatalf("expected ACTIVE after result, got %s", state.Status)
	}
	tc := state.ToolCalls["tc_1"]
	if tc.Status != domain.ToolCallStatusCompleted {
		t.Fatalf("expected COMPLETED call, got %s", tc.Status)
	}
	last := state.Messages[len(state.Messages)-1]
	if last.Role != domain.RoleTool || last.ToolCallID != "tc_1" {
		t.Fatalf("expected tool result message, got %+v", last)
	}
}

func TestProjectIdenticalResultRepeatIsIdempotent(t *testing.T) {
	result := domain.ToolCallCompletedPayload{ToolCallID: "tc_1", Result: json.RawMessage(`{"ok":true}`)}
	events := append(startedEvents(t),
		evt(t, 3, domain.EventTypeToolCallRequested, domain.ToolCallRequestedPayload{
			ToolCallID: "tc_1", ToolName: "weather.query", IdempotencyKey: "idem_1", StepID: "step_1",
		}),
		evt(t, 4, domain.EventTypeToolCallCompleted, result),
		evt(t, 5, domain.EventTypeToolCallCompleted, result),
	)

	state, err := Project(events)
	if err != nil {
		t.Fatalf("expected identical repeat to fold cleanly: %v", err)
	}
	if state.ToolCalls["tc_1"].Status != domain.ToolCallStatusCompleted {
		t.Fatalf("unexpected call state: %+v", state.ToolCalls["tc_1"])
	}
	// The repeat must not duplicate the tool result message.
	count := 0
	for _, m := range state.Messages {
		if m.ToolCallID == "tc_1" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected 1 tool message, got %d", count)
	}
}

func TestProjectConflictingResultRepeat(t *testing.T) {
	events := append(startedEvents(t),
		evt(t, 3, domain.EventTypeToolCallRequested, domain.ToolCallRequestedPayload{
			ToolCallID: "tc_1", ToolName: "weather.query", IdempotencyKey: "idem_1", StepID: "step_1",
		}),
		evt(t, 4, domain.EventTypeToolCallCompleted, domain.ToolCallCompletedPayload{
			ToolCallID: "tc_1", Result: json.RawMessage(`{"n":1}`),
		}),
		evt(t, 5, domain.EventTypeToolCallCompleted, domain.ToolCallCompletedPayload{
			ToolCallID: "tc_1", Result: json.RawMessage(`{"n":2}`),
		}),
	)

	if _, err := Project(events); !errors.Is(err, ErrResultMismatch) {
		t.Fatalf("expected ErrResultMismatch, got %v", err)
	}
}

func TestProjectResultForUnknownCall(t *testing.T) {
	events := append(startedEvents(t),
		evt(t, 3, domain.EventTypeToolCallCompleted, domain.ToolCallCompletedPayload{ToolCallID: "tc_missing"}),
	)
	if _, err := Project(events); !errors.Is(err, ErrUnknownToolCall) {
		t.Fatalf("expected ErrUnknownToolCall, got %v", err)
	}
}

func TestProjectOutOfOrder(t *testing.T) {
	events := startedEvents(t)
	events[1].Seq = 1 // duplicate of the first event's seq
	if _, err := Project(events); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
}

func TestProjectNothingAfterFailed(t *testing.T) {
	events := append(startedEvents(t),
		evt(t, 3, domain.EventTypeRunFailed, domain.RunFailedPayload{Code: "boom", Message: "exploded"}),
		evt(t, 4, domain.EventTypeUserMessage, domain.UserMessagePayload{UserID: "user_1", Content: "hello?"}),
	)
	if _, err := Project(events); !errors.Is(err, ErrAfterTerminal) {
		t.Fatalf("expected ErrAfterTerminal, got %v", err)
	}
}

func TestProjectReopenAfterCompleted(t *testing.T) {
	events := append(startedEvents(t),
		evt(t, 3, domain.EventTypeLLMCompleted, domain.LLMCompletedPayload{StepID: "step_1", AssistantMessage: "bye"}),
		evt(t, 4, domain.EventTypeRunCompleted, domain.RunCompletedPayload{FinalMessage: "bye"}),
		evt(t, 5, domain.EventTypeUserMessage, domain.UserMessagePayload{UserID: "user_1", Content: "one more thing"}),
		evt(t, 6, domain.EventTypeLLMStarted, domain.LLMStartedPayload{StepID: "step_2", Model: "gpt-4o"}),
	)

	state, err := Project(events)
	if err != nil {
		t.Fatalf("expected reopen to fold cleanly: %v", err)
	}
	if state.Status != domain.RunStatusActive {
		t.Fatalf("expected ACTIVE after reopen, got %s", state.Status)
	}
	if state.FinalMessage != "" {
		t.Fatalf("expected final message cleared on reopen, got %q", state.FinalMessage)
	}
	if state.CurrentStepID != "step_2" {
		t.Fatalf("expected new step in flight, got %q", state.CurrentStepID)
	}
}

func TestProjectApprovalGate(t *testing.T) {
	events := append(startedEvents(t),
		evt(t, 3, domain.EventTypeToolCallRequested, domain.ToolCallRequestedPayload{
			ToolCallID: "tc_1", ToolName: "payments.transfer",
			Args:           json.RawMessage(`{"amount":500,"to":"acct_9"}`),
			IdempotencyKey: "idem_1", StepID: "step_1",
		}),
		evt(t, 4, domain.EventTypeApprovalRequested, domain.ApprovalRequestedPayload{
			ApprovalID: "ap_1", ToolCallID: "tc_1", ToolName: "payments.transfer",
			OriginalArgs: json.RawMessage(`{"amount":500,"to":"acct_9"}`),
		}),
	)

	state, err := Project(events)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if state.Status != domain.RunStatusWaitingApproval {
		t.Fatalf("expected WAITING_APPROVAL, got %s", state.Status)
	}
	// A gated call is pending but not executable.
	if len(state.PendingToolCalls()) != 0 {
		t.Fatalf("gated call must not be executable")
	}
	if state.GatedBy("tc_1") == nil {
		t.Fatalf("expected tc_1 to be gated")
	}

	state, err = ProjectFrom(state, []domain.Event{
		evt(t, 5, domain.EventTypeApprovalDecided, domain.ApprovalDecidedPayload{
			ApprovalID: "ap_1", Decision: domain.ApprovalDecisionEditApprove,
			EditedArgs: json.RawMessage(`{"amount":50,"to":"acct_9"}`),
			DecidedBy:  "user_1",
		}),
	})
	if err != nil {
		t.Fatalf("ProjectFrom failed: %v", err)
	}
	if state.Status != domain.RunStatusWaitingTool {
		t.Fatalf("expected WAITING_TOOL after decision, got %s", state.Status)
	}
	if state.GatedBy("tc_1") != nil {
		t.Fatalf("expected gate resolved")
	}
	if got := string(state.EffectiveArgs("tc_1")); got != `{"amount":50,"to":"acct_9"}` {
		t.Fatalf("expected edited args to win, got %s", got)
	}
	if len(state.PendingToolCalls()) != 1 {
		t.Fatalf("expected tc_1 executable after approval")
	}
}

func TestProjectDuplicateApprovalDecisionIsIdempotent(t *testing.T) {
	decided := domain.ApprovalDecidedPayload{
		ApprovalID: "ap_1", Decision: domain.ApprovalDecisionApprove, DecidedBy: "user_1",
	}
	events := append(startedEvents(t),
		evt(t, 3, domain.EventTypeToolCallRequested, domain.ToolCallRequestedPayload{
			ToolCallID: "tc_1", ToolName: "payments.transfer", IdempotencyKey: "idem_1", StepID: "step_1",
		}),
		evt(t, 4, domain.EventTypeApprovalRequested, domain.ApprovalRequestedPayload{ApprovalID: "ap_1", ToolCallID: "tc_1"}),
		evt(t, 5, domain.EventTypeApprovalDecided, decided),
		evt(t, 6, domain.EventTypeApprovalDecided, decided),
	)
	if _, err := Project(events); err != nil {
		t.Fatalf("expected identical repeat decision to fold cleanly: %v", err)
	}

	events[5] = evt(t, 6, domain.EventTypeApprovalDecided, domain.ApprovalDecidedPayload{
		ApprovalID: "ap_1", Decision: domain.ApprovalDecisionReject, DecidedBy: "user_2",
	})
	if _, err := Project(events); !errors.Is(err, ErrResultMismatch) {
		t.Fatalf("expected ErrResultMismatch for conflicting decision, got %v", err)
	}
}

func TestProjectFromSnapshotMatchesFullFold(t *testing.T) {
	build := func() []domain.Event {
		return append(startedEvents(t),
			evt(t, 3, domain.EventTypeLLMCompleted, domain.LLMCompletedPayload{
				StepID: "step_1",
				ToolCallsRequested: []domain.ProposedToolCall{
					{ToolCallID: "tc_1", ToolName: "weather.query", Args: json.RawMessage(`{"city":"Oslo"}`)},
				},
			}),
			evt(t, 4, domain.EventTypeToolCallRequested, domain.ToolCallRequestedPayload{
				ToolCallID: "tc_1", ToolName: "weather.query",
				Args:           json.RawMessage(`{"city":"Oslo"}`),
				IdempotencyKey: "idem_1", StepID: "step_1",
			}),
			evt(t, 5, domain.EventTypeToolCallCompleted, domain.ToolCallCompletedPayload{
				ToolCallID: "tc_1", Result: json.RawMessage(`{"weather":"Rain"}`),
			}),
		)
	}

	full, err := Project(build())
	if err != nil {
		t.Fatalf("full fold failed: %v", err)
	}

	events := build()
	prefix, err := Project(events[:3])
	if err != nil {
		t.Fatalf("prefix fold failed: %v", err)
	}
	// Round-trip the prefix through JSON the way a stored snapshot would be.
	data, err := json.Marshal(prefix)
	if err != nil {
		t.Fatalf("failed to marshal prefix state: %v", err)
	}
	restored := domain.NewRunState()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("failed to unmarshal prefix state: %v", err)
	}
	resumed, err := ProjectFrom(restored, events[3:])
	if err != nil {
		t.Fatalf("resumed fold failed: %v", err)
	}

	if !reflect.DeepEqual(full, resumed) {
		t.Fatalf("snapshot fold diverged from full fold:\nfull:    %+v\nresumed: %+v", full, resumed)
	}
}

func TestIsProjectionError(t *testing.T) {
	if !IsProjectionError(fmt.Errorf("wrapped: %w", ErrOutOfOrder)) {
		t.Fatalf("expected wrapped sentinel to match")
	}
	if IsProjectionError(errors.New("network timeout")) {
		t.Fatalf("transient errors are not projection errors")
	}
	if IsProjectionError(nil) {
		t.Fatalf("nil is not a projection error")
	}
}
