// Package dispatcher drives runs forward: it consumes work items, projects
// the run's current state from the event log, decides the next action per
// the run state machine, appends new events, and emits follow-on work items.
//
// Correctness under concurrent workers relies on two things only: the event
// log enforces a single linear append order per run (optimistic append), and
// every decision is recomputed from a fresh projection immediately before
// acting, so a stale decision loses the append race safely.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/relaymesh/orchestrator/internal/adapter/llm"
	"github.com/relaymesh/orchestrator/internal/config"
	"github.com/relaymesh/orchestrator/internal/domain"
	"github.com/relaymesh/orchestrator/internal/eventlog"
	"github.com/relaymesh/orchestrator/internal/projector"
	"github.com/relaymesh/orchestrator/internal/tools"
	"github.com/relaymesh/orchestrator/policy"
)

// Dispatcher holds the collaborators every handler needs. It is safe for
// concurrent use; all mutable shared state lives in the event log.
type Dispatcher struct {
	log      eventlog.Log
	registry *tools.Registry
	model    llm.Client
	policy   *policy.Engine
	config   *config.Config
}

// New creates a dispatcher.
func New(eventLog eventlog.Log, registry *tools.Registry, model llm.Client, policyEngine *policy.Engine, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		log:      eventLog,
		registry: registry,
		model:    model,
		policy:   policyEngine,
		config:   cfg,
	}
}

// HandleWorkItem processes one work item and returns the result the queue
// acts on. Panics and errors never escape this boundary; they become a
// failed result so the queue applies its own redelivery policy. No run_failed
// event is ever appended here.
func (d *Dispatcher) HandleWorkItem(ctx context.Context, item domain.WorkItem) (res domain.WorkItemResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: panic handling work item %s (%s): %v", item.ID, item.Kind, r)
			res = domain.FailResult(fmt.Sprintf("panic: %v", r))
		}
	}()

	state, err := d.project(ctx, item.RunID)
	if err != nil {
		if projector.IsProjectionError(err) {
			// The log is in a state we cannot safely act on. Distinct from a
			// transient failure so callers do not retry blindly.
			log.Printf("ERROR: projection failed for run %s: %v", item.RunID, err)
			return domain.FailResult("projection: " + err.Error())
		}
		return domain.FailResult(fmt.Sprintf("failed to project run %s: %v", item.RunID, err))
	}

	switch item.Kind {
	case domain.WorkItemKindOrchestrateRun:
		return d.handleOrchestrate(ctx, state, item)
	case domain.WorkItemKindContinueRun:
		return d.handleContinue(ctx, state, item)
	case domain.WorkItemKindProcessApproval:
		return d.handleProcessApproval(ctx, state, item)
	case domain.WorkItemKindExecuteLLMCall:
		return d.handleExecuteLLM(ctx, state, item)
	case domain.WorkItemKindExecuteToolCall:
		return d.handleExecuteTool(ctx, state, item)
	default:
		return domain.FailResult(fmt.Sprintf("unsupported work item kind %q", item.Kind))
	}
}

// project rebuilds the run's state, folding from the latest snapshot when
// one exists. Snapshot use is an optimization only and is observationally
// identical to a full fold.
func (d *Dispatcher) project(ctx context.Context, runID string) (*domain.RunState, error) {
	var state *domain.RunState
	var afterSeq int64

	snap, err := d.log.LoadSnapshot(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap != nil {
		state = snap.State
		afterSeq = snap.Seq
	} else {
		state = domain.NewRunState()
	}

	events, err := d.log.ReadFrom(ctx, runID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	state, err = projector.ProjectFrom(state, events)
	if err != nil {
		return nil, err
	}
	if state.RunID == "" {
		// Empty log: run_started has not landed yet. Appends must still go
		// to the requested run, never to the empty id.
		state.RunID = runID
	}

	if d.config.SnapshotEvery > 0 && len(events) >= d.config.SnapshotEvery && state.RunID != "" {
		if err := d.log.SaveSnapshot(ctx, eventlog.Snapshot{RunID: runID, Seq: state.LastSeq, State: state}); err != nil {
			log.Printf("WARN: failed to save snapshot for run %s: %v", runID, err)
		}
	}
	return state, nil
}

// append writes events at the projection's sequence position. A sequence
// conflict means another worker acted first; the caller fails the work item
// and lets redelivery recompute the decision.
func (d *Dispatcher) append(ctx context.Context, state *domain.RunState, events []domain.Event) error {
	if err := d.log.Append(ctx, state.RunID, state.LastSeq, events); err != nil {
		if errors.Is(err, eventlog.ErrSeqConflict) {
			return fmt.Errorf("lost append race for run %s: %w", state.RunID, err)
		}
		return fmt.Errorf("failed to append events for run %s: %w", state.RunID, err)
	}
	return nil
}

// newEvent builds an event envelope inheriting the work item's identifiers.
// Seq is assigned by the log at append time.
func newEvent(item domain.WorkItem, stepID string, eventType domain.EventType, payload interface{}) domain.Event {
	return domain.Event{
		EventID:       "evt_" + uuid.New().String()[:8],
		RunID:         item.RunID,
		TenantID:      item.TenantID,
		CorrelationID: item.CorrelationID,
		StepID:        stepID,
		Ts:            time.Now().UnixMilli(),
		Type:          eventType,
		Payload:       mustMarshal(payload),
	}
}

// newWorkItem builds a follow-on work item inheriting the parent's
// identifiers. Each emission gets a fresh id: the queue deduplicates by id
// and a re-emitted hint must not be dropped.
func newWorkItem(parent domain.WorkItem, kind domain.WorkItemKind, payload interface{}) domain.WorkItem {
	return domain.WorkItem{
		ID:            "wi_" + uuid.New().String(),
		RunID:         parent.RunID,
		TenantID:      parent.TenantID,
		CorrelationID: parent.CorrelationID,
		Kind:          kind,
		Payload:       mustMarshal(payload),
	}
}
