// Package eventlog defines the append-only event log contract and its
// SQLite implementation.
package eventlog

import (
	"context"
	"errors"

	"github.com/relaymesh/orchestrator/internal/domain"
)

// ErrSeqConflict means another writer appended first. The caller must
// re-project and recompute its decision; the stale decision loses safely.
var ErrSeqConflict = errors.New("sequence conflict")

// Snapshot is a materialized RunState plus the sequence number it reflects.
// Snapshots are an optimization only; the log remains the source of truth.
type Snapshot struct {
	RunID string
	Seq   int64
	State *domain.RunState
}

// Log is the append-only, ordered-per-run event log.
type Log interface {
	// Append atomically appends events to a run. expectedSeq must equal the
	// run's current highest sequence number; otherwise ErrSeqConflict is
	// returned and nothing is written. Sequence numbers are assigned here.
	Append(ctx context.Context, runID string, expectedSeq int64, events []domain.Event) error

	// Read returns all events for a run in sequence order.
	Read(ctx context.Context, runID string) ([]domain.Event, error)

	// ReadFrom returns events with seq > afterSeq in sequence order.
	ReadFrom(ctx context.Context, runID string, afterSeq int64) ([]domain.Event, error)

	// SaveSnapshot stores a materialized state for a run, replacing any
	// older snapshot.
	SaveSnapshot(ctx context.Context, snap Snapshot) error

	// LoadSnapshot returns the latest snapshot for a run, or nil.
	LoadSnapshot(ctx context.Context, runID string) (*Snapshot, error)

	// ListRuns returns known run ids, newest first.
	ListRuns(ctx context.Context, limit int) ([]string, error)

	Close() error
}
