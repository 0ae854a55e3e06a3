package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/relaymesh/orchestrator/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteLog implements Log using SQLite. A UNIQUE(run_id, seq) index backs
// the optimistic append: concurrent writers race on the same sequence range
// and exactly one wins.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog opens the database and runs migrations.
func NewSQLiteLog(dsn string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	l := &SQLiteLog{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return l, nil
}

func (l *SQLiteLog) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS run_events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			tenant_id TEXT,
			correlation_id TEXT,
			step_id TEXT,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			UNIQUE (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, seq)`,
		`CREATE TABLE IF NOT EXISTS run_snapshots (
			run_id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			state TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := l.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

// Append appends events within one transaction. Sequence numbers continue
// from expectedSeq; a mismatch with the stored maximum is ErrSeqConflict.
func (l *SQLiteLog) Append(ctx context.Context, runID string, expectedSeq int64, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM run_events WHERE run_id = ?`, runID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("failed to read current seq: %w", err)
	}
	current := int64(0)
	if maxSeq.Valid {
		current = maxSeq.Int64
	}
	if current != expectedSeq {
		return fmt.Errorf("%w: run %s expected %d, log at %d", ErrSeqConflict, runID, expectedSeq, current)
	}

	seq := current
	for _, evt := range events {
		seq++
		payload := ""
		if evt.Payload != nil {
			payload = string(evt.Payload)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_events (event_id, run_id, tenant_id, correlation_id, step_id, seq, ts, type, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.EventID, runID, evt.TenantID, evt.CorrelationID, evt.StepID, seq, evt.Ts, evt.Type, payload); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}
	return nil
}

// Read returns all events for a run in sequence order.
func (l *SQLiteLog) Read(ctx context.Context, runID string) ([]domain.Event, error) {
	return l.ReadFrom(ctx, runID, 0)
}

// ReadFrom returns events with seq > afterSeq in sequence order.
func (l *SQLiteLog) ReadFrom(ctx context.Context, runID string, afterSeq int64) ([]domain.Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT event_id, run_id, tenant_id, correlation_id, step_id, seq, ts, type, payload
		 FROM run_events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`,
		runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var evt domain.Event
		var tenantID, correlationID, stepID, payload sql.NullString
		if err := rows.Scan(&evt.EventID, &evt.RunID, &tenantID, &correlationID, &stepID,
			&evt.Seq, &evt.Ts, &evt.Type, &payload); err != nil {
			return nil, err
		}
		if tenantID.Valid {
			evt.TenantID = tenantID.String
		}
		if correlationID.Valid {
			evt.CorrelationID = correlationID.String
		}
		if stepID.Valid {
			evt.StepID = stepID.String
		}
		if payload.Valid && payload.String != "" {
			evt.Payload = json.RawMessage(payload.String)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// SaveSnapshot stores the materialized state for a run.
func (l *SQLiteLog) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	state, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot state: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO run_snapshots (run_id, seq, state) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET seq = excluded.seq, state = excluded.state
		 WHERE excluded.seq > run_snapshots.seq`,
		snap.RunID, snap.Seq, string(state))
	return err
}

// LoadSnapshot returns the latest snapshot for a run, or nil if none exists.
func (l *SQLiteLog) LoadSnapshot(ctx context.Context, runID string) (*Snapshot, error) {
	var seq int64
	var stateStr string
	err := l.db.QueryRowContext(ctx,
		`SELECT seq, state FROM run_snapshots WHERE run_id = ?`, runID).Scan(&seq, &stateStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := domain.NewRunState()
	if err := json.Unmarshal([]byte(stateStr), state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot state: %w", err)
	}
	if state.ToolCalls == nil {
		state.ToolCalls = make(map[string]*domain.ToolCallState)
	}
	if state.Approvals == nil {
		state.Approvals = make(map[string]*domain.ApprovalState)
	}
	return &Snapshot{RunID: runID, Seq: seq, State: state}, nil
}

// ListRuns returns known run ids, newest first by first-event timestamp.
func (l *SQLiteLog) ListRuns(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT run_id, MIN(ts) AS started FROM run_events GROUP BY run_id ORDER BY started DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var runID string
		var started int64
		if err := rows.Scan(&runID, &started); err != nil {
			return nil, err
		}
		runs = append(runs, runID)
	}
	return runs, rows.Err()
}
