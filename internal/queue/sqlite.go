package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaymesh/orchestrator/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteQueue implements Queue on SQLite with lease-based visibility.
// Multiple workers may share one queue; a dequeue leases an item for
// LeaseDuration and an unacked lease is handed out again after expiry.
type SQLiteQueue struct {
	db            *sql.DB
	leaseDuration time.Duration
}

// NewSQLiteQueue opens the database and runs migrations.
func NewSQLiteQueue(dsn string, leaseDuration time.Duration) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	q := &SQLiteQueue{db: db, leaseDuration: leaseDuration}
	if err := q.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return q, nil
}

func (q *SQLiteQueue) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			tenant_id TEXT,
			correlation_id TEXT,
			kind TEXT NOT NULL,
			payload TEXT,
			status TEXT NOT NULL DEFAULT 'queued',
			attempts INTEGER NOT NULL DEFAULT 0,
			lease_token TEXT,
			lease_expires_at INTEGER,
			last_failure TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_ready ON work_items(status, lease_expires_at, created_at)`,
	}
	for _, m := range migrations {
		if _, err := q.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

// Enqueue inserts items as queued. Duplicate ids are ignored: enqueueing the
// same scheduling hint twice is harmless.
func (q *SQLiteQueue) Enqueue(ctx context.Context, items ...domain.WorkItem) error {
	now := time.Now().UnixMilli()
	for _, item := range items {
		payload := ""
		if item.Payload != nil {
			payload = string(item.Payload)
		}
		if _, err := q.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO work_items (id, run_id, tenant_id, correlation_id, kind, payload, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, 'queued', ?)`,
			item.ID, item.RunID, item.TenantID, item.CorrelationID, item.Kind, payload, now); err != nil {
			return fmt.Errorf("failed to enqueue work item: %w", err)
		}
	}
	return nil
}

// Dequeue leases the oldest item that is queued or whose lease expired.
func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Lease, error) {
	now := time.Now().UnixMilli()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var item domain.WorkItem
	var payload sql.NullString
	var tenantID, correlationID sql.NullString
	var attempts int
	err = tx.QueryRowContext(ctx,
		`SELECT id, run_id, tenant_id, correlation_id, kind, payload, attempts FROM work_items
		 WHERE status = 'queued' OR (status = 'inflight' AND lease_expires_at < ?)
		 ORDER BY created_at ASC LIMIT 1`,
		now).Scan(&item.ID, &item.RunID, &tenantID, &correlationID, &item.Kind, &payload, &attempts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if tenantID.Valid {
		item.TenantID = tenantID.String
	}
	if correlationID.Valid {
		item.CorrelationID = correlationID.String
	}
	if payload.Valid && payload.String != "" {
		item.Payload = json.RawMessage(payload.String)
	}

	token := uuid.New().String()
	if _, err := tx.ExecContext(ctx,
		`UPDATE work_items SET status = 'inflight', attempts = attempts + 1, lease_token = ?, lease_expires_at = ?
		 WHERE id = ?`,
		token, now+q.leaseDuration.Milliseconds(), item.ID); err != nil {
		return nil, fmt.Errorf("failed to lease work item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lease: %w", err)
	}

	return &Lease{Item: item, Token: token, Attempt: attempts + 1}, nil
}

// Ack deletes the item if the lease is still held.
func (q *SQLiteQueue) Ack(ctx context.Context, lease *Lease) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM work_items WHERE id = ? AND lease_token = ?`,
		lease.Item.ID, lease.Token)
	if err != nil {
		return fmt.Errorf("failed to ack work item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, lease.Item.ID)
	}
	return nil
}

// Nack returns the item to the queue for redelivery.
func (q *SQLiteQueue) Nack(ctx context.Context, lease *Lease, reason string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE work_items SET status = 'queued', lease_token = NULL, lease_expires_at = NULL, last_failure = ?
		 WHERE id = ? AND lease_token = ?`,
		reason, lease.Item.ID, lease.Token)
	if err != nil {
		return fmt.Errorf("failed to nack work item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, lease.Item.ID)
	}
	return nil
}
