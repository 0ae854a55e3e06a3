package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relaymesh/orchestrator/internal/domain"
)

// MemoryQueue is an in-process Queue with the same at-least-once semantics
// as the SQLite queue. Used in tests and single-process deployments.
type MemoryQueue struct {
	mu            sync.Mutex
	ready         []domain.WorkItem
	inflight      map[string]*memoryLease // keyed by work item id
	seen          map[string]bool
	attempts      map[string]int
	leaseDuration time.Duration
}

type memoryLease struct {
	item    domain.WorkItem
	token   string
	expires time.Time
	attempt int
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(leaseDuration time.Duration) *MemoryQueue {
	return &MemoryQueue{
		inflight:      make(map[string]*memoryLease),
		seen:          make(map[string]bool),
		attempts:      make(map[string]int),
		leaseDuration: leaseDuration,
	}
}

// Enqueue appends items; duplicate ids are ignored.
func (q *MemoryQueue) Enqueue(ctx context.Context, items ...domain.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range items {
		if q.seen[item.ID] {
			continue
		}
		q.seen[item.ID] = true
		q.ready = append(q.ready, item)
	}
	return nil
}

// Dequeue leases the next ready item, reclaiming expired leases first.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Lease, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for id, l := range q.inflight {
		if now.After(l.expires) {
			q.ready = append(q.ready, l.item)
			delete(q.inflight, id)
		}
	}

	if len(q.ready) == 0 {
		return nil, nil
	}
	item := q.ready[0]
	q.ready = q.ready[1:]

	q.attempts[item.ID]++
	attempt := q.attempts[item.ID]
	l := &memoryLease{
		item:    item,
		token:   uuid.New().String(),
		expires: now.Add(q.leaseDuration),
		attempt: attempt,
	}
	q.inflight[item.ID] = l
	return &Lease{Item: item, Token: l.token, Attempt: attempt}, nil
}

// Ack completes a delivery.
func (q *MemoryQueue) Ack(ctx context.Context, lease *Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.inflight[lease.Item.ID]
	if !ok || l.token != lease.Token {
		return fmt.Errorf("%w: %s", ErrLeaseLost, lease.Item.ID)
	}
	delete(q.inflight, lease.Item.ID)
	return nil
}

// Nack releases a delivery for immediate redelivery.
func (q *MemoryQueue) Nack(ctx context.Context, lease *Lease, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.inflight[lease.Item.ID]
	if !ok || l.token != lease.Token {
		return fmt.Errorf("%w: %s", ErrLeaseLost, lease.Item.ID)
	}
	delete(q.inflight, lease.Item.ID)
	q.ready = append(q.ready, lease.Item)
	return nil
}

// Len reports ready plus inflight items.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.inflight)
}

// Close is a no-op for the in-memory queue.
func (q *MemoryQueue) Close() error {
	return nil
}
