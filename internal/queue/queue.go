// Package queue provides the durable work-item queue the dispatcher
// schedules through. Delivery is at-least-once: a leased item that is not
// acked before its lease expires is redelivered, possibly to another worker.
package queue

import (
	"context"
	"errors"

	"github.com/relaymesh/orchestrator/internal/domain"
)

// ErrLeaseLost means the lease expired or was taken over before Ack/Nack.
// The item has been (or will be) redelivered; the caller's work must already
// be safe against that.
var ErrLeaseLost = errors.New("work item lease lost")

// Lease is one delivery of a work item. Token ties Ack/Nack to this
// delivery so a late ack after redelivery is rejected.
type Lease struct {
	Item    domain.WorkItem
	Token   string
	Attempt int
}

// Queue is the work-item transport contract.
type Queue interface {
	// Enqueue makes items eligible for delivery. Items are transient
	// scheduling hints; losing one must never corrupt run state.
	Enqueue(ctx context.Context, items ...domain.WorkItem) error

	// Dequeue leases the next available item, or returns nil when the queue
	// is empty.
	Dequeue(ctx context.Context) (*Lease, error)

	// Ack completes a delivery.
	Ack(ctx context.Context, lease *Lease) error

	// Nack releases a delivery for redelivery.
	Nack(ctx context.Context, lease *Lease, reason string) error

	Close() error
}
