package dispatcher

import (
	"context"
	"log"
	"time"

	"github.com/relaymesh/orchestrator/internal/queue"
)

// Worker consumes work items from the queue and feeds them through the
// dispatcher. Many workers may run in parallel against a shared queue; no
// coordination between them is needed.
type Worker struct {
	queue        queue.Queue
	dispatcher   *Dispatcher
	pollInterval time.Duration
}

// NewWorker creates a worker.
func NewWorker(q queue.Queue, d *Dispatcher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Worker{queue: q, dispatcher: d, pollInterval: pollInterval}
}

// Run consumes until the context is cancelled. Cancellation stops new
// consumption; an item already being handled finishes its in-flight append
// rather than being aborted mid-write.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes items until the queue is momentarily empty.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		lease, err := w.queue.Dequeue(ctx)
		if err != nil {
			log.Printf("WARN: dequeue failed: %v", err)
			return
		}
		if lease == nil {
			return
		}
		w.handle(ctx, lease)
	}
}

// handle runs one delivery end to end. Follow-on items are enqueued before
// the ack: if enqueueing fails the delivery is nacked and the handler's
// idempotent re-derivation recovers the follow-ons on redelivery.
func (w *Worker) handle(ctx context.Context, lease *queue.Lease) {
	item := lease.Item
	result := w.dispatcher.HandleWorkItem(ctx, item)

	if !result.OK {
		log.Printf("WARN: work item %s (%s) failed on attempt %d: %s", item.ID, item.Kind, lease.Attempt, result.Reason)
		if err := w.queue.Nack(ctx, lease, result.Reason); err != nil {
			log.Printf("WARN: nack failed for %s: %v", item.ID, err)
		}
		return
	}

	if len(result.NewWorkItems) > 0 {
		if err := w.queue.Enqueue(ctx, result.NewWorkItems...); err != nil {
			log.Printf("ERROR: failed to enqueue follow-on items for %s: %v", item.ID, err)
			if err := w.queue.Nack(ctx, lease, "enqueue follow-on failed"); err != nil {
				log.Printf("WARN: nack failed for %s: %v", item.ID, err)
			}
			return
		}
	}

	if err := w.queue.Ack(ctx, lease); err != nil {
		// Lease lost after the append landed: the redelivery will observe
		// the recorded events and no-op.
		log.Printf("WARN: ack failed for %s: %v", item.ID, err)
	}
}
