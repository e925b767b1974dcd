// Package dispatch carries alert-delivery jobs from the request path to the
// delivery workers. The queue itself is durable (store-backed); this package
// adds in-process wake-up so idle workers do not busy-poll, plus the worker
// pool with its retry/backoff/dead-letter state machine.
package dispatch

import (
    "context"
    "time"

    "geowatch/internal/model"
    "geowatch/internal/store"
)

type Queue struct {
    Store store.Store
    // Lease is how long a claimed job stays invisible to other workers.
    Lease time.Duration
    // Poll bounds how long a worker sleeps before re-checking for due
    // retries and expired leases, including jobs enqueued by other processes.
    Poll time.Duration

    wake chan struct{}
}

func NewQueue(s store.Store, lease, poll time.Duration) *Queue {
    if lease <= 0 { lease = 30 * time.Second }
    if poll <= 0 { poll = time.Second }
    return &Queue{Store: s, Lease: lease, Poll: poll, wake: make(chan struct{}, 1)}
}

// Enqueue durably persists one job per token and returns after the store
// write succeeds. The wake signal is best effort; a full channel means a
// worker is already due to look.
func (q *Queue) Enqueue(ctx context.Context, alertID string, tokens []string) ([]model.DeliveryJob, error) {
    jobs, err := q.Store.EnqueueDeliveryJobs(ctx, alertID, tokens)
    if err != nil { return nil, err }
    q.Wake()
    return jobs, nil
}

// Wake nudges one idle worker, for callers that enqueue work out of band
// (e.g. an admin requeue that writes through the store directly).
func (q *Queue) Wake() {
    select { case q.wake <- struct{}{}: default: }
}

// Claim leases up to limit due jobs for this worker.
func (q *Queue) Claim(ctx context.Context, limit int) ([]model.DeliveryJob, error) {
    return q.Store.ClaimDueDeliveryJobs(ctx, limit, q.Lease)
}

// Wait blocks until new work is signaled, the poll interval elapses, or the
// context is canceled.
func (q *Queue) Wait(ctx context.Context) error {
    t := time.NewTimer(q.Poll)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-q.wake:
        return nil
    case <-t.C:
        return nil
    }
}
