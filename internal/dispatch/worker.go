package dispatch

import (
    "context"
    "log"
    "strconv"
    "sync"
    "time"

    "geowatch/internal/metrics"
    "geowatch/internal/model"
    "geowatch/internal/push"
    "geowatch/internal/store"
)

// Worker drains the dispatch queue and drives each job through its delivery
// state machine: in_flight -> sent, back to pending with backoff on a
// transient failure, or dead_lettered on a permanent failure or retry
// exhaustion.
type Worker struct {
    Queue  *Queue
    Store  store.Store
    Sender push.Sender

    // AttemptTimeout bounds a single Sender.Send call.
    AttemptTimeout time.Duration
    // MaxAttempts is the total attempt budget before dead-lettering.
    MaxAttempts int
    // BackoffBase is the delay after the first transient failure; it doubles
    // per attempt.
    BackoffBase time.Duration
    BatchSize   int

    // OnTokenInvalid is raised for permanent failures so the device registry
    // can drop the token. May be nil.
    OnTokenInvalid func(ctx context.Context, token string)
}

func NewWorker(q *Queue, s store.Store, sender push.Sender) *Worker {
    return &Worker{
        Queue:          q,
        Store:          s,
        Sender:         sender,
        AttemptTimeout: 10 * time.Second,
        MaxAttempts:    5,
        BackoffBase:    5 * time.Second,
        BatchSize:      50,
    }
}

// Run processes jobs until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
    for {
        n := w.processOnce(ctx)
        if ctx.Err() != nil { return }
        if n == 0 {
            if err := w.Queue.Wait(ctx); err != nil { return }
        }
    }
}

// RunPool starts n workers sharing one queue and blocks until all exit.
func RunPool(ctx context.Context, w *Worker, n int) {
    if n <= 0 { n = 1 }
    var wg sync.WaitGroup
    for i := 0; i < n; i++ {
        wg.Add(1)
        go func() { defer wg.Done(); w.Run(ctx) }()
    }
    wg.Wait()
}

func (w *Worker) processOnce(ctx context.Context) int {
    jobs, err := w.Queue.Claim(ctx, w.BatchSize)
    if err != nil {
        if ctx.Err() == nil { log.Printf("dispatch: claim failed: %v", err) }
        return 0
    }
    for _, j := range jobs {
        w.deliver(ctx, j)
    }
    if n, err := w.Store.QueuedJobCount(ctx); err == nil { metrics.QueueDepth.Set(float64(n)) }
    return len(jobs)
}

func (w *Worker) deliver(ctx context.Context, job model.DeliveryJob) {
    note := w.buildNotification(ctx, job)

    actx, cancel := context.WithTimeout(ctx, w.AttemptTimeout)
    start := time.Now()
    status, err := w.Sender.Send(actx, job.DeviceToken, note)
    cancel()
    latency := float64(time.Since(start).Milliseconds())
    metrics.Deliveries.WithLabelValues(status.String()).Inc()
    metrics.DeliveryLatency.WithLabelValues(status.String()).Observe(latency)

    switch status {
    case push.StatusOK:
        if err := w.Store.MarkJobSent(ctx, job.ID); err != nil {
            log.Printf("dispatch: mark sent %s: %v", job.ID, err)
        }
    case push.StatusPermanent:
        if merr := w.Store.DeadLetterJob(ctx, job.ID, errString(err)); merr != nil {
            log.Printf("dispatch: dead-letter %s: %v", job.ID, merr)
        }
        log.Printf("dispatch: permanent failure for job %s: %v", job.ID, err)
        if w.OnTokenInvalid != nil { w.OnTokenInvalid(ctx, job.DeviceToken) }
    default: // transient
        if job.AttemptCount >= w.MaxAttempts {
            if merr := w.Store.DeadLetterJob(ctx, job.ID, errString(err)); merr != nil {
                log.Printf("dispatch: dead-letter %s: %v", job.ID, merr)
            }
            log.Printf("dispatch: job %s exhausted %d attempts: %v", job.ID, job.AttemptCount, err)
            return
        }
        next := time.Now().Add(w.nextBackoff(job.AttemptCount))
        if merr := w.Store.RescheduleJob(ctx, job.ID, next, errString(err)); merr != nil {
            log.Printf("dispatch: reschedule %s: %v", job.ID, merr)
        }
    }
}

func (w *Worker) buildNotification(ctx context.Context, job model.DeliveryJob) push.Notification {
    note := push.Notification{
        Title: "Geofence Alert",
        Body:  "User is outside geofenced area",
        Data:  map[string]string{"alertId": job.AlertID},
    }
    if a, err := w.Store.GetAlert(ctx, job.AlertID); err == nil {
        note.Data["userId"] = a.UserID
        note.Data["geofenceId"] = a.GeofenceID
        note.Data["distanceM"] = strconv.FormatFloat(a.DistanceM, 'f', 1, 64)
        note.Data["triggeredAt"] = a.TriggeredAt.UTC().Format(time.RFC3339)
    }
    return note
}

// nextBackoff returns the delay after the attempt-th failed attempt,
// doubling per attempt up to a one-hour ceiling.
func (w *Worker) nextBackoff(attempt int) time.Duration {
    if attempt < 1 { attempt = 1 }
    // beyond 2^20 the shift could overflow the duration; it is past the
    // ceiling for any sane base anyway
    if attempt > 20 { return time.Hour }
    d := w.BackoffBase * time.Duration(1<<(attempt-1))
    if d > time.Hour || d <= 0 { d = time.Hour }
    return d
}

func errString(err error) string {
    if err == nil { return "" }
    return err.Error()
}
