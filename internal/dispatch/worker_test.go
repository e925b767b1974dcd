package dispatch

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "geowatch/internal/model"
    "geowatch/internal/push"
    "geowatch/internal/store"
)

// scriptedSender returns the scripted statuses in order, then repeats the
// last one.
type scriptedSender struct {
    mu     sync.Mutex
    script []push.Status
    calls  int
}

func (s *scriptedSender) Send(ctx context.Context, token string, n push.Notification) (push.Status, error) {
    s.mu.Lock(); defer s.mu.Unlock()
    st := s.script[len(s.script)-1]
    if s.calls < len(s.script) { st = s.script[s.calls] }
    s.calls++
    if st == push.StatusOK { return st, nil }
    return st, errors.New("send failed")
}

func (s *scriptedSender) callCount() int {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.calls
}

func newTestWorker(t *testing.T, sender push.Sender) (*Worker, *store.Memory, model.DeliveryJob) {
    t.Helper()
    m := store.NewMemory()
    ctx := context.Background()
    u, err := m.CreateUser(ctx, model.UserInput{Username: "alice"})
    if err != nil { t.Fatal(err) }
    gf, err := m.CreateGeofence(ctx, model.GeofenceInput{UserID: u.ID, CenterLat: 1, CenterLon: 1, RadiusM: 100})
    if err != nil { t.Fatal(err) }
    a := model.Alert{ID: "a1", UserID: u.ID, GeofenceID: gf.ID, TriggeredAt: time.Now(), DedupeKey: "k", DeliveryStatus: model.AlertPending}
    if _, _, err := m.InsertAlertIfNew(ctx, a); err != nil { t.Fatal(err) }
    jobs, err := m.EnqueueDeliveryJobs(ctx, a.ID, []string{"tok"})
    if err != nil { t.Fatal(err) }

    q := NewQueue(m, time.Minute, 10*time.Millisecond)
    w := NewWorker(q, m, sender)
    w.BackoffBase = time.Millisecond
    return w, m, jobs[0]
}

// drive runs processOnce until cond holds or the deadline passes.
func drive(t *testing.T, w *Worker, cond func() bool) {
    t.Helper()
    ctx := context.Background()
    deadline := time.Now().Add(2 * time.Second)
    for time.Now().Before(deadline) {
        w.processOnce(ctx)
        if cond() { return }
        time.Sleep(2 * time.Millisecond)
    }
    t.Fatalf("condition not reached")
}

func jobStatus(t *testing.T, m *store.Memory, id string) (string, int) {
    t.Helper()
    items, err := m.ListDeliveryJobs(context.Background(), "", 100)
    if err != nil { t.Fatal(err) }
    for _, it := range items {
        if it["id"] == id { return it["status"].(string), it["attempts"].(int) }
    }
    t.Fatalf("job %s not found", id)
    return "", 0
}

func TestDeliverySucceedsAfterTransientFailures(t *testing.T) {
    sender := &scriptedSender{script: []push.Status{
        push.StatusTransient, push.StatusTransient, push.StatusTransient, push.StatusTransient, push.StatusOK,
    }}
    w, m, job := newTestWorker(t, sender)

    drive(t, w, func() bool { st, _ := jobStatus(t, m, job.ID); return st == model.JobSent })

    st, attempts := jobStatus(t, m, job.ID)
    if st != model.JobSent { t.Fatalf("status: %s", st) }
    if attempts != 5 { t.Fatalf("expected success on attempt 5, got %d", attempts) }
    a, _ := m.GetAlert(context.Background(), job.AlertID)
    if a.DeliveryStatus != model.AlertSent { t.Fatalf("alert status: %s", a.DeliveryStatus) }
}

func TestDeliveryExhaustionDeadLetters(t *testing.T) {
    sender := &scriptedSender{script: []push.Status{push.StatusTransient}}
    w, m, job := newTestWorker(t, sender)
    w.MaxAttempts = 3

    drive(t, w, func() bool { st, _ := jobStatus(t, m, job.ID); return st == model.JobDeadLettered })

    _, attempts := jobStatus(t, m, job.ID)
    if attempts != 3 { t.Fatalf("attempts: %d", attempts) }
    if sender.callCount() != 3 { t.Fatalf("send calls: %d", sender.callCount()) }
    a, _ := m.GetAlert(context.Background(), job.AlertID)
    if a.DeliveryStatus != model.AlertFailed { t.Fatalf("alert status: %s", a.DeliveryStatus) }
    dlq, _ := m.ListDeliveryDLQ(context.Background(), 10)
    if len(dlq) != 1 { t.Fatalf("dlq entries: %d", len(dlq)) }
}

func TestPermanentFailureDeadLettersImmediately(t *testing.T) {
    sender := &scriptedSender{script: []push.Status{push.StatusPermanent}}
    w, m, job := newTestWorker(t, sender)

    var mu sync.Mutex
    invalidated := []string{}
    w.OnTokenInvalid = func(ctx context.Context, token string) {
        mu.Lock(); defer mu.Unlock()
        invalidated = append(invalidated, token)
    }

    drive(t, w, func() bool { st, _ := jobStatus(t, m, job.ID); return st == model.JobDeadLettered })

    if sender.callCount() != 1 { t.Fatalf("permanent failure must not retry, calls=%d", sender.callCount()) }
    mu.Lock(); defer mu.Unlock()
    if len(invalidated) != 1 || invalidated[0] != "tok" { t.Fatalf("token signal: %v", invalidated) }
}

func TestNextBackoffDoubles(t *testing.T) {
    w := &Worker{BackoffBase: 5 * time.Second}
    want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second}
    for i, d := range want {
        if got := w.nextBackoff(i + 1); got != d {
            t.Fatalf("attempt %d: got %v want %v", i+1, got, d)
        }
    }
    // the hour ceiling applies as soon as the doubled delay crosses it
    if got := w.nextBackoff(11); got != time.Hour { t.Fatalf("cap at attempt 11: %v", got) }
    if got := w.nextBackoff(20); got != time.Hour { t.Fatalf("cap at attempt 20: %v", got) }
    if got := w.nextBackoff(64); got != time.Hour { t.Fatalf("cap at attempt 64: %v", got) }
}

func TestQueueWaitWakesOnEnqueue(t *testing.T) {
    m := store.NewMemory()
    q := NewQueue(m, time.Minute, time.Hour) // poll effectively disabled
    done := make(chan error, 1)
    go func() { done <- q.Wait(context.Background()) }()

    time.Sleep(5 * time.Millisecond)
    q.Wake()
    select {
    case err := <-done:
        if err != nil { t.Fatalf("wait: %v", err) }
    case <-time.After(time.Second):
        t.Fatalf("Wait did not wake")
    }
}

func TestQueueWaitHonorsContext(t *testing.T) {
    m := store.NewMemory()
    q := NewQueue(m, time.Minute, time.Hour)
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- q.Wait(ctx) }()
    cancel()
    select {
    case err := <-done:
        if !errors.Is(err, context.Canceled) { t.Fatalf("want context.Canceled, got %v", err) }
    case <-time.After(time.Second):
        t.Fatalf("Wait did not observe cancellation")
    }
}
