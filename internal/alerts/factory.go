// Package alerts turns detected exit transitions into durable Alert records
// and fans delivery jobs out to the user's devices.
package alerts

import (
    "context"
    "fmt"
    "log"
    "time"

    "github.com/google/uuid"

    "geowatch/internal/dispatch"
    "geowatch/internal/metrics"
    "geowatch/internal/model"
    "geowatch/internal/store"
)

// DefaultDedupeWindow buckets triggered_at so retried or re-entrant
// evaluations of the same exit collapse onto one alert.
const DefaultDedupeWindow = 60 * time.Second

type Factory struct {
    Store store.Store
    Queue *dispatch.Queue
    // DedupeWindow overrides DefaultDedupeWindow when > 0.
    DedupeWindow time.Duration
}

func NewFactory(s store.Store, q *dispatch.Queue) *Factory {
    return &Factory{Store: s, Queue: q, DedupeWindow: DefaultDedupeWindow}
}

// DedupeKey is deterministic over (user, geofence, time bucket).
func (f *Factory) DedupeKey(userID, geofenceID string, triggeredAt time.Time) string {
    w := f.DedupeWindow
    if w <= 0 { w = DefaultDedupeWindow }
    bucket := triggeredAt.Unix() / int64(w.Seconds())
    return fmt.Sprintf("%s|%s|%d", userID, geofenceID, bucket)
}

// CreateIfNew persists an alert for an exit transition unless one already
// exists for the same dedupe bucket. The bool reports whether a new alert
// was created; a suppressed duplicate is the normal idempotent path, not an
// error. On creation, one delivery job is enqueued per registered device;
// with zero devices the alert stays pending and no jobs are created.
func (f *Factory) CreateIfNew(ctx context.Context, userID, geofenceID string, triggeredAt time.Time, distanceM float64) (model.Alert, bool, error) {
    a := model.Alert{
        ID:             uuid.New().String(),
        UserID:         userID,
        GeofenceID:     geofenceID,
        TriggeredAt:    triggeredAt,
        DistanceM:      distanceM,
        DedupeKey:      f.DedupeKey(userID, geofenceID, triggeredAt),
        DeliveryStatus: model.AlertPending,
    }
    persisted, created, err := f.Store.InsertAlertIfNew(ctx, a)
    if err != nil { return model.Alert{}, false, err }
    if !created {
        metrics.AlertsDeduped.Inc()
        return persisted, false, nil
    }
    metrics.AlertsCreated.Inc()

    devices, err := f.Store.ListDevicesForUser(ctx, userID)
    if err != nil { return persisted, true, err }
    if len(devices) == 0 {
        metrics.AlertsNoDevice.Inc()
        log.Printf("alerts: alert %s created for user %s with no registered device", persisted.ID, userID)
        return persisted, true, nil
    }
    tokens := make([]string, 0, len(devices))
    for _, d := range devices { tokens = append(tokens, d.Token) }
    if _, err := f.Queue.Enqueue(ctx, persisted.ID, tokens); err != nil { return persisted, true, err }
    return persisted, true, nil
}
