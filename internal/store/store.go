package store

import (
    "context"
    "errors"
    "time"

    "geowatch/internal/model"
)

// Store is the persistence interface used by the ingestion path, the alert
// factory, and the delivery pipeline. Implementations must provide atomic
// conditional writes: compare-and-swap on membership state, insert-if-absent
// on alert dedupe keys, and lease-based claiming of delivery jobs.
type Store interface {
    // Users
    CreateUser(ctx context.Context, in model.UserInput) (model.User, error)
    GetUser(ctx context.Context, id string) (model.User, error)

    // Geofences
    CreateGeofence(ctx context.Context, in model.GeofenceInput) (model.Geofence, error)
    ListGeofences(ctx context.Context, userID string) ([]model.Geofence, error)
    // ActiveGeofence returns the geofence evaluated for a user's reports.
    // One active geofence per user today; ErrNotFound if none configured.
    ActiveGeofence(ctx context.Context, userID string) (model.Geofence, error)

    // Devices
    RegisterDevice(ctx context.Context, in model.DeviceInput) (model.Device, error)
    ListDevicesForUser(ctx context.Context, userID string) ([]model.Device, error)
    DisableDeviceByToken(ctx context.Context, token string) error

    // Location reports
    InsertLocation(ctx context.Context, rep model.LocationReport) error
    LastLocation(ctx context.Context, userID string) (model.LocationReport, error)

    // Membership state
    GetMembership(ctx context.Context, userID, geofenceID string) (model.MembershipState, error)
    // SwapMembership writes next guarded by prior: nil prior means
    // insert-if-absent, otherwise the row must still carry prior.UpdatedAt.
    // Returns ErrConflict when another writer won the race.
    SwapMembership(ctx context.Context, next model.MembershipState, prior *model.MembershipState) error

    // Alerts
    // InsertAlertIfNew persists the alert unless one with the same dedupe key
    // exists; the bool reports whether a new row was created.
    InsertAlertIfNew(ctx context.Context, a model.Alert) (model.Alert, bool, error)
    GetAlert(ctx context.Context, id string) (model.Alert, error)
    ListAlerts(ctx context.Context, limit int) ([]model.Alert, error)
    ListAlertsForUser(ctx context.Context, userID string, limit int) ([]model.Alert, error)

    // Delivery jobs
    EnqueueDeliveryJobs(ctx context.Context, alertID string, tokens []string) ([]model.DeliveryJob, error)
    // ClaimDueDeliveryJobs atomically moves due jobs (pending and due, or
    // in-flight with an expired lease) to in_flight under a fresh lease and
    // increments their attempt count. A claimed job is invisible to other
    // workers until the lease expires.
    ClaimDueDeliveryJobs(ctx context.Context, limit int, lease time.Duration) ([]model.DeliveryJob, error)
    MarkJobSent(ctx context.Context, jobID string) error
    RescheduleJob(ctx context.Context, jobID string, nextAttemptAt time.Time, lastErr string) error
    DeadLetterJob(ctx context.Context, jobID, lastErr string) error
    QueuedJobCount(ctx context.Context) (int, error)

    // Admin read models
    ListDeliveryJobs(ctx context.Context, status string, limit int) ([]map[string]any, error)
    ListDeliveryDLQ(ctx context.Context, limit int) ([]map[string]any, error)
    RequeueDLQ(ctx context.Context, id string) error
}

var (
    ErrNotFound = errors.New("not found")
    ErrConflict = errors.New("concurrent update conflict")
)
