package model

import "time"

// Core domain types for geofence exit alerting.

type User struct {
    ID       string `json:"id"`
    Username string `json:"username"`
}

type UserInput struct {
    Username string `json:"username"`
}

// Geofence is a circular region owned by one user.
type Geofence struct {
    ID        string  `json:"id"`
    UserID    string  `json:"userId"`
    CenterLat float64 `json:"centerLat"`
    CenterLon float64 `json:"centerLon"`
    RadiusM   float64 `json:"radiusM"`
}

type GeofenceInput struct {
    UserID    string  `json:"userId"`
    CenterLat float64 `json:"centerLat"`
    CenterLon float64 `json:"centerLon"`
    RadiusM   float64 `json:"radiusM"`
}

// LocationReport is one observed position for a user. Immutable once created.
type LocationReport struct {
    UserID     string    `json:"userId"`
    Lat        float64   `json:"lat"`
    Lon        float64   `json:"lon"`
    ObservedAt time.Time `json:"observedAt"`
}

// MembershipState is the durable inside/outside state for one (user, geofence)
// pair. UpdatedAt carries the observed_at of the report that produced it and
// never moves backward.
type MembershipState struct {
    UserID     string    `json:"userId"`
    GeofenceID string    `json:"geofenceId"`
    IsInside   bool      `json:"isInside"`
    UpdatedAt  time.Time `json:"updatedAt"`
}

// Alert delivery statuses. Dead-lettering is a per-job state; an alert whose
// jobs all dead-letter derives "failed".
const (
    AlertPending = "pending"
    AlertSent    = "sent"
    AlertFailed  = "failed"
)

type Alert struct {
    ID             string    `json:"id"`
    UserID         string    `json:"userId"`
    GeofenceID     string    `json:"geofenceId"`
    TriggeredAt    time.Time `json:"triggeredAt"`
    DistanceM      float64   `json:"distanceM"`
    DedupeKey      string    `json:"-"`
    DeliveryStatus string    `json:"deliveryStatus"`
}

// DeliveryJob statuses. A retry-scheduled job is a pending job with a future
// NextAttemptAt; it is not claimable until due.
const (
    JobPending      = "pending"
    JobInFlight     = "in_flight"
    JobSent         = "sent"
    JobDeadLettered = "dead_lettered"
)

// DeliveryJob carries one alert to one device token. Owned by the queue via
// a lease while in flight; an expired lease makes the job claimable again.
type DeliveryJob struct {
    ID             string     `json:"id"`
    AlertID        string     `json:"alertId"`
    DeviceToken    string     `json:"deviceToken"`
    AttemptCount   int        `json:"attemptCount"`
    NextAttemptAt  time.Time  `json:"nextAttemptAt"`
    LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
    Status         string     `json:"status"`
    LastError      string     `json:"lastError,omitempty"`
}

type Device struct {
    ID        string    `json:"id"`
    UserID    string    `json:"userId"`
    Platform  string    `json:"platform"`
    Token     string    `json:"token"`
    Disabled  bool      `json:"disabled,omitempty"`
    CreatedAt time.Time `json:"createdAt"`
    UpdatedAt time.Time `json:"updatedAt"`
}

type DeviceInput struct {
    UserID   string `json:"userId"`
    Platform string `json:"platform"`
    Token    string `json:"token"`
}

// CheckResult is the response contract for a location update.
type CheckResult struct {
    Inside    bool    `json:"inside"`
    DistanceM float64 `json:"distanceM"`
    Alert     bool    `json:"alert"`
}
