package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "geowatch/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set and by
// the unit tests. Conditional-write semantics match the Postgres store.
type Memory struct {
    mu         sync.Mutex
    users      map[string]model.User
    gfs        map[string]model.Geofence       // geofenceId -> geofence
    gfsByUser  map[string][]string             // userId -> geofence ids
    devices    map[string]model.Device         // deviceId -> device
    devByUser  map[string][]string             // userId -> device ids
    devByToken map[string]string               // token -> device id
    locations  map[string][]model.LocationReport // userId -> append-only reports
    membership map[string]model.MembershipState  // userId|geofenceId
    alerts     map[string]*model.Alert         // alertId -> alert
    alertByKey map[string]string               // dedupeKey -> alertId
    alertOrder []string
    jobs       map[string]*model.DeliveryJob   // jobId -> job
    jobOrder   []string
    jobsByAlert map[string][]string            // alertId -> job ids
    dlq        []map[string]any
}

func NewMemory() *Memory {
    return &Memory{
        users:      map[string]model.User{},
        gfs:        map[string]model.Geofence{},
        gfsByUser:  map[string][]string{},
        devices:    map[string]model.Device{},
        devByUser:  map[string][]string{},
        devByToken: map[string]string{},
        locations:  map[string][]model.LocationReport{},
        membership: map[string]model.MembershipState{},
        alerts:     map[string]*model.Alert{},
        alertByKey: map[string]string{},
        jobs:       map[string]*model.DeliveryJob{},
        jobsByAlert: map[string][]string{},
        dlq:        []map[string]any{},
    }
}

func pairKey(userID, geofenceID string) string { return userID + "|" + geofenceID }

// Users

func (m *Memory) CreateUser(ctx context.Context, in model.UserInput) (model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    u := model.User{ID: uuid.New().String(), Username: in.Username}
    m.users[u.ID] = u
    return u, nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    u, ok := m.users[id]
    if !ok { return model.User{}, ErrNotFound }
    return u, nil
}

// Geofences

func (m *Memory) CreateGeofence(ctx context.Context, in model.GeofenceInput) (model.Geofence, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.users[in.UserID]; !ok { return model.Geofence{}, ErrNotFound }
    gf := model.Geofence{ID: uuid.New().String(), UserID: in.UserID, CenterLat: in.CenterLat, CenterLon: in.CenterLon, RadiusM: in.RadiusM}
    m.gfs[gf.ID] = gf
    m.gfsByUser[in.UserID] = append(m.gfsByUser[in.UserID], gf.ID)
    return gf, nil
}

func (m *Memory) ListGeofences(ctx context.Context, userID string) ([]model.Geofence, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Geofence{}
    for _, id := range m.gfsByUser[userID] { out = append(out, m.gfs[id]) }
    return out, nil
}

func (m *Memory) ActiveGeofence(ctx context.Context, userID string) (model.Geofence, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.gfsByUser[userID]
    if len(ids) == 0 { return model.Geofence{}, ErrNotFound }
    return m.gfs[ids[0]], nil
}

// Devices

func (m *Memory) RegisterDevice(ctx context.Context, in model.DeviceInput) (model.Device, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.users[in.UserID]; !ok { return model.Device{}, ErrNotFound }
    now := time.Now().UTC()
    // upsert by token: a token re-registered by any user moves to that user
    if id, ok := m.devByToken[in.Token]; ok {
        d := m.devices[id]
        if d.UserID != in.UserID {
            m.devByUser[d.UserID] = removeString(m.devByUser[d.UserID], id)
            m.devByUser[in.UserID] = append(m.devByUser[in.UserID], id)
        }
        d.UserID = in.UserID
        d.Platform = in.Platform
        d.Disabled = false
        d.UpdatedAt = now
        m.devices[id] = d
        return d, nil
    }
    d := model.Device{ID: uuid.New().String(), UserID: in.UserID, Platform: in.Platform, Token: in.Token, CreatedAt: now, UpdatedAt: now}
    m.devices[d.ID] = d
    m.devByUser[in.UserID] = append(m.devByUser[in.UserID], d.ID)
    m.devByToken[in.Token] = d.ID
    return d, nil
}

func (m *Memory) ListDevicesForUser(ctx context.Context, userID string) ([]model.Device, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Device{}
    for _, id := range m.devByUser[userID] {
        d := m.devices[id]
        if !d.Disabled { out = append(out, d) }
    }
    return out, nil
}

func (m *Memory) DisableDeviceByToken(ctx context.Context, token string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    id, ok := m.devByToken[token]
    if !ok { return ErrNotFound }
    d := m.devices[id]
    d.Disabled = true
    d.UpdatedAt = time.Now().UTC()
    m.devices[id] = d
    return nil
}

// Location reports

func (m *Memory) InsertLocation(ctx context.Context, rep model.LocationReport) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.locations[rep.UserID] = append(m.locations[rep.UserID], rep)
    return nil
}

func (m *Memory) LastLocation(ctx context.Context, userID string) (model.LocationReport, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    reps := m.locations[userID]
    if len(reps) == 0 { return model.LocationReport{}, ErrNotFound }
    last := reps[0]
    for _, r := range reps[1:] {
        if r.ObservedAt.After(last.ObservedAt) { last = r }
    }
    return last, nil
}

// Membership state

func (m *Memory) GetMembership(ctx context.Context, userID, geofenceID string) (model.MembershipState, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    st, ok := m.membership[pairKey(userID, geofenceID)]
    if !ok { return model.MembershipState{}, ErrNotFound }
    return st, nil
}

func (m *Memory) SwapMembership(ctx context.Context, next model.MembershipState, prior *model.MembershipState) error {
    m.mu.Lock(); defer m.mu.Unlock()
    k := pairKey(next.UserID, next.GeofenceID)
    cur, exists := m.membership[k]
    if prior == nil {
        if exists { return ErrConflict }
    } else {
        if !exists || !cur.UpdatedAt.Equal(prior.UpdatedAt) { return ErrConflict }
    }
    m.membership[k] = next
    return nil
}

// Alerts

func (m *Memory) InsertAlertIfNew(ctx context.Context, a model.Alert) (model.Alert, bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if id, ok := m.alertByKey[a.DedupeKey]; ok { return *m.alerts[id], false, nil }
    cp := a
    m.alerts[a.ID] = &cp
    m.alertByKey[a.DedupeKey] = a.ID
    m.alertOrder = append(m.alertOrder, a.ID)
    return cp, true, nil
}

func (m *Memory) GetAlert(ctx context.Context, id string) (model.Alert, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    a, ok := m.alerts[id]
    if !ok { return model.Alert{}, ErrNotFound }
    return *a, nil
}

func (m *Memory) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.listAlertsLocked("", limit), nil
}

func (m *Memory) ListAlertsForUser(ctx context.Context, userID string, limit int) ([]model.Alert, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.listAlertsLocked(userID, limit), nil
}

func (m *Memory) listAlertsLocked(userID string, limit int) []model.Alert {
    if limit <= 0 { limit = 100 }
    out := []model.Alert{}
    for i := len(m.alertOrder) - 1; i >= 0 && len(out) < limit; i-- {
        a := m.alerts[m.alertOrder[i]]
        if userID == "" || a.UserID == userID { out = append(out, *a) }
    }
    return out
}

// Delivery jobs

func (m *Memory) EnqueueDeliveryJobs(ctx context.Context, alertID string, tokens []string) ([]model.DeliveryJob, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now().UTC()
    out := []model.DeliveryJob{}
    for _, tok := range tokens {
        j := model.DeliveryJob{ID: uuid.New().String(), AlertID: alertID, DeviceToken: tok, Status: model.JobPending, NextAttemptAt: now}
        m.jobs[j.ID] = &j
        m.jobOrder = append(m.jobOrder, j.ID)
        m.jobsByAlert[alertID] = append(m.jobsByAlert[alertID], j.ID)
        out = append(out, j)
    }
    return out, nil
}

func (m *Memory) ClaimDueDeliveryJobs(ctx context.Context, limit int, lease time.Duration) ([]model.DeliveryJob, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    if limit <= 0 { limit = 50 }
    due := []*model.DeliveryJob{}
    for _, id := range m.jobOrder {
        j := m.jobs[id]
        claimable := (j.Status == model.JobPending && !j.NextAttemptAt.After(now)) ||
            (j.Status == model.JobInFlight && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now))
        if claimable { due = append(due, j) }
    }
    sort.Slice(due, func(i, k int) bool { return due[i].NextAttemptAt.Before(due[k].NextAttemptAt) })
    if len(due) > limit { due = due[:limit] }
    out := []model.DeliveryJob{}
    for _, j := range due {
        exp := now.Add(lease)
        j.Status = model.JobInFlight
        j.LeaseExpiresAt = &exp
        j.AttemptCount++
        out = append(out, *j)
    }
    return out, nil
}

func (m *Memory) MarkJobSent(ctx context.Context, jobID string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    j, ok := m.jobs[jobID]
    if !ok { return ErrNotFound }
    j.Status = model.JobSent
    j.LeaseExpiresAt = nil
    if a, ok := m.alerts[j.AlertID]; ok && a.DeliveryStatus != model.AlertSent { a.DeliveryStatus = model.AlertSent }
    return nil
}

func (m *Memory) RescheduleJob(ctx context.Context, jobID string, nextAttemptAt time.Time, lastErr string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    j, ok := m.jobs[jobID]
    if !ok { return ErrNotFound }
    j.Status = model.JobPending
    j.NextAttemptAt = nextAttemptAt
    j.LastError = lastErr
    j.LeaseExpiresAt = nil
    return nil
}

func (m *Memory) DeadLetterJob(ctx context.Context, jobID, lastErr string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    j, ok := m.jobs[jobID]
    if !ok { return ErrNotFound }
    j.Status = model.JobDeadLettered
    j.LastError = lastErr
    j.LeaseExpiresAt = nil
    m.dlq = append(m.dlq, map[string]any{
        "id": j.ID, "alertId": j.AlertID, "deviceToken": j.DeviceToken,
        "attempts": j.AttemptCount, "lastError": lastErr,
    })
    // derive alert failure: all jobs dead, none sent
    if a, ok := m.alerts[j.AlertID]; ok && a.DeliveryStatus == model.AlertPending {
        allDead := true
        for _, id := range m.jobsByAlert[j.AlertID] {
            if m.jobs[id].Status != model.JobDeadLettered { allDead = false; break }
        }
        if allDead { a.DeliveryStatus = model.AlertFailed }
    }
    return nil
}

func (m *Memory) QueuedJobCount(ctx context.Context) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    n := 0
    for _, j := range m.jobs {
        if j.Status == model.JobPending || j.Status == model.JobInFlight { n++ }
    }
    return n, nil
}

// Admin read models

func (m *Memory) ListDeliveryJobs(ctx context.Context, status string, limit int) ([]map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 100 }
    out := []map[string]any{}
    for i := len(m.jobOrder) - 1; i >= 0 && len(out) < limit; i-- {
        j := m.jobs[m.jobOrder[i]]
        if status != "" && j.Status != status { continue }
        item := map[string]any{"id": j.ID, "alertId": j.AlertID, "status": j.Status, "attempts": j.AttemptCount, "nextAttemptAt": j.NextAttemptAt}
        if j.LastError != "" { item["lastError"] = j.LastError }
        out = append(out, item)
    }
    return out, nil
}

func (m *Memory) ListDeliveryDLQ(ctx context.Context, limit int) ([]map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 || limit > len(m.dlq) { limit = len(m.dlq) }
    out := append([]map[string]any{}, m.dlq[len(m.dlq)-limit:]...)
    return out, nil
}

func (m *Memory) RequeueDLQ(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    j, ok := m.jobs[id]
    if !ok || j.Status != model.JobDeadLettered { return ErrNotFound }
    j.Status = model.JobPending
    j.AttemptCount = 0
    j.NextAttemptAt = time.Now()
    j.LastError = ""
    for i, it := range m.dlq {
        if it["id"] == id { m.dlq = append(m.dlq[:i], m.dlq[i+1:]...); break }
    }
    return nil
}

func removeString(xs []string, v string) []string {
    out := make([]string, 0, len(xs))
    for _, x := range xs { if x != v { out = append(out, x) } }
    return out
}
