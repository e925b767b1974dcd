package store

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "geowatch/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

// MigrateDir applies *.sql files from dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, n := range names {
        b, err := os.ReadFile(filepath.Join(dir, n))
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil { return err }
    }
    return nil
}

// Users

func (p *Postgres) CreateUser(ctx context.Context, in model.UserInput) (model.User, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO users (id, username) VALUES ($1,$2)`, id, in.Username)
    if err != nil { return model.User{}, err }
    return model.User{ID: id, Username: in.Username}, nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (model.User, error) {
    var u model.User
    err := p.db.QueryRowContext(ctx, `SELECT id::text, username FROM users WHERE id=$1`, id).Scan(&u.ID, &u.Username)
    if errors.Is(err, sql.ErrNoRows) { return u, ErrNotFound }
    return u, err
}

// Geofences

func (p *Postgres) CreateGeofence(ctx context.Context, in model.GeofenceInput) (model.Geofence, error) {
    if _, err := p.GetUser(ctx, in.UserID); err != nil { return model.Geofence{}, err }
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO geofences (id, user_id, center_lat, center_lon, radius_m) VALUES ($1,$2,$3,$4,$5)`,
        id, in.UserID, in.CenterLat, in.CenterLon, in.RadiusM)
    if err != nil { return model.Geofence{}, err }
    return model.Geofence{ID: id, UserID: in.UserID, CenterLat: in.CenterLat, CenterLon: in.CenterLon, RadiusM: in.RadiusM}, nil
}

func (p *Postgres) ListGeofences(ctx context.Context, userID string) ([]model.Geofence, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, user_id::text, center_lat, center_lon, radius_m FROM geofences WHERE user_id=$1 ORDER BY created_at`, userID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Geofence{}
    for rows.Next() {
        var gf model.Geofence
        if err := rows.Scan(&gf.ID, &gf.UserID, &gf.CenterLat, &gf.CenterLon, &gf.RadiusM); err != nil { return nil, err }
        out = append(out, gf)
    }
    return out, rows.Err()
}

func (p *Postgres) ActiveGeofence(ctx context.Context, userID string) (model.Geofence, error) {
    var gf model.Geofence
    err := p.db.QueryRowContext(ctx, `SELECT id::text, user_id::text, center_lat, center_lon, radius_m FROM geofences WHERE user_id=$1 ORDER BY created_at LIMIT 1`, userID).
        Scan(&gf.ID, &gf.UserID, &gf.CenterLat, &gf.CenterLon, &gf.RadiusM)
    if errors.Is(err, sql.ErrNoRows) { return gf, ErrNotFound }
    return gf, err
}

// Devices

func (p *Postgres) RegisterDevice(ctx context.Context, in model.DeviceInput) (model.Device, error) {
    if _, err := p.GetUser(ctx, in.UserID); err != nil { return model.Device{}, err }
    id := uuid.New().String()
    var d model.Device
    err := p.db.QueryRowContext(ctx, `INSERT INTO devices (id, user_id, platform, token) VALUES ($1,$2,$3,$4)
        ON CONFLICT (token) DO UPDATE SET user_id=$2, platform=$3, disabled=false, updated_at=now()
        RETURNING id::text, user_id::text, platform, token, disabled, created_at, updated_at`,
        id, in.UserID, in.Platform, in.Token).
        Scan(&d.ID, &d.UserID, &d.Platform, &d.Token, &d.Disabled, &d.CreatedAt, &d.UpdatedAt)
    if err != nil { return model.Device{}, err }
    return d, nil
}

func (p *Postgres) ListDevicesForUser(ctx context.Context, userID string) ([]model.Device, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, user_id::text, platform, token, disabled, created_at, updated_at FROM devices WHERE user_id=$1 AND NOT disabled ORDER BY created_at`, userID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Device{}
    for rows.Next() {
        var d model.Device
        if err := rows.Scan(&d.ID, &d.UserID, &d.Platform, &d.Token, &d.Disabled, &d.CreatedAt, &d.UpdatedAt); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) DisableDeviceByToken(ctx context.Context, token string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE devices SET disabled=true, updated_at=now() WHERE token=$1`, token)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Location reports

func (p *Postgres) InsertLocation(ctx context.Context, rep model.LocationReport) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO location_reports (id, user_id, lat, lon, observed_at) VALUES ($1,$2,$3,$4,$5)`,
        uuid.New(), rep.UserID, rep.Lat, rep.Lon, rep.ObservedAt)
    return err
}

func (p *Postgres) LastLocation(ctx context.Context, userID string) (model.LocationReport, error) {
    var rep model.LocationReport
    err := p.db.QueryRowContext(ctx, `SELECT user_id::text, lat, lon, observed_at FROM location_reports WHERE user_id=$1 ORDER BY observed_at DESC LIMIT 1`, userID).
        Scan(&rep.UserID, &rep.Lat, &rep.Lon, &rep.ObservedAt)
    if errors.Is(err, sql.ErrNoRows) { return rep, ErrNotFound }
    return rep, err
}

// Membership state

func (p *Postgres) GetMembership(ctx context.Context, userID, geofenceID string) (model.MembershipState, error) {
    var st model.MembershipState
    err := p.db.QueryRowContext(ctx, `SELECT user_id::text, geofence_id::text, is_inside, updated_at FROM membership_state WHERE user_id=$1 AND geofence_id=$2`, userID, geofenceID).
        Scan(&st.UserID, &st.GeofenceID, &st.IsInside, &st.UpdatedAt)
    if errors.Is(err, sql.ErrNoRows) { return st, ErrNotFound }
    return st, err
}

// SwapMembership relies on rows-affected checks for both arms of the CAS:
// an insert that hits the (user_id, geofence_id) unique key, or an update
// whose updated_at guard no longer matches, affects zero rows.
func (p *Postgres) SwapMembership(ctx context.Context, next model.MembershipState, prior *model.MembershipState) error {
    var res sql.Result
    var err error
    if prior == nil {
        res, err = p.db.ExecContext(ctx, `INSERT INTO membership_state (user_id, geofence_id, is_inside, updated_at) VALUES ($1,$2,$3,$4)
            ON CONFLICT (user_id, geofence_id) DO NOTHING`, next.UserID, next.GeofenceID, next.IsInside, next.UpdatedAt)
    } else {
        res, err = p.db.ExecContext(ctx, `UPDATE membership_state SET is_inside=$3, updated_at=$4 WHERE user_id=$1 AND geofence_id=$2 AND updated_at=$5`,
            next.UserID, next.GeofenceID, next.IsInside, next.UpdatedAt, prior.UpdatedAt)
    }
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrConflict }
    return nil
}

// Alerts

func (p *Postgres) InsertAlertIfNew(ctx context.Context, a model.Alert) (model.Alert, bool, error) {
    res, err := p.db.ExecContext(ctx, `INSERT INTO alerts (id, user_id, geofence_id, triggered_at, distance_m, dedupe_key, delivery_status)
        VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (dedupe_key) DO NOTHING`,
        a.ID, a.UserID, a.GeofenceID, a.TriggeredAt, a.DistanceM, a.DedupeKey, a.DeliveryStatus)
    if err != nil { return model.Alert{}, false, err }
    if n, _ := res.RowsAffected(); n == 1 { return a, true, nil }
    var ex model.Alert
    err = p.db.QueryRowContext(ctx, `SELECT id::text, user_id::text, geofence_id::text, triggered_at, distance_m, dedupe_key, delivery_status FROM alerts WHERE dedupe_key=$1`, a.DedupeKey).
        Scan(&ex.ID, &ex.UserID, &ex.GeofenceID, &ex.TriggeredAt, &ex.DistanceM, &ex.DedupeKey, &ex.DeliveryStatus)
    if err != nil { return model.Alert{}, false, err }
    return ex, false, nil
}

func (p *Postgres) GetAlert(ctx context.Context, id string) (model.Alert, error) {
    var a model.Alert
    err := p.db.QueryRowContext(ctx, `SELECT id::text, user_id::text, geofence_id::text, triggered_at, distance_m, dedupe_key, delivery_status FROM alerts WHERE id=$1`, id).
        Scan(&a.ID, &a.UserID, &a.GeofenceID, &a.TriggeredAt, &a.DistanceM, &a.DedupeKey, &a.DeliveryStatus)
    if errors.Is(err, sql.ErrNoRows) { return a, ErrNotFound }
    return a, err
}

func (p *Postgres) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
    return p.listAlerts(ctx, "", limit)
}

func (p *Postgres) ListAlertsForUser(ctx context.Context, userID string, limit int) ([]model.Alert, error) {
    return p.listAlerts(ctx, userID, limit)
}

func (p *Postgres) listAlerts(ctx context.Context, userID string, limit int) ([]model.Alert, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, user_id::text, geofence_id::text, triggered_at, distance_m, dedupe_key, delivery_status FROM alerts`
    args := []any{}
    if userID != "" { q += ` WHERE user_id=$1`; args = append(args, userID) }
    q += ` ORDER BY triggered_at DESC LIMIT ` + placeholder(len(args)+1)
    args = append(args, limit)
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Alert{}
    for rows.Next() {
        var a model.Alert
        if err := rows.Scan(&a.ID, &a.UserID, &a.GeofenceID, &a.TriggeredAt, &a.DistanceM, &a.DedupeKey, &a.DeliveryStatus); err != nil { return nil, err }
        out = append(out, a)
    }
    return out, rows.Err()
}

func placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Delivery jobs

func (p *Postgres) EnqueueDeliveryJobs(ctx context.Context, alertID string, tokens []string) ([]model.DeliveryJob, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return nil, err }
    defer func(){ _ = tx.Rollback() }()
    now := time.Now().UTC()
    out := []model.DeliveryJob{}
    for _, tok := range tokens {
        j := model.DeliveryJob{ID: uuid.New().String(), AlertID: alertID, DeviceToken: tok, Status: model.JobPending, NextAttemptAt: now}
        _, err := tx.ExecContext(ctx, `INSERT INTO delivery_jobs (id, alert_id, device_token, status, attempt_count, next_attempt_at) VALUES ($1,$2,$3,$4,0,$5)`,
            j.ID, j.AlertID, j.DeviceToken, j.Status, j.NextAttemptAt)
        if err != nil { return nil, err }
        out = append(out, j)
    }
    if err := tx.Commit(); err != nil { return nil, err }
    return out, nil
}

// ClaimDueDeliveryJobs claims with SKIP LOCKED so concurrent workers never
// select the same row, and a lease so a crashed worker's jobs become
// claimable again once the lease expires.
func (p *Postgres) ClaimDueDeliveryJobs(ctx context.Context, limit int, lease time.Duration) ([]model.DeliveryJob, error) {
    if limit <= 0 { limit = 50 }
    rows, err := p.db.QueryContext(ctx, `UPDATE delivery_jobs SET status='in_flight', attempt_count=attempt_count+1,
            lease_expires_at=now()+make_interval(secs => $2)
        WHERE id IN (
            SELECT id FROM delivery_jobs
            WHERE (status='pending' AND next_attempt_at<=now())
               OR (status='in_flight' AND lease_expires_at<=now())
            ORDER BY next_attempt_at ASC
            FOR UPDATE SKIP LOCKED
            LIMIT $1)
        RETURNING id::text, alert_id::text, device_token, attempt_count, next_attempt_at, status`,
        limit, lease.Seconds())
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.DeliveryJob{}
    for rows.Next() {
        var j model.DeliveryJob
        if err := rows.Scan(&j.ID, &j.AlertID, &j.DeviceToken, &j.AttemptCount, &j.NextAttemptAt, &j.Status); err != nil { return nil, err }
        out = append(out, j)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkJobSent(ctx context.Context, jobID string) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    var alertID string
    err = tx.QueryRowContext(ctx, `UPDATE delivery_jobs SET status='sent', lease_expires_at=NULL, sent_at=now() WHERE id=$1 RETURNING alert_id::text`, jobID).Scan(&alertID)
    if errors.Is(err, sql.ErrNoRows) { return ErrNotFound }
    if err != nil { return err }
    if _, err := tx.ExecContext(ctx, `UPDATE alerts SET delivery_status='sent' WHERE id=$1 AND delivery_status<>'sent'`, alertID); err != nil { return err }
    return tx.Commit()
}

func (p *Postgres) RescheduleJob(ctx context.Context, jobID string, nextAttemptAt time.Time, lastErr string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE delivery_jobs SET status='pending', next_attempt_at=$2, last_error=$3, lease_expires_at=NULL WHERE id=$1`,
        jobID, nextAttemptAt, nullIfEmpty(lastErr))
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) DeadLetterJob(ctx context.Context, jobID, lastErr string) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    var alertID string
    err = tx.QueryRowContext(ctx, `UPDATE delivery_jobs SET status='dead_lettered', last_error=$2, lease_expires_at=NULL WHERE id=$1 RETURNING alert_id::text`,
        jobID, nullIfEmpty(lastErr)).Scan(&alertID)
    if errors.Is(err, sql.ErrNoRows) { return ErrNotFound }
    if err != nil { return err }
    _, err = tx.ExecContext(ctx, `INSERT INTO delivery_dlq (id, job_id, alert_id, device_token, attempts, last_error)
        SELECT gen_random_uuid(), id, alert_id, device_token, attempt_count, $2 FROM delivery_jobs WHERE id=$1`, jobID, nullIfEmpty(lastErr))
    if err != nil { return err }
    _, err = tx.ExecContext(ctx, `UPDATE alerts SET delivery_status='failed' WHERE id=$1 AND delivery_status='pending'
        AND NOT EXISTS (SELECT 1 FROM delivery_jobs WHERE alert_id=$1 AND status<>'dead_lettered')`, alertID)
    if err != nil { return err }
    return tx.Commit()
}

func (p *Postgres) QueuedJobCount(ctx context.Context) (int, error) {
    var n int
    err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM delivery_jobs WHERE status IN ('pending','in_flight')`).Scan(&n)
    return n, err
}

// Admin read models

func (p *Postgres) ListDeliveryJobs(ctx context.Context, status string, limit int) ([]map[string]any, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, alert_id::text, status, attempt_count, next_attempt_at, last_error FROM delivery_jobs`
    args := []any{}
    if status != "" { q += ` WHERE status=$1`; args = append(args, status) }
    q += ` ORDER BY next_attempt_at DESC LIMIT ` + placeholder(len(args)+1)
    args = append(args, limit)
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []map[string]any{}
    for rows.Next() {
        var id, alertID, st string
        var attempts int
        var next time.Time
        var lastErr sql.NullString
        if err := rows.Scan(&id, &alertID, &st, &attempts, &next, &lastErr); err != nil { return nil, err }
        item := map[string]any{"id": id, "alertId": alertID, "status": st, "attempts": attempts, "nextAttemptAt": next}
        if lastErr.Valid { item["lastError"] = lastErr.String }
        out = append(out, item)
    }
    return out, rows.Err()
}

func (p *Postgres) ListDeliveryDLQ(ctx context.Context, limit int) ([]map[string]any, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    rows, err := p.db.QueryContext(ctx, `SELECT job_id::text, alert_id::text, device_token, attempts, COALESCE(last_error,''), created_at FROM delivery_dlq ORDER BY created_at DESC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []map[string]any{}
    for rows.Next() {
        var jobID, alertID, token, lastErr string
        var attempts int
        var created time.Time
        if err := rows.Scan(&jobID, &alertID, &token, &attempts, &lastErr, &created); err != nil { return nil, err }
        item := map[string]any{"id": jobID, "alertId": alertID, "deviceToken": token, "attempts": attempts, "createdAt": created}
        if lastErr != "" { item["lastError"] = lastErr }
        out = append(out, item)
    }
    return out, rows.Err()
}

func (p *Postgres) RequeueDLQ(ctx context.Context, id string) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    res, err := tx.ExecContext(ctx, `UPDATE delivery_jobs SET status='pending', attempt_count=0, next_attempt_at=now(), last_error=NULL WHERE id=$1 AND status='dead_lettered'`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    if _, err := tx.ExecContext(ctx, `DELETE FROM delivery_dlq WHERE job_id=$1`, id); err != nil { return err }
    return tx.Commit()
}

func nullIfEmpty(s string) any {
    if s == "" { return nil }
    return s
}
