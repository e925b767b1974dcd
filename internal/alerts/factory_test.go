package alerts

import (
    "context"
    "testing"
    "time"

    "geowatch/internal/dispatch"
    "geowatch/internal/model"
    "geowatch/internal/store"
)

func newFixture(t *testing.T, devices int) (*Factory, *store.Memory, model.User, model.Geofence) {
    t.Helper()
    m := store.NewMemory()
    ctx := context.Background()
    u, err := m.CreateUser(ctx, model.UserInput{Username: "alice"})
    if err != nil { t.Fatal(err) }
    gf, err := m.CreateGeofence(ctx, model.GeofenceInput{UserID: u.ID, CenterLat: 1, CenterLon: 1, RadiusM: 100})
    if err != nil { t.Fatal(err) }
    for i := 0; i < devices; i++ {
        tok := "tok-" + string(rune('a'+i))
        if _, err := m.RegisterDevice(ctx, model.DeviceInput{UserID: u.ID, Platform: "android", Token: tok}); err != nil {
            t.Fatal(err)
        }
    }
    return NewFactory(m, dispatch.NewQueue(m, 0, 0)), m, u, gf
}

func TestDedupeKeyBucketsTime(t *testing.T) {
    f := NewFactory(nil, nil)
    t0 := time.Unix(1699999980, 0) // minute-aligned
    k1 := f.DedupeKey("u", "g", t0)
    k2 := f.DedupeKey("u", "g", t0.Add(59*time.Second))
    k3 := f.DedupeKey("u", "g", t0.Add(61*time.Second))
    if k1 != k2 { t.Fatalf("same bucket must share a key: %s vs %s", k1, k2) }
    if k1 == k3 { t.Fatalf("next bucket must change the key") }
    if k1 == f.DedupeKey("u2", "g", t0) { t.Fatalf("key must include user") }
    if k1 == f.DedupeKey("u", "g2", t0) { t.Fatalf("key must include geofence") }
}

func TestCreateIfNewFansOutPerDevice(t *testing.T) {
    f, m, u, gf := newFixture(t, 3)
    ctx := context.Background()

    a, created, err := f.CreateIfNew(ctx, u.ID, gf.ID, time.Now(), 1500)
    if err != nil { t.Fatalf("create: %v", err) }
    if !created { t.Fatalf("expected creation") }
    if a.DeliveryStatus != model.AlertPending { t.Fatalf("status: %s", a.DeliveryStatus) }

    n, _ := m.QueuedJobCount(ctx)
    if n != 3 { t.Fatalf("expected one job per device, got %d", n) }
}

func TestCreateIfNewIsIdempotentWithinWindow(t *testing.T) {
    f, m, u, gf := newFixture(t, 1)
    ctx := context.Background()
    t0 := time.Unix(1699999980, 0)

    a1, created, err := f.CreateIfNew(ctx, u.ID, gf.ID, t0, 100)
    if err != nil || !created { t.Fatalf("first: created=%v err=%v", created, err) }
    a2, created, err := f.CreateIfNew(ctx, u.ID, gf.ID, t0.Add(30*time.Second), 200)
    if err != nil { t.Fatalf("second: %v", err) }
    if created { t.Fatalf("second create in window must dedupe") }
    if a2.ID != a1.ID { t.Fatalf("dedupe must return the existing alert") }

    n, _ := m.QueuedJobCount(ctx)
    if n != 1 { t.Fatalf("duplicate must not enqueue more jobs, got %d", n) }
}

func TestCreateIfNewWithNoDevices(t *testing.T) {
    f, m, u, gf := newFixture(t, 0)
    ctx := context.Background()

    a, created, err := f.CreateIfNew(ctx, u.ID, gf.ID, time.Now(), 100)
    if err != nil { t.Fatalf("create: %v", err) }
    if !created { t.Fatalf("alert must be recorded even without devices") }
    if a.DeliveryStatus != model.AlertPending { t.Fatalf("status: %s", a.DeliveryStatus) }
    n, _ := m.QueuedJobCount(ctx)
    if n != 0 { t.Fatalf("no jobs expected, got %d", n) }
}
