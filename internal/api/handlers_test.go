package api

import (
    "bytes"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "testing"

    "geowatch/internal/config"
    "geowatch/internal/model"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    cfg := config.Default()
    cfg.Migrate = false
    s, err := NewServer(cfg)
    if err != nil { t.Fatalf("NewServer: %v", err) }
    return s
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
    t.Helper()
    b, err := json.Marshal(body)
    if err != nil { t.Fatal(err) }
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
    req.Header.Set("Content-Type", "application/json")
    h(rr, req)
    return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
    t.Helper()
    var v T
    if err := json.NewDecoder(rr.Body).Decode(&v); err != nil { t.Fatalf("decode: %v", err) }
    return v
}

func seedUserAndFence(t *testing.T, s *Server) (model.User, model.Geofence) {
    t.Helper()
    rr := postJSON(t, s.UsersHandler, "/v1/users", map[string]any{"username": "alice"})
    if rr.Code != http.StatusCreated { t.Fatalf("create user: %d %s", rr.Code, rr.Body) }
    u := decode[model.User](t, rr)

    rr = postJSON(t, s.GeofencesHandler, "/v1/geofences", map[string]any{
        "userId": u.ID, "centerLat": 40.7128, "centerLon": -74.0060, "radiusM": 1000,
    })
    if rr.Code != http.StatusCreated { t.Fatalf("create geofence: %d %s", rr.Code, rr.Body) }
    return u, decode[model.Geofence](t, rr)
}

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestLocationUpdateFlow(t *testing.T) {
    s := newTestServer(t)
    u, _ := seedUserAndFence(t, s)

    rr := postJSON(t, s.DevicesRegisterHandler, "/v1/devices/register", map[string]any{
        "userId": u.ID, "platform": "android", "token": "tok-1",
    })
    if rr.Code != http.StatusCreated { t.Fatalf("register device: %d %s", rr.Code, rr.Body) }

    // inside
    rr = postJSON(t, s.LocationUpdateHandler, "/v1/location/update", map[string]any{
        "userId": u.ID, "lat": 40.7128, "lon": -74.0060,
    })
    if rr.Code != 200 { t.Fatalf("inside report: %d %s", rr.Code, rr.Body) }
    res := decode[model.CheckResult](t, rr)
    if !res.Inside || res.Alert { t.Fatalf("inside result: %+v", res) }

    // outside -> alert
    rr = postJSON(t, s.LocationUpdateHandler, "/v1/location/update", map[string]any{
        "userId": u.ID, "lat": 40.7300, "lon": -73.9300,
    })
    if rr.Code != 200 { t.Fatalf("outside report: %d %s", rr.Code, rr.Body) }
    res = decode[model.CheckResult](t, rr)
    if res.Inside || !res.Alert { t.Fatalf("outside result: %+v", res) }

    // alert listed for user
    rr2 := httptest.NewRecorder()
    s.UserByIDHandler(rr2, httptest.NewRequest(http.MethodGet, "/v1/users/"+u.ID+"/alerts", nil))
    if rr2.Code != 200 { t.Fatalf("user alerts: %d", rr2.Code) }
    page := decode[struct {
        Items []model.Alert `json:"items"`
    }](t, rr2)
    if len(page.Items) != 1 { t.Fatalf("alerts: %d", len(page.Items)) }
    if page.Items[0].DeliveryStatus != model.AlertPending { t.Fatalf("status: %s", page.Items[0].DeliveryStatus) }

    // alert fetchable by id
    rr2 = httptest.NewRecorder()
    s.AlertsHandler(rr2, httptest.NewRequest(http.MethodGet, "/v1/alerts/"+page.Items[0].ID, nil))
    if rr2.Code != 200 { t.Fatalf("alert by id: %d", rr2.Code) }
}

func TestLocationUpdateErrors(t *testing.T) {
    s := newTestServer(t)
    u, _ := seedUserAndFence(t, s)

    rr := postJSON(t, s.LocationUpdateHandler, "/v1/location/update", map[string]any{
        "userId": u.ID, "lat": 95.0, "lon": 0.0,
    })
    if rr.Code != http.StatusBadRequest { t.Fatalf("bad coords: %d", rr.Code) }

    rr = postJSON(t, s.LocationUpdateHandler, "/v1/location/update", map[string]any{
        "userId": "missing", "lat": 1.0, "lon": 1.0,
    })
    if rr.Code != http.StatusNotFound { t.Fatalf("unknown user: %d", rr.Code) }

    // user without a geofence
    rr = postJSON(t, s.UsersHandler, "/v1/users", map[string]any{"username": "bob"})
    bob := decode[model.User](t, rr)
    rr = postJSON(t, s.LocationUpdateHandler, "/v1/location/update", map[string]any{
        "userId": bob.ID, "lat": 1.0, "lon": 1.0,
    })
    if rr.Code != http.StatusNotFound { t.Fatalf("no geofence: %d", rr.Code) }
}

func TestGeofenceValidation(t *testing.T) {
    s := newTestServer(t)
    u, _ := seedUserAndFence(t, s)
    cases := []map[string]any{
        {"userId": u.ID, "centerLat": 100, "centerLon": 0, "radiusM": 100},
        {"userId": u.ID, "centerLat": 0, "centerLon": 0, "radiusM": 0},
        {"userId": u.ID, "centerLat": 0, "centerLon": 0, "radiusM": -5},
        {"centerLat": 0, "centerLon": 0, "radiusM": 100},
    }
    for i, body := range cases {
        rr := postJSON(t, s.GeofencesHandler, "/v1/geofences", body)
        if rr.Code != http.StatusBadRequest { t.Fatalf("case %d: got %d", i, rr.Code) }
    }
}

func TestUserProfile(t *testing.T) {
    s := newTestServer(t)
    u, gf := seedUserAndFence(t, s)
    postJSON(t, s.LocationUpdateHandler, "/v1/location/update", map[string]any{
        "userId": u.ID, "lat": 40.7128, "lon": -74.0060,
    })

    rr := httptest.NewRecorder()
    s.UserByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/users/"+u.ID+"/profile", nil))
    if rr.Code != 200 { t.Fatalf("profile: %d %s", rr.Code, rr.Body) }
    profile := decode[map[string]any](t, rr)
    gfObj, ok := profile["geofence"].(map[string]any)
    if !ok || gfObj["id"] != gf.ID { t.Fatalf("profile geofence: %v", profile["geofence"]) }
    if _, ok := profile["lastLocation"]; !ok { t.Fatalf("profile missing lastLocation") }
    if inside, ok := profile["inside"].(bool); !ok || !inside { t.Fatalf("profile inside: %v", profile["inside"]) }
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
    s := newTestServer(t)
    req := httptest.NewRequest(http.MethodGet, "/v1/admin/delivery-jobs", nil)
    req.Header.Set("X-User-Id", "u1")
    req.Header.Set("X-Role", "user")
    rr := httptest.NewRecorder()
    s.DeliveryJobsHandler(rr, req)
    if rr.Code != http.StatusForbidden { t.Fatalf("expected 403, got %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.DeliveryJobsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/delivery-jobs", nil))
    if rr.Code != 200 { t.Fatalf("admin (dev default role): %d", rr.Code) }
}

func TestAdminDeliveryJobsListsEnqueued(t *testing.T) {
    s := newTestServer(t)
    u, _ := seedUserAndFence(t, s)
    postJSON(t, s.DevicesRegisterHandler, "/v1/devices/register", map[string]any{
        "userId": u.ID, "platform": "ios", "token": "tok-9",
    })
    postJSON(t, s.LocationUpdateHandler, "/v1/location/update", map[string]any{"userId": u.ID, "lat": 40.7128, "lon": -74.0060})
    postJSON(t, s.LocationUpdateHandler, "/v1/location/update", map[string]any{"userId": u.ID, "lat": 40.7300, "lon": -73.9300})

    rr := httptest.NewRecorder()
    s.DeliveryJobsHandler(rr, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/admin/delivery-jobs?status=%s", model.JobPending), nil))
    if rr.Code != 200 { t.Fatalf("delivery jobs: %d", rr.Code) }
    page := decode[struct {
        Items []map[string]any `json:"items"`
    }](t, rr)
    if len(page.Items) != 1 { t.Fatalf("jobs: %d", len(page.Items)) }

    rr = httptest.NewRecorder()
    s.QueueStatsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/queue/stats", nil))
    if rr.Code != 200 { t.Fatalf("queue stats: %d", rr.Code) }
    stats := decode[map[string]any](t, rr)
    if depth, _ := stats["depth"].(float64); depth != 1 { t.Fatalf("depth: %v", stats["depth"]) }
}
