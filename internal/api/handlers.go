package api

import (
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"

    "geowatch/internal/geo"
    "geowatch/internal/ingest"
    "geowatch/internal/model"
    "geowatch/internal/store"
)

// LocationUpdateHandler handles POST /v1/location/update
func (s *Server) LocationUpdateHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var rep model.LocationReport
    if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if rep.UserID == "" {
        if p := s.getPrincipal(r); p.UserID != "" { rep.UserID = p.UserID }
    }
    if rep.UserID == "" {
        writeProblem(w, http.StatusBadRequest, "Invalid report", "userId required", r.URL.Path)
        return
    }
    res, err := s.Ingest.HandleReport(r.Context(), rep)
    if err != nil {
        switch {
        case errors.Is(err, geo.ErrInvalidCoordinate):
            writeProblem(w, http.StatusBadRequest, "Invalid coordinates", err.Error(), r.URL.Path)
        case errors.Is(err, ingest.ErrNoGeofence):
            writeProblem(w, http.StatusNotFound, "No geofence", "user has no geofence configured", r.URL.Path)
        case errors.Is(err, store.ErrNotFound):
            writeProblem(w, http.StatusNotFound, "Unknown user", "user not found", r.URL.Path)
        default:
            writeProblem(w, http.StatusInternalServerError, "Report failed", err.Error(), r.URL.Path)
        }
        return
    }
    writeJSON(w, http.StatusOK, res)
}

// UsersHandler handles POST /v1/users
func (s *Server) UsersHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var in model.UserInput
    if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validateUserInput(in); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid user", err.Error(), r.URL.Path)
        return
    }
    u, err := s.Store.CreateUser(r.Context(), in)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Create user failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusCreated, u)
}

// UserByIDHandler handles GET /v1/users/{id}, /v1/users/{id}/profile and
// /v1/users/{id}/alerts
func (s *Server) UserByIDHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
    parts := strings.Split(strings.Trim(rest, "/"), "/")
    if len(parts) == 0 || parts[0] == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    id := parts[0]
    switch {
    case len(parts) == 1:
        u, err := s.Store.GetUser(r.Context(), id)
        if err != nil { writeNotFoundOrError(w, r, err, "user"); return }
        writeJSON(w, http.StatusOK, u)
    case len(parts) == 2 && parts[1] == "profile":
        s.userProfile(w, r, id)
    case len(parts) == 2 && parts[1] == "alerts":
        limit := queryLimit(r, 100)
        as, err := s.Store.ListAlertsForUser(r.Context(), id, limit)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List alerts failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": as})
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    }
}

// userProfile aggregates the user, geofence, devices and last known location.
func (s *Server) userProfile(w http.ResponseWriter, r *http.Request, id string) {
    u, err := s.Store.GetUser(r.Context(), id)
    if err != nil { writeNotFoundOrError(w, r, err, "user"); return }
    profile := map[string]any{"user": u}
    if gf, err := s.Store.ActiveGeofence(r.Context(), id); err == nil {
        profile["geofence"] = gf
    }
    if loc, err := s.Store.LastLocation(r.Context(), id); err == nil {
        profile["lastLocation"] = loc
        if gf, ok := profile["geofence"].(model.Geofence); ok {
            profile["inside"] = geo.IsInside(loc.Lat, loc.Lon, gf)
            profile["distanceM"] = geo.DistanceM(loc.Lat, loc.Lon, gf.CenterLat, gf.CenterLon)
        }
    }
    if devs, err := s.Store.ListDevicesForUser(r.Context(), id); err == nil {
        profile["devices"] = devs
    }
    writeJSON(w, http.StatusOK, profile)
}

// GeofencesHandler handles POST/GET /v1/geofences
func (s *Server) GeofencesHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        var in model.GeofenceInput
        if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := validateGeofenceInput(in); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid geofence", err.Error(), r.URL.Path)
            return
        }
        if _, err := s.Store.GetUser(r.Context(), in.UserID); err != nil {
            writeNotFoundOrError(w, r, err, "user")
            return
        }
        gf, err := s.Store.CreateGeofence(r.Context(), in)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create geofence failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, gf)
    case http.MethodGet:
        userID := r.URL.Query().Get("userId")
        if userID == "" {
            writeProblem(w, http.StatusBadRequest, "Invalid request", "userId query parameter required", r.URL.Path)
            return
        }
        items, err := s.Store.ListGeofences(r.Context(), userID)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List geofences failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// DevicesRegisterHandler handles POST /v1/devices/register. Registration is
// an upsert on token so re-registering after reinstall reactivates delivery.
func (s *Server) DevicesRegisterHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var in model.DeviceInput
    if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validateDeviceInput(in); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid device", err.Error(), r.URL.Path)
        return
    }
    if _, err := s.Store.GetUser(r.Context(), in.UserID); err != nil {
        writeNotFoundOrError(w, r, err, "user")
        return
    }
    d, err := s.Store.RegisterDevice(r.Context(), in)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Register device failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusCreated, d)
}

// AlertsHandler handles GET /v1/alerts and GET /v1/alerts/{id}
func (s *Server) AlertsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    if id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/alerts"), "/"); id != "" {
        a, err := s.Store.GetAlert(r.Context(), id)
        if err != nil { writeNotFoundOrError(w, r, err, "alert"); return }
        writeJSON(w, http.StatusOK, a)
        return
    }
    as, err := s.Store.ListAlerts(r.Context(), queryLimit(r, 100))
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "List alerts failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": as})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    if _, err := s.Store.QueuedJobCount(r.Context()); err != nil {
        writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeNotFoundOrError(w http.ResponseWriter, r *http.Request, err error, what string) {
    if errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusNotFound, "Not Found", what+" not found", r.URL.Path)
        return
    }
    writeProblem(w, http.StatusInternalServerError, "Lookup failed", err.Error(), r.URL.Path)
}

func queryLimit(r *http.Request, def int) int {
    limit := def
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    if limit <= 0 || limit > 1000 { limit = def }
    return limit
}
