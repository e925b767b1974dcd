package api

import (
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "time"

    "geowatch/internal/buildinfo"
    "geowatch/internal/store"
)

// DeliveryJobsHandler handles GET /v1/admin/delivery-jobs?status=&limit=
func (s *Server) DeliveryJobsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    if !s.requireAdmin(w, r) { return }
    status := r.URL.Query().Get("status")
    items, err := s.Store.ListDeliveryJobs(r.Context(), status, queryLimit(r, 100))
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "List delivery jobs failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// DeliveryDLQHandler handles GET /v1/admin/delivery-dlq and
// POST /v1/admin/delivery-dlq/{id}/requeue
func (s *Server) DeliveryDLQHandler(w http.ResponseWriter, r *http.Request) {
    if !s.requireAdmin(w, r) { return }
    rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/delivery-dlq"), "/")
    if rest == "" {
        if r.Method != http.MethodGet {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        items, err := s.Store.ListDeliveryDLQ(r.Context(), queryLimit(r, 100))
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List DLQ failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
        return
    }
    parts := strings.Split(rest, "/")
    if len(parts) != 2 || parts[1] != "requeue" || r.Method != http.MethodPost {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    if err := s.Store.RequeueDLQ(r.Context(), parts[0]); err != nil {
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Not Found", "dead letter not found", r.URL.Path)
            return
        }
        writeProblem(w, http.StatusInternalServerError, "Requeue failed", err.Error(), r.URL.Path)
        return
    }
    // Nudge an idle worker so the requeued job is retried promptly.
    s.Queue.Wake()
    writeJSON(w, http.StatusAccepted, map[string]string{"status": "requeued"})
}

// QueueStatsHandler handles GET /v1/admin/queue/stats
func (s *Server) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    if !s.requireAdmin(w, r) { return }
    n, err := s.Store.QueuedJobCount(r.Context())
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Queue stats failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "depth":       n,
        "workers":     s.Cfg.Queue.Workers,
        "maxAttempts": s.Worker.MaxAttempts,
        "lease":       s.Queue.Lease.String(),
    })
}

// DebugJSON reports build and effective (non-secret) config.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    if !s.requireAdmin(w, r) { return }
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "port":        s.Cfg.Port,
            "authMode":    s.Cfg.Auth.Mode,
            "workers":     s.Cfg.Queue.Workers,
            "maxAttempts": s.Cfg.Queue.MaxAttempts,
            "hasDatabase": s.Cfg.DatabaseURL != "",
            "hasRedis":    s.Cfg.RedisURL != "",
            "hasPush":     s.Cfg.Push.Endpoint != "",
        },
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(info)
}
