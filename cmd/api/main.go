package main

import (
    "context"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "geowatch/internal/api"
    "geowatch/internal/config"
    "geowatch/internal/dispatch"
    "geowatch/internal/metrics"
)

func main() {
    cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    metrics.RegisterDefault()

    srv, err := api.NewServer(cfg)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }

    mux := http.NewServeMux()

    // Location ingestion
    mux.HandleFunc("/v1/location/update", srv.LocationUpdateHandler)

    // Users
    mux.HandleFunc("/v1/users", srv.UsersHandler)
    mux.HandleFunc("/v1/users/", srv.UserByIDHandler) // includes /profile, /alerts

    // Geofences
    mux.HandleFunc("/v1/geofences", srv.GeofencesHandler)

    // Devices
    mux.HandleFunc("/v1/devices/register", srv.DevicesRegisterHandler)

    // Alerts
    mux.HandleFunc("/v1/alerts", srv.AlertsHandler)
    mux.HandleFunc("/v1/alerts/", srv.AlertsHandler)

    // Health
    mux.HandleFunc("/healthz", srv.HealthHandler)
    mux.HandleFunc("/readyz", srv.ReadyHandler)

    // Admin
    mux.HandleFunc("/v1/admin/delivery-jobs", srv.DeliveryJobsHandler)
    mux.HandleFunc("/v1/admin/delivery-dlq", srv.DeliveryDLQHandler)
    mux.HandleFunc("/v1/admin/delivery-dlq/", srv.DeliveryDLQHandler)
    mux.HandleFunc("/v1/admin/queue/stats", srv.QueueStatsHandler)
    mux.HandleFunc("/v1/admin/debug", srv.DebugJSON)

    // Docs and metrics
    mux.HandleFunc("/openapi.yaml", srv.OpenAPIHandler)
    mux.HandleFunc("/docs", srv.DocsHandler)
    mux.HandleFunc("/swagger", srv.SwaggerHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    httpSrv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           api.Instrument(mux),
        ReadHeaderTimeout: 5 * time.Second,
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    // Delivery worker pool shares the process with the API.
    workersDone := make(chan struct{})
    go func() {
        defer close(workersDone)
        dispatch.RunPool(ctx, srv.Worker, cfg.Queue.Workers)
    }()

    go func() {
        log.Printf("API listening on :%s", cfg.Port)
        if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatalf("server error: %v", err)
        }
    }()

    <-ctx.Done()
    log.Printf("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    if err := httpSrv.Shutdown(shutdownCtx); err != nil {
        log.Printf("shutdown: %v", err)
    }
    <-workersDone
}
