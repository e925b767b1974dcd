// Package api implements the HTTP surface for the geofence alerting service.
package api

import (
    "context"
    "strings"

    "geowatch/internal/alerts"
    "geowatch/internal/auth"
    "geowatch/internal/config"
    "geowatch/internal/dispatch"
    "geowatch/internal/ingest"
    "geowatch/internal/push"
    "geowatch/internal/store"
)

type Server struct {
    Store   store.Store
    Queue   *dispatch.Queue
    Factory *alerts.Factory
    Ingest  *ingest.Service
    Worker  *dispatch.Worker
    Auth    *auth.Verifier
    Cfg     config.Config
}

// NewServer wires the full stack from config. With no DATABASE_URL it runs on
// the in-memory store, which is the dev and test default.
func NewServer(cfg config.Config) (*Server, error) {
    var s store.Store
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil { return nil, err }
        if cfg.Migrate {
            if err := sp.MigrateDir(cfg.MigrationsDir); err != nil { return nil, err }
        }
        s = sp
    }
    if cfg.RedisURL != "" && cfg.CacheTTLSeconds > 0 {
        cached, err := store.NewCached(s, cfg.RedisURL, cfg.CacheTTL())
        if err != nil { return nil, err }
        s = cached
    }

    q := dispatch.NewQueue(s, cfg.Queue.Lease(), cfg.Queue.Poll())
    f := alerts.NewFactory(s, q)

    var sender push.Sender = push.NewFCM(cfg.Push.Endpoint, cfg.Push.Token, cfg.Push.RatePerSec)
    w := dispatch.NewWorker(q, s, sender)
    if cfg.Queue.MaxAttempts > 0 { w.MaxAttempts = cfg.Queue.MaxAttempts }
    if cfg.Queue.BackoffBaseSeconds > 0 { w.BackoffBase = cfg.Queue.BackoffBase() }
    if cfg.Queue.BatchSize > 0 { w.BatchSize = cfg.Queue.BatchSize }
    w.OnTokenInvalid = func(ctx context.Context, token string) {
        _ = s.DisableDeviceByToken(ctx, token)
    }

    srv := &Server{
        Store:   s,
        Queue:   q,
        Factory: f,
        Ingest:  ingest.NewService(s, f),
        Worker:  w,
        Auth:    auth.New(cfg.Auth.Mode, cfg.Auth.HMACSecret),
        Cfg:     cfg,
    }
    return srv, nil
}
