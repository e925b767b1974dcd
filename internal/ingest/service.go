// Package ingest is the request-facing entry point for location reports:
// validate, classify the transition, persist state atomically, and hand exit
// transitions to the alert factory.
package ingest

import (
    "context"
    "errors"
    "fmt"
    "log"
    "time"

    "geowatch/internal/alerts"
    "geowatch/internal/geo"
    "geowatch/internal/metrics"
    "geowatch/internal/model"
    "geowatch/internal/store"
    "geowatch/internal/track"
)

// ErrNoGeofence is returned when the user has no geofence configured.
var ErrNoGeofence = errors.New("no geofence configured")

// casRetries bounds re-evaluation when a concurrent report for the same user
// wins the membership compare-and-swap.
const casRetries = 3

type Service struct {
    Store   store.Store
    Factory *alerts.Factory
}

func NewService(s store.Store, f *alerts.Factory) *Service {
    return &Service{Store: s, Factory: f}
}

// HandleReport evaluates one location report. Result.Alert is true only when
// a new alert was created by this call; duplicates and non-transitions
// return false.
func (s *Service) HandleReport(ctx context.Context, rep model.LocationReport) (model.CheckResult, error) {
    if err := geo.ValidateCoordinate(rep.Lat, rep.Lon); err != nil {
        metrics.Reports.WithLabelValues("invalid").Inc()
        return model.CheckResult{}, err
    }
    if rep.ObservedAt.IsZero() { rep.ObservedAt = time.Now().UTC() }

    if _, err := s.Store.GetUser(ctx, rep.UserID); err != nil {
        metrics.Reports.WithLabelValues("unknown_user").Inc()
        return model.CheckResult{}, err
    }
    gf, err := s.Store.ActiveGeofence(ctx, rep.UserID)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            metrics.Reports.WithLabelValues("no_geofence").Inc()
            return model.CheckResult{}, ErrNoGeofence
        }
        return model.CheckResult{}, err
    }

    distance := geo.DistanceM(rep.Lat, rep.Lon, gf.CenterLat, gf.CenterLon)

    for attempt := 0; ; attempt++ {
        var prior *model.MembershipState
        st, err := s.Store.GetMembership(ctx, rep.UserID, gf.ID)
        if err == nil {
            prior = &st
        } else if !errors.Is(err, store.ErrNotFound) {
            return model.CheckResult{}, err
        }

        next, kind := track.Evaluate(rep, gf, prior)

        if kind == track.Reordered {
            // Late report: state stays as-is, record the observation only.
            log.Printf("ingest: reordered report for user %s (observed %s < state %s)",
                rep.UserID, rep.ObservedAt.Format(time.RFC3339), prior.UpdatedAt.Format(time.RFC3339))
            if err := s.Store.InsertLocation(ctx, rep); err != nil { return model.CheckResult{}, err }
            metrics.Transitions.WithLabelValues(kind.String()).Inc()
            metrics.Reports.WithLabelValues("reordered").Inc()
            return model.CheckResult{Inside: prior.IsInside, DistanceM: distance}, nil
        }

        if err := s.Store.SwapMembership(ctx, next, prior); err != nil {
            if errors.Is(err, store.ErrConflict) && attempt < casRetries {
                continue
            }
            if errors.Is(err, store.ErrConflict) {
                return model.CheckResult{}, fmt.Errorf("membership update contention for user %s: %w", rep.UserID, err)
            }
            return model.CheckResult{}, err
        }

        // counted only after the swap commits: a lost CAS re-evaluates and
        // must not count its transition twice
        metrics.Transitions.WithLabelValues(kind.String()).Inc()

        if err := s.Store.InsertLocation(ctx, rep); err != nil { return model.CheckResult{}, err }
        metrics.Reports.WithLabelValues("ok").Inc()

        res := model.CheckResult{Inside: next.IsInside, DistanceM: distance}
        if kind == track.Exited {
            _, created, err := s.Factory.CreateIfNew(ctx, rep.UserID, gf.ID, rep.ObservedAt, distance)
            if err != nil { return res, err }
            res.Alert = created
        }
        return res, nil
    }
}
