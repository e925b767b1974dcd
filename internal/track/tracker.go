// Package track classifies inside/outside transitions for (user, geofence)
// pairs. Evaluate is a pure function; durable state lives in the store and is
// written by the ingestion service with a compare-and-swap.
package track

import (
    "geowatch/internal/geo"
    "geowatch/internal/model"
)

// Kind is the classification of one evaluated report.
type Kind int

const (
    None Kind = iota
    Entered
    Exited
    Reordered
)

func (k Kind) String() string {
    switch k {
    case Entered:
        return "entered"
    case Exited:
        return "exited"
    case Reordered:
        return "reordered"
    }
    return "none"
}

// Evaluate computes the next membership state for a report. prior is nil for
// a first-ever report, which initializes state and is never Exited. A report
// older than prior.UpdatedAt is Reordered and leaves state untouched: state
// tracks the most recent report by observed time, not by arrival order.
func Evaluate(rep model.LocationReport, gf model.Geofence, prior *model.MembershipState) (model.MembershipState, Kind) {
    if prior != nil && rep.ObservedAt.Before(prior.UpdatedAt) {
        return *prior, Reordered
    }
    inside := geo.IsInside(rep.Lat, rep.Lon, gf)
    next := model.MembershipState{
        UserID:     rep.UserID,
        GeofenceID: gf.ID,
        IsInside:   inside,
        UpdatedAt:  rep.ObservedAt,
    }
    if prior == nil {
        return next, None
    }
    switch {
    case prior.IsInside && !inside:
        return next, Exited
    case !prior.IsInside && inside:
        return next, Entered
    }
    return next, None
}
