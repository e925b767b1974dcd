// Package geo provides great-circle distance and geofence containment math.
package geo

import (
    "errors"
    "fmt"
    "math"

    "geowatch/internal/model"
)

// earthRadiusM is the mean Earth radius used by the haversine formula.
const earthRadiusM = 6371000.0

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// ValidateCoordinate rejects out-of-range or non-finite lat/lon pairs.
func ValidateCoordinate(lat, lon float64) error {
    if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
        return fmt.Errorf("%w: non-finite value", ErrInvalidCoordinate)
    }
    if lat < -90 || lat > 90 {
        return fmt.Errorf("%w: latitude %v out of [-90,90]", ErrInvalidCoordinate, lat)
    }
    if lon < -180 || lon > 180 {
        return fmt.Errorf("%w: longitude %v out of [-180,180]", ErrInvalidCoordinate, lon)
    }
    return nil
}

// DistanceM returns the haversine distance in meters between two points on a
// spherical Earth.
func DistanceM(aLat, aLon, bLat, bLon float64) float64 {
    phi1 := aLat * math.Pi / 180
    phi2 := bLat * math.Pi / 180
    dPhi := (bLat - aLat) * math.Pi / 180
    dLambda := (bLon - aLon) * math.Pi / 180

    h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
        math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
    c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
    return earthRadiusM * c
}

// IsInside reports whether the point lies within the geofence radius.
func IsInside(lat, lon float64, gf model.Geofence) bool {
    return DistanceM(lat, lon, gf.CenterLat, gf.CenterLon) <= gf.RadiusM
}
