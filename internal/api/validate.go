package api

import (
    "fmt"
    "strings"

    "geowatch/internal/geo"
    "geowatch/internal/model"
)

func validateUserInput(in model.UserInput) error {
    if strings.TrimSpace(in.Username) == "" {
        return fmt.Errorf("username required")
    }
    if len(in.Username) > 128 {
        return fmt.Errorf("username too long")
    }
    return nil
}

func validateGeofenceInput(in model.GeofenceInput) error {
    if in.UserID == "" {
        return fmt.Errorf("userId required")
    }
    if err := geo.ValidateCoordinate(in.CenterLat, in.CenterLon); err != nil {
        return err
    }
    if in.RadiusM <= 0 {
        return fmt.Errorf("radiusM must be > 0")
    }
    if in.RadiusM > 1_000_000 {
        return fmt.Errorf("radiusM too large")
    }
    return nil
}

func validateDeviceInput(in model.DeviceInput) error {
    if in.UserID == "" {
        return fmt.Errorf("userId required")
    }
    if strings.TrimSpace(in.Token) == "" {
        return fmt.Errorf("token required")
    }
    switch strings.ToLower(in.Platform) {
    case "android", "ios", "web":
        return nil
    }
    return fmt.Errorf("platform must be one of android, ios, web")
}
