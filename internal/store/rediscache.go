package store

import (
    "context"
    "encoding/json"
    "errors"
    "time"

    redis "github.com/redis/go-redis/v9"

    "geowatch/internal/model"
)

// Cached wraps a Store with a read-through Redis cache for the two lookups on
// the hot ingestion path: the user's active geofence and their device list.
// The store stays authoritative; entries are dropped on every successful
// write and carry a TTL as a backstop, so a crashed invalidation cannot
// leave the cache permanently stale.
type Cached struct {
    Store
    rdb *redis.Client
    ttl time.Duration
}

func NewCached(s Store, redisURL string, ttl time.Duration) (*Cached, error) {
    opt, err := redis.ParseURL(redisURL)
    if err != nil { return nil, err }
    if ttl <= 0 { ttl = time.Minute }
    return &Cached{Store: s, rdb: redis.NewClient(opt), ttl: ttl}, nil
}

func geofenceKey(userID string) string { return "gw:gf:" + userID }
func devicesKey(userID string) string  { return "gw:dev:" + userID }
func tokenKey(token string) string     { return "gw:tok:" + token }

func (c *Cached) ActiveGeofence(ctx context.Context, userID string) (model.Geofence, error) {
    if b, err := c.rdb.Get(ctx, geofenceKey(userID)).Bytes(); err == nil {
        var gf model.Geofence
        if json.Unmarshal(b, &gf) == nil { return gf, nil }
    }
    gf, err := c.Store.ActiveGeofence(ctx, userID)
    if err != nil { return gf, err }
    if b, err := json.Marshal(gf); err == nil { _ = c.rdb.Set(ctx, geofenceKey(userID), b, c.ttl).Err() }
    return gf, nil
}

func (c *Cached) CreateGeofence(ctx context.Context, in model.GeofenceInput) (model.Geofence, error) {
    gf, err := c.Store.CreateGeofence(ctx, in)
    if err == nil { _ = c.rdb.Del(ctx, geofenceKey(in.UserID)).Err() }
    return gf, err
}

func (c *Cached) ListDevicesForUser(ctx context.Context, userID string) ([]model.Device, error) {
    if b, err := c.rdb.Get(ctx, devicesKey(userID)).Bytes(); err == nil {
        var out []model.Device
        if json.Unmarshal(b, &out) == nil { return out, nil }
    }
    out, err := c.Store.ListDevicesForUser(ctx, userID)
    if err != nil { return nil, err }
    if b, err := json.Marshal(out); err == nil {
        pipe := c.rdb.Pipeline()
        pipe.Set(ctx, devicesKey(userID), b, c.ttl)
        // token -> user mapping lets a token-invalidation drop the right entry
        for _, d := range out { pipe.Set(ctx, tokenKey(d.Token), userID, c.ttl) }
        _, _ = pipe.Exec(ctx)
    }
    return out, nil
}

func (c *Cached) RegisterDevice(ctx context.Context, in model.DeviceInput) (model.Device, error) {
    d, err := c.Store.RegisterDevice(ctx, in)
    if err != nil { return d, err }
    // registration upserts by token, so the token may have moved from
    // another user whose cached device list is now stale too
    prevOwner, gerr := c.rdb.Get(ctx, tokenKey(in.Token)).Result()
    if gerr != nil { prevOwner = "" }
    _ = c.rdb.Del(ctx, registerInvalidationKeys(in, prevOwner)...).Err()
    return d, nil
}

// registerInvalidationKeys lists the cache entries a device registration
// makes stale: the new owner's device list, the token mapping, and the old
// owner's device list when the token changed hands.
func registerInvalidationKeys(in model.DeviceInput, prevOwner string) []string {
    keys := []string{devicesKey(in.UserID), tokenKey(in.Token)}
    if prevOwner != "" && prevOwner != in.UserID {
        keys = append(keys, devicesKey(prevOwner))
    }
    return keys
}

func (c *Cached) DisableDeviceByToken(ctx context.Context, token string) error {
    err := c.Store.DisableDeviceByToken(ctx, token)
    if err != nil && !errors.Is(err, ErrNotFound) { return err }
    if userID, gerr := c.rdb.Get(ctx, tokenKey(token)).Result(); gerr == nil {
        _ = c.rdb.Del(ctx, devicesKey(userID), tokenKey(token)).Err()
    }
    return err
}
