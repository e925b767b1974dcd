// Package config loads service configuration from an optional YAML file with
// environment variable overrides. Env always wins so container deploys can
// tweak a single knob without shipping a new file.
package config

import (
    "fmt"
    "os"
    "strconv"
    "time"

    yaml "gopkg.in/yaml.v3"
)

type Config struct {
    Port        string `yaml:"port"`
    DatabaseURL string `yaml:"databaseUrl"`
    RedisURL    string `yaml:"redisUrl"`
    // Migrate runs db/migrations on startup when a database is configured.
    Migrate       bool   `yaml:"migrate"`
    MigrationsDir string `yaml:"migrationsDir"`

    Auth  Auth  `yaml:"auth"`
    Push  Push  `yaml:"push"`
    Queue Queue `yaml:"queue"`

    // CacheTTLSeconds is the Redis read-through TTL for geofences and
    // device lists. 0 disables caching even when RedisURL is set.
    CacheTTLSeconds int `yaml:"cacheTtlSeconds"`
}

type Auth struct {
    Mode       string `yaml:"mode"` // dev or hmac
    HMACSecret string `yaml:"hmacSecret"`
}

type Push struct {
    Endpoint   string  `yaml:"endpoint"`
    Token      string  `yaml:"token"`
    RatePerSec float64 `yaml:"ratePerSec"`
}

type Queue struct {
    Workers            int `yaml:"workers"`
    LeaseSeconds       int `yaml:"leaseSeconds"`
    PollSeconds        int `yaml:"pollSeconds"`
    MaxAttempts        int `yaml:"maxAttempts"`
    BackoffBaseSeconds int `yaml:"backoffBaseSeconds"`
    BatchSize          int `yaml:"batchSize"`
}

func Default() Config {
    return Config{
        Port:            "8080",
        Migrate:         true,
        MigrationsDir:   "db/migrations",
        Auth:            Auth{Mode: "dev"},
        Push:            Push{RatePerSec: 50},
        Queue:           Queue{Workers: 4, LeaseSeconds: 30, PollSeconds: 1, MaxAttempts: 5, BackoffBaseSeconds: 5, BatchSize: 50},
        CacheTTLSeconds: 60,
    }
}

// Load reads path (if non-empty and present) over Default, then applies env
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
    cfg := Default()
    if path != "" {
        b, err := os.ReadFile(path)
        if err == nil {
            if err := yaml.Unmarshal(b, &cfg); err != nil {
                return cfg, fmt.Errorf("parse %s: %w", path, err)
            }
        } else if !os.IsNotExist(err) {
            return cfg, err
        }
    }
    cfg.applyEnv()
    return cfg, nil
}

func (c *Config) applyEnv() {
    strVar(&c.Port, "PORT")
    strVar(&c.DatabaseURL, "DATABASE_URL")
    strVar(&c.RedisURL, "REDIS_URL")
    if v := os.Getenv("DB_MIGRATE"); v != "" { c.Migrate = v != "false" }
    strVar(&c.Auth.Mode, "AUTH_MODE")
    strVar(&c.Auth.HMACSecret, "AUTH_HMAC_SECRET")
    strVar(&c.Push.Endpoint, "PUSH_ENDPOINT")
    strVar(&c.Push.Token, "PUSH_TOKEN")
    floatVar(&c.Push.RatePerSec, "PUSH_RATE_PER_SEC")
    intVar(&c.Queue.Workers, "QUEUE_WORKERS")
    intVar(&c.Queue.LeaseSeconds, "QUEUE_LEASE_SECONDS")
    intVar(&c.Queue.PollSeconds, "QUEUE_POLL_SECONDS")
    intVar(&c.Queue.MaxAttempts, "QUEUE_MAX_ATTEMPTS")
    intVar(&c.Queue.BackoffBaseSeconds, "QUEUE_BACKOFF_BASE_SECONDS")
    intVar(&c.Queue.BatchSize, "QUEUE_BATCH_SIZE")
    intVar(&c.CacheTTLSeconds, "CACHE_TTL_SECONDS")
}

func (q Queue) Lease() time.Duration       { return time.Duration(q.LeaseSeconds) * time.Second }
func (q Queue) Poll() time.Duration        { return time.Duration(q.PollSeconds) * time.Second }
func (q Queue) BackoffBase() time.Duration { return time.Duration(q.BackoffBaseSeconds) * time.Second }

func (c Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLSeconds) * time.Second }

func strVar(dst *string, key string) {
    if v := os.Getenv(key); v != "" { *dst = v }
}

func intVar(dst *int, key string) {
    if v := os.Getenv(key); v != "" {
        if n, err := strconv.Atoi(v); err == nil { *dst = n }
    }
}

func floatVar(dst *float64, key string) {
    if v := os.Getenv(key); v != "" {
        if f, err := strconv.ParseFloat(v, 64); err == nil { *dst = f }
    }
}
