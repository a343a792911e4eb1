// Package config defines service configuration and its loading layers.
package config

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store drivers understood by the service.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the handler: json or text.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// PartyID scopes every record this process writes.
	PartyID string `koanf:"party_id"`

	// StoreDriver is one of memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN string `koanf:"postgres_dsn"`

	// RedisAddr enables the redis publisher when set.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisChannel  string `koanf:"redis_channel"`

	// NotifyQueueSize bounds the notification queue.
	NotifyQueueSize int `koanf:"notify_queue_size"`
	// NotifyWorkers sets the number of delivery workers. One keeps events ordered.
	NotifyWorkers int `koanf:"notify_workers"`

	// DedupeSize caps remembered idempotency keys; zero is unbounded.
	DedupeSize int `koanf:"dedupe_size"`

	// ReconcileIntervalMS schedules background reconciliation; zero disables it.
	ReconcileIntervalMS int `koanf:"reconcile_interval_ms"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	JobberThresholdMS int `koanf:"jobber_threshold_ms"`

	// Bonuses overrides rows of the bonus table by name.
	Bonuses map[string]int `koanf:"bonuses"`

	// OTelEndpoint enables OTLP/HTTP trace export when set.
	OTelEndpoint string `koanf:"otel_endpoint"`
}

// New creates a Config holding the defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "json",
		Addr:                ":9080",
		PartyID:             uuid.NewString(),
		StoreDriver:         DriverMemory,
		SQLitePath:          "rumble.db",
		RedisChannel:        "rumble",
		NotifyQueueSize:     4096,
		NotifyWorkers:       1,
		DedupeSize:          100_000,
		ReconcileIntervalMS: 30_000,
		MaxLeaderboardLimit: 100,
		JobberThresholdMS:   60_000,
	}
}

// ReconcileInterval returns the background reconcile period.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalMS) * time.Millisecond
}

// JobberThreshold returns the minimum stay that avoids the jobber penalty.
func (c *Config) JobberThreshold() time.Duration {
	return time.Duration(c.JobberThresholdMS) * time.Millisecond
}
