// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

// Package config defines the service configuration and loads it from
// layered sources: built-in defaults, an optional YAML file and
// environment variables, in ascending precedence.
package config

import (
	"fmt"
	"time"

	"github.com/koas-mih/Starlink-IP-EDL/internal/validation"
)

// Config is the root configuration for the EDL service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Feed      FeedConfig      `koanf:"feed"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Storage   StorageConfig   `koanf:"storage"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// FeedConfig holds upstream feed settings.
type FeedConfig struct {
	// URL is the upstream geoip feed.
	URL string `koanf:"url" validate:"required,url"`

	// AttemptTimeout bounds each fetch attempt (direct or relay).
	AttemptTimeout time.Duration `koanf:"attempt_timeout"`

	// BreakerFailureThreshold is the number of consecutive direct-fetch
	// failures before the circuit breaker opens.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold" validate:"min=1"`

	// BreakerOpenTimeout is how long the breaker stays open before
	// probing the direct source again.
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// SchedulerConfig holds refresh scheduler settings. The refresh interval
// and enabled flag are runtime state (persisted in the state document);
// the initial_* values seed that document on first run only, when no
// state file exists on disk.
type SchedulerConfig struct {
	// MinUpdateGap is the minimum time between two pipeline cycles.
	MinUpdateGap time.Duration `koanf:"min_update_gap"`

	// InitialIntervalMinutes seeds the refresh interval on first run.
	InitialIntervalMinutes int `koanf:"initial_interval_minutes" validate:"min=1"`

	// InitialAutoUpdate seeds the auto-update flag on first run.
	InitialAutoUpdate bool `koanf:"initial_auto_update"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// StatePath is the location of the single JSON state document.
	StatePath string `koanf:"state_path" validate:"required"`
}

// SecurityConfig holds the API protection settings.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	if c.Feed.AttemptTimeout <= 0 {
		return fmt.Errorf("feed.attempt_timeout must be positive")
	}
	if c.Scheduler.MinUpdateGap <= 0 {
		return fmt.Errorf("scheduler.min_update_gap must be positive")
	}
	return nil
}
