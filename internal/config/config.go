// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

// Package config loads and validates Vigil configuration from layered
// sources: struct defaults, an optional YAML file, and environment
// variables (highest priority).
//
// Every detection threshold is configuration surface rather than a fixed
// contract; the defaults below are the shipped tuning.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for vigild and the embedded engine.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Auth      AuthRiskConfig  `koanf:"auth"`
	Traffic   TrafficConfig   `koanf:"traffic"`
	Challenge ChallengeConfig `koanf:"challenge"`
	Alert     AlertConfig     `koanf:"alert"`
	Geo       GeoConfig       `koanf:"geo"`
}

// LoggingConfig controls the zerolog global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ServerConfig controls the vigild HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"min=1s"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"min=1s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`

	// RateLimitReqs/RateLimitWindow throttle the API itself (per client IP),
	// independent of the suspicion-score tiers computed by the engine.
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"min=1s"`
}

// StoreConfig selects and tunes the windowed event store backend.
type StoreConfig struct {
	// Backend is badger, redis, or memory. Redis suits multi-instance
	// deployments where state must be shared across processes.
	Backend string `koanf:"backend" validate:"oneof=badger redis memory"`

	BadgerPath     string `koanf:"badger_path"`
	BadgerInMemory bool   `koanf:"badger_in_memory"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db" validate:"min=0"`

	// EventTTL bounds event retention; expired events are never returned.
	EventTTL time.Duration `koanf:"event_ttl" validate:"min=1h"`

	// CallTimeout bounds each backing-store call. On timeout or error the
	// fallback path takes over; detection never blocks on the store.
	CallTimeout time.Duration `koanf:"call_timeout" validate:"min=1ms"`

	// FallbackIdentities caps the degraded in-memory store; the least
	// recently used identity's whole state is evicted atomically.
	FallbackIdentities int `koanf:"fallback_identities" validate:"min=16"`

	SweepInterval time.Duration `koanf:"sweep_interval" validate:"min=1s"`
}

// AuthRiskConfig tunes the authentication risk detector.
type AuthRiskConfig struct {
	ImpossibleTravelKm     float64       `koanf:"impossible_travel_km" validate:"gt=0"`
	ImpossibleTravelWithin time.Duration `koanf:"impossible_travel_within" validate:"gt=0"`
	RapidTravelKm          float64       `koanf:"rapid_travel_km" validate:"gt=0"`
	RapidTravelWithin      time.Duration `koanf:"rapid_travel_within" validate:"gt=0"`

	FailedLoginThreshold int           `koanf:"failed_login_threshold" validate:"min=1"`
	FailedLoginWindow    time.Duration `koanf:"failed_login_window" validate:"gt=0"`

	// Quiet hours: local hour range (inclusive) flagged on weekdays.
	QuietHourStart int `koanf:"quiet_hour_start" validate:"min=0,max=23"`
	QuietHourEnd   int `koanf:"quiet_hour_end" validate:"min=0,max=23"`

	TravelLookback time.Duration `koanf:"travel_lookback" validate:"gt=0"`
	StatsWindow    time.Duration `koanf:"stats_window" validate:"gt=0"`
	FlagTTL        time.Duration `koanf:"flag_ttl" validate:"gt=0"`
}

// TrafficConfig tunes the traffic/bot scorer.
type TrafficConfig struct {
	RequestRateCeiling int           `koanf:"request_rate_ceiling" validate:"min=1"`
	CartRateCeiling    int           `koanf:"cart_rate_ceiling" validate:"min=1"`
	RateWindow         time.Duration `koanf:"rate_window" validate:"gt=0"`
	PatternWindow      time.Duration `koanf:"pattern_window" validate:"gt=0"`

	DuplicateThreshold int           `koanf:"duplicate_threshold" validate:"min=2"`
	MinCartInterval    time.Duration `koanf:"min_cart_interval" validate:"gt=0"`

	// DecayHorizon is the inactivity period over which a stored suspicion
	// score decays linearly to zero.
	DecayHorizon time.Duration `koanf:"decay_horizon" validate:"gt=0"`

	BotThreshold float64 `koanf:"bot_threshold" validate:"gt=0"`

	MaxIdentities int `koanf:"max_identities" validate:"min=16"`
}

// ChallengeConfig tunes the CAPTCHA issuer.
type ChallengeConfig struct {
	// Secret signs challenge tokens (HS256). Required in production; a
	// random per-process secret is generated when empty, which invalidates
	// outstanding challenges across restarts.
	Secret string        `koanf:"secret"`
	TTL    time.Duration `koanf:"ttl" validate:"gt=0"`
	Length int           `koanf:"length" validate:"min=4,max=16"`
}

// AlertConfig tunes outbound alert delivery.
type AlertConfig struct {
	Enabled    bool              `koanf:"enabled"`
	WebhookURL string            `koanf:"webhook_url" validate:"omitempty,url"`
	Headers    map[string]string `koanf:"headers"`
	QueueSize  int               `koanf:"queue_size" validate:"min=1"`

	// RatePerMinute caps webhook deliveries; bursts beyond it are dropped
	// rather than queued indefinitely.
	RatePerMinute int `koanf:"rate_per_minute" validate:"min=1"`
}

// GeoConfig tunes the geolocation source and cache.
type GeoConfig struct {
	// TablePath points at a JSON file mapping IPs to locations. Empty
	// means no geolocation; travel checks are skipped.
	TablePath string `koanf:"table_path"`

	CacheSize int           `koanf:"cache_size" validate:"min=16"`
	CacheTTL  time.Duration `koanf:"cache_ttl" validate:"gt=0"`

	// LookupTimeout bounds a single resolver call; a miss that cannot be
	// resolved in time proceeds with an unknown location.
	LookupTimeout time.Duration `koanf:"lookup_timeout" validate:"gt=0"`
}

// defaultConfig returns the shipped defaults. Environment variables and the
// config file override these.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8471,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Store: StoreConfig{
			Backend:            "badger",
			BadgerPath:         "/data/vigil",
			BadgerInMemory:     false,
			RedisAddr:          "127.0.0.1:6379",
			RedisDB:            0,
			EventTTL:           30 * 24 * time.Hour,
			CallTimeout:        250 * time.Millisecond,
			FallbackIdentities: 4096,
			SweepInterval:      5 * time.Minute,
		},
		Auth: AuthRiskConfig{
			ImpossibleTravelKm:     500,
			ImpossibleTravelWithin: 30 * time.Minute,
			RapidTravelKm:          100,
			RapidTravelWithin:      60 * time.Minute,
			FailedLoginThreshold:   5,
			FailedLoginWindow:      24 * time.Hour,
			QuietHourStart:         2,
			QuietHourEnd:           5,
			TravelLookback:         24 * time.Hour,
			StatsWindow:            30 * 24 * time.Hour,
			FlagTTL:                24 * time.Hour,
		},
		Traffic: TrafficConfig{
			RequestRateCeiling: 20,
			CartRateCeiling:    10,
			RateWindow:         time.Minute,
			PatternWindow:      time.Hour,
			DuplicateThreshold: 3,
			MinCartInterval:    time.Second,
			DecayHorizon:       time.Hour,
			BotThreshold:       50,
			MaxIdentities:      65536,
		},
		Challenge: ChallengeConfig{
			Secret: "",
			TTL:    5 * time.Minute,
			Length: 6,
		},
		Alert: AlertConfig{
			Enabled:       false,
			WebhookURL:    "",
			Headers:       map[string]string{},
			QueueSize:     256,
			RatePerMinute: 120,
		},
		Geo: GeoConfig{
			TablePath:     "",
			CacheSize:     16384,
			CacheTTL:      24 * time.Hour,
			LookupTimeout: 100 * time.Millisecond,
		},
	}
}

// Validate checks structural constraints and cross-field invariants.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Auth.QuietHourEnd < c.Auth.QuietHourStart {
		return fmt.Errorf("invalid configuration: quiet_hour_end (%d) before quiet_hour_start (%d)",
			c.Auth.QuietHourEnd, c.Auth.QuietHourStart)
	}
	if c.Auth.RapidTravelKm >= c.Auth.ImpossibleTravelKm {
		return fmt.Errorf("invalid configuration: rapid_travel_km (%.0f) must be below impossible_travel_km (%.0f)",
			c.Auth.RapidTravelKm, c.Auth.ImpossibleTravelKm)
	}
	if c.Store.Backend == "redis" && c.Store.RedisAddr == "" {
		return fmt.Errorf("invalid configuration: store backend is redis but redis_addr is empty")
	}
	if c.Alert.Enabled && c.Alert.WebhookURL == "" {
		return fmt.Errorf("invalid configuration: alerts enabled but webhook_url is empty")
	}
	return nil
}
