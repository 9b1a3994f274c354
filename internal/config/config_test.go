// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should validate: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Auth.FailedLoginThreshold != 5 {
		t.Errorf("failed_login_threshold = %d, want 5", cfg.Auth.FailedLoginThreshold)
	}
	if cfg.Traffic.DecayHorizon != time.Hour {
		t.Errorf("decay_horizon = %v, want 1h", cfg.Traffic.DecayHorizon)
	}
	if cfg.Store.EventTTL != 30*24*time.Hour {
		t.Errorf("event_ttl = %v, want 720h", cfg.Store.EventTTL)
	}
}

func TestEnvOverride(t *testing.T) {
	os.Setenv("VIGIL_SERVER_PORT", "9999")
	os.Setenv("VIGIL_STORE_BACKEND", "memory")
	os.Setenv("VIGIL_TRAFFIC_BOT_THRESHOLD", "60")
	defer func() {
		os.Unsetenv("VIGIL_SERVER_PORT")
		os.Unsetenv("VIGIL_STORE_BACKEND")
		os.Unsetenv("VIGIL_TRAFFIC_BOT_THRESHOLD")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("server.port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("store.backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Traffic.BotThreshold != 60 {
		t.Errorf("traffic.bot_threshold = %v, want 60", cfg.Traffic.BotThreshold)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"VIGIL_SERVER_PORT", "server.port"},
		{"VIGIL_STORE_REDIS_ADDR", "store.redis_addr"},
		{"VIGIL_AUTH_FAILED_LOGIN_THRESHOLD", "auth.failed_login_threshold"},
		{"VIGIL_LOGGING_LEVEL", "logging.level"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad backend", func(c *Config) { c.Store.Backend = "etcd" }},
		{"quiet hours inverted", func(c *Config) { c.Auth.QuietHourStart = 6; c.Auth.QuietHourEnd = 2 }},
		{"rapid above impossible", func(c *Config) { c.Auth.RapidTravelKm = 600 }},
		{"redis without addr", func(c *Config) { c.Store.Backend = "redis"; c.Store.RedisAddr = "" }},
		{"alerts without webhook", func(c *Config) { c.Alert.Enabled = true; c.Alert.WebhookURL = "" }},
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
