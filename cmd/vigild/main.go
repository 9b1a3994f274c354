// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

// Package main is the entry point for the vigild server.
//
// Vigil is a real-time authentication-risk and bot-detection engine. It
// watches login activity per account (impossible travel, brute force,
// unfamiliar devices, off-hours access) and scores request streams for
// automation, escalating through rate-limit tiers and CAPTCHA challenges.
//
// Startup order:
//
//  1. Configuration: koanf layering of defaults, config file, environment
//  2. Logging: zerolog global logger
//  3. Event store: Badger, Redis, or memory, with degradation fallback
//  4. Geolocation: optional IP table behind a TTL cache
//  5. Alerting: webhook dispatcher (when enabled)
//  6. Engine: detectors, scorer, challenge issuer
//  7. Supervision tree: maintenance sweeper, alert dispatcher, HTTP API
//
// The process shuts down gracefully on SIGINT and SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmcrae/vigil/internal/alert"
	"github.com/jmcrae/vigil/internal/api"
	"github.com/jmcrae/vigil/internal/config"
	"github.com/jmcrae/vigil/internal/engine"
	"github.com/jmcrae/vigil/internal/geo"
	"github.com/jmcrae/vigil/internal/logging"
	"github.com/jmcrae/vigil/internal/store"
	"github.com/jmcrae/vigil/internal/supervisor"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("vigild failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("version", version).Msg("vigild starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("initialize event store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Err(err).Msg("event store close failed")
		}
	}()

	resolver, err := buildResolver(cfg.Geo)
	if err != nil {
		return err
	}

	var dispatcher *alert.Dispatcher
	if cfg.Alert.Enabled {
		dispatcher = alert.NewDispatcher(cfg.Alert.QueueSize, alert.NewWebhookNotifier(alert.WebhookOptions{
			URL:           cfg.Alert.WebhookURL,
			Headers:       cfg.Alert.Headers,
			RatePerMinute: cfg.Alert.RatePerMinute,
		}))
		logging.Info().Str("webhook", cfg.Alert.WebhookURL).Msg("alerting enabled")
	}

	eng, err := engine.New(cfg, st, resolver, dispatcher)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	tree.AddMaintenanceService(engine.NewSweeper(eng, cfg.Store.SweepInterval))
	if dispatcher != nil {
		tree.AddAlertingService(dispatcher)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(eng, cfg.Server),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", fmt.Sprintf("%v", svc.Service)).Msg("service did not stop in time")
		}
	}

	logging.Info().Msg("vigild stopped")
	return nil
}

// buildResolver assembles the geolocation path: a static IP table behind
// the TTL cache, or nil when no table is configured.
func buildResolver(cfg config.GeoConfig) (geo.Resolver, error) {
	if cfg.TablePath == "" {
		logging.Info().Msg("no geolocation table configured, travel checks disabled")
		return nil, nil
	}
	if _, err := os.Stat(cfg.TablePath); err != nil {
		return nil, fmt.Errorf("geolocation table: %w", err)
	}

	table, err := geo.LoadTable(cfg.TablePath)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("path", cfg.TablePath).Msg("geolocation table loaded")
	return geo.NewCachedResolver(table, cfg.CacheSize, cfg.CacheTTL, cfg.LookupTimeout), nil
}
