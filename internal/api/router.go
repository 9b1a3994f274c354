// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

// Package api exposes the engine over HTTP for callers that embed Vigil
// as a sidecar instead of linking it in-process.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmcrae/vigil/internal/config"
	"github.com/jmcrae/vigil/internal/engine"
)

// NewRouter builds the vigild HTTP router.
func NewRouter(e *engine.Engine, cfg config.ServerConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(observeRequests)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	h := &handlers{engine: e}

	r.Get("/healthz", h.health)
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/events", h.recordAuthEvent)
			r.Get("/{email}/stats", h.authStats)
			r.Get("/{email}/events", h.authEvents)
			r.Get("/{email}/flag", h.accountFlag)
		})

		r.Route("/traffic", func(r chi.Router) {
			r.Post("/score", h.scoreRequest)
			r.Get("/tier", h.rateLimitTier)
		})

		r.Route("/challenge", func(r chi.Router) {
			r.Post("/", h.issueChallenge)
			r.Post("/verify", h.verifyChallenge)
		})
	})

	return r
}
