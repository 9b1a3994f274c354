// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

// Package metrics provides Prometheus instrumentation for the detection
// engine: evaluation throughput, pattern and verdict counters, store
// degradation, alert delivery, and API latency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Authentication risk detector

	AuthEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_auth_evaluations_total",
			Help: "Total authentication events evaluated, by event kind",
		},
		[]string{"kind"},
	)

	AuthEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_auth_evaluation_duration_seconds",
			Help:    "Duration of a full authentication risk evaluation",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	PatternsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_patterns_detected_total",
			Help: "Suspicious patterns detected, by pattern kind and severity",
		},
		[]string{"pattern", "severity"},
	)

	AccountsFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_accounts_flagged_total",
			Help: "Accounts flagged for critical-severity findings",
		},
	)

	// Traffic scorer

	RequestsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_requests_scored_total",
			Help: "Total requests scored by the traffic scorer",
		},
	)

	BotVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_bot_verdicts_total",
			Help: "Bot verdicts issued, by score band reason",
		},
		[]string{"reason"},
	)

	SuspiciousClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_suspicious_clients_total",
			Help: "Clients with two or more independent suspicious indicators in one evaluation",
		},
	)

	// Windowed event store

	StoreDegradations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_store_degradations_total",
			Help: "Operations served by the in-memory fallback because the backing store was unavailable",
		},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_store_operation_duration_seconds",
			Help:    "Duration of event store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	// Alert dispatch

	AlertsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_dispatched_total",
			Help: "Alerts handed to notifiers, by notifier and outcome",
		},
		[]string{"notifier", "outcome"},
	)

	AlertsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_alerts_dropped_total",
			Help: "Alerts dropped because the dispatch queue was full",
		},
	)

	// Challenge issuer

	ChallengesIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_challenges_issued_total",
			Help: "CAPTCHA challenges issued",
		},
	)

	ChallengeVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_challenge_verifications_total",
			Help: "CAPTCHA verification attempts, by result",
		},
		[]string{"result"},
	)

	// Geolocation cache

	GeoCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_geo_cache_hits_total",
			Help: "Geolocation lookups served from cache",
		},
	)

	GeoCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_geo_cache_misses_total",
			Help: "Geolocation lookups that missed the cache",
		},
	)

	// HTTP API

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_api_requests_total",
			Help: "API requests, by method, route, and status code",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_api_request_duration_seconds",
			Help:    "API request duration",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "route"},
	)
)

// ObserveStoreOp records the duration of one store operation.
func ObserveStoreOp(operation, backend string, start time.Time) {
	StoreOperationDuration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
}

// ObserveAPIRequest records one completed API request.
func ObserveAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
