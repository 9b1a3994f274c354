// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

// Package engine composes the detectors, store, challenge issuer, and
// alert dispatcher behind one facade. The HTTP layer and embedding
// applications talk to this type only.
package engine

import (
	"context"
	"time"

	"github.com/jmcrae/vigil/internal/alert"
	"github.com/jmcrae/vigil/internal/authrisk"
	"github.com/jmcrae/vigil/internal/challenge"
	"github.com/jmcrae/vigil/internal/config"
	"github.com/jmcrae/vigil/internal/geo"
	"github.com/jmcrae/vigil/internal/identity"
	"github.com/jmcrae/vigil/internal/logging"
	"github.com/jmcrae/vigil/internal/store"
	"github.com/jmcrae/vigil/internal/traffic"
)

// Engine is the composed risk engine.
type Engine struct {
	cfg        *config.Config
	store      store.Store
	auth       *authrisk.Detector
	traffic    *traffic.Scorer
	challenges *challenge.Issuer
}

// New wires an engine from its collaborators. resolver and alerts may be
// nil when geolocation or alerting is not deployed.
func New(cfg *config.Config, st store.Store, resolver geo.Resolver, alerts *alert.Dispatcher) (*Engine, error) {
	scorer, err := traffic.NewScorer(cfg.Traffic)
	if err != nil {
		return nil, err
	}
	issuer, err := challenge.NewIssuer(cfg.Challenge)
	if err != nil {
		return nil, err
	}

	var sink authrisk.AlertSink
	if alerts != nil {
		sink = alerts
	}
	return &Engine{
		cfg:        cfg,
		store:      st,
		auth:       authrisk.NewDetector(st, resolver, sink, cfg.Auth),
		traffic:    scorer,
		challenges: issuer,
	}, nil
}

// RecordAuthEvent evaluates and persists one authentication event.
func (e *Engine) RecordAuthEvent(ctx context.Context, ev authrisk.AuthEvent) (authrisk.AuthEvent, []authrisk.SuspiciousPattern, error) {
	return e.auth.Evaluate(ctx, ev)
}

// AuthStats aggregates an account's recent authentication history.
func (e *Engine) AuthStats(ctx context.Context, email string) (authrisk.Stats, error) {
	return e.auth.Stats(ctx, email)
}

// RecentAuthEvents lists an account's events in the window, newest first.
func (e *Engine) RecentAuthEvents(ctx context.Context, email string, window time.Duration) ([]authrisk.AuthEvent, error) {
	return e.auth.RecentEvents(ctx, email, window)
}

// AccountFlag reports whether an account is currently flagged.
func (e *Engine) AccountFlag(ctx context.Context, email string) (string, bool, error) {
	return e.auth.Flagged(ctx, email)
}

// ScoreRequest scores one request sample.
func (e *Engine) ScoreRequest(sample traffic.RequestSample) traffic.Verdict {
	return e.traffic.Score(sample)
}

// CurrentScore returns an identity's decayed suspicion score without
// recording a request.
func (e *Engine) CurrentScore(id identity.Identity) float64 {
	return e.traffic.CurrentScore(id)
}

// RateLimitTier maps a suspicion score to a request budget.
func (e *Engine) RateLimitTier(score float64) traffic.RateLimitTier {
	return e.traffic.Tier(score)
}

// IssueChallenge generates a CAPTCHA challenge and its token.
func (e *Engine) IssueChallenge() (challenge.Challenge, error) {
	return e.challenges.Issue()
}

// VerifyChallenge checks a challenge answer against its token.
func (e *Engine) VerifyChallenge(token, response string) bool {
	return e.challenges.Verify(token, response)
}

// Degraded reports whether the store is serving from its fallback.
func (e *Engine) Degraded() bool {
	if fs, ok := e.store.(*store.FallbackStore); ok {
		return fs.Degraded()
	}
	return false
}

// Sweeper periodically reclaims expired state from the store and the
// scorer. Runs as a supervised service; correctness never depends on it.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

// NewSweeper builds the maintenance sweeper.
func NewSweeper(e *Engine, interval time.Duration) *Sweeper {
	return &Sweeper{engine: e, interval: interval}
}

// Serve runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if sweeper, ok := s.engine.store.(store.Sweeper); ok {
				sweeper.Sweep(now)
			}
			s.engine.traffic.Sweep(now)
			logging.Debug().Msg("maintenance sweep complete")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sweeper) String() string { return "maintenance-sweeper" }
