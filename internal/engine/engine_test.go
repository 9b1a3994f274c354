// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/jmcrae/vigil/internal/authrisk"
	"github.com/jmcrae/vigil/internal/config"
	"github.com/jmcrae/vigil/internal/geo"
	"github.com/jmcrae/vigil/internal/store"
	"github.com/jmcrae/vigil/internal/traffic"
)

func testEngineConfig() *config.Config {
	return &config.Config{
		Store: config.StoreConfig{
			Backend:            "memory",
			EventTTL:           48 * time.Hour,
			CallTimeout:        250 * time.Millisecond,
			FallbackIdentities: 256,
			SweepInterval:      time.Minute,
		},
		Auth: config.AuthRiskConfig{
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
		Traffic: config.TrafficConfig{
			RequestRateCeiling: 20,
			CartRateCeiling:    10,
			RateWindow:         time.Minute,
			PatternWindow:      time.Hour,
			DuplicateThreshold: 3,
			MinCartInterval:    time.Second,
			DecayHorizon:       time.Hour,
			BotThreshold:       50,
			MaxIdentities:      1024,
		},
		Challenge: config.ChallengeConfig{Secret: "test-secret", TTL: 5 * time.Minute, Length: 6},
		Geo:       config.GeoConfig{CacheSize: 64, CacheTTL: time.Hour, LookupTimeout: 50 * time.Millisecond},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := testEngineConfig()
	mem, err := store.NewMemoryStore(cfg.Store.FallbackIdentities, cfg.Store.EventTTL)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mem.Close() })

	resolver := geo.NewStaticResolver(map[string]*geo.Location{
		"81.2.69.142":  {Country: "GB", City: "London", Latitude: 51.5074, Longitude: -0.1278},
		"74.125.21.99": {Country: "US", City: "New York", Latitude: 40.7128, Longitude: -74.006},
	})

	e, err := New(cfg, mem, resolver, nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestEngineImpossibleTravelFlow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	// Locations come from the resolver via the event IP.
	first := authrisk.AuthEvent{
		Kind: authrisk.KindLogin, Email: "alice@example.com",
		IP: "81.2.69.142", Timestamp: base,
	}
	if _, _, err := e.RecordAuthEvent(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := authrisk.AuthEvent{
		Kind: authrisk.KindLogin, Email: "alice@example.com",
		IP: "74.125.21.99", Timestamp: base.Add(10 * time.Minute),
	}
	_, patterns, err := e.RecordAuthEvent(ctx, second)
	if err != nil {
		t.Fatal(err)
	}

	var critical bool
	for _, p := range patterns {
		if p.Kind == authrisk.PatternImpossibleTravel && p.Severity == authrisk.SeverityCritical {
			critical = true
		}
	}
	if !critical {
		t.Fatalf("expected critical impossible_travel, got %+v", patterns)
	}

	if _, flagged, err := e.AccountFlag(ctx, "alice@example.com"); err != nil || !flagged {
		t.Errorf("AccountFlag() = (flagged=%v, err=%v), want flagged", flagged, err)
	}

	stats, err := e.AuthStats(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalLogins != 2 || stats.UniqueLocations != 2 {
		t.Errorf("stats = %+v, want 2 logins across 2 locations", stats)
	}
}

func TestEngineScoreAndTier(t *testing.T) {
	e := newTestEngine(t)

	v := e.ScoreRequest(traffic.RequestSample{
		IP:        "203.0.113.20",
		Method:    "GET",
		Path:      "/api/v1/products",
		UserAgent: "python-requests/2.32",
		APIPath:   true,
	})
	if !v.IsBot {
		t.Errorf("scripted client should verdict bot, score %.0f", v.Score)
	}

	tier := e.RateLimitTier(v.Score)
	if tier.Limit > 20 {
		t.Errorf("bot-band score should tighten the tier, got limit %d", tier.Limit)
	}
}

func TestEngineChallengeRoundtrip(t *testing.T) {
	e := newTestEngine(t)

	c, err := e.IssueChallenge()
	if err != nil {
		t.Fatal(err)
	}
	if !e.VerifyChallenge(c.Token, c.Challenge) {
		t.Error("issued challenge should verify against its own answer")
	}
	if e.VerifyChallenge(c.Token, "nope") {
		t.Error("wrong answer should fail")
	}
}

func TestEngineDegradedReporting(t *testing.T) {
	e := newTestEngine(t)
	if e.Degraded() {
		t.Error("memory-backed engine should never report degraded")
	}
}
