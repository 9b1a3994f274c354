// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/jmcrae/vigil/internal/config"
	"github.com/jmcrae/vigil/internal/engine"
	"github.com/jmcrae/vigil/internal/geo"
	"github.com/jmcrae/vigil/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			RateLimitReqs:   1000,
			RateLimitWindow: time.Minute,
		},
		Store: config.StoreConfig{
			Backend:            "memory",
			EventTTL:           48 * time.Hour,
			FallbackIdentities: 256,
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
	}

	mem, err := store.NewMemoryStore(cfg.Store.FallbackIdentities, cfg.Store.EventTTL)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mem.Close() })

	resolver := geo.NewStaticResolver(map[string]*geo.Location{
		"81.2.69.142":  {Country: "GB", City: "London", Latitude: 51.5074, Longitude: -0.1278},
		"74.125.21.99": {Country: "US", City: "New York", Latitude: 40.7128, Longitude: -74.006},
	})

	e, err := engine.New(cfg, mem, resolver, nil)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(NewRouter(e, cfg.Server))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestRecordAuthEventEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/auth/events", map[string]any{
		"kind":       "login",
		"email":      "alice@example.com",
		"ip":         "81.2.69.142",
		"user_agent": "Mozilla/5.0",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body := decode[map[string]any](t, resp)
	event, ok := body["event"].(map[string]any)
	if !ok {
		t.Fatalf("missing event in response: %v", body)
	}
	if event["email"] != "alice@example.com" {
		t.Errorf("event email = %v", event["email"])
	}
	if _, ok := body["patterns"]; !ok {
		t.Error("response should always carry a patterns array")
	}
}

func TestRecordAuthEventValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/auth/events", map[string]any{
		"kind": "login",
		"ip":   "81.2.69.142",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("missing email status = %d, want 422", resp.StatusCode)
	}

	badJSON, err := http.Post(srv.URL+"/api/v1/auth/events", "application/json",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatal(err)
	}
	defer badJSON.Body.Close()
	if badJSON.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", badJSON.StatusCode)
	}
}

func TestImpossibleTravelOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	ts := time.Now().Add(-time.Hour)
	first := postJSON(t, srv.URL+"/api/v1/auth/events", map[string]any{
		"kind": "login", "email": "bob@example.com", "ip": "81.2.69.142",
		"timestamp": ts.Format(time.RFC3339),
	})
	first.Body.Close()

	resp := postJSON(t, srv.URL+"/api/v1/auth/events", map[string]any{
		"kind": "login", "email": "bob@example.com", "ip": "74.125.21.99",
		"timestamp": ts.Add(10 * time.Minute).Format(time.RFC3339),
	})
	body := decode[map[string]any](t, resp)

	patterns, _ := body["patterns"].([]any)
	found := false
	for _, p := range patterns {
		if m, ok := p.(map[string]any); ok && m["kind"] == "impossible_travel" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected impossible_travel pattern, got %v", body["patterns"])
	}

	flagResp, err := http.Get(srv.URL + "/api/v1/auth/bob@example.com/flag")
	if err != nil {
		t.Fatal(err)
	}
	flag := decode[map[string]any](t, flagResp)
	if flag["flagged"] != true {
		t.Errorf("account should be flagged: %v", flag)
	}
}

func TestAuthStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv.URL+"/api/v1/auth/events", map[string]any{
		"kind": "login", "email": "carol@example.com", "ip": "81.2.69.142",
	}).Body.Close()

	resp, err := http.Get(srv.URL + "/api/v1/auth/carol@example.com/stats")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	stats := decode[map[string]any](t, resp)
	if stats["total_logins"] != float64(1) {
		t.Errorf("total_logins = %v, want 1", stats["total_logins"])
	}
}

func TestScoreEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/traffic/score", map[string]any{
		"ip":         "203.0.113.40",
		"method":     "GET",
		"path":       "/api/v1/products",
		"user_agent": "sqlmap/1.8",
		"api_path":   true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["is_bot"] != true {
		t.Errorf("sqlmap sample should verdict bot: %v", body)
	}
	tier, ok := body["tier"].(map[string]any)
	if !ok {
		t.Fatalf("missing tier: %v", body)
	}
	if tier["limit"].(float64) > 100 {
		t.Errorf("bot verdict should tighten the tier: %v", tier)
	}

	missingIP := postJSON(t, srv.URL+"/api/v1/traffic/score", map[string]any{"method": "GET"})
	defer missingIP.Body.Close()
	if missingIP.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("missing ip status = %d, want 422", missingIP.StatusCode)
	}
}

func TestTierEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/traffic/tier?score=80")
	if err != nil {
		t.Fatal(err)
	}
	body := decode[map[string]any](t, resp)
	if body["limit"] != float64(5) {
		t.Errorf("tier limit for score 80 = %v, want 5", body["limit"])
	}

	bad, err := http.Get(srv.URL + "/api/v1/traffic/tier?score=high")
	if err != nil {
		t.Fatal(err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("non-numeric score status = %d, want 400", bad.StatusCode)
	}
}

func TestChallengeEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/challenge", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("issue status = %d, want 200", resp.StatusCode)
	}
	issued := decode[map[string]string](t, resp)
	if issued["challenge"] == "" || issued["token"] == "" {
		t.Fatalf("incomplete challenge: %v", issued)
	}

	verify := postJSON(t, srv.URL+"/api/v1/challenge/verify", map[string]string{
		"token":    issued["token"],
		"response": issued["challenge"],
	})
	result := decode[map[string]bool](t, verify)
	if !result["valid"] {
		t.Error("correct answer should verify")
	}

	wrong := postJSON(t, srv.URL+"/api/v1/challenge/verify", map[string]string{
		"token":    issued["token"],
		"response": "XXXXXX",
	})
	result = decode[map[string]bool](t, wrong)
	if result["valid"] {
		t.Error("wrong answer should fail")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
}
