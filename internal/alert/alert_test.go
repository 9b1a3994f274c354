// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package alert

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestDispatcherDelivers(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(8, rec)
	go d.Serve(context.Background())
	defer d.Stop()

	if !d.Dispatch(Alert{Severity: "critical", Title: "impossible travel"}) {
		t.Fatal("Dispatch() rejected with room in the queue")
	}

	deadline := time.After(time.Second)
	for rec.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("alert never delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	rec.mu.Lock()
	got := rec.alerts[0]
	rec.mu.Unlock()
	if got.Title != "impossible travel" {
		t.Errorf("delivered title = %q", got.Title)
	}
	if got.Timestamp.IsZero() {
		t.Error("dispatch should stamp a missing timestamp")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	// No Serve loop running, so the queue fills and stays full.
	d := NewDispatcher(2, &recordingNotifier{})

	if !d.Dispatch(Alert{Title: "a"}) || !d.Dispatch(Alert{Title: "b"}) {
		t.Fatal("queue should accept up to capacity")
	}
	if d.Dispatch(Alert{Title: "c"}) {
		t.Error("Dispatch() should reject when the queue is full")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var received Alert
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("bad webhook body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookOptions{
		URL:           srv.URL,
		Headers:       map[string]string{"Authorization": "Bearer token"},
		RatePerMinute: 60,
	})

	err := n.Notify(context.Background(), Alert{
		Severity:    "high",
		Title:       "multiple failed logins",
		Description: "5 failed logins in 24h",
		Context:     map[string]string{"email": "alice@example.com"},
		Timestamp:   time.Now(),
	})
	if err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if received.Title != "multiple failed logins" {
		t.Errorf("webhook received title %q", received.Title)
	}
	if gotAuth != "Bearer token" {
		t.Errorf("custom header not sent, got %q", gotAuth)
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookOptions{URL: srv.URL, RatePerMinute: 60})
	if err := n.Notify(context.Background(), Alert{Title: "x"}); err == nil {
		t.Error("Notify() should fail on a 5xx response")
	}
}

func TestWebhookNotifierRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookOptions{URL: srv.URL, RatePerMinute: 1})
	if err := n.Notify(context.Background(), Alert{Title: "first"}); err != nil {
		t.Fatalf("first Notify() error: %v", err)
	}
	if err := n.Notify(context.Background(), Alert{Title: "second"}); err == nil {
		t.Error("second Notify() should hit the rate limit")
	}
}
