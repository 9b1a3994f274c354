// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmcrae/vigil/internal/identity"
)

func mkEvent(id identity.Identity, kind string, ts time.Time) StoredEvent {
	return StoredEvent{
		ID:        fmt.Sprintf("%s-%d", kind, ts.UnixNano()),
		Identity:  id,
		Kind:      kind,
		Timestamp: ts,
	}
}

func TestMemoryStoreQueryWindow(t *testing.T) {
	s, err := NewMemoryStore(64, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewMemoryStore() error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	id := identity.Identity("email:alice@example.com")
	now := time.Now()

	for _, age := range []time.Duration{3 * time.Hour, 2 * time.Hour, 10 * time.Minute} {
		if err := s.AppendEvent(ctx, mkEvent(id, "login", now.Add(-age))); err != nil {
			t.Fatalf("AppendEvent() error: %v", err)
		}
	}

	events, err := s.QueryEvents(ctx, id, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("QueryEvents() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events in 1h window, want 1", len(events))
	}

	events, err = s.QueryEvents(ctx, id, now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("QueryEvents() error: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("got %d events in wide window, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Error("events not in chronological order")
		}
	}
}

func TestMemoryStoreDeviceRegistry(t *testing.T) {
	s, err := NewMemoryStore(64, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	id := identity.Identity("email:bob@example.com")

	known, err := s.RegisterDevice(ctx, id, "fp-1")
	if err != nil {
		t.Fatalf("RegisterDevice() error: %v", err)
	}
	if known {
		t.Error("first registration should report unknown")
	}

	known, err = s.RegisterDevice(ctx, id, "fp-1")
	if err != nil {
		t.Fatal(err)
	}
	if !known {
		t.Error("second registration should report known")
	}

	known, err = s.RegisterDevice(ctx, identity.Identity("email:carol@example.com"), "fp-1")
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Error("fingerprints are scoped per identity")
	}
}

func TestMemoryStoreFlagExpiry(t *testing.T) {
	s, err := NewMemoryStore(64, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.SetFlag(ctx, "dave@example.com", "impossible travel", 10*time.Millisecond); err != nil {
		t.Fatalf("SetFlag() error: %v", err)
	}

	reason, flagged, err := s.GetFlag(ctx, "dave@example.com")
	if err != nil || !flagged {
		t.Fatalf("GetFlag() = (%q, %v, %v), want flagged", reason, flagged, err)
	}
	if reason != "impossible travel" {
		t.Errorf("reason = %q", reason)
	}

	time.Sleep(20 * time.Millisecond)
	_, flagged, err = s.GetFlag(ctx, "dave@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if flagged {
		t.Error("flag should expire after its TTL")
	}
}

func TestMemoryStoreEvictsWholeIdentity(t *testing.T) {
	s, err := NewMemoryStore(16, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	victim := identity.Identity("ip:10.0.0.1")
	if err := s.AppendEvent(ctx, mkEvent(victim, "login", time.Now())); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterDevice(ctx, victim, "fp-v"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 32; i++ {
		id := identity.Identity(fmt.Sprintf("ip:10.0.1.%d", i))
		if err := s.AppendEvent(ctx, mkEvent(id, "login", time.Now())); err != nil {
			t.Fatal(err)
		}
	}

	events, err := s.QueryEvents(ctx, victim, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Error("evicted identity should have no events")
	}
	known, err := s.RegisterDevice(ctx, victim, "fp-v")
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Error("eviction should drop the device registry with the events")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	s, err := NewMemoryStore(64, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	id := identity.Identity("ip:10.0.0.9")
	now := time.Now()
	if err := s.AppendEvent(ctx, mkEvent(id, "login", now)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFlag(ctx, "stale", "brute force", time.Millisecond); err != nil {
		t.Fatal(err)
	}

	s.Sweep(now.Add(2 * time.Hour))

	events, err := s.QueryEvents(ctx, id, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Error("sweep should drop events past retention")
	}

	s.mu.Lock()
	_, stale := s.flags["stale"]
	s.mu.Unlock()
	if stale {
		t.Error("sweep should remove expired flags")
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	s, err := NewMemoryStore(16, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	if err := s.AppendEvent(context.Background(), mkEvent("ip:1.2.3.4", "login", time.Now())); err != ErrClosed {
		t.Errorf("AppendEvent after Close = %v, want ErrClosed", err)
	}
}
