// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package store

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jmcrae/vigil/internal/identity"
)

// identityState is everything held for one identity. Eviction removes the
// whole struct at once so an identity never survives with partial history.
type identityState struct {
	events  []StoredEvent
	devices map[string]struct{}
}

type flagEntry struct {
	reason  string
	expires time.Time
}

// MemoryStore keeps all state in process memory, bounded by an LRU over
// identities. It backs single-process deployments and the degraded path
// when the durable backend is unavailable.
type MemoryStore struct {
	mu       sync.Mutex
	states   *lru.Cache[identity.Identity, *identityState]
	flags    map[string]flagEntry
	eventTTL time.Duration
	closed   bool
}

// NewMemoryStore builds a memory store holding at most maxIdentities
// identities, retaining events for eventTTL.
func NewMemoryStore(maxIdentities int, eventTTL time.Duration) (*MemoryStore, error) {
	states, err := lru.New[identity.Identity, *identityState](maxIdentities)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{
		states:   states,
		flags:    make(map[string]flagEntry),
		eventTTL: eventTTL,
	}, nil
}

func (s *MemoryStore) state(id identity.Identity) *identityState {
	if st, ok := s.states.Get(id); ok {
		return st
	}
	st := &identityState{devices: make(map[string]struct{})}
	s.states.Add(id, st)
	return st
}

// AppendEvent stores the event, pruning entries that have aged out of the
// retention window for that identity.
func (s *MemoryStore) AppendEvent(_ context.Context, ev StoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	st := s.state(ev.Identity)
	st.events = append(st.events, ev)
	st.events = pruneEvents(st.events, time.Now().Add(-s.eventTTL))
	return nil
}

// QueryEvents returns the identity's events at or after since, oldest first.
func (s *MemoryStore) QueryEvents(_ context.Context, id identity.Identity, since time.Time) ([]StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	st, ok := s.states.Get(id)
	if !ok {
		return nil, nil
	}
	cutoff := since
	if minCutoff := time.Now().Add(-s.eventTTL); minCutoff.After(cutoff) {
		cutoff = minCutoff
	}

	out := make([]StoredEvent, 0, len(st.events))
	for _, ev := range st.events {
		if !ev.Timestamp.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// RegisterDevice records the fingerprint and reports whether it was seen
// before for this identity.
func (s *MemoryStore) RegisterDevice(_ context.Context, id identity.Identity, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	st := s.state(id)
	_, known := st.devices[fingerprint]
	st.devices[fingerprint] = struct{}{}
	return known, nil
}

// SetFlag marks key with reason for ttl.
func (s *MemoryStore) SetFlag(_ context.Context, key, reason string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.flags[key] = flagEntry{reason: reason, expires: time.Now().Add(ttl)}
	return nil
}

// GetFlag reports whether key carries an unexpired flag.
func (s *MemoryStore) GetFlag(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}

	entry, ok := s.flags[key]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(entry.expires) {
		delete(s.flags, key)
		return "", false, nil
	}
	return entry.reason, true, nil
}

// Sweep removes expired flags and aged-out events. The LRU already bounds
// identity count; this bounds per-identity growth for idle identities.
func (s *MemoryStore) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for key, entry := range s.flags {
		if now.After(entry.expires) {
			delete(s.flags, key)
		}
	}

	cutoff := now.Add(-s.eventTTL)
	for _, id := range s.states.Keys() {
		st, ok := s.states.Peek(id)
		if !ok {
			continue
		}
		st.events = pruneEvents(st.events, cutoff)
	}
}

// Close releases all held state.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.states.Purge()
	s.flags = nil
	return nil
}

// pruneEvents drops events older than cutoff. Events arrive in roughly
// chronological order, so scanning from the front finds the boundary fast.
func pruneEvents(events []StoredEvent, cutoff time.Time) []StoredEvent {
	i := 0
	for i < len(events) && events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0], events[i:]...)
}
