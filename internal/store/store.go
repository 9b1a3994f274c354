// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

// Package store persists the windowed event history, device registry, and
// account flags that the detectors evaluate against. Three backends share
// one interface: Badger for single-node durability, Redis for shared state
// across instances, and an in-memory store used standalone or as the
// degraded fallback behind a circuit breaker.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jmcrae/vigil/internal/identity"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// StoredEvent is one persisted detection event. Payload carries the
// backend-agnostic JSON encoding of the domain event; the envelope fields
// exist so backends can key and window without decoding it.
type StoredEvent struct {
	ID        string            `json:"id"`
	Identity  identity.Identity `json:"identity"`
	Kind      string            `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   []byte            `json:"payload,omitempty"`
}

// Store is the persistence contract shared by all backends.
//
// QueryEvents returns events for an identity no older than since, ordered
// oldest first. Expired events are never returned, regardless of whether
// the backend has physically reclaimed them yet.
type Store interface {
	AppendEvent(ctx context.Context, ev StoredEvent) error
	QueryEvents(ctx context.Context, id identity.Identity, since time.Time) ([]StoredEvent, error)

	// RegisterDevice records a device fingerprint for an identity and
	// reports whether it was already known. Registration happens on every
	// call so the first sighting is flagged exactly once.
	RegisterDevice(ctx context.Context, id identity.Identity, fingerprint string) (known bool, err error)

	// SetFlag marks a key (an account, usually) with a reason for ttl.
	SetFlag(ctx context.Context, key, reason string, ttl time.Duration) error
	GetFlag(ctx context.Context, key string) (reason string, flagged bool, err error)

	Close() error
}

// Sweeper is implemented by backends that reclaim expired state lazily and
// need a periodic sweep to bound memory.
type Sweeper interface {
	Sweep(now time.Time)
}
