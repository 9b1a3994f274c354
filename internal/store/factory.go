// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmcrae/vigil/internal/config"
	"github.com/jmcrae/vigil/internal/identity"
	"github.com/jmcrae/vigil/internal/logging"
	"github.com/jmcrae/vigil/internal/metrics"
)

// New builds the configured store backend. Durable backends are wrapped
// with the in-memory fallback so detection survives backend outages; the
// pure memory backend runs bare.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		mem, err := NewMemoryStore(cfg.FallbackIdentities, cfg.EventTTL)
		if err != nil {
			return nil, fmt.Errorf("create memory store: %w", err)
		}
		logging.Info().Str("backend", "memory").Msg("event store ready")
		return instrument("memory", mem), nil

	case "badger":
		primary, err := NewBadgerStore(BadgerOptions{
			Path:     cfg.BadgerPath,
			InMemory: cfg.BadgerInMemory,
			EventTTL: cfg.EventTTL,
		})
		if err != nil {
			return nil, err
		}
		logging.Info().Str("backend", "badger").Str("path", cfg.BadgerPath).
			Bool("in_memory", cfg.BadgerInMemory).Msg("event store ready")
		return wrapFallback(instrument("badger", primary), cfg)

	case "redis":
		primary, err := NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			EventTTL: cfg.EventTTL,
		})
		if err != nil {
			return nil, err
		}
		logging.Info().Str("backend", "redis").Str("addr", cfg.RedisAddr).Msg("event store ready")
		return wrapFallback(instrument("redis", primary), cfg)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func wrapFallback(primary Store, cfg config.StoreConfig) (Store, error) {
	fallback, err := NewMemoryStore(cfg.FallbackIdentities, cfg.EventTTL)
	if err != nil {
		return nil, fmt.Errorf("create fallback store: %w", err)
	}
	return NewFallbackStore(primary, fallback, FallbackOptions{
		CallTimeout: cfg.CallTimeout,
	}), nil
}

// instrumentedStore times every operation for the store duration histogram.
type instrumentedStore struct {
	backend string
	inner   Store
}

func instrument(backend string, inner Store) Store {
	return &instrumentedStore{backend: backend, inner: inner}
}

func (s *instrumentedStore) AppendEvent(ctx context.Context, ev StoredEvent) error {
	defer metrics.ObserveStoreOp("append_event", s.backend, time.Now())
	return s.inner.AppendEvent(ctx, ev)
}

func (s *instrumentedStore) QueryEvents(ctx context.Context, id identity.Identity, since time.Time) ([]StoredEvent, error) {
	defer metrics.ObserveStoreOp("query_events", s.backend, time.Now())
	return s.inner.QueryEvents(ctx, id, since)
}

func (s *instrumentedStore) RegisterDevice(ctx context.Context, id identity.Identity, fingerprint string) (bool, error) {
	defer metrics.ObserveStoreOp("register_device", s.backend, time.Now())
	return s.inner.RegisterDevice(ctx, id, fingerprint)
}

func (s *instrumentedStore) SetFlag(ctx context.Context, key, reason string, ttl time.Duration) error {
	defer metrics.ObserveStoreOp("set_flag", s.backend, time.Now())
	return s.inner.SetFlag(ctx, key, reason, ttl)
}

func (s *instrumentedStore) GetFlag(ctx context.Context, key string) (string, bool, error) {
	defer metrics.ObserveStoreOp("get_flag", s.backend, time.Now())
	return s.inner.GetFlag(ctx, key)
}

func (s *instrumentedStore) Sweep(now time.Time) {
	if sweeper, ok := s.inner.(Sweeper); ok {
		sweeper.Sweep(now)
	}
}

func (s *instrumentedStore) Close() error {
	return s.inner.Close()
}
