// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package store

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/jmcrae/vigil/internal/identity"
	"github.com/jmcrae/vigil/internal/logging"
	"github.com/jmcrae/vigil/internal/metrics"
)

// FallbackStore routes operations to a durable primary through a circuit
// breaker, degrading to a bounded in-memory store when the primary is slow
// or failing. Detection keeps working on recent in-process state rather
// than blocking the request path on a sick backend.
//
// State written during degradation is not replayed into the primary when
// it recovers; the retention windows repopulate naturally.
type FallbackStore struct {
	primary     Store
	fallback    *MemoryStore
	breaker     *gobreaker.CircuitBreaker[any]
	callTimeout time.Duration
}

// FallbackOptions configures the degradation wrapper.
type FallbackOptions struct {
	// CallTimeout bounds each primary call.
	CallTimeout time.Duration

	// OpenFor is how long the breaker stays open before probing the
	// primary again.
	OpenFor time.Duration

	// TripAfter consecutive failures open the breaker.
	TripAfter uint32
}

// NewFallbackStore wraps primary with breaker-guarded degradation into
// fallback.
func NewFallbackStore(primary Store, fallback *MemoryStore, opts FallbackOptions) *FallbackStore {
	if opts.OpenFor <= 0 {
		opts.OpenFor = 30 * time.Second
	}
	if opts.TripAfter == 0 {
		opts.TripAfter = 5
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "vigil-store",
		MaxRequests: 1,
		Timeout:     opts.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.TripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("store circuit breaker state change")
		},
	})

	return &FallbackStore{
		primary:     primary,
		fallback:    fallback,
		breaker:     breaker,
		callTimeout: opts.CallTimeout,
	}
}

// Degraded reports whether operations are currently served by the
// in-memory fallback.
func (s *FallbackStore) Degraded() bool {
	return s.breaker.State() != gobreaker.StateClosed
}

// call runs op against the primary under the breaker and call timeout. The
// returned bool reports whether the primary served the call.
func (s *FallbackStore) call(ctx context.Context, name string, op func(ctx context.Context) (any, error)) (any, bool, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
		return op(callCtx)
	})
	if err == nil {
		return result, true, nil
	}

	metrics.StoreDegradations.Inc()
	logging.Debug().Err(err).Str("op", name).Msg("primary store unavailable, using fallback")
	return nil, false, err
}

// AppendEvent writes to the primary, or to the fallback when degraded.
func (s *FallbackStore) AppendEvent(ctx context.Context, ev StoredEvent) error {
	_, ok, _ := s.call(ctx, "append_event", func(ctx context.Context) (any, error) {
		return nil, s.primary.AppendEvent(ctx, ev)
	})
	if ok {
		return nil
	}
	return s.fallback.AppendEvent(ctx, ev)
}

// QueryEvents reads from the primary, or from the fallback when degraded.
func (s *FallbackStore) QueryEvents(ctx context.Context, id identity.Identity, since time.Time) ([]StoredEvent, error) {
	result, ok, _ := s.call(ctx, "query_events", func(ctx context.Context) (any, error) {
		return s.primary.QueryEvents(ctx, id, since)
	})
	if ok {
		events, _ := result.([]StoredEvent)
		return events, nil
	}
	return s.fallback.QueryEvents(ctx, id, since)
}

// RegisterDevice registers on the primary, or on the fallback when
// degraded. A fallback answer may report a long-known device as new; that
// errs toward flagging, which is the safer direction.
func (s *FallbackStore) RegisterDevice(ctx context.Context, id identity.Identity, fingerprint string) (bool, error) {
	result, ok, _ := s.call(ctx, "register_device", func(ctx context.Context) (any, error) {
		known, err := s.primary.RegisterDevice(ctx, id, fingerprint)
		return known, err
	})
	if ok {
		known, _ := result.(bool)
		return known, nil
	}
	return s.fallback.RegisterDevice(ctx, id, fingerprint)
}

// SetFlag writes the flag to both stores. Writing the fallback too keeps
// flags visible across a breaker transition within the TTL.
func (s *FallbackStore) SetFlag(ctx context.Context, key, reason string, ttl time.Duration) error {
	_ = s.fallback.SetFlag(ctx, key, reason, ttl)
	_, ok, err := s.call(ctx, "set_flag", func(ctx context.Context) (any, error) {
		return nil, s.primary.SetFlag(ctx, key, reason, ttl)
	})
	if ok {
		return nil
	}
	return err
}

// GetFlag reads the primary, falling back to the in-memory copy.
func (s *FallbackStore) GetFlag(ctx context.Context, key string) (string, bool, error) {
	result, ok, _ := s.call(ctx, "get_flag", func(ctx context.Context) (any, error) {
		reason, flagged, err := s.primary.GetFlag(ctx, key)
		if err != nil {
			return nil, err
		}
		return [2]any{reason, flagged}, nil
	})
	if ok {
		pair, _ := result.([2]any)
		reason, _ := pair[0].(string)
		flagged, _ := pair[1].(bool)
		return reason, flagged, nil
	}
	return s.fallback.GetFlag(ctx, key)
}

// Sweep forwards to both stores.
func (s *FallbackStore) Sweep(now time.Time) {
	if sweeper, ok := s.primary.(Sweeper); ok {
		sweeper.Sweep(now)
	}
	s.fallback.Sweep(now)
}

// Close closes both stores.
func (s *FallbackStore) Close() error {
	err := s.primary.Close()
	if ferr := s.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}
