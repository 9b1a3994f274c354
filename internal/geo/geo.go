// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

// Package geo defines the geolocation collaborator interface and a caching
// wrapper that keeps IP lookups off the request-blocking path.
package geo

import (
	"context"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jmcrae/vigil/internal/logging"
	"github.com/jmcrae/vigil/internal/metrics"
)

// coordEpsilon is the threshold under which a coordinate pair is treated
// as the unknown-location sentinel (0, 0). Direct float equality against
// zero is unreliable under IEEE 754.
const coordEpsilon = 1e-7

// Location is a resolved IP geolocation.
type Location struct {
	Country   string  `json:"country"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Known reports whether the location carries usable coordinates.
func (l *Location) Known() bool {
	if l == nil {
		return false
	}
	return math.Abs(l.Latitude) >= coordEpsilon || math.Abs(l.Longitude) >= coordEpsilon
}

// Resolver resolves an IP address to a location. A nil location with a nil
// error means "unknown"; implementations reserve errors for transport
// failures, which callers also treat as unknown.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (*Location, error)
}

// CachedResolver wraps a Resolver with a TTL-bounded LRU cache. Negative
// results are cached too, so a dead upstream cannot stall evaluations with
// repeated lookups for the same IP.
type CachedResolver struct {
	inner         Resolver
	cache         *expirable.LRU[string, *Location]
	lookupTimeout time.Duration
}

// NewCachedResolver builds a caching wrapper around inner.
func NewCachedResolver(inner Resolver, size int, ttl, lookupTimeout time.Duration) *CachedResolver {
	return &CachedResolver{
		inner:         inner,
		cache:         expirable.NewLRU[string, *Location](size, nil, ttl),
		lookupTimeout: lookupTimeout,
	}
}

// Resolve returns the cached location for ip, or performs a bounded lookup
// on a miss. Lookup failures are logged, cached as unknown, and returned as
// (nil, nil): checks that need a location simply skip.
func (r *CachedResolver) Resolve(ctx context.Context, ip string) (*Location, error) {
	if ip == "" {
		return nil, nil
	}

	if loc, ok := r.cache.Get(ip); ok {
		metrics.GeoCacheHits.Inc()
		return loc, nil
	}
	metrics.GeoCacheMisses.Inc()

	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	loc, err := r.inner.Resolve(lookupCtx, ip)
	if err != nil {
		logging.Debug().Err(err).Str("ip", ip).Msg("geolocation lookup failed, proceeding without location")
		loc = nil
	}
	r.cache.Add(ip, loc)
	return loc, nil
}

// StaticResolver serves locations from a fixed table. Used in tests and in
// deployments that preload a local IP dataset.
type StaticResolver struct {
	locations map[string]*Location
}

// NewStaticResolver builds a resolver over a fixed ip -> location table.
func NewStaticResolver(locations map[string]*Location) *StaticResolver {
	return &StaticResolver{locations: locations}
}

// Resolve returns the table entry for ip, or nil when absent.
func (r *StaticResolver) Resolve(_ context.Context, ip string) (*Location, error) {
	return r.locations[ip], nil
}
