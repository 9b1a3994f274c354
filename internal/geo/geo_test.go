// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package geo

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingResolver struct {
	inner Resolver
	calls int
}

func (c *countingResolver) Resolve(ctx context.Context, ip string) (*Location, error) {
	c.calls++
	return c.inner.Resolve(ctx, ip)
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (*Location, error) {
	return nil, errors.New("upstream unavailable")
}

func TestCachedResolverHit(t *testing.T) {
	counting := &countingResolver{inner: NewStaticResolver(map[string]*Location{
		"203.0.113.7": {Country: "GB", City: "London", Latitude: 51.5074, Longitude: -0.1278},
	})}
	r := NewCachedResolver(counting, 16, time.Minute, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		loc, err := r.Resolve(context.Background(), "203.0.113.7")
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		if loc == nil || loc.City != "London" {
			t.Fatalf("Resolve() = %+v, want London", loc)
		}
	}
	if counting.calls != 1 {
		t.Errorf("inner resolver called %d times, want 1", counting.calls)
	}
}

func TestCachedResolverNegativeCaching(t *testing.T) {
	counting := &countingResolver{inner: failingResolver{}}
	r := NewCachedResolver(counting, 16, time.Minute, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		loc, err := r.Resolve(context.Background(), "198.51.100.4")
		if err != nil {
			t.Fatalf("Resolve() should swallow upstream errors, got %v", err)
		}
		if loc != nil {
			t.Fatalf("Resolve() = %+v, want nil for failing upstream", loc)
		}
	}
	if counting.calls != 1 {
		t.Errorf("failing lookup repeated %d times, want 1 (negative result cached)", counting.calls)
	}
}

func TestCachedResolverEmptyIP(t *testing.T) {
	counting := &countingResolver{inner: NewStaticResolver(nil)}
	r := NewCachedResolver(counting, 16, time.Minute, 50*time.Millisecond)

	loc, err := r.Resolve(context.Background(), "")
	if err != nil || loc != nil {
		t.Errorf("Resolve(\"\") = (%+v, %v), want (nil, nil)", loc, err)
	}
	if counting.calls != 0 {
		t.Errorf("inner resolver called for empty IP")
	}
}

func TestLocationKnown(t *testing.T) {
	tests := []struct {
		name string
		loc  *Location
		want bool
	}{
		{"nil", nil, false},
		{"zero coordinates", &Location{Country: "US"}, false},
		{"real coordinates", &Location{Latitude: 40.7128, Longitude: -74.006}, true},
		{"on the equator", &Location{Latitude: 0, Longitude: -78.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.loc.Known(); got != tt.want {
				t.Errorf("Known() = %v, want %v", got, tt.want)
			}
		})
	}
}
