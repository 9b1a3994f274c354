// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package authrisk

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		wantKm                 float64
		tolerance              float64
	}{
		{"same point", 51.5, -0.12, 51.5, -0.12, 0, 0.001},
		{"london to new york", 51.5074, -0.1278, 40.7128, -74.006, 5570, 15},
		{"london to paris", 51.5074, -0.1278, 48.8566, 2.3522, 344, 5},
		{"across the antimeridian", 0, 179.5, 0, -179.5, 111.2, 1},
		{"pole to pole", 90, 0, -90, 0, 20015, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := haversineKm(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("haversineKm() = %.1f, want %.1f ± %.1f", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestHaversineSymmetry(t *testing.T) {
	a := haversineKm(51.5, -0.12, 40.7, -74.0)
	b := haversineKm(40.7, -74.0, 51.5, -0.12)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("distance not symmetric: %f vs %f", a, b)
	}
}
