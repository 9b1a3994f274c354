// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package geo

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

// LoadTable reads a JSON file mapping IP addresses to locations and
// returns a StaticResolver over it. The file format is:
//
//	{"203.0.113.7": {"country": "GB", "city": "London", "latitude": 51.5, "longitude": -0.12}}
func LoadTable(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geo table: %w", err)
	}

	locations := make(map[string]*Location)
	if err := json.Unmarshal(data, &locations); err != nil {
		return nil, fmt.Errorf("parse geo table %s: %w", path, err)
	}
	return NewStaticResolver(locations), nil
}
