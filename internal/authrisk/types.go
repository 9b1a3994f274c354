// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

// Package authrisk watches authentication events per identity and flags
// impossible travel, brute force, unfamiliar devices, and off-hours
// activity. Evaluation runs on the request's critical path and never
// blocks on collaborators.
package authrisk

import (
	"time"

	"github.com/jmcrae/vigil/internal/geo"
)

// EventKind classifies an authentication event.
type EventKind string

const (
	KindLogin              EventKind = "login"
	KindLogout             EventKind = "logout"
	KindFailedLogin        EventKind = "failed_login"
	KindPasswordChange     EventKind = "password_change"
	KindMFAEnabled         EventKind = "mfa_enabled"
	KindMFADisabled        EventKind = "mfa_disabled"
	KindSuspiciousActivity EventKind = "suspicious_activity"
)

// Valid reports whether the kind is one of the defined constants.
func (k EventKind) Valid() bool {
	switch k {
	case KindLogin, KindLogout, KindFailedLogin, KindPasswordChange,
		KindMFAEnabled, KindMFADisabled, KindSuspiciousActivity:
		return true
	}
	return false
}

// AuthEvent is one immutable authentication record. Email and IP are
// required; everything else is optional caller-supplied context.
type AuthEvent struct {
	ID          string            `json:"id"`
	Kind        EventKind         `json:"kind"`
	UserID      string            `json:"user_id,omitempty"`
	Email       string            `json:"email"`
	IP          string            `json:"ip"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Location    *geo.Location     `json:"location,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PatternKind classifies a detected suspicious pattern.
type PatternKind string

const (
	PatternImpossibleTravel    PatternKind = "impossible_travel"
	PatternRapidLocationChange PatternKind = "rapid_location_change"
	PatternFailedLogins        PatternKind = "multiple_failed_logins"
	PatternUnusualTime         PatternKind = "unusual_time"
	PatternNewDevice           PatternKind = "new_device"
)

// Severity bands a finding. Critical findings flag the account; high and
// critical findings raise alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// SuspiciousPattern is one derived finding. Patterns are transient; they
// are returned to the caller and attached to the synthesized
// suspicious_activity event, never stored on their own.
type SuspiciousPattern struct {
	Kind        PatternKind `json:"kind"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
}

// Stats aggregates an account's recent authentication history.
type Stats struct {
	TotalLogins          int       `json:"total_logins"`
	FailedLogins         int       `json:"failed_logins"`
	UniqueDevices        int       `json:"unique_devices"`
	UniqueLocations      int       `json:"unique_locations"`
	LastLogin            time.Time `json:"last_login"`
	SuspiciousActivities int       `json:"suspicious_activities"`
}
