// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package authrisk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jmcrae/vigil/internal/alert"
	"github.com/jmcrae/vigil/internal/config"
	"github.com/jmcrae/vigil/internal/geo"
	"github.com/jmcrae/vigil/internal/identity"
	"github.com/jmcrae/vigil/internal/logging"
	"github.com/jmcrae/vigil/internal/metrics"
	"github.com/jmcrae/vigil/internal/store"
)

// ErrInvalidEvent is returned when a submitted event is missing required
// fields. Nothing is written in that case.
var ErrInvalidEvent = errors.New("authrisk: invalid event")

// AlertSink accepts alerts for asynchronous delivery.
type AlertSink interface {
	Dispatch(a alert.Alert) bool
}

// Detector evaluates authentication events against an identity's recent
// history. All four checks always run so co-occurring patterns are all
// reported; a failure inside one check never suppresses the others.
type Detector struct {
	store    store.Store
	resolver geo.Resolver
	alerts   AlertSink
	cfg      config.AuthRiskConfig
}

// NewDetector builds a detector. resolver and alerts may be nil; location
// checks and alerting are then skipped.
func NewDetector(st store.Store, resolver geo.Resolver, alerts AlertSink, cfg config.AuthRiskConfig) *Detector {
	return &Detector{store: st, resolver: resolver, alerts: alerts, cfg: cfg}
}

// Evaluate runs all pattern checks for the event, commits it (plus a
// synthesized suspicious_activity event when patterns were found), and
// returns the recorded event with the findings.
//
// State is committed only after every check has run, so an abandoned
// request never leaves a partial update behind.
func (d *Detector) Evaluate(ctx context.Context, ev AuthEvent) (AuthEvent, []SuspiciousPattern, error) {
	start := time.Now()

	ev.Email = strings.ToLower(strings.TrimSpace(ev.Email))
	if ev.Email == "" || strings.TrimSpace(ev.IP) == "" {
		return AuthEvent{}, nil, fmt.Errorf("%w: email and ip are required", ErrInvalidEvent)
	}
	if !ev.Kind.Valid() {
		return AuthEvent{}, nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Location == nil && d.resolver != nil {
		// Best effort; a failed or unknown lookup skips the travel check.
		ev.Location, _ = d.resolver.Resolve(ctx, ev.IP)
	}

	id := identity.Resolve(ev.IP, "", ev.Email)
	prior := d.loadHistory(ctx, id)

	var patterns []SuspiciousPattern
	patterns = append(patterns, d.checkTravel(ev, prior)...)
	patterns = append(patterns, d.checkBruteForce(ev, prior)...)
	patterns = append(patterns, d.checkUnusualTime(ev)...)
	patterns = append(patterns, d.checkNewDevice(ctx, id, ev)...)

	d.commit(ctx, id, ev, patterns)

	metrics.AuthEvaluations.WithLabelValues(string(ev.Kind)).Inc()
	metrics.AuthEvaluationDuration.Observe(time.Since(start).Seconds())
	for _, p := range patterns {
		metrics.PatternsDetected.WithLabelValues(string(p.Kind), string(p.Severity)).Inc()
	}
	return ev, patterns, nil
}

// loadHistory fetches the identity's events covering both the travel
// lookback and the failed-login window. Store trouble yields an empty
// history; the degraded store already logged and counted it.
func (d *Detector) loadHistory(ctx context.Context, id identity.Identity) []AuthEvent {
	lookback := d.cfg.TravelLookback
	if d.cfg.FailedLoginWindow > lookback {
		lookback = d.cfg.FailedLoginWindow
	}

	stored, err := d.store.QueryEvents(ctx, id, time.Now().Add(-lookback))
	if err != nil {
		logging.Err(err).Str("identity", string(id)).Msg("history query failed, evaluating without history")
		return nil
	}

	out := make([]AuthEvent, 0, len(stored))
	for _, se := range stored {
		var ev AuthEvent
		if err := json.Unmarshal(se.Payload, &ev); err != nil {
			logging.Warn().Err(err).Str("event_id", se.ID).Msg("skipping undecodable stored event")
			continue
		}
		out = append(out, ev)
	}
	return out
}

// checkTravel compares the event's location against every prior login in
// the travel lookback. Each prior event contributes at most one finding,
// the most restrictive band it matches.
func (d *Detector) checkTravel(ev AuthEvent, prior []AuthEvent) []SuspiciousPattern {
	if !ev.Location.Known() {
		return nil
	}

	cutoff := ev.Timestamp.Add(-d.cfg.TravelLookback)
	var out []SuspiciousPattern
	for _, p := range prior {
		if p.Kind != KindLogin || !p.Location.Known() || p.Timestamp.Before(cutoff) {
			continue
		}

		distance := haversineKm(p.Location.Latitude, p.Location.Longitude,
			ev.Location.Latitude, ev.Location.Longitude)
		elapsed := ev.Timestamp.Sub(p.Timestamp)
		if elapsed < 0 {
			elapsed = -elapsed
		}

		switch {
		case distance > d.cfg.ImpossibleTravelKm && elapsed < d.cfg.ImpossibleTravelWithin:
			out = append(out, SuspiciousPattern{
				Kind:     PatternImpossibleTravel,
				Severity: SeverityCritical,
				Description: fmt.Sprintf("login %.0f km from a location seen %s earlier",
					distance, elapsed.Round(time.Minute)),
			})
		case distance > d.cfg.RapidTravelKm && distance <= d.cfg.ImpossibleTravelKm &&
			elapsed < d.cfg.RapidTravelWithin:
			out = append(out, SuspiciousPattern{
				Kind:     PatternRapidLocationChange,
				Severity: SeverityMedium,
				Description: fmt.Sprintf("login %.0f km from a location seen %s earlier",
					distance, elapsed.Round(time.Minute)),
			})
		}
	}
	return out
}

// checkBruteForce counts failed logins in the trailing window, including
// the event under evaluation.
func (d *Detector) checkBruteForce(ev AuthEvent, prior []AuthEvent) []SuspiciousPattern {
	cutoff := ev.Timestamp.Add(-d.cfg.FailedLoginWindow)
	count := 0
	if ev.Kind == KindFailedLogin {
		count++
	}
	for _, p := range prior {
		if p.Kind == KindFailedLogin && !p.Timestamp.Before(cutoff) {
			count++
		}
	}
	if count < d.cfg.FailedLoginThreshold {
		return nil
	}
	return []SuspiciousPattern{{
		Kind:     PatternFailedLogins,
		Severity: SeverityHigh,
		Description: fmt.Sprintf("%d failed logins within %s",
			count, d.cfg.FailedLoginWindow),
	}}
}

// checkUnusualTime flags weekday activity inside the configured quiet
// hours. Heuristic only, hence the low severity.
func (d *Detector) checkUnusualTime(ev AuthEvent) []SuspiciousPattern {
	hour := ev.Timestamp.Hour()
	weekday := ev.Timestamp.Weekday()
	if weekday == time.Saturday || weekday == time.Sunday {
		return nil
	}
	if hour < d.cfg.QuietHourStart || hour > d.cfg.QuietHourEnd {
		return nil
	}
	return []SuspiciousPattern{{
		Kind:     PatternUnusualTime,
		Severity: SeverityLow,
		Description: fmt.Sprintf("activity at %02d:00 local time on a weekday",
			hour),
	}}
}

// checkNewDevice registers the fingerprint and flags first sightings. The
// fingerprint is registered even when no finding results, so the next
// sighting is familiar.
func (d *Detector) checkNewDevice(ctx context.Context, id identity.Identity, ev AuthEvent) []SuspiciousPattern {
	if ev.Fingerprint == "" {
		return nil
	}
	known, err := d.store.RegisterDevice(ctx, id, ev.Fingerprint)
	if err != nil {
		logging.Err(err).Str("identity", string(id)).Msg("device registration failed, skipping new-device check")
		return nil
	}
	if known {
		return nil
	}
	return []SuspiciousPattern{{
		Kind:        PatternNewDevice,
		Severity:    SeverityLow,
		Description: "login from a device not seen before for this account",
	}}
}

// commit persists the event, the synthesized suspicious_activity event,
// the account flag, and the alert. Store errors here are logged; the
// evaluation result already stands.
func (d *Detector) commit(ctx context.Context, id identity.Identity, ev AuthEvent, patterns []SuspiciousPattern) {
	if err := d.append(ctx, id, ev); err != nil {
		logging.Err(err).Str("identity", string(id)).Msg("failed to persist auth event")
	}
	if len(patterns) == 0 {
		return
	}

	highest := patterns[0].Severity
	descriptions := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p.Severity.AtLeast(highest) {
			highest = p.Severity
		}
		descriptions = append(descriptions, p.Description)
	}

	synthesized := AuthEvent{
		ID:        uuid.NewString(),
		Kind:      KindSuspiciousActivity,
		UserID:    ev.UserID,
		Email:     ev.Email,
		IP:        ev.IP,
		UserAgent: ev.UserAgent,
		Location:  ev.Location,
		Timestamp: ev.Timestamp,
		Metadata:  map[string]string{"source_event": ev.ID},
	}
	if encoded, err := json.Marshal(patterns); err == nil {
		synthesized.Metadata["patterns"] = string(encoded)
	}
	if err := d.append(ctx, id, synthesized); err != nil {
		logging.Err(err).Str("identity", string(id)).Msg("failed to persist suspicious_activity event")
	}

	if highest.AtLeast(SeverityCritical) {
		if err := d.store.SetFlag(ctx, ev.Email, patterns[0].Description, d.cfg.FlagTTL); err != nil {
			logging.Err(err).Str("email", ev.Email).Msg("failed to flag account")
		} else {
			metrics.AccountsFlagged.Inc()
		}
	}

	if highest.AtLeast(SeverityHigh) && d.alerts != nil {
		d.alerts.Dispatch(alert.Alert{
			Severity:    string(highest),
			Title:       "suspicious authentication activity",
			Description: strings.Join(descriptions, "; "),
			Context: map[string]string{
				"email": ev.Email,
				"ip":    ev.IP,
				"kind":  string(ev.Kind),
			},
			Timestamp: ev.Timestamp,
		})
	}
}

func (d *Detector) append(ctx context.Context, id identity.Identity, ev AuthEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return d.store.AppendEvent(ctx, store.StoredEvent{
		ID:        ev.ID,
		Identity:  id,
		Kind:      string(ev.Kind),
		Timestamp: ev.Timestamp,
		Payload:   payload,
	})
}

// RecentEvents returns the account's events within the window, newest
// first. Pure read, no side effects.
func (d *Detector) RecentEvents(ctx context.Context, email string, window time.Duration) ([]AuthEvent, error) {
	id := identity.Resolve("", "", email)
	stored, err := d.store.QueryEvents(ctx, id, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}

	out := make([]AuthEvent, 0, len(stored))
	for _, se := range stored {
		var ev AuthEvent
		if err := json.Unmarshal(se.Payload, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Stats aggregates the account's history over the stats window. Pure read,
// no side effects.
func (d *Detector) Stats(ctx context.Context, email string) (Stats, error) {
	id := identity.Resolve("", "", email)
	stored, err := d.store.QueryEvents(ctx, id, time.Now().Add(-d.cfg.StatsWindow))
	if err != nil {
		return Stats{}, err
	}

	devices := map[string]struct{}{}
	locations := map[string]struct{}{}
	var stats Stats
	for _, se := range stored {
		var ev AuthEvent
		if err := json.Unmarshal(se.Payload, &ev); err != nil {
			continue
		}
		switch ev.Kind {
		case KindLogin:
			stats.TotalLogins++
			if ev.Timestamp.After(stats.LastLogin) {
				stats.LastLogin = ev.Timestamp
			}
		case KindFailedLogin:
			stats.FailedLogins++
		case KindSuspiciousActivity:
			stats.SuspiciousActivities++
		}
		if ev.Fingerprint != "" {
			devices[ev.Fingerprint] = struct{}{}
		}
		if ev.Location.Known() {
			locations[fmt.Sprintf("%s|%s", ev.Location.Country, ev.Location.City)] = struct{}{}
		}
	}
	stats.UniqueDevices = len(devices)
	stats.UniqueLocations = len(locations)
	return stats, nil
}

// Flagged reports whether the account currently carries a flag.
func (d *Detector) Flagged(ctx context.Context, email string) (string, bool, error) {
	return d.store.GetFlag(ctx, strings.ToLower(strings.TrimSpace(email)))
}
