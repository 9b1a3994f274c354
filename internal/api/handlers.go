// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/jmcrae/vigil/internal/authrisk"
	"github.com/jmcrae/vigil/internal/engine"
	"github.com/jmcrae/vigil/internal/identity"
	"github.com/jmcrae/vigil/internal/logging"
	"github.com/jmcrae/vigil/internal/traffic"
)

// maxBodyBytes bounds request bodies; samples carry at most a content
// hash's worth of payload, not full uploads.
const maxBodyBytes = 1 << 20

type handlers struct {
	engine *engine.Engine
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// authEventRequest is the wire form of an authentication event. The device
// fingerprint is derived from the header fields when not supplied.
type authEventRequest struct {
	Kind           string            `json:"kind"`
	Email          string            `json:"email"`
	IP             string            `json:"ip"`
	UserID         string            `json:"user_id,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	Accept         string            `json:"accept,omitempty"`
	AcceptLanguage string            `json:"accept_language,omitempty"`
	AcceptEncoding string            `json:"accept_encoding,omitempty"`
	Fingerprint    string            `json:"fingerprint,omitempty"`
	Timestamp      time.Time         `json:"timestamp,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type authEventResponse struct {
	Event    authrisk.AuthEvent           `json:"event"`
	Patterns []authrisk.SuspiciousPattern `json:"patterns"`
}

func (h *handlers) recordAuthEvent(w http.ResponseWriter, r *http.Request) {
	var req authEventRequest
	if !decodeBody(w, r, &req) {
		return
	}

	fingerprint := req.Fingerprint
	if fingerprint == "" {
		fingerprint = identity.Fingerprint(req.UserAgent, req.Accept, req.AcceptLanguage, req.AcceptEncoding)
	}

	ev := authrisk.AuthEvent{
		Kind:        authrisk.EventKind(req.Kind),
		Email:       req.Email,
		IP:          req.IP,
		UserID:      req.UserID,
		UserAgent:   req.UserAgent,
		Fingerprint: fingerprint,
		Timestamp:   req.Timestamp,
		Metadata:    req.Metadata,
	}

	recorded, patterns, err := h.engine.RecordAuthEvent(r.Context(), ev)
	if err != nil {
		if errors.Is(err, authrisk.ErrInvalidEvent) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		logging.Err(err).Msg("auth event evaluation failed")
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	if patterns == nil {
		patterns = []authrisk.SuspiciousPattern{}
	}
	writeJSON(w, http.StatusOK, authEventResponse{Event: recorded, Patterns: patterns})
}

func (h *handlers) authStats(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	stats, err := h.engine.AuthStats(r.Context(), email)
	if err != nil {
		logging.Err(err).Str("email", email).Msg("stats query failed")
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) authEvents(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 720 {
			writeError(w, http.StatusBadRequest, "hours must be an integer between 1 and 720")
			return
		}
		hours = parsed
	}

	events, err := h.engine.RecentAuthEvents(r.Context(), email, time.Duration(hours)*time.Hour)
	if err != nil {
		logging.Err(err).Str("email", email).Msg("events query failed")
		writeError(w, http.StatusInternalServerError, "events query failed")
		return
	}
	if events == nil {
		events = []authrisk.AuthEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *handlers) accountFlag(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	reason, flagged, err := h.engine.AccountFlag(r.Context(), email)
	if err != nil {
		logging.Err(err).Str("email", email).Msg("flag query failed")
		writeError(w, http.StatusInternalServerError, "flag query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flagged": flagged, "reason": reason})
}

type scoreResponse struct {
	traffic.Verdict
	Tier traffic.RateLimitTier `json:"tier"`
}

func (h *handlers) scoreRequest(w http.ResponseWriter, r *http.Request) {
	var sample traffic.RequestSample
	if !decodeBody(w, r, &sample) {
		return
	}
	if sample.IP == "" {
		writeError(w, http.StatusUnprocessableEntity, "ip is required")
		return
	}

	verdict := h.engine.ScoreRequest(sample)
	writeJSON(w, http.StatusOK, scoreResponse{
		Verdict: verdict,
		Tier:    h.engine.RateLimitTier(verdict.Score),
	})
}

func (h *handlers) rateLimitTier(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("score")
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "score must be a number")
		return
	}

	tier := h.engine.RateLimitTier(score)
	writeJSON(w, http.StatusOK, map[string]any{
		"limit":          tier.Limit,
		"window_seconds": int(tier.Window.Seconds()),
	})
}

func (h *handlers) issueChallenge(w http.ResponseWriter, _ *http.Request) {
	c, err := h.engine.IssueChallenge()
	if err != nil {
		logging.Err(err).Msg("challenge issuance failed")
		writeError(w, http.StatusInternalServerError, "challenge issuance failed")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type verifyChallengeRequest struct {
	Token    string `json:"token"`
	Response string `json:"response"`
}

func (h *handlers) verifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req verifyChallengeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusUnprocessableEntity, "token is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": h.engine.VerifyChallenge(req.Token, req.Response)})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if h.engine.Degraded() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"degraded": h.engine.Degraded(),
	})
}
