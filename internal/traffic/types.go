// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

// Package traffic scores request streams for automation likelihood. The
// score is additive and decays linearly with inactivity; verdicts and
// rate-limit tiers are derived from it.
package traffic

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// RequestSample is the per-request fact handed to the scorer by the
// calling middleware. Session flags (page views, JavaScript, cookies) are
// caller-signaled; the scorer does not probe the client itself.
type RequestSample struct {
	IP        string `json:"ip"`
	SessionID string `json:"session_id,omitempty"`
	Email     string `json:"email,omitempty"`

	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
	Body   []byte `json:"body,omitempty"`

	UserAgent string `json:"user_agent,omitempty"`
	Referer   string `json:"referer,omitempty"`

	CartMutation bool `json:"cart_mutation,omitempty"`
	APIPath      bool `json:"api_path,omitempty"`
	HadPageView  bool `json:"had_page_view,omitempty"`
	NoJavaScript bool `json:"no_javascript,omitempty"`
	NoCookies    bool `json:"no_cookies,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ContentHash fingerprints the request for duplicate detection.
func (s *RequestSample) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(s.Method))
	h.Write([]byte{0})
	h.Write([]byte(s.Path))
	h.Write([]byte{0})
	h.Write([]byte(s.Query))
	h.Write([]byte{0})
	h.Write(s.Body)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Verdict is the scorer's answer for one request.
type Verdict struct {
	Score      float64  `json:"score"`
	IsBot      bool     `json:"is_bot"`
	Reason     string   `json:"reason,omitempty"`
	Indicators []string `json:"indicators,omitempty"`
}

// RateLimitTier is the request budget selected for a suspicion score.
type RateLimitTier struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// automationSignatures are user-agent substrings that identify known
// automation tooling. Matching is case-insensitive; the first match wins
// and the bonus is applied once.
var automationSignatures = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"python",
	"go-http-client",
	"java",
	"okhttp",
	"axios",
	"node-fetch",
	"libwww",
	"httpie",
	"postman",
	"insomnia",
	"scrapy",
	"selenium",
	"phantomjs",
	"headless",
	"sqlmap",
	"nikto",
}

// matchAutomationSignature returns the first automation signature found in
// the user agent, or "".
func matchAutomationSignature(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, sig := range automationSignatures {
		if strings.Contains(ua, sig) {
			return sig
		}
	}
	return ""
}

// Decay applies linear decay toward zero over the horizon. Pure function;
// the scorer calls it lazily at read time instead of running a clock.
func Decay(score float64, elapsed, horizon time.Duration) float64 {
	if score <= 0 || elapsed >= horizon {
		return 0
	}
	if elapsed <= 0 {
		return score
	}
	return score * (1 - float64(elapsed)/float64(horizon))
}
