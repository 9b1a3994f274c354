// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

package traffic

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jmcrae/vigil/internal/config"
	"github.com/jmcrae/vigil/internal/identity"
	"github.com/jmcrae/vigil/internal/logging"
	"github.com/jmcrae/vigil/internal/metrics"
)

// Score contributions. Additive and unbounded; action thresholds live in
// configuration.
const (
	scoreMissingUserAgent = 10
	scoreAutomationUA     = 50
	scoreCartNoReferer    = 5
	scoreHighRequestRate  = 20
	scoreDuplicateBurst   = 25
	scoreHighCartRate     = 30
	scoreFastCartInterval = 20
	scoreDirectAPIHit     = 15
	scoreNoJavaScript     = 10
	scoreNoCookies        = 5
)

type requestRecord struct {
	at   time.Time
	hash string
	cart bool
}

// suspicionState is the mutable per-identity aggregate. Guarded by its own
// mutex so evaluations for one identity serialize without a global lock.
type suspicionState struct {
	mu       sync.Mutex
	requests []requestRecord
	score    float64
	lastSeen time.Time
	seen     int
}

// Scorer computes automation-likelihood scores per client identity. All
// state lives in an LRU bounded by MaxIdentities; the least recently used
// identity's whole state is evicted atomically.
type Scorer struct {
	mu     sync.Mutex
	states *lru.Cache[identity.Identity, *suspicionState]
	cfg    config.TrafficConfig
}

// NewScorer builds a scorer.
func NewScorer(cfg config.TrafficConfig) (*Scorer, error) {
	states, err := lru.New[identity.Identity, *suspicionState](cfg.MaxIdentities)
	if err != nil {
		return nil, fmt.Errorf("create suspicion state cache: %w", err)
	}
	return &Scorer{states: states, cfg: cfg}, nil
}

func (s *Scorer) state(id identity.Identity) *suspicionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states.Get(id); ok {
		return st
	}
	st := &suspicionState{}
	s.states.Add(id, st)
	return st
}

// Score evaluates the sample and updates the identity's state in the same
// critical section. Scoring and state update are deliberately inseparable;
// concurrent requests for one identity serialize on its lock.
func (s *Scorer) Score(sample RequestSample) Verdict {
	now := sample.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	id := identity.Resolve(sample.IP, sample.SessionID, sample.Email)
	st := s.state(id)

	st.mu.Lock()
	defer st.mu.Unlock()

	score := Decay(st.score, now.Sub(st.lastSeen), s.cfg.DecayHorizon)
	var indicators []string

	if sample.UserAgent == "" {
		score += scoreMissingUserAgent
		indicators = append(indicators, "missing user agent")
	} else if sig := matchAutomationSignature(sample.UserAgent); sig != "" {
		score += scoreAutomationUA
		indicators = append(indicators, "automation user agent: "+sig)
	}

	if sample.CartMutation && sample.Referer == "" {
		score += scoreCartNoReferer
		indicators = append(indicators, "cart mutation without referer")
	}

	firstRequest := st.seen == 0
	st.seen++

	hash := sample.ContentHash()
	st.requests = append(st.requests, requestRecord{at: now, hash: hash, cart: sample.CartMutation})
	st.prune(now.Add(-s.cfg.PatternWindow))

	rateCutoff := now.Add(-s.cfg.RateWindow)
	requestRate, cartRate, duplicates := 0, 0, 0
	var cartTimes []time.Time
	for _, r := range st.requests {
		if !r.at.Before(rateCutoff) {
			requestRate++
			if r.cart {
				cartRate++
			}
		}
		if r.hash == hash {
			duplicates++
		}
		if r.cart {
			cartTimes = append(cartTimes, r.at)
		}
	}

	if requestRate > s.cfg.RequestRateCeiling {
		score += scoreHighRequestRate
		indicators = append(indicators, fmt.Sprintf("request rate %d/min", requestRate))
	}
	if duplicates >= s.cfg.DuplicateThreshold {
		// One penalty per evaluation, regardless of how many duplicates.
		score += scoreDuplicateBurst
		indicators = append(indicators, fmt.Sprintf("%d identical requests", duplicates))
	}
	if cartRate > s.cfg.CartRateCeiling {
		score += scoreHighCartRate
		indicators = append(indicators, fmt.Sprintf("cart mutation rate %d/min", cartRate))
	}
	if mean, ok := meanInterval(cartTimes); ok && mean < s.cfg.MinCartInterval {
		score += scoreFastCartInterval
		indicators = append(indicators, fmt.Sprintf("cart mutations %s apart on average", mean.Round(time.Millisecond)))
	}

	if firstRequest && sample.APIPath && !sample.HadPageView {
		score += scoreDirectAPIHit
		indicators = append(indicators, "direct API access without page view")
	}
	if sample.NoJavaScript {
		score += scoreNoJavaScript
		indicators = append(indicators, "no JavaScript execution")
	}
	if sample.NoCookies {
		score += scoreNoCookies
		indicators = append(indicators, "no cookie support")
	}

	st.score = score
	st.lastSeen = now

	verdict := Verdict{Score: score, Indicators: indicators}
	if score >= s.cfg.BotThreshold {
		verdict.IsBot = true
		verdict.Reason = reasonForScore(score)
		metrics.BotVerdicts.WithLabelValues(verdict.Reason).Inc()
	}
	metrics.RequestsScored.Inc()

	if len(indicators) >= 2 {
		metrics.SuspiciousClients.Inc()
		logging.Info().
			Str("identity", string(id)).
			Float64("score", score).
			Strs("indicators", indicators).
			Msg("suspicious client activity")
	}
	return verdict
}

// CurrentScore returns the identity's decayed score without recording a
// request.
func (s *Scorer) CurrentScore(id identity.Identity) float64 {
	s.mu.Lock()
	st, ok := s.states.Peek(id)
	s.mu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return Decay(st.score, time.Since(st.lastSeen), s.cfg.DecayHorizon)
}

// Tier maps a suspicion score to a rate-limit tier. Budgets tighten
// monotonically as the score rises.
func (s *Scorer) Tier(score float64) RateLimitTier {
	switch {
	case score >= 75:
		return RateLimitTier{Limit: 5, Window: time.Hour}
	case score >= 50:
		return RateLimitTier{Limit: 20, Window: time.Hour}
	case score >= 30:
		return RateLimitTier{Limit: 100, Window: time.Hour}
	default:
		return RateLimitTier{Limit: 1000, Window: time.Hour}
	}
}

// Sweep drops identities whose score has fully decayed and whose request
// window is empty. Purely for memory reclamation; correctness never
// depends on it running.
func (s *Scorer) Sweep(now time.Time) {
	s.mu.Lock()
	keys := s.states.Keys()
	s.mu.Unlock()

	cutoff := now.Add(-s.cfg.PatternWindow)
	for _, id := range keys {
		s.mu.Lock()
		st, ok := s.states.Peek(id)
		s.mu.Unlock()
		if !ok {
			continue
		}

		st.mu.Lock()
		st.prune(cutoff)
		idle := len(st.requests) == 0 && Decay(st.score, now.Sub(st.lastSeen), s.cfg.DecayHorizon) == 0
		st.mu.Unlock()

		if idle {
			s.mu.Lock()
			s.states.Remove(id)
			s.mu.Unlock()
		}
	}
}

func reasonForScore(score float64) string {
	switch {
	case score >= 100:
		return "known bot user agent"
	case score >= 75:
		return "suspicious request patterns"
	default:
		return "automated behavior detected"
	}
}

func (st *suspicionState) prune(cutoff time.Time) {
	i := 0
	for i < len(st.requests) && st.requests[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		st.requests = append(st.requests[:0], st.requests[i:]...)
	}
}

// meanInterval returns the average gap between consecutive timestamps.
func meanInterval(times []time.Time) (time.Duration, bool) {
	if len(times) < 2 {
		return 0, false
	}
	var total time.Duration
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		if gap < 0 {
			gap = -gap
		}
		total += gap
	}
	return total / time.Duration(len(times)-1), true
}
