// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

// Package challenge issues and verifies CAPTCHA challenges. The token is a
// signed JWT binding the challenge text to an expiry, so a verifier needs
// no stored state and a tampered or replayed-after-expiry token fails.
package challenge

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jmcrae/vigil/internal/config"
	"github.com/jmcrae/vigil/internal/logging"
	"github.com/jmcrae/vigil/internal/metrics"
)

// challengeCharset deliberately omits characters that read ambiguously
// (0/O, 1/I/L) since a human has to type the answer back.
const challengeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Challenge is one issued challenge: the text to present to the client and
// the token that must accompany the answer.
type Challenge struct {
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
}

// Issuer creates and verifies challenges.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	length int
}

// NewIssuer builds an issuer. An empty configured secret gets a random
// per-process one, which invalidates outstanding challenges on restart.
func NewIssuer(cfg config.ChallengeConfig) (*Issuer, error) {
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate challenge secret: %w", err)
		}
		logging.Warn().Msg("no challenge secret configured, using a random per-process secret")
	}
	return &Issuer{secret: secret, ttl: cfg.TTL, length: cfg.Length}, nil
}

// Issue generates a random challenge and its signed token.
func (i *Issuer) Issue() (Challenge, error) {
	text, err := randomChallenge(i.length)
	if err != nil {
		return Challenge{}, err
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"challenge": text,
		"iat":       now.Unix(),
		"exp":       now.Add(i.ttl).Unix(),
		"jti":       uuid.NewString(),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return Challenge{}, fmt.Errorf("sign challenge token: %w", err)
	}

	metrics.ChallengesIssued.Inc()
	return Challenge{Challenge: text, Token: signed}, nil
}

// Verify reports whether response answers the challenge carried by token.
// The comparison is case-insensitive; signature and expiry failures reject.
func (i *Issuer) Verify(tokenString, response string) bool {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		metrics.ChallengeVerifications.WithLabelValues("invalid_token").Inc()
		return false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		metrics.ChallengeVerifications.WithLabelValues("invalid_token").Inc()
		return false
	}
	expected, _ := claims["challenge"].(string)
	if expected == "" || !strings.EqualFold(expected, strings.TrimSpace(response)) {
		metrics.ChallengeVerifications.WithLabelValues("wrong_answer").Inc()
		return false
	}

	metrics.ChallengeVerifications.WithLabelValues("ok").Inc()
	return true
}

func randomChallenge(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate challenge: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = challengeCharset[int(b)%len(challengeCharset)]
	}
	return string(out), nil
}
