// Vigil - Real-Time Authentication and Traffic Risk Engine
// Copyright 2026 J. McRae (jmcrae)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jmcrae/vigil

// Package identity derives stable identity keys from the signals available
// on a request. Both detectors key their windowed state by these values.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Identity is a stable key for per-client state. The prefix records which
// signal produced it so keys from different signals never collide.
type Identity string

// Resolve derives an identity key from the available signals, preferring
// the strongest one present: email, then session, then IP. Inputs are
// normalized so the same client maps to the same key across requests.
func Resolve(ip, sessionID, email string) Identity {
	if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
		return Identity("email:" + email)
	}
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		return Identity("session:" + sessionID)
	}
	return Identity("ip:" + strings.TrimSpace(ip))
}

// Fingerprint computes a weak device identity from the user-agent and
// accept headers. It is a stable hash, not proof of device possession:
// two browsers with identical header sets share a fingerprint.
func Fingerprint(userAgent, accept, acceptLanguage, acceptEncoding string) string {
	if userAgent == "" && accept == "" && acceptLanguage == "" && acceptEncoding == "" {
		return ""
	}
	h := sha256.Sum256([]byte(userAgent + "|" + accept + "|" + acceptLanguage + "|" + acceptEncoding))
	return hex.EncodeToString(h[:16])
}
