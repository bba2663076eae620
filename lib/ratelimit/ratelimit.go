// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides a sliding-window attempt limiter keyed by
// an arbitrary identity string (a device id, a remote address). It
// bounds pairing-request and authentication rates per device; rejection
// is a plain boolean, never an error — callers decide the user-facing
// consequence.
package ratelimit

import (
	"sync"
	"time"

	"github.com/clawline/clawline/lib/clock"
)

// Limiter permits at most limit attempts per identity within a sliding
// window. A non-positive limit disables limiting entirely: every
// attempt is permitted (and still recorded). Safe for concurrent use.
type Limiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewLimiter constructs a Limiter. The clock is injectable so the
// limiter behaves identically under a frozen or advancing test clock;
// pass clock.Real() in production.
func NewLimiter(limit int, window time.Duration, clk clock.Clock) *Limiter {
	return &Limiter{
		limit:    limit,
		window:   window,
		clock:    clk,
		attempts: make(map[string][]time.Time),
	}
}

// Attempt records an attempt for identity and reports whether it is
// permitted. Timestamps older than the window are dropped first; if
// the retained count has reached the limit the attempt is denied and
// NOT recorded, so a burst of denied attempts does not extend the
// lockout.
func (l *Limiter) Attempt(identity string) bool {
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.attempts[identity]
	// Timestamps are appended in order, so everything up to the first
	// in-window entry is expired. An attempt recorded exactly one
	// window ago no longer counts.
	keep := 0
	for keep < len(recent) && !recent[keep].After(cutoff) {
		keep++
	}
	recent = recent[keep:]

	if l.limit > 0 && len(recent) >= l.limit {
		l.attempts[identity] = recent
		return false
	}

	l.attempts[identity] = append(recent, now)
	return true
}

// Len reports how many attempts are currently retained for identity,
// after evicting anything outside the window.
func (l *Limiter) Len(identity string) int {
	cutoff := l.clock.Now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.attempts[identity]
	keep := 0
	for keep < len(recent) && !recent[keep].After(cutoff) {
		keep++
	}
	recent = recent[keep:]
	l.attempts[identity] = recent
	return len(recent)
}

// Reset forgets all recorded attempts for every identity.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = make(map[string][]time.Time)
}
