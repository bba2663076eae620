// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts time so that rate limiting, pairing expiry, and
// delivery deadlines can be tested deterministically. Production code
// injects Real(); tests inject Fake() and drive time with Advance.
//
// Any production function that would reach for time.Now, time.After,
// time.AfterFunc, time.NewTicker, or time.Sleep takes a Clock instead
// (usually as a field on its config struct).
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f. The returned
	// Timer cancels the pending call with Stop. If d <= 0, f runs
	// immediately (in a new goroutine for the real clock,
	// synchronously for the fake).
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks on C at the given
	// interval. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Timer is a scheduled one-shot event created by AfterFunc. Its C
// field is always nil, matching time.AfterFunc.
type Timer struct {
	// C is nil for AfterFunc timers.
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the Timer from firing. It returns true if the call
// stopped the timer, false if the timer already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers periodic ticks on C. The channel has capacity 1,
// matching time.Ticker: if the consumer falls behind, ticks are
// dropped rather than queued. Call Stop to release the ticker.
type Ticker struct {
	// C delivers ticks. Buffered with capacity 1.
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. No ticks are sent on C after Stop
// returns. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }
