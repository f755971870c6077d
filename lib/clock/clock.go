// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source for every wait in the sandbox launcher.
// Production code uses Real(); tests use Fake() and advance time by
// hand so that timeouts fire deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. A
	// non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. The channel has capacity 1;
// ticks are dropped when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }
