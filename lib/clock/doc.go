// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The launcher's only timed operation is waiting for the D-Bus proxy
// socket to appear. That wait takes a Clock so tests can drive the
// startup timeout without sleeping:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go waitForSocket(c, ...)
//	c.WaitForTimers(2)          // poll ticker and deadline registered
//	c.Advance(5 * time.Second)  // deadline fires
package clock
