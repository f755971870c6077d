// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock set to initial. Time only moves when
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.registered = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a manually advanced Clock. It is safe for concurrent
// use.
type FakeClock struct {
	mu         sync.Mutex
	current    time.Time
	pending    []*pendingTimer
	registered *sync.Cond
}

type pendingTimer struct {
	deadline time.Time
	channel  chan time.Time
	// interval is non-zero for tickers, which are rescheduled after
	// each fire instead of being dropped.
	interval time.Duration
	stopped  bool
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a one-shot timer.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.addLocked(&pendingTimer{deadline: c.current.Add(d), channel: channel})
	return channel
}

// NewTicker registers a periodic timer.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	timer := &pendingTimer{deadline: c.current.Add(d), channel: channel, interval: d}
	c.addLocked(timer)

	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			timer.stopped = true
		},
	}
}

func (c *FakeClock) addLocked(timer *pendingTimer) {
	c.pending = append(c.pending, timer)
	c.registered.Broadcast()
}

// Advance moves the clock forward by d and fires, in deadline order,
// every timer that came due. A ticker spanning several intervals fires
// once per interval; ticks that do not fit in its buffer are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	var due []*pendingTimer
	for {
		var next []*pendingTimer
		fired := false
		for _, timer := range c.pending {
			if timer.stopped {
				continue
			}
			if timer.deadline.After(now) {
				next = append(next, timer)
				continue
			}
			due = append(due, timer)
			fired = true
			if timer.interval > 0 {
				tick := *timer
				due[len(due)-1] = &tick
				timer.deadline = timer.deadline.Add(timer.interval)
				next = append(next, timer)
			}
		}
		c.pending = next
		if !fired {
			break
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, timer := range due {
		select {
		case timer.channel <- now:
		default:
		}
	}
}

// WaitForTimers blocks until at least n timers are pending. Tests call
// it before Advance so a goroutine has registered its wait first.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.registered.Wait()
	}
}

// PendingCount returns the number of live timers and tickers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, timer := range c.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}
