// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only on Advance. It is safe
// for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	pending []*schedule
}

// schedule is one armed timer or ticker.
type schedule struct {
	deadline time.Time
	callback func()
	ticks    chan time.Time
	interval time.Duration
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{now: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc arms f. A non-positive d calls f before returning.
// Callbacks run inside Advance on the advancing goroutine and must not
// call Advance themselves.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	entry := &schedule{callback: f}
	if d <= 0 {
		f()
	} else {
		c.arm(entry, d)
	}
	return &Timer{
		stop: func() bool { return c.disarm(entry) },
		reset: func(d time.Duration) bool {
			wasPending := c.disarm(entry)
			c.arm(entry, d)
			return wasPending
		},
	}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	ticks := make(chan time.Time, 1)
	entry := &schedule{ticks: ticks, interval: d}
	c.arm(entry, d)
	return &Ticker{C: ticks, stop: func() { c.disarm(entry) }}
}

// Advance moves time forward by d, firing everything that comes due in
// deadline order. A ticker spanning several intervals fires once per
// interval, subject to its channel's capacity.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		entry, fireAt, ok := c.popDue(target)
		if !ok {
			return
		}
		if entry.callback != nil {
			entry.callback()
			continue
		}
		select {
		case entry.ticks <- fireAt:
		default:
		}
	}
}

// WaitForTimers blocks until at least n timers or tickers are armed.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of armed timers and tickers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *FakeClock) arm(entry *schedule, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.deadline = c.now.Add(d)
	c.pending = append(c.pending, entry)
	c.changed.Broadcast()
}

// disarm removes entry and reports whether it was armed.
func (c *FakeClock) disarm(entry *schedule) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	index := slices.Index(c.pending, entry)
	if index < 0 {
		return false
	}
	c.pending = slices.Delete(c.pending, index, index+1)
	return true
}

// popDue removes and returns the earliest entry due at or before
// target. Tickers are re-armed one interval later.
func (c *FakeClock) popDue(target time.Time) (*schedule, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	earliest := -1
	for index, entry := range c.pending {
		if entry.deadline.After(target) {
			continue
		}
		if earliest < 0 || entry.deadline.Before(c.pending[earliest].deadline) {
			earliest = index
		}
	}
	if earliest < 0 {
		return nil, time.Time{}, false
	}

	entry := c.pending[earliest]
	fireAt := entry.deadline
	if entry.interval > 0 {
		entry.deadline = entry.deadline.Add(entry.interval)
	} else {
		c.pending = slices.Delete(c.pending, earliest, earliest+1)
	}
	return entry, fireAt, true
}
