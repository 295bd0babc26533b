// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for edlink's timeouts.
//
// Code that evicts idle response handlers or pings quiet pipes takes a
// Clock instead of calling the time package. Real is used in
// production. Tests use Fake, whose time moves only on Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	iface := netif.New(conn, netif.Config{Clock: fake})
//	// ... issue a call ...
//	fake.WaitForTimers(1)
//	fake.Advance(netif.DefaultResponseTimeout)
//
// WaitForTimers closes the gap between a goroutine arming a timer and
// the test advancing past it.
package clock
