// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netif

import (
	"context"
	"slices"

	"github.com/bureau-foundation/edlink/lib/clock"
)

// Call collects the responses to one invoke.
type Call struct {
	ID     int64
	Method string

	iface *Interface
	timer *clock.Timer

	// Guarded by iface.mu.
	queue   []response
	waiters []chan response
	final   error
}

type response struct {
	result any
	err    error
}

// Next returns the call's next response, waiting for it if none has
// arrived. A failure response is returned as a *RemoteError. Once the
// call has been evicted Next returns ErrNotInvoked; after the
// Interface shuts down it returns ErrClosed.
func (c *Call) Next(ctx context.Context) (any, error) {
	mu := &c.iface.mu
	mu.Lock()
	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		mu.Unlock()
		return next.result, next.err
	}
	if c.final != nil {
		mu.Unlock()
		return nil, c.final
	}
	waiter := make(chan response, 1)
	c.waiters = append(c.waiters, waiter)
	mu.Unlock()

	select {
	case next := <-waiter:
		return next.result, next.err
	case <-ctx.Done():
	}

	mu.Lock()
	index := slices.Index(c.waiters, waiter)
	if index >= 0 {
		c.waiters = slices.Delete(c.waiters, index, index+1)
		mu.Unlock()
		return nil, ctx.Err()
	}
	mu.Unlock()
	next := <-waiter
	return next.result, next.err
}

// deliver hands a response to the first waiter or queues it. Callers
// hold iface.mu.
func (c *Call) deliver(next response) {
	if len(c.waiters) > 0 {
		waiter := c.waiters[0]
		c.waiters = c.waiters[1:]
		waiter <- next
		return
	}
	c.queue = append(c.queue, next)
}
