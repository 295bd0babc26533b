// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipe

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrClosed is returned by writes to a closed pipe and by reads from
// a closed pipe with nothing left queued.
var ErrClosed = errors.New("pipe: closed")

// link is the state both ends share. Direction i carries values read
// by the end with side i.
type link struct {
	mu         sync.Mutex
	open       bool
	directions [2]direction
}

type direction struct {
	queue    []any
	waiters  []chan delivery
	listener *listener
}

type listener struct {
	callback func()
}

type delivery struct {
	value any
	err   error
}

// Pipe is one end of a pipe. It is safe for concurrent use.
type Pipe struct {
	link *link
	side int
}

// New returns the two connected ends of a fresh, open pipe.
func New() (*Pipe, *Pipe) {
	shared := &link{open: true}
	return &Pipe{link: shared, side: 0}, &Pipe{link: shared, side: 1}
}

func (p *Pipe) inbound() *direction  { return &p.link.directions[p.side] }
func (p *Pipe) outbound() *direction { return &p.link.directions[1-p.side] }

// Write sends value to the other end. A reader blocked in Read takes
// it directly; otherwise it is queued and the other end's listener is
// notified.
func (p *Pipe) Write(value any) error {
	p.link.mu.Lock()
	if !p.link.open {
		p.link.mu.Unlock()
		return ErrClosed
	}
	target := p.outbound()
	if len(target.waiters) > 0 {
		waiter := target.waiters[0]
		target.waiters = target.waiters[1:]
		p.link.mu.Unlock()
		waiter <- delivery{value: value}
		return nil
	}
	target.queue = append(target.queue, value)
	notify := target.listener
	p.link.mu.Unlock()

	if notify != nil {
		notify.callback()
	}
	return nil
}

// Read returns the next value written by the other end, blocking until
// one arrives, the pipe closes, or ctx is done. Queued values are
// returned even after the pipe has closed.
func (p *Pipe) Read(ctx context.Context) (any, error) {
	p.link.mu.Lock()
	source := p.inbound()
	if len(source.queue) > 0 {
		value := source.pop()
		p.link.mu.Unlock()
		return value, nil
	}
	if !p.link.open {
		p.link.mu.Unlock()
		return nil, ErrClosed
	}
	waiter := make(chan delivery, 1)
	source.waiters = append(source.waiters, waiter)
	p.link.mu.Unlock()

	select {
	case result := <-waiter:
		return result.value, result.err
	case <-ctx.Done():
	}

	p.link.mu.Lock()
	index := slices.Index(source.waiters, waiter)
	if index >= 0 {
		source.waiters = slices.Delete(source.waiters, index, index+1)
		p.link.mu.Unlock()
		return nil, ctx.Err()
	}
	p.link.mu.Unlock()
	// A writer claimed this waiter before the cancellation was seen.
	result := <-waiter
	return result.value, result.err
}

// TryRead returns the next queued value without blocking. The boolean
// is false when nothing is queued.
func (p *Pipe) TryRead() (any, bool) {
	p.link.mu.Lock()
	defer p.link.mu.Unlock()
	source := p.inbound()
	if len(source.queue) == 0 {
		return nil, false
	}
	return source.pop(), true
}

// Drop discards up to count queued values and returns how many were
// discarded.
func (p *Pipe) Drop(count int) int {
	p.link.mu.Lock()
	defer p.link.mu.Unlock()
	source := p.inbound()
	count = min(count, len(source.queue))
	clear(source.queue[:count])
	source.queue = source.queue[count:]
	return count
}

// Listen installs callback as this end's notifier, replacing any
// earlier one. It is called after every write from the other end that
// is queued rather than handed to a blocked reader, and once when the
// other end closes the pipe. The returned function removes the
// callback if it is still installed.
func (p *Pipe) Listen(callback func()) (unsubscribe func()) {
	installed := &listener{callback: callback}
	p.link.mu.Lock()
	p.inbound().listener = installed
	p.link.mu.Unlock()

	return func() {
		p.link.mu.Lock()
		defer p.link.mu.Unlock()
		if p.inbound().listener == installed {
			p.inbound().listener = nil
		}
	}
}

// Close closes the pipe for both ends. Blocked readers on either end
// with nothing left to read fail with ErrClosed. This end's listener
// is removed; the other end's listener is called once so it observes
// the closure. Closing a closed pipe is a no-op.
func (p *Pipe) Close() error {
	p.link.mu.Lock()
	if !p.link.open {
		p.link.mu.Unlock()
		return nil
	}
	p.link.open = false

	var woken []chan delivery
	for index := range p.link.directions {
		woken = append(woken, p.link.directions[index].waiters...)
		p.link.directions[index].waiters = nil
	}
	p.inbound().listener = nil
	notify := p.outbound().listener
	p.link.mu.Unlock()

	for _, waiter := range woken {
		waiter <- delivery{err: ErrClosed}
	}
	if notify != nil {
		notify.callback()
	}
	return nil
}

// IsOpen reports whether neither end has been closed.
func (p *Pipe) IsOpen() bool {
	p.link.mu.Lock()
	defer p.link.mu.Unlock()
	return p.link.open
}

// Empty reports whether nothing is queued for this end.
func (p *Pipe) Empty() bool {
	return p.Available() == 0
}

// Available returns the number of values queued for this end.
func (p *Pipe) Available() int {
	p.link.mu.Lock()
	defer p.link.mu.Unlock()
	return len(p.inbound().queue)
}

func (d *direction) pop() any {
	value := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return value
}
