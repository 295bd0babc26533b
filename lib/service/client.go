// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/edlink/lib/codec"
	"github.com/bureau-foundation/edlink/lib/pipe"
)

// Message keys.
const (
	keyID     = "id"
	keyMethod = "method"
	keyParams = "params"
	keyResult = "result"
	keyError  = "error"
)

// Error is a failure reply. Value is whatever the service sent,
// usually a string.
type Error struct {
	Method string
	Value  any
}

func (e *Error) Error() string {
	return fmt.Sprintf("service error on %q: %v", e.Method, e.Value)
}

// Client issues calls over one pipe. It is safe for concurrent use.
type Client struct {
	pipe   *pipe.Pipe
	logger *slog.Logger

	// drainMu keeps replies in pipe order when notifications overlap.
	drainMu sync.Mutex

	mu       sync.Mutex
	nextID   int64
	active   map[int64]*Result
	closed   bool
	unlisten func()
}

// NewClient takes over the reading side of p. A nil logger discards
// output.
func NewClient(p *pipe.Pipe, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		pipe:   p,
		logger: logger,
		active: make(map[int64]*Result),
	}
	c.unlisten = p.Listen(c.drain)
	c.drain()
	return c
}

// Invoke sends a request and returns the Result collecting its
// replies. Close the Result when no further replies are wanted.
func (c *Client) Invoke(ctx context.Context, method string, params any) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, pipe.ErrClosed
	}
	result := &Result{ID: c.nextID, Method: method, client: c}
	c.nextID++
	c.active[result.ID] = result
	c.mu.Unlock()

	request := map[string]any{keyID: result.ID, keyMethod: method, keyParams: params}
	if err := c.pipe.Write(request); err != nil {
		c.drop(result.ID)
		return nil, fmt.Errorf("invoking %s: %w", method, err)
	}
	return result, nil
}

// Call invokes method and returns its first reply.
func (c *Client) Call(ctx context.Context, method string, params any) (any, error) {
	result, err := c.Invoke(ctx, method, params)
	if err != nil {
		return nil, err
	}
	defer result.Close()
	return result.Next(ctx)
}

// Close closes the pipe. Pending results fail with pipe.ErrClosed.
func (c *Client) Close() error {
	err := c.pipe.Close()
	c.fail()
	return err
}

// drain routes every queued reply. It runs on each pipe notification.
func (c *Client) drain() {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()
	for {
		message, ok := c.pipe.TryRead()
		if !ok {
			break
		}
		c.route(message)
	}
	if !c.pipe.IsOpen() {
		c.fail()
	}
}

func (c *Client) route(message any) {
	fields, ok := message.(map[string]any)
	if !ok {
		c.logger.Warn("dropping reply that is not a map", "type", fmt.Sprintf("%T", message))
		return
	}
	id, ok := codec.Int64(fields[keyID])
	if !ok {
		c.logger.Warn("dropping reply without id")
		return
	}
	c.mu.Lock()
	result := c.active[id]
	c.mu.Unlock()
	if result == nil {
		c.logger.Debug("dropping reply for unknown call", "call_id", id)
		return
	}

	if value, ok := fields[keyResult]; ok {
		result.push(reply{value: value})
		return
	}
	result.push(reply{err: &Error{Method: result.Method, Value: fields[keyError]}})
}

func (c *Client) fail() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	results := c.active
	c.active = make(map[int64]*Result)
	unlisten := c.unlisten
	c.mu.Unlock()

	if unlisten != nil {
		unlisten()
	}
	for _, result := range results {
		result.finish(pipe.ErrClosed)
	}
}

func (c *Client) drop(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, id)
}

type reply struct {
	value any
	err   error
}

// Result collects the replies to one request.
type Result struct {
	ID     int64
	Method string

	client *Client

	mu      sync.Mutex
	queue   []reply
	waiters []chan reply
	final   error
}

// Next returns the next reply, waiting for one if none is queued. A
// failure reply is returned as *Error.
func (r *Result) Next(ctx context.Context) (any, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		next := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return next.value, next.err
	}
	if r.final != nil {
		err := r.final
		r.mu.Unlock()
		return nil, err
	}
	waiter := make(chan reply, 1)
	r.waiters = append(r.waiters, waiter)
	r.mu.Unlock()

	select {
	case next := <-waiter:
		return next.value, next.err
	case <-ctx.Done():
	}

	r.mu.Lock()
	if index := slices.Index(r.waiters, waiter); index >= 0 {
		r.waiters = slices.Delete(r.waiters, index, index+1)
		r.mu.Unlock()
		return nil, ctx.Err()
	}
	r.mu.Unlock()
	next := <-waiter
	return next.value, next.err
}

// Close stops collecting replies. Later replies are dropped.
func (r *Result) Close() {
	r.client.drop(r.ID)
	r.finish(pipe.ErrClosed)
}

func (r *Result) push(next reply) {
	r.mu.Lock()
	if len(r.waiters) > 0 {
		waiter := r.waiters[0]
		r.waiters = r.waiters[1:]
		r.mu.Unlock()
		waiter <- next
		return
	}
	r.queue = append(r.queue, next)
	r.mu.Unlock()
}

func (r *Result) finish(err error) {
	r.mu.Lock()
	if r.final == nil {
		r.final = err
	}
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()
	for _, waiter := range waiters {
		waiter <- reply{err: err}
	}
}
