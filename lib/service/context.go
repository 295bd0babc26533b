// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/bureau-foundation/edlink/lib/localserver"
	"github.com/bureau-foundation/edlink/lib/pipe"
)

// Method serves one request. The returned value becomes the reply's
// result; a non-nil error becomes its error string.
type Method func(ctx context.Context, params any) (any, error)

// Context serves requests arriving on one pipe. Bind methods before
// calling Run.
type Context struct {
	pipe    *pipe.Pipe
	methods map[string]Method
	logger  *slog.Logger
}

// NewContext returns a Context reading requests from p. A nil logger
// discards output.
func NewContext(p *pipe.Pipe, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Context{
		pipe:    p,
		methods: make(map[string]Method),
		logger:  logger,
	}
}

// BindMethod registers handler for name. Panics if name is already
// bound.
func (c *Context) BindMethod(name string, handler Method) {
	if _, exists := c.methods[name]; exists {
		panic(fmt.Sprintf("service.Context: duplicate method %q", name))
	}
	c.methods[name] = handler
}

// Run serves requests in arrival order until the pipe closes or ctx
// is done. Returns nil when the pipe closes.
func (c *Context) Run(ctx context.Context) error {
	for {
		message, err := c.pipe.Read(ctx)
		if err != nil {
			if errors.Is(err, pipe.ErrClosed) {
				return nil
			}
			return err
		}
		c.serve(ctx, message)
	}
}

// Close closes the pipe, ending Run.
func (c *Context) Close() error {
	return c.pipe.Close()
}

func (c *Context) serve(ctx context.Context, message any) {
	fields, ok := message.(map[string]any)
	if !ok {
		c.logger.Warn("dropping request that is not a map", "type", fmt.Sprintf("%T", message))
		return
	}
	id := fields[keyID]
	name, _ := fields[keyMethod].(string)

	handler, exists := c.methods[name]
	if !exists {
		c.reply(id, nil, fmt.Errorf("unknown method %q", name))
		return
	}
	result, err := invoke(ctx, handler, fields[keyParams])
	if err != nil {
		c.logger.Debug("method failed", "method", name, "error", err)
	}
	c.reply(id, result, err)
}

func invoke(ctx context.Context, handler Method, params any) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("method panic: %v\n%s", recovered, debug.Stack())
		}
	}()
	return handler(ctx, params)
}

func (c *Context) reply(id, result any, err error) {
	message := map[string]any{keyID: id}
	if err != nil {
		message[keyError] = err.Error()
	} else {
		message[keyResult] = result
	}
	if writeErr := c.pipe.Write(message); writeErr != nil {
		c.logger.Debug("reply not delivered", "error", writeErr)
	}
}

// NewService returns a service that serves each attached pipe with a
// fresh Context configured by bind. Each Context runs on its own
// goroutine until its pipe closes.
func NewService(bind func(*Context), logger *slog.Logger) localserver.Service {
	return localserver.ServiceFunc(func(_ context.Context, p *pipe.Pipe) error {
		serviceContext := NewContext(p, logger)
		bind(serviceContext)
		go serviceContext.Run(context.Background())
		return nil
	})
}
