// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package localserver is the in-process service registry. Services are
// registered under slash-separated names; connecting to a name creates
// a fresh pipe, hands one end to the service, and returns the other to
// the caller.
//
// Names are normalized to absolute, cleaned paths, so "editor/doc",
// "/editor/doc", and "/editor//doc/" all name the same service.
package localserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sync"

	"github.com/bureau-foundation/edlink/lib/pipe"
)

var (
	// ErrAlreadyRegistered is returned by Register for a taken name.
	ErrAlreadyRegistered = errors.New("localserver: name already registered")

	// ErrNotRegistered is returned by Deregister for an unknown name.
	ErrNotRegistered = errors.New("localserver: name not registered")

	// ErrServiceNotFound is returned by Connect for an unknown name.
	ErrServiceNotFound = errors.New("localserver: service not found")

	// ErrAttachRejected wraps the error a service returned from Attach.
	ErrAttachRejected = errors.New("localserver: service rejected attach")
)

// Service accepts connections. Attach receives the service's end of a
// new pipe and returns an error to refuse the connection. Attach must
// not block on the pipe: it typically installs a listener or starts a
// goroutine and returns.
type Service interface {
	Attach(ctx context.Context, p *pipe.Pipe) error
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, p *pipe.Pipe) error

func (f ServiceFunc) Attach(ctx context.Context, p *pipe.Pipe) error { return f(ctx, p) }

// Server maps names to services. It is safe for concurrent use.
type Server struct {
	logger *slog.Logger

	mu       sync.Mutex
	services map[string]Service
}

// New returns an empty Server. A nil logger discards output.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		logger:   logger,
		services: make(map[string]Service),
	}
}

// Normalize returns the canonical form of a service name.
func Normalize(name string) string {
	return path.Clean("/" + name)
}

// Register makes service reachable under name.
func (s *Server) Register(name string, service Service) error {
	if service == nil {
		return fmt.Errorf("localserver: nil service for %q", name)
	}
	name = Normalize(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	s.services[name] = service
	s.logger.Debug("service registered", "service", name)
	return nil
}

// Deregister removes the service under name. Pipes already attached
// to it are unaffected.
func (s *Server) Deregister(name string) error {
	name = Normalize(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	delete(s.services, name)
	s.logger.Debug("service deregistered", "service", name)
	return nil
}

// Registered reports whether a service is registered under name.
func (s *Server) Registered(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.services[Normalize(name)]
	return exists
}

// Names returns the registered names in sorted order.
func (s *Server) Names() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	s.mu.Unlock()
	slices.Sort(names)
	return names
}

// Connect attaches a new pipe to the service registered under name and
// returns the caller's end. If the service refuses, both ends are
// closed and the error wraps ErrAttachRejected.
func (s *Server) Connect(ctx context.Context, name string) (*pipe.Pipe, error) {
	name = Normalize(name)

	s.mu.Lock()
	service, exists := s.services[name]
	s.mu.Unlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	client, server := pipe.New()
	if err := service.Attach(ctx, server); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrAttachRejected, name, err)
	}
	return client, nil
}

// Connector returns a function that connects to name on each call.
func (s *Server) Connector(name string) func(ctx context.Context) (*pipe.Pipe, error) {
	return func(ctx context.Context) (*pipe.Pipe, error) {
		return s.Connect(ctx, name)
	}
}
