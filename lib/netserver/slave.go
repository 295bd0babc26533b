// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/edlink/lib/auth"
	"github.com/bureau-foundation/edlink/lib/codec"
	"github.com/bureau-foundation/edlink/lib/crypt"
	"github.com/bureau-foundation/edlink/lib/localserver"
	"github.com/bureau-foundation/edlink/lib/netif"
	"github.com/bureau-foundation/edlink/lib/pipe"
	"github.com/bureau-foundation/edlink/lib/secureconn"
)

var (
	// ErrRefused is returned by Connect when the remote has no such
	// service or the service refused the pipe.
	ErrRefused = errors.New("netserver: remote refused connection")

	// ErrBindRejected is returned by Register when the remote would
	// not bind the name. The local registration has been rolled back.
	ErrBindRejected = errors.New("netserver: remote rejected binding")

	// ErrUnbindRejected is returned by Deregister when the remote did
	// not hold a binding for the name.
	ErrUnbindRejected = errors.New("netserver: remote rejected unbinding")

	// ErrNoAuthenticator is returned by Authorize and Logout on a
	// Slave configured without credentials.
	ErrNoAuthenticator = errors.New("netserver: authentication not configured")

	// ErrAuthFailed is returned by Authorize when the remote rejected
	// the token.
	ErrAuthFailed = errors.New("netserver: authentication failed")

	// ErrBadResponse reports a remote result of the wrong shape.
	ErrBadResponse = errors.New("netserver: malformed response")
)

// SlaveConfig configures a Slave.
type SlaveConfig struct {
	// Interface configures the underlying netif.Interface. Its
	// Logger defaults to Logger.
	Interface netif.Config

	// Encryption is the key-rotation surface of the transport. With
	// Credentials it enables Authorize and Logout.
	Encryption secureconn.Encryption

	// Credentials holds the accounts Authorize can log in as.
	Credentials *auth.CredentialStorage

	// Provider derives account keys. Required with Credentials.
	Provider crypt.Provider

	// Salt is mixed into every account key.
	Salt string

	// Logger receives lifecycle output. Nil means slog.Default().
	Logger *slog.Logger
}

// Slave is the connecting end of a multiplexed session.
type Slave struct {
	iface  *netif.Interface
	mux    *mux
	local  *localserver.Server
	auth   *auth.Slave
	logger *slog.Logger
}

// NewSlave starts a session over conn, which the Slave owns. It stops
// when ctx is cancelled, Close is called, or the remote goes away.
func NewSlave(ctx context.Context, conn io.ReadWriteCloser, config SlaveConfig) *Slave {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interfaceConfig := config.Interface
	if interfaceConfig.Logger == nil {
		interfaceConfig.Logger = logger
	}
	iface := netif.New(conn, interfaceConfig)

	s := &Slave{
		iface:  iface,
		mux:    newMux(ctx, iface, logger),
		local:  localserver.New(logger),
		logger: logger,
	}
	if config.Encryption != nil && config.Credentials != nil {
		s.auth = auth.NewSlave(config.Credentials, config.Encryption, config.Provider, config.Salt, logger)
	}

	iface.BindMethod(methodPing, func(context.Context, any) (any, error) {
		return "pong", nil
	})
	iface.BindMethod(methodSend, s.handleSend)
	iface.BindAsyncMethod(methodConnect, s.handleConnect)
	iface.BindMethod(methodClose, s.handleClose)
	iface.Start(ctx)

	go func() {
		<-iface.Done()
		s.release()
	}()
	return s
}

// Connect opens a pipe to the remote service name.
func (s *Slave) Connect(ctx context.Context, name string) (*pipe.Pipe, error) {
	result, err := s.iface.Call(ctx, methodConnect, name)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", name, err)
	}
	id, ok := pipeID(result)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRefused, name)
	}

	client, local := pipe.New()
	if s.mux.attach(id, local, false) {
		if _, err := s.iface.Invoke(ctx, methodActivate, id); err != nil {
			s.mux.closeRemote(id)
			return nil, fmt.Errorf("activating pipe to %s: %w", name, err)
		}
	}
	s.logger.Debug("pipe connected", "service", name, "pipe_id", id)
	return client, nil
}

// Connector returns a function that connects to name on each call.
func (s *Slave) Connector(name string) func(ctx context.Context) (*pipe.Pipe, error) {
	return func(ctx context.Context) (*pipe.Pipe, error) {
		return s.Connect(ctx, name)
	}
}

// Register publishes service under the normalized name on both ends.
// If the remote refuses, the local registration is undone.
func (s *Slave) Register(ctx context.Context, name string, service localserver.Service) error {
	name = localserver.Normalize(name)
	if err := s.local.Register(name, service); err != nil {
		return err
	}
	result, err := s.iface.Call(ctx, methodBind, name)
	if err == nil && !isTrue(result) {
		err = fmt.Errorf("%w: %s", ErrBindRejected, name)
	}
	if err != nil {
		if rollbackErr := s.local.Deregister(name); rollbackErr != nil {
			s.logger.Warn("rolling back local registration", "service", name, "error", rollbackErr)
		}
		return fmt.Errorf("binding %s: %w", name, err)
	}
	s.logger.Info("service bound", "service", name)
	return nil
}

// Deregister withdraws name locally, then remotely.
func (s *Slave) Deregister(ctx context.Context, name string) error {
	name = localserver.Normalize(name)
	if err := s.local.Deregister(name); err != nil {
		return err
	}
	result, err := s.iface.Call(ctx, methodUnbind, name)
	if err != nil {
		return fmt.Errorf("unbinding %s: %w", name, err)
	}
	if !isTrue(result) {
		return fmt.Errorf("%w: %s", ErrUnbindRejected, name)
	}
	s.logger.Info("service unbound", "service", name)
	return nil
}

// Registered asks the remote whether name is bound there.
func (s *Slave) Registered(ctx context.Context, name string) (bool, error) {
	name = localserver.Normalize(name)
	result, err := s.iface.Call(ctx, methodBound, name)
	if err != nil {
		return false, fmt.Errorf("querying %s: %w", name, err)
	}
	return isTrue(result), nil
}

// Authorize logs in as account. It returns once both ends have
// switched to the account key.
func (s *Slave) Authorize(ctx context.Context, account string) error {
	if s.auth == nil {
		return ErrNoAuthenticator
	}
	result, err := s.iface.Call(ctx, methodAuthRequest, nil)
	if err != nil {
		return fmt.Errorf("requesting nonce: %w", err)
	}
	fields, _ := result.(map[string]any)
	nonce, ok := codec.Uint32(fields["nonce"])
	if !ok {
		return fmt.Errorf("%w: auth-request returned %T", ErrBadResponse, result)
	}

	token, err := s.auth.Authenticate(account, nonce)
	if err != nil {
		return err
	}
	result, err = s.iface.Call(ctx, methodAuthResponse, map[string]any{"id": account, "result": token})
	if err != nil {
		s.auth.Abort()
		return fmt.Errorf("sending token: %w", err)
	}
	if !isTrue(result) {
		s.auth.Abort()
		return fmt.Errorf("%w: %s", ErrAuthFailed, account)
	}
	return s.sync(ctx)
}

// Logout returns the session to the default key.
func (s *Slave) Logout(ctx context.Context) error {
	if s.auth == nil {
		return ErrNoAuthenticator
	}
	if _, err := s.iface.Call(ctx, methodAuthLogout, nil); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return s.sync(ctx)
}

// Account returns the logged-in account, or "" when anonymous.
func (s *Slave) Account() string {
	if s.auth == nil {
		return ""
	}
	return s.auth.Account()
}

// sync round-trips a ping. The remote writes its KeyChange frame
// before the ping's response, so once this returns the key change
// has been processed here.
func (s *Slave) sync(ctx context.Context) error {
	if _, err := s.iface.Call(ctx, methodPing, nil); err != nil {
		return fmt.Errorf("confirming key change: %w", err)
	}
	return nil
}

// Close ends the session and closes every multiplexed pipe.
func (s *Slave) Close() error {
	if s.auth != nil {
		s.auth.Close()
	}
	err := s.iface.Close()
	s.mux.closeAll()
	return err
}

// Done is closed when the session has ended.
func (s *Slave) Done() <-chan struct{} { return s.iface.Done() }

// Err returns the error that ended the session, or nil.
func (s *Slave) Err() error { return s.iface.Err() }

func (s *Slave) release() {
	if s.auth != nil {
		s.auth.Close()
	}
	s.mux.closeAll()
}

func (s *Slave) handleSend(_ context.Context, params any) (any, error) {
	id, data, err := sendParams(params)
	if err != nil {
		return nil, err
	}
	return s.mux.deliver(id, data), nil
}

func (s *Slave) handleConnect(ctx context.Context, params any) (any, error) {
	fields, err := mapParam(params)
	if err != nil {
		return nil, err
	}
	name, err := stringParam(fields["service"])
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	id, err := idParam(fields["pipe"])
	if err != nil {
		return nil, err
	}

	local, err := s.local.Connect(ctx, name)
	if err != nil {
		s.logger.Debug("refusing inbound pipe", "service", name, "pipe_id", id, "error", err)
		return false, nil
	}
	s.mux.attach(id, local, false)
	s.logger.Debug("inbound pipe attached", "service", name, "pipe_id", id)
	return id, nil
}

func (s *Slave) handleClose(_ context.Context, params any) (any, error) {
	id, err := idParam(params)
	if err != nil {
		return nil, err
	}
	s.mux.closeRemote(id)
	return nil, nil
}
