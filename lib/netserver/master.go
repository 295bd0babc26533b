// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/edlink/lib/auth"
	"github.com/bureau-foundation/edlink/lib/clock"
	"github.com/bureau-foundation/edlink/lib/crypt"
	"github.com/bureau-foundation/edlink/lib/localserver"
	"github.com/bureau-foundation/edlink/lib/netif"
	"github.com/bureau-foundation/edlink/lib/netutil"
	"github.com/bureau-foundation/edlink/lib/pipe"
	"github.com/bureau-foundation/edlink/lib/secureconn"
)

const (
	// DefaultInactivityTimeout is how long a connection may stay
	// silent before the master pings it.
	DefaultInactivityTimeout = 10 * time.Second

	// DefaultInactivityThreshold is how long a connection may stay
	// silent, with a ping outstanding, before it is dropped.
	DefaultInactivityThreshold = 30 * time.Second
)

// ErrMasterClosed is returned by Accept and Serve after Close.
var ErrMasterClosed = errors.New("netserver: master closed")

// Layers wraps an accepted connection in the session stack. It
// returns the stream netif runs on and the key-rotation surface of the
// encryption layer, which may be nil.
type Layers func(raw net.Conn) (io.ReadWriteCloser, secureconn.Encryption)

// MasterConfig configures a Master.
type MasterConfig struct {
	// Interface configures each connection's netif.Interface. Its
	// Logger defaults to Logger and its Clock also drives the
	// inactivity checks.
	Interface netif.Config

	// Credentials holds the accounts slaves may log in as. Nil
	// disables authentication.
	Credentials *auth.CredentialStorage

	// Provider derives account keys. Required with Credentials.
	Provider crypt.Provider

	// Salt is mixed into every account key.
	Salt string

	// InactivityTimeout and InactivityThreshold bound silent
	// connections. Zero selects the defaults.
	InactivityTimeout   time.Duration
	InactivityThreshold time.Duration

	// Logger receives lifecycle output. Nil means slog.Default().
	Logger *slog.Logger
}

// Master serves a local server to connecting slaves.
type Master struct {
	server *localserver.Server
	config MasterConfig
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	conns  map[*masterConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewMaster returns a Master serving server.
func NewMaster(server *localserver.Server, config MasterConfig) *Master {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interface.Logger == nil {
		config.Interface.Logger = logger
	}
	if config.Interface.Clock == nil {
		config.Interface.Clock = clock.Real()
	}
	if config.InactivityTimeout <= 0 {
		config.InactivityTimeout = DefaultInactivityTimeout
	}
	if config.InactivityThreshold <= 0 {
		config.InactivityThreshold = DefaultInactivityThreshold
	}
	return &Master{
		server: server,
		config: config,
		clock:  config.Interface.Clock,
		logger: logger,
		conns:  make(map[*masterConn]struct{}),
	}
}

// Serve accepts connections from listener until ctx is cancelled, the
// listener fails, or Close is called. Each connection is wrapped by
// layers. Returns nil on a clean shutdown.
func (m *Master) Serve(ctx context.Context, listener net.Listener, layers Layers) error {
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	for {
		raw, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return nil
			}
			return fmt.Errorf("accepting: %w", err)
		}
		conn, encryption := layers(raw)
		m.logger.Debug("connection accepted", "remote", raw.RemoteAddr().String())
		if err := m.Accept(ctx, conn, encryption); err != nil {
			conn.Close()
			if errors.Is(err, ErrMasterClosed) {
				return nil
			}
			return err
		}
	}
}

// Accept serves one connection until it ends. It returns immediately.
// encryption may be nil, which disables authentication on this
// connection.
func (m *Master) Accept(ctx context.Context, conn io.ReadWriteCloser, encryption secureconn.Encryption) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMasterClosed
	}
	c := newMasterConn(ctx, m, conn, encryption)
	m.conns[c] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		c.run()
		m.mu.Lock()
		delete(m.conns, c)
		m.mu.Unlock()
	}()
	return nil
}

// Connections returns the number of live connections.
func (m *Master) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Close ends every connection and waits for them to wind down.
func (m *Master) Close() error {
	m.mu.Lock()
	m.closed = true
	conns := make([]*masterConn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.iface.Close()
	}
	m.wg.Wait()
	return nil
}

// activityConn records when data last arrived.
type activityConn struct {
	io.ReadWriteCloser
	clock clock.Clock
	last  atomic.Int64
}

func (a *activityConn) Read(p []byte) (int, error) {
	n, err := a.ReadWriteCloser.Read(p)
	if n > 0 {
		a.last.Store(a.clock.Now().UnixNano())
	}
	return n, err
}

func (a *activityConn) idle() time.Duration {
	return a.clock.Now().Sub(time.Unix(0, a.last.Load()))
}

// masterConn is the master's state for one slave.
type masterConn struct {
	master   *Master
	iface    *netif.Interface
	mux      *mux
	activity *activityConn
	auth     *auth.Master
	logger   *slog.Logger

	nextPipe atomic.Int64

	mu    sync.Mutex
	bound []string
}

func newMasterConn(ctx context.Context, m *Master, conn io.ReadWriteCloser, encryption secureconn.Encryption) *masterConn {
	activity := &activityConn{ReadWriteCloser: conn, clock: m.clock}
	activity.last.Store(m.clock.Now().UnixNano())
	iface := netif.New(activity, m.config.Interface)

	c := &masterConn{
		master:   m,
		iface:    iface,
		mux:      newMux(ctx, iface, m.logger),
		activity: activity,
		logger:   m.logger,
	}
	if encryption != nil && m.config.Credentials != nil {
		c.auth = auth.NewMaster(m.config.Credentials, encryption, m.config.Provider, m.config.Salt, m.logger)
	}

	iface.BindMethod(methodPing, func(context.Context, any) (any, error) {
		return "pong", nil
	})
	iface.BindAsyncMethod(methodConnect, c.handleConnect)
	iface.BindMethod(methodActivate, c.handleActivate)
	iface.BindMethod(methodSend, c.handleSend)
	iface.BindMethod(methodClose, c.handleClose)
	iface.BindMethod(methodBind, c.handleBind)
	iface.BindMethod(methodUnbind, c.handleUnbind)
	iface.BindMethod(methodBound, c.handleBound)
	iface.BindMethod(methodAuthRequest, c.handleAuthRequest)
	iface.BindMethod(methodAuthResponse, c.handleAuthResponse)
	iface.BindMethod(methodAuthLogout, c.handleAuthLogout)
	iface.Start(ctx)
	return c
}

// run supervises the connection until it ends, then releases
// everything it registered.
func (c *masterConn) run() {
	ticker := c.master.clock.NewTicker(c.master.config.InactivityTimeout)
	defer ticker.Stop()

	var pingedAt time.Time
	pinged := false
	for {
		select {
		case <-c.iface.Done():
			c.release()
			return
		case <-ticker.C:
		}

		idle := c.activity.idle()
		if pinged && idle < c.master.clock.Now().Sub(pingedAt) {
			pinged = false
		}
		switch {
		case pinged && idle >= c.master.config.InactivityThreshold:
			c.logger.Info("dropping inactive connection", "idle", idle)
			go c.iface.Close()
		case !pinged && idle >= c.master.config.InactivityTimeout:
			if _, err := c.iface.Invoke(context.Background(), methodPing, nil); err == nil {
				pinged = true
				pingedAt = c.master.clock.Now()
			}
		}
	}
}

func (c *masterConn) release() {
	if err := c.iface.Err(); err != nil {
		c.logger.Debug("connection ended", "error", err)
	}
	if c.auth != nil {
		c.auth.Close()
	}
	c.mux.closeAll()

	c.mu.Lock()
	bound := c.bound
	c.bound = nil
	c.mu.Unlock()
	for _, name := range bound {
		if err := c.master.server.Deregister(name); err != nil {
			c.logger.Warn("deregistering proxied service", "service", name, "error", err)
		}
	}
}

func (c *masterConn) allocatePipe() int64 {
	return c.nextPipe.Add(1) - 1
}

func (c *masterConn) handleConnect(ctx context.Context, params any) (any, error) {
	name, err := stringParam(params)
	if err != nil {
		return nil, err
	}
	local, err := c.master.server.Connect(ctx, name)
	if err != nil {
		c.logger.Debug("refusing pipe", "service", name, "error", err)
		return false, nil
	}
	id := c.allocatePipe()
	c.mux.attach(id, local, true)
	c.logger.Debug("pipe opened", "service", name, "pipe_id", id)
	return id, nil
}

func (c *masterConn) handleActivate(_ context.Context, params any) (any, error) {
	id, err := idParam(params)
	if err != nil {
		return nil, err
	}
	c.mux.activate(id)
	return nil, nil
}

func (c *masterConn) handleSend(_ context.Context, params any) (any, error) {
	id, data, err := sendParams(params)
	if err != nil {
		return nil, err
	}
	return c.mux.deliver(id, data), nil
}

func (c *masterConn) handleClose(_ context.Context, params any) (any, error) {
	id, err := idParam(params)
	if err != nil {
		return nil, err
	}
	c.mux.closeRemote(id)
	return nil, nil
}

func (c *masterConn) handleBind(_ context.Context, params any) (any, error) {
	name, err := stringParam(params)
	if err != nil {
		return nil, err
	}
	name = localserver.Normalize(name)
	if err := c.master.server.Register(name, &proxyService{conn: c, name: name}); err != nil {
		c.logger.Debug("refusing bind", "service", name, "error", err)
		return false, nil
	}
	c.mu.Lock()
	c.bound = append(c.bound, name)
	c.mu.Unlock()
	c.logger.Info("slave bound service", "service", name)
	return true, nil
}

func (c *masterConn) handleUnbind(_ context.Context, params any) (any, error) {
	name, err := stringParam(params)
	if err != nil {
		return nil, err
	}
	name = localserver.Normalize(name)

	c.mu.Lock()
	index := slices.Index(c.bound, name)
	if index >= 0 {
		c.bound = slices.Delete(c.bound, index, index+1)
	}
	c.mu.Unlock()
	if index < 0 {
		return false, nil
	}
	if err := c.master.server.Deregister(name); err != nil {
		return false, nil
	}
	c.logger.Info("slave unbound service", "service", name)
	return true, nil
}

func (c *masterConn) handleBound(_ context.Context, params any) (any, error) {
	name, err := stringParam(params)
	if err != nil {
		return nil, err
	}
	return c.master.server.Registered(name), nil
}

func (c *masterConn) handleAuthRequest(context.Context, any) (any, error) {
	if c.auth == nil {
		return nil, errors.New("authentication not supported")
	}
	nonce, err := c.auth.InitiateLogin()
	if err != nil {
		return nil, err
	}
	return map[string]any{"nonce": int64(nonce)}, nil
}

func (c *masterConn) handleAuthResponse(ctx context.Context, params any) (any, error) {
	if c.auth == nil {
		return nil, errors.New("authentication not supported")
	}
	fields, err := mapParam(params)
	if err != nil {
		return nil, err
	}
	id, _ := fields["id"].(string)
	token, _ := fields["result"].(string)
	if err := c.auth.ContinueLogin(id, token); err != nil {
		c.logger.Info("login refused", "account", id, "error", err)
		return false, nil
	}
	netif.OnResponseSent(ctx, func() {
		if err := c.auth.FinalizeLogin(); err != nil {
			c.logger.Error("finalizing login", "account", id, "error", err)
		}
	})
	return true, nil
}

func (c *masterConn) handleAuthLogout(ctx context.Context, _ any) (any, error) {
	if c.auth == nil {
		return nil, errors.New("authentication not supported")
	}
	netif.OnResponseSent(ctx, func() {
		if err := c.auth.Logout(); err != nil {
			c.logger.Error("logging out", "error", err)
		}
	})
	return nil, nil
}

// proxyService makes a service bound by a slave connectable on the
// master's local server.
type proxyService struct {
	conn *masterConn
	name string
}

// Attach registers the pipe before asking the slave to connect so
// data the slave sends ahead of its reply is not lost. Outbound
// traffic stays frozen until the slave accepts.
func (p *proxyService) Attach(ctx context.Context, local *pipe.Pipe) error {
	c := p.conn
	id := c.allocatePipe()
	c.mux.attach(id, local, true)

	result, err := c.iface.Call(ctx, methodConnect, map[string]any{"service": p.name, "pipe": id})
	if err == nil {
		if accepted, ok := pipeID(result); !ok || accepted != id {
			err = fmt.Errorf("%w: %s", ErrRefused, p.name)
		}
	}
	if err != nil {
		c.mux.closeRemote(id)
		return err
	}
	c.mux.activate(id)
	return nil
}
