// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netserver

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/edlink/lib/netif"
	"github.com/bureau-foundation/edlink/lib/pipe"
)

// Remote method names.
const (
	methodPing         = "ping"
	methodConnect      = "connect"
	methodActivate     = "activate"
	methodSend         = "send"
	methodClose        = "close"
	methodBind         = "bind"
	methodUnbind       = "unbind"
	methodBound        = "bound"
	methodAuthRequest  = "auth-request"
	methodAuthResponse = "auth-response"
	methodAuthLogout   = "auth-logout"
)

// endpoint is the local end of one multiplexed pipe.
type endpoint struct {
	id    int64
	local *pipe.Pipe

	// mu serializes forwarding so values leave in queue order.
	mu       sync.Mutex
	frozen   bool
	unlisten func()
}

// mux maps pipe ids to local pipes and forwards their traffic over an
// Interface.
type mux struct {
	ctx    context.Context
	iface  *netif.Interface
	logger *slog.Logger

	mu    sync.Mutex
	pipes map[int64]*endpoint
}

func newMux(ctx context.Context, iface *netif.Interface, logger *slog.Logger) *mux {
	return &mux{
		ctx:    ctx,
		iface:  iface,
		logger: logger,
		pipes:  make(map[int64]*endpoint),
	}
}

// attach registers local under id and starts forwarding what the
// other end writes to it. A frozen endpoint accepts inbound data but
// holds outbound traffic until activate. Reports whether the pipe is
// still open after the initial flush.
func (m *mux) attach(id int64, local *pipe.Pipe, frozen bool) bool {
	ep := &endpoint{id: id, local: local, frozen: frozen}

	m.mu.Lock()
	previous := m.pipes[id]
	m.pipes[id] = ep
	m.mu.Unlock()
	if previous != nil {
		m.logger.Warn("pipe id reused; closing previous pipe", "pipe_id", id)
		previous.detach()
	}

	ep.mu.Lock()
	ep.unlisten = local.Listen(func() { m.forward(ep) })
	ep.mu.Unlock()

	m.forward(ep)
	return m.lookup(id) == ep
}

// activate releases a frozen endpoint. Unknown ids are ignored.
func (m *mux) activate(id int64) {
	ep := m.lookup(id)
	if ep == nil {
		return
	}
	ep.mu.Lock()
	ep.frozen = false
	ep.mu.Unlock()
	m.forward(ep)
}

// forward sends everything queued on ep to the peer, then the close
// notification once the pipe is closed and drained.
func (m *mux) forward(ep *endpoint) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.frozen {
		return
	}
	for {
		value, ok := ep.local.TryRead()
		if !ok {
			break
		}
		params := map[string]any{"pipe": ep.id, "data": value}
		if _, err := m.iface.Invoke(m.ctx, methodSend, params); err != nil {
			m.logger.Debug("dropping pipe data", "pipe_id", ep.id, "error", err)
			return
		}
	}
	if ep.local.IsOpen() || !ep.local.Empty() {
		return
	}
	if !m.remove(ep) {
		return
	}
	if _, err := m.iface.Invoke(m.ctx, methodClose, ep.id); err != nil {
		m.logger.Debug("pipe close not sent", "pipe_id", ep.id, "error", err)
	}
	m.logger.Debug("pipe closed locally", "pipe_id", ep.id)
}

// deliver writes data from the peer into the pipe with id. Reports
// false when the pipe is unknown or closed.
func (m *mux) deliver(id int64, data any) bool {
	ep := m.lookup(id)
	if ep == nil {
		return false
	}
	return ep.local.Write(data) == nil
}

// closeRemote handles the peer's close notification. The entry is
// removed before the pipe closes so the close is not echoed back.
func (m *mux) closeRemote(id int64) {
	m.mu.Lock()
	ep := m.pipes[id]
	delete(m.pipes, id)
	m.mu.Unlock()
	if ep != nil {
		ep.detach()
		m.logger.Debug("pipe closed by peer", "pipe_id", id)
	}
}

// closeAll closes every pipe without notifying the peer.
func (m *mux) closeAll() {
	m.mu.Lock()
	endpoints := make([]*endpoint, 0, len(m.pipes))
	for _, ep := range m.pipes {
		endpoints = append(endpoints, ep)
	}
	clear(m.pipes)
	m.mu.Unlock()

	slices.SortFunc(endpoints, func(a, b *endpoint) int { return cmp.Compare(a.id, b.id) })
	for _, ep := range endpoints {
		ep.detach()
	}
}

func (m *mux) lookup(id int64) *endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipes[id]
}

func (m *mux) remove(ep *endpoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pipes[ep.id] != ep {
		return false
	}
	delete(m.pipes, ep.id)
	return true
}

// count returns the number of live pipes.
func (m *mux) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pipes)
}

// detach stops forwarding and closes the local pipe.
func (ep *endpoint) detach() {
	ep.mu.Lock()
	unlisten := ep.unlisten
	ep.unlisten = nil
	ep.mu.Unlock()
	if unlisten != nil {
		unlisten()
	}
	ep.local.Close()
}
