// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netif

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bureau-foundation/edlink/lib/clock"
	"github.com/bureau-foundation/edlink/lib/codec"
	"github.com/bureau-foundation/edlink/lib/netutil"
)

// LevelTrace is the log level for per-envelope tracing, below Debug.
const LevelTrace = slog.Level(-8)

const (
	// DefaultResponseTimeout is how long a call's state survives
	// without a response before it is evicted.
	DefaultResponseTimeout = 400 * time.Millisecond

	// DefaultMaxEnvelopeSize bounds one serialized envelope.
	DefaultMaxEnvelopeSize = 16 << 20

	// DefaultCloseTimeout bounds the outbound drain in Close.
	DefaultCloseTimeout = 5 * time.Second
)

var (
	// ErrNotInvoked is returned by Call.Next once the call's state has
	// been evicted.
	ErrNotInvoked = errors.New("netif: not invoked")

	// ErrClosed is returned by operations on an Interface that has
	// shut down.
	ErrClosed = errors.New("netif: interface closed")

	// ErrProtocol reports a stream the Interface cannot parse. It
	// tears the Interface down.
	ErrProtocol = errors.New("netif: protocol violation")
)

// RemoteError is a failure response from the peer.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Method, e.Message)
}

// Handler serves one inbound invoke. The returned value becomes the
// response's result; a non-nil error becomes its error string.
type Handler func(ctx context.Context, params any) (any, error)

// Config holds the options for New.
type Config struct {
	// Serializer encodes envelopes. Nil selects codec.Binary.
	Serializer codec.Serializer

	// ResponseTimeout is the idle window after which a call's state
	// is evicted. Zero selects DefaultResponseTimeout.
	ResponseTimeout time.Duration

	// CloseTimeout bounds how long Close waits for queued envelopes
	// to drain. Zero selects DefaultCloseTimeout.
	CloseTimeout time.Duration

	// MaxEnvelopeSize bounds inbound and outbound envelopes. Zero
	// selects DefaultMaxEnvelopeSize.
	MaxEnvelopeSize int

	// Clock schedules eviction. Nil selects clock.Real.
	Clock clock.Clock

	// Logger receives lifecycle and trace output. Nil discards it.
	Logger *slog.Logger
}

type method struct {
	handler Handler
	async   bool
}

// Interface is one end of a request/response connection. It is safe
// for concurrent use.
type Interface struct {
	conn       io.ReadWriteCloser
	serializer codec.Serializer
	timeout    time.Duration
	closeWait  time.Duration
	maxSize    int
	clock      clock.Clock
	logger     *slog.Logger

	outMu    sync.Mutex
	outReady *sync.Cond
	outbox   []outgoing
	draining bool
	stopped  bool

	mu       sync.Mutex
	methods  map[string]method
	awaiting map[int64]*Call
	nextID   int64
	started  bool
	closed   bool
	err      error
	cancel   context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

// New wraps conn. Bind methods, then call Start to begin reading. The
// Interface owns conn and closes it on shutdown.
func New(conn io.ReadWriteCloser, config Config) *Interface {
	serializer := config.Serializer
	if serializer == nil {
		serializer = codec.Binary{}
	}
	timeout := config.ResponseTimeout
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	closeWait := config.CloseTimeout
	if closeWait <= 0 {
		closeWait = DefaultCloseTimeout
	}
	maxSize := config.MaxEnvelopeSize
	if maxSize <= 0 {
		maxSize = DefaultMaxEnvelopeSize
	}
	timeSource := config.Clock
	if timeSource == nil {
		timeSource = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	iface := &Interface{
		conn:       conn,
		serializer: serializer,
		timeout:    timeout,
		closeWait:  closeWait,
		maxSize:    maxSize,
		clock:      timeSource,
		logger:     logger,
		methods:    make(map[string]method),
		awaiting:   make(map[int64]*Call),
		done:       make(chan struct{}),
	}
	iface.outReady = sync.NewCond(&iface.outMu)
	go iface.send()
	return iface
}

// BindMethod registers handler for inbound invokes of name. It runs
// on the receive goroutine. Panics if name is already bound.
func (n *Interface) BindMethod(name string, handler Handler) {
	n.bind(name, method{handler: handler})
}

// BindAsyncMethod registers handler for inbound invokes of name, run
// each on its own goroutine. Responses to async methods may overtake
// responses to earlier invokes. Panics if name is already bound.
func (n *Interface) BindAsyncMethod(name string, handler Handler) {
	n.bind(name, method{handler: handler, async: true})
}

func (n *Interface) bind(name string, entry method) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.methods[name]; exists {
		panic(fmt.Sprintf("netif: duplicate handler for method %q", name))
	}
	n.methods[name] = entry
}

// UnbindMethod removes the handler for name, if any.
func (n *Interface) UnbindMethod(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.methods, name)
}

// Start launches the receive loop. Handlers receive a context derived
// from ctx that is cancelled when the Interface shuts down. Cancelling
// ctx shuts the Interface down without a close envelope, and Err then
// reports the cancellation. Start may be called once.
func (n *Interface) Start(ctx context.Context) {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		panic("netif: Start called twice")
	}
	n.started = true
	ctx, n.cancel = context.WithCancel(ctx)
	closed := n.closed
	n.mu.Unlock()

	if closed {
		n.cancel()
		return
	}
	context.AfterFunc(ctx, func() { n.shutdown(context.Cause(ctx)) })
	go n.receive(ctx)
}

// Invoke sends an invoke envelope and returns the call that collects
// its responses. The call's eviction timer starts now.
func (n *Interface) Invoke(ctx context.Context, name string, params any) (*Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	call := &Call{ID: n.nextID, Method: name, iface: n}
	n.nextID++
	n.awaiting[call.ID] = call
	call.timer = n.clock.AfterFunc(n.timeout, func() { n.expire(call) })
	n.mu.Unlock()

	if err := n.enqueue(invokeEnvelope(call.ID, name, params), nil); err != nil {
		n.mu.Lock()
		n.forget(call, ErrNotInvoked)
		n.mu.Unlock()
		return nil, fmt.Errorf("invoking %s: %w", name, err)
	}
	return call, nil
}

// Call invokes name and waits for its first response.
func (n *Interface) Call(ctx context.Context, name string, params any) (any, error) {
	call, err := n.Invoke(ctx, name, params)
	if err != nil {
		return nil, err
	}
	return call.Next(ctx)
}

// Close sends a close envelope after everything already queued and
// shuts the Interface down. Pending calls fail with ErrClosed. If the
// queue cannot drain within the close timeout the connection is torn
// down regardless. Close is idempotent. It must not be called from an
// OnResponseSent hook.
func (n *Interface) Close() error {
	if err := n.enqueue(closeEnvelope(), nil); err == nil {
		n.outMu.Lock()
		n.draining = true
		n.outReady.Broadcast()
		n.outMu.Unlock()
	}
	timer := n.clock.AfterFunc(n.closeWait, func() { n.shutdown(nil) })
	<-n.done
	timer.Stop()
	return nil
}

// Done is closed once the Interface has shut down.
func (n *Interface) Done() <-chan struct{} { return n.done }

// Err returns the error that ended the Interface: nil after Close or a
// peer's close envelope, the stream error otherwise. It returns nil
// while the Interface is running.
func (n *Interface) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Pending returns the number of calls awaiting responses.
func (n *Interface) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.awaiting)
}

// shutdown tears the Interface down once: the connection closes,
// pending calls fail, and handlers are discarded.
func (n *Interface) shutdown(cause error) {
	n.closeOnce.Do(func() {
		n.outMu.Lock()
		if n.draining {
			// Close was requested; whatever ended the stream first
			// is part of an orderly shutdown.
			cause = nil
		}
		n.outMu.Unlock()

		n.mu.Lock()
		n.closed = true
		n.err = cause
		for _, call := range n.awaiting {
			n.forget(call, ErrClosed)
		}
		clear(n.methods)
		cancel := n.cancel
		n.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		n.outMu.Lock()
		n.stopped = true
		n.outbox = nil
		n.outReady.Broadcast()
		n.outMu.Unlock()
		n.conn.Close()
		close(n.done)

		if cause != nil && !netutil.IsExpectedCloseError(cause) && !errors.Is(cause, context.Canceled) {
			n.logger.Warn("net interface failed", "error", cause)
		} else {
			n.logger.Debug("net interface closed")
		}
	})
}

func (n *Interface) trace(message string, envelope map[string]any) {
	if !n.logger.Enabled(context.Background(), LevelTrace) {
		return
	}
	n.logger.Log(context.Background(), LevelTrace, message,
		"action", envelope[keyAction],
		"call_id", envelope[keyID],
		"method", envelope[keyMethod],
	)
}

// receive reads envelopes until the stream ends.
func (n *Interface) receive(ctx context.Context) {
	var buffer []byte
	chunk := make([]byte, 32*1024)
	for {
		count, readErr := n.conn.Read(chunk)
		buffer = append(buffer, chunk[:count]...)

		for {
			body, size, err := nextEnvelope(buffer, n.maxSize)
			if err != nil {
				n.shutdown(err)
				return
			}
			if size == 0 {
				break
			}
			buffer = buffer[size:]
			if n.dispatch(ctx, body) {
				return
			}
		}
		if readErr != nil {
			n.shutdown(readErr)
			return
		}
	}
}

// dispatch handles one envelope body. It reports whether the
// Interface has shut down, either on a close envelope or because a
// handler closed it.
func (n *Interface) dispatch(ctx context.Context, body []byte) bool {
	decoded, err := n.serializer.Deserialize(body)
	if err != nil {
		n.logger.Warn("dropping undecodable envelope", "size", len(body), "error", err)
		return false
	}
	envelope, ok := decoded.(map[string]any)
	if !ok {
		n.logger.Warn("dropping envelope that is not a map", "type", fmt.Sprintf("%T", decoded))
		return false
	}
	n.trace("envelope in", envelope)

	action, _ := envelope[keyAction].(string)
	switch action {
	case actionInvoke:
		n.handleInvoke(ctx, envelope)
	case actionResponse:
		n.handleResponse(envelope)
	case actionClose:
		n.shutdown(nil)
		return true
	default:
		n.logger.Warn("dropping envelope with unknown action", "action", envelope[keyAction])
	}
	return n.isClosed()
}

func (n *Interface) handleInvoke(ctx context.Context, envelope map[string]any) {
	id, ok := codec.Int64(envelope[keyID])
	if !ok {
		n.logger.Warn("dropping invoke without a numeric id", "id", envelope[keyID])
		return
	}
	name, _ := envelope[keyMethod].(string)
	params := envelope[keyParams]

	n.mu.Lock()
	entry, bound := n.methods[name]
	n.mu.Unlock()
	if !bound {
		n.logger.Debug("invoke of unbound method", "method", name, "call_id", id)
		if err := n.enqueue(errorEnvelope(id, fmt.Sprintf("Unknown method '%s'", name)), nil); err != nil {
			n.logger.Debug("response not sent", "method", name, "call_id", id, "error", err)
		}
		return
	}
	if !entry.async {
		n.serve(ctx, id, name, entry.handler, params)
		return
	}
	go n.serve(ctx, id, name, entry.handler, params)
}

// serve runs a handler and writes its response.
func (n *Interface) serve(ctx context.Context, id int64, name string, handler Handler, params any) {
	hooks := &responseHooks{}
	ctx = context.WithValue(ctx, responseHooksKey{}, hooks)
	result, err := runHandler(ctx, handler, params)
	n.respond(id, name, result, err, hooks)
}

func runHandler(ctx context.Context, handler Handler, params any) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v\n%s", recovered, debug.Stack())
		}
	}()
	return handler(ctx, params)
}

func (n *Interface) respond(id int64, name string, result any, handlerErr error, hooks *responseHooks) {
	envelope := resultEnvelope(id, result)
	if handlerErr != nil {
		n.logger.Debug("method failed", "method", name, "call_id", id, "error", handlerErr)
		envelope = errorEnvelope(id, handlerErr.Error())
	}
	err := n.enqueue(envelope, hooks.run)
	if err == nil {
		return
	}
	// An unserializable result still owes the caller a response.
	if handlerErr == nil && !errors.Is(err, ErrClosed) {
		err = n.enqueue(errorEnvelope(id, err.Error()), nil)
	}
	if err != nil {
		n.logger.Debug("response not sent", "method", name, "call_id", id, "error", err)
	}
}

func (n *Interface) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func (n *Interface) handleResponse(envelope map[string]any) {
	id, ok := codec.Int64(envelope[keyID])
	if !ok {
		n.logger.Warn("dropping response without a numeric id", "id", envelope[keyID])
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	call, exists := n.awaiting[id]
	if !exists {
		n.logger.Log(context.Background(), LevelTrace, "response for unknown call", "call_id", id)
		return
	}

	var outcome response
	if result, has := envelope[keyResult]; has {
		outcome.result = result
	} else {
		message, has := envelope[keyError]
		if !has {
			message, has = envelope[keyErrorShort]
		}
		if !has {
			n.logger.Warn("dropping response with neither result nor error", "call_id", id)
			return
		}
		outcome.err = &RemoteError{Method: call.Method, Message: fmt.Sprint(message)}
	}
	call.deliver(outcome)
	call.timer.Reset(n.timeout)
}

// expire runs when a call has been idle for the response timeout.
// A call with a caller blocked in Next stays alive; that caller is
// bounded by its own context.
func (n *Interface) expire(call *Call) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.awaiting[call.ID] != call {
		return
	}
	if len(call.waiters) > 0 {
		call.timer.Reset(n.timeout)
		return
	}
	n.forget(call, ErrNotInvoked)
	n.logger.Debug("call evicted", "method", call.Method, "call_id", call.ID)
}

// forget drops call from the awaiting table and fails its waiters with
// reason. Callers hold n.mu.
func (n *Interface) forget(call *Call, reason error) {
	delete(n.awaiting, call.ID)
	call.timer.Stop()
	call.final = reason
	call.queue = nil
	for _, waiter := range call.waiters {
		waiter <- response{err: reason}
	}
	call.waiters = nil
}
