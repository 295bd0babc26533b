// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secureconn

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/edlink/lib/crypt"
)

// DefaultMaxFrameSize bounds the ciphertext of a single frame. Larger
// writes are split across frames.
const DefaultMaxFrameSize = 16 << 20

const readChunkSize = 32 << 10

// Encryption is the key-management surface the session layer uses.
// *Conn implements it.
type Encryption interface {
	// EncryptionKey returns the key currently used for outgoing
	// frames, or nil when running in plaintext.
	EncryptionKey() crypt.Key

	// DefaultKey returns the key the connection was created with.
	DefaultKey() crypt.Key

	// SetEncryptionKey replaces the key for both directions without
	// notifying the peer.
	SetEncryptionKey(key crypt.Key)

	// RotateKey announces id to the peer under the current key, then
	// switches both directions to key.
	RotateKey(key crypt.Key, id string) error

	// OnKeyChange registers a listener for KeyChange frames from the
	// peer and returns a function that removes it.
	OnKeyChange(listener KeyChangeListener) (unsubscribe func())
}

// KeyChangeListener receives the id carried by a KeyChange frame; the
// empty id means the peer reverted to its default key. Returning an
// error rejects the change and fails the connection.
type KeyChangeListener func(id string) error

// Config configures a Conn.
type Config struct {
	// Provider supplies the cipher. Required.
	Provider crypt.Provider

	// Key is the default key for both directions. Nil runs the
	// connection in plaintext until a key is set.
	Key crypt.Key

	// MaxFrameSize bounds one frame's ciphertext. Zero means
	// DefaultMaxFrameSize.
	MaxFrameSize int

	// Logger receives key rotation events. Nil means slog.Default().
	Logger *slog.Logger
}

// keyPhase is where the outgoing direction stands in a rotation.
type keyPhase int

const (
	// phaseDefault: running on the default key, nothing queued.
	phaseDefault keyPhase = iota
	// phaseRotating: KeyChange frame queued under the old key, the
	// new key already in force for anything written after it.
	phaseRotating
	// phaseActive: KeyChange frame on the wire, new key in force.
	phaseActive
)

// keyState is the outgoing key state machine. Transitions happen only
// under Conn.writeMu so a queued KeyChange frame and the key swap it
// announces are never observed separately.
type keyState struct {
	phase   keyPhase
	id      string
	pending [][]byte
}

// Conn wraps a byte stream with the frame format described in the
// package documentation. Read and Write may be called concurrently
// with each other; concurrent Reads (or concurrent Writes) serialize.
type Conn struct {
	raw        io.ReadWriteCloser
	provider   crypt.Provider
	maxFrame   int
	logger     *slog.Logger
	defaultKey crypt.Key

	keyMu    sync.Mutex
	readKey  crypt.Key
	writeKey crypt.Key

	// previousReadKey is the read key replaced by the last RotateKey.
	// The peer keeps writing under it until it has processed the
	// KeyChange frame, so frames that fail under readKey are retried
	// under it until the first frame arrives under readKey.
	previousReadKey crypt.Key
	acceptPrevious  bool

	writeMu sync.Mutex
	state   keyState

	readMu  sync.Mutex
	inbound []byte
	plain   []byte
	readErr error

	listenersMu  sync.Mutex
	listeners    map[uint64]KeyChangeListener
	nextListener uint64
}

var (
	_ io.ReadWriteCloser = (*Conn)(nil)
	_ Encryption         = (*Conn)(nil)
)

// New wraps raw. Writes through the returned Conn are framed; Reads
// return the payloads of data frames in order.
func New(raw io.ReadWriteCloser, config Config) *Conn {
	if config.Provider == nil {
		panic("secureconn: Config.Provider is required")
	}
	maxFrame := config.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		raw:        raw,
		provider:   config.Provider,
		maxFrame:   maxFrame,
		logger:     logger,
		defaultKey: config.Key,
		readKey:    config.Key,
		writeKey:   config.Key,
		listeners:  make(map[uint64]KeyChangeListener),
	}
}

// Write frames p, prefixed by any KeyChange frame still queued, and
// writes the result to the underlying stream in a single call.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if len(p) == 0 && len(c.state.pending) == 0 {
		return 0, nil
	}

	key := c.currentWriteKey()
	var output []byte
	for _, frame := range c.state.pending {
		output = append(output, frame...)
	}
	for offset := 0; offset < len(p); offset += c.maxPayload() {
		end := min(offset+c.maxPayload(), len(p))
		frame, err := EncodeFrame(c.provider, FrameData, p[offset:end], key)
		if err != nil {
			return 0, err
		}
		output = append(output, frame...)
	}

	if _, err := c.raw.Write(output); err != nil {
		return 0, err
	}
	c.markFlushed()
	return len(p), nil
}

// maxPayload leaves room for block padding inside maxFrame.
func (c *Conn) maxPayload() int {
	return c.maxFrame - c.provider.BlockSize()
}

// Flush writes any queued KeyChange frame without waiting for data.
func (c *Conn) Flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.flushLocked()
}

func (c *Conn) flushLocked() error {
	if len(c.state.pending) == 0 {
		return nil
	}
	var output []byte
	for _, frame := range c.state.pending {
		output = append(output, frame...)
	}
	if _, err := c.raw.Write(output); err != nil {
		return err
	}
	c.markFlushed()
	return nil
}

// markFlushed completes a rotation once its frame is on the wire.
// Caller holds writeMu.
func (c *Conn) markFlushed() {
	if c.state.phase != phaseRotating {
		return
	}
	c.state.pending = nil
	if c.state.id == "" {
		c.state.phase = phaseDefault
	} else {
		c.state.phase = phaseActive
	}
}

// RotateKey queues a KeyChange frame carrying id, encrypted under the
// current outgoing key, switches both directions to key, and flushes
// the frame. If the flush fails the frame stays queued ahead of the
// next Write and the error is returned; the key switch stands.
func (c *Conn) RotateKey(key crypt.Key, id string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	frame, err := EncodeFrame(c.provider, FrameKeyChange, []byte(id), c.currentWriteKey())
	if err != nil {
		return fmt.Errorf("encoding key change: %w", err)
	}

	c.keyMu.Lock()
	c.state.pending = append(c.state.pending, frame)
	c.state.phase = phaseRotating
	c.state.id = id
	c.previousReadKey = c.readKey
	c.acceptPrevious = true
	c.readKey = key
	c.writeKey = key
	c.keyMu.Unlock()

	c.logger.Debug("rotating transport key",
		"key_id", id,
		"fingerprint", key.Fingerprint(),
	)
	return c.flushLocked()
}

// SetEncryptionKey replaces the key for both directions. The peer is
// not notified; use this to adopt a key the peer announced.
func (c *Conn) SetEncryptionKey(key crypt.Key) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	c.readKey = key
	c.writeKey = key
	c.previousReadKey = nil
	c.acceptPrevious = false
	c.logger.Debug("transport key set", "fingerprint", key.Fingerprint())
}

// EncryptionKey returns the current outgoing key.
func (c *Conn) EncryptionKey() crypt.Key {
	return c.currentWriteKey()
}

// DefaultKey returns the key the connection was created with.
func (c *Conn) DefaultKey() crypt.Key {
	return c.defaultKey
}

func (c *Conn) currentWriteKey() crypt.Key {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	return c.writeKey
}

// readKeys returns the read key and, during a rotation grace window,
// the key it replaced.
func (c *Conn) readKeys() (current, previous crypt.Key, acceptPrevious bool) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	return c.readKey, c.previousReadKey, c.acceptPrevious
}

// endGrace stops accepting the previous read key once the peer has
// been seen writing under current.
func (c *Conn) endGrace(current crypt.Key) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.acceptPrevious && c.readKey.Equal(current) {
		c.previousReadKey = nil
		c.acceptPrevious = false
	}
}

// OnKeyChange registers listener. Listeners run on the reading
// goroutine, in registration order, and must not call Read.
func (c *Conn) OnKeyChange(listener KeyChangeListener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	handle := c.nextListener
	c.nextListener++
	c.listeners[handle] = listener
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.listeners, handle)
	}
}

func (c *Conn) notifyKeyChange(id string) error {
	c.listenersMu.Lock()
	handles := make([]uint64, 0, len(c.listeners))
	for handle := range c.listeners {
		handles = append(handles, handle)
	}
	c.listenersMu.Unlock()

	slices.Sort(handles)
	for _, handle := range handles {
		c.listenersMu.Lock()
		listener, ok := c.listeners[handle]
		c.listenersMu.Unlock()
		if !ok {
			continue
		}
		if err := listener(id); err != nil {
			return err
		}
	}
	return nil
}

// Read returns payload bytes from data frames. KeyChange frames are
// consumed here and dispatched to listeners before the next frame is
// decoded. Integrity and protocol errors are sticky.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.plain) == 0 {
		if c.readErr != nil {
			return 0, c.readErr
		}
		if err := c.decodeBuffered(); err != nil {
			c.readErr = err
			continue
		}
		if len(c.plain) > 0 {
			break
		}

		chunk := make([]byte, readChunkSize)
		n, err := c.raw.Read(chunk)
		c.inbound = append(c.inbound, chunk[:n]...)
		if err != nil {
			if decodeErr := c.decodeBuffered(); decodeErr != nil {
				err = decodeErr
			} else if errors.Is(err, io.EOF) && len(c.inbound) > 0 {
				err = io.ErrUnexpectedEOF
			}
			c.readErr = err
		}
	}

	n := copy(p, c.plain)
	c.plain = c.plain[n:]
	if len(c.plain) == 0 {
		c.plain = nil
	}
	return n, nil
}

// decodeBuffered decodes every complete frame in c.inbound. Caller
// holds readMu.
func (c *Conn) decodeBuffered() error {
	for len(c.inbound) > 0 {
		current, previous, acceptPrevious := c.readKeys()
		frame, consumed, err := DecodeFrame(c.provider, c.inbound, current, c.maxFrame)
		if errors.Is(err, ErrNeedMore) {
			return nil
		}
		usedPrevious := false
		if errors.Is(err, ErrIntegrity) && acceptPrevious {
			if late, lateConsumed, lateErr := DecodeFrame(c.provider, c.inbound, previous, c.maxFrame); lateErr == nil {
				frame, consumed, err = late, lateConsumed, nil
				usedPrevious = true
			}
		}
		if err != nil {
			return err
		}
		if !usedPrevious && acceptPrevious {
			c.endGrace(current)
		}
		c.inbound = c.inbound[consumed:]

		switch frame.Type {
		case FrameData:
			c.plain = append(c.plain, frame.Payload...)
		case FrameKeyChange:
			id := string(frame.Payload)
			c.logger.Debug("peer announced key change", "key_id", id)
			if err := c.notifyKeyChange(id); err != nil {
				return fmt.Errorf("%w: key change to %q rejected: %v", ErrProtocol, id, err)
			}
		}
	}
	c.inbound = nil
	return nil
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.raw.Close()
}
