// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compressconn

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// DefaultMaxFrameSize bounds the payload length of a frame.
const DefaultMaxFrameSize = 16 << 20

// Config holds the options for New.
type Config struct {
	// Algorithm compresses outbound frames and expands inbound ones.
	// Nil selects Zlib.
	Algorithm Algorithm

	// MaxFrameSize caps the raw length of an inbound frame and splits
	// outbound writes larger than it. The compressed length may exceed
	// it by CompressedBound's margin. Zero selects DefaultMaxFrameSize.
	MaxFrameSize int

	// Logger receives framing diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Conn is a compressing io.ReadWriteCloser over another one. Reads
// and writes may proceed concurrently with each other; concurrent
// writes are serialized and each produces whole frames.
type Conn struct {
	raw       io.ReadWriteCloser
	algorithm Algorithm
	maxFrame  int
	logger    *slog.Logger

	writeMu sync.Mutex

	readMu  sync.Mutex
	inbound []byte
	plain   []byte
	readErr error
}

// New wraps raw. The returned Conn owns raw and closes it on Close.
func New(raw io.ReadWriteCloser, config Config) *Conn {
	algorithm := config.Algorithm
	if algorithm == nil {
		algorithm = Zlib{}
	}
	maxFrame := config.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Conn{
		raw:       raw,
		algorithm: algorithm,
		maxFrame:  maxFrame,
		logger:    logger,
	}
}

// Algorithm returns the algorithm in use.
func (c *Conn) Algorithm() Algorithm { return c.algorithm }

// Write compresses data into one frame, or several if data is longer
// than the frame limit, and writes them to the underlying stream in
// a single call.
func (c *Conn) Write(data []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var output []byte
	for offset := 0; ; {
		end := min(offset+c.maxFrame, len(data))
		frame, err := EncodeFrame(c.algorithm, data[offset:end])
		if err != nil {
			return 0, err
		}
		output = append(output, frame...)
		offset = end
		if end == len(data) {
			break
		}
	}
	if _, err := c.raw.Write(output); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Read returns decompressed payload bytes. Payload boundaries are not
// preserved: a caller that needs message framing must add its own.
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

		chunk := make([]byte, 32*1024)
		n, err := c.raw.Read(chunk)
		c.inbound = append(c.inbound, chunk[:n]...)
		if err != nil {
			if decodeErr := c.decodeBuffered(); decodeErr != nil {
				c.readErr = decodeErr
				continue
			}
			if errors.Is(err, io.EOF) && len(c.inbound) > 0 {
				err = fmt.Errorf("%w: stream ended inside a frame", io.ErrUnexpectedEOF)
			}
			c.readErr = err
		}
	}

	n := copy(p, c.plain)
	c.plain = c.plain[n:]
	return n, nil
}

// decodeBuffered decodes every complete frame in c.inbound.
func (c *Conn) decodeBuffered() error {
	for len(c.inbound) > 0 {
		payload, consumed, err := DecodeFrame(c.algorithm, c.inbound, c.maxFrame)
		if errors.Is(err, errNeedMore) {
			return nil
		}
		if err != nil {
			c.logger.Warn("dropping compressed connection",
				"algorithm", c.algorithm.Name(),
				"error", err,
			)
			return err
		}
		c.plain = append(c.plain, payload...)
		c.inbound = c.inbound[consumed:]
	}
	return nil
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.raw.Close()
}
