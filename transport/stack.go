// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/bureau-foundation/edlink/lib/compressconn"
	"github.com/bureau-foundation/edlink/lib/config"
	"github.com/bureau-foundation/edlink/lib/crypt"
	"github.com/bureau-foundation/edlink/lib/netserver"
	"github.com/bureau-foundation/edlink/lib/secureconn"
)

// Stack describes the byte-stream layers between a socket and the
// envelope interface: encryption next to the socket, then optional
// compression.
type Stack struct {
	// Provider is the cipher. Required.
	Provider crypt.Provider

	// Key is the default key both ends derive from the shared
	// password. Nil starts the link in plaintext.
	Key crypt.Key

	// Algorithm enables compression when non-nil.
	Algorithm compressconn.Algorithm

	// MaxFrameSize bounds frames in both layers. Zero selects each
	// layer's default.
	MaxFrameSize int

	// Logger receives layer diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// StackFromConfig resolves the cipher, default key and compression
// named in cfg.
func StackFromConfig(cfg *config.Config, logger *slog.Logger) (Stack, error) {
	provider, err := cfg.Provider()
	if err != nil {
		return Stack{}, err
	}
	key, err := cfg.DefaultKey(provider)
	if err != nil {
		return Stack{}, fmt.Errorf("deriving default key: %w", err)
	}
	algorithm, err := cfg.Algorithm()
	if err != nil {
		return Stack{}, err
	}
	return Stack{
		Provider:  provider,
		Key:       key,
		Algorithm: algorithm,
		Logger:    logger,
	}, nil
}

// Wrap layers raw and returns the outermost stream together with the
// encryption layer's key-rotation surface.
func (s Stack) Wrap(raw io.ReadWriteCloser) (io.ReadWriteCloser, secureconn.Encryption) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secure := secureconn.New(raw, secureconn.Config{
		Provider:     s.Provider,
		Key:          s.Key,
		MaxFrameSize: s.MaxFrameSize,
		Logger:       logger,
	})
	if s.Algorithm == nil {
		return secure, secure
	}
	compressed := compressconn.New(secure, compressconn.Config{
		Algorithm:    s.Algorithm,
		MaxFrameSize: s.MaxFrameSize,
		Logger:       logger,
	})
	return compressed, secure
}

// Layers adapts Wrap for netserver.Master.Serve.
func (s Stack) Layers() netserver.Layers {
	return func(raw net.Conn) (io.ReadWriteCloser, secureconn.Encryption) {
		return s.Wrap(raw)
	}
}
