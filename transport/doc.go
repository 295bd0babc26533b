// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport connects edlink sessions to the network.
//
// [Listener] and [Dialer] abstract how raw connections are obtained;
// [TCPListener] and [TCPDialer] are the implementations used by the
// binaries. A [Stack] wraps each raw connection in the byte-stream
// layers (encryption, then optional compression) and exposes the
// encryption layer's key-rotation surface for authentication.
//
// [Dial] produces a ready netserver.Slave; [Serve] runs a
// netserver.Master on a listener.
package transport
