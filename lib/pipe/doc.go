// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipe implements the in-process message channel that edlink
// multiplexes over a network link.
//
// [New] returns the two ends of a pipe. A value written to one end is
// read from the other, in order. Both ends share a single open flag:
// closing either end closes the pipe for both, and writes fail with
// [ErrClosed] from then on. Values already queued stay readable after
// close, so a reader drains everything the writer managed to send
// before it sees [ErrClosed].
//
// Readers either block in [Pipe.Read], which is context-aware and
// serves concurrent readers in FIFO order, or install a listener with
// [Pipe.Listen] and drain with [Pipe.TryRead]. Listener notifications
// are level-triggered and coalesced: one call per write and one when
// the pipe closes, with no backlog. A listener must therefore drain
// until TryRead reports nothing left and then check IsOpen:
//
//	unsubscribe := p.Listen(func() {
//		for {
//			message, ok := p.TryRead()
//			if !ok {
//				break
//			}
//			forward(message)
//		}
//		if !p.IsOpen() {
//			cleanup()
//		}
//	})
//
// Listeners run on the goroutine that wrote or closed, outside the
// pipe's lock. They must not block.
package pipe
