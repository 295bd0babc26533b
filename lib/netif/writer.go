// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netif

import "fmt"

// outgoing is one framed envelope waiting to be written. after runs
// once the frame has been written.
type outgoing struct {
	frame []byte
	after func()
}

// enqueue serializes envelope and queues it for the send goroutine.
// Serialization and size errors are returned immediately; write
// errors end the Interface.
func (n *Interface) enqueue(envelope map[string]any, after func()) error {
	body, err := n.serializer.Serialize(envelope)
	if err != nil {
		return fmt.Errorf("serializing %s envelope: %w", envelope[keyAction], err)
	}
	if len(body) > n.maxSize {
		return fmt.Errorf("%s envelope of %d bytes exceeds limit %d", envelope[keyAction], len(body), n.maxSize)
	}
	frame := appendEnvelope(make([]byte, 0, lengthSize+len(body)), body)

	n.outMu.Lock()
	defer n.outMu.Unlock()
	if n.stopped || n.draining {
		return ErrClosed
	}
	n.trace("envelope out", envelope)
	n.outbox = append(n.outbox, outgoing{frame: frame, after: after})
	n.outReady.Signal()
	return nil
}

// send writes queued frames in order. Consecutive frames without an
// after hook are coalesced into one write, so a hook always runs
// before any later frame reaches the connection.
func (n *Interface) send() {
	for {
		n.outMu.Lock()
		for len(n.outbox) == 0 && !n.draining && !n.stopped {
			n.outReady.Wait()
		}
		if n.stopped {
			n.outMu.Unlock()
			return
		}
		batch := n.outbox
		n.outbox = nil
		draining := n.draining
		n.outMu.Unlock()

		if len(batch) == 0 && draining {
			n.shutdown(nil)
			return
		}

		var pending []byte
		for _, item := range batch {
			pending = append(pending, item.frame...)
			if item.after == nil {
				continue
			}
			if !n.flush(pending, draining) {
				return
			}
			pending = pending[:0]
			item.after()
		}
		if len(pending) > 0 && !n.flush(pending, draining) {
			return
		}
	}
}

// flush writes data and reports whether the Interface is still usable.
// A write failure while draining is an ordinary end of a Close.
func (n *Interface) flush(data []byte, draining bool) bool {
	if _, err := n.conn.Write(data); err != nil {
		if draining {
			err = nil
		}
		n.shutdown(err)
		return false
	}
	return true
}
