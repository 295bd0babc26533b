// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
)

// Listener accepts inbound connections for a master.
type Listener interface {
	net.Listener

	// Address returns the listening address in the form a Dialer
	// accepts.
	Address() string
}

// Dialer opens outbound connections for a slave.
type Dialer interface {
	// DialContext connects to address, which has the form Listener's
	// Address returns.
	DialContext(ctx context.Context, address string) (net.Conn, error)
}
