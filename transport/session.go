// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/edlink/lib/netserver"
)

// Dial connects to a master at address and starts a slave session
// over stack. The Encryption field of config is filled in from the
// stack. The session ends when ctx is cancelled, the slave is closed,
// or the master goes away.
func Dial(ctx context.Context, dialer Dialer, address string, stack Stack, config netserver.SlaveConfig) (*netserver.Slave, error) {
	raw, err := dialer.DialContext(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	conn, encryption := stack.Wrap(raw)
	config.Encryption = encryption
	if config.Provider == nil {
		config.Provider = stack.Provider
	}
	return netserver.NewSlave(ctx, conn, config), nil
}

// Serve runs master on listener, wrapping every accepted connection in
// stack, until ctx is cancelled or the listener fails.
func Serve(ctx context.Context, listener Listener, stack Stack, master *netserver.Master) error {
	return master.Serve(ctx, listener, stack.Layers())
}
