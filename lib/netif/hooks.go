// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netif

import (
	"context"
	"sync"
)

type responseHooksKey struct{}

type responseHooks struct {
	mu    sync.Mutex
	funcs []func()
}

func (h *responseHooks) add(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.funcs = append(h.funcs, fn)
}

func (h *responseHooks) run() {
	h.mu.Lock()
	funcs := h.funcs
	h.funcs = nil
	h.mu.Unlock()
	for _, fn := range funcs {
		fn()
	}
}

// OnResponseSent arranges for fn to run after the response to the
// invoke being handled by ctx has been written. A handler uses it for
// effects the peer must observe after the response, such as switching
// the connection's encryption key. It reports false, and does nothing,
// when ctx does not belong to a handler. fn does not run if the
// response could not be written.
func OnResponseSent(ctx context.Context, fn func()) bool {
	hooks, ok := ctx.Value(responseHooksKey{}).(*responseHooks)
	if !ok {
		return false
	}
	hooks.add(fn)
	return true
}
