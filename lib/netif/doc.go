// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netif correlates requests and responses over a framed byte
// stream.
//
// Each envelope on the wire is a little-endian uint32 length followed
// by that many bytes of serialized map. The "action" key selects one
// of three envelopes:
//
//	{action: "invoke",   id, method, params}
//	{action: "response", id, result} or {action: "response", id, error}
//	{action: "close"}
//
// [Interface.Invoke] sends an invoke envelope and returns a [Call]
// whose [Call.Next] yields each response carrying that id, in arrival
// order. A call may receive any number of responses. Call state is
// evicted once the peer has been silent on it for the response
// timeout; Next on an evicted call fails with [ErrNotInvoked].
//
// Inbound invokes dispatch to handlers registered with
// [Interface.BindMethod] and always produce exactly one response.
// Handlers run on the receive goroutine in wire order, so a handler
// must not wait for a response on the same Interface. Handlers that
// need to are registered with [Interface.BindAsyncMethod] instead,
// which runs each call on its own goroutine.
//
// Every envelope in and out is logged at [LevelTrace] when the logger
// is enabled for it.
package netif
