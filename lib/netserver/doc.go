// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netserver multiplexes pipes over one netif connection.
//
// A [Slave] is the connecting side: it opens pipes to services on the
// remote end ([Slave.Connect]), publishes local services to it
// ([Slave.Register]), and authenticates ([Slave.Authorize]). A [Master]
// is the accepting side: it serves a [localserver.Server] to any
// number of slaves and makes services bound by one slave reachable
// from the others.
//
// Pipes are identified on the wire by an integer assigned by the
// master. Traffic flows as netif invokes:
//
//	ping()                   -> "pong"
//	connect(service)         -> pipe id | false      (slave to master)
//	connect({service, pipe}) -> pipe id | false      (master to slave)
//	activate(pipe)                                   (slave to master)
//	send({pipe, data})       -> bool
//	close(pipe)
//	bind(name) / unbind(name) / bound(name) -> bool
//	auth-request(nil)        -> {nonce}
//	auth-response({id, result}) -> bool
//	auth-logout(nil)
//
// Pipes the master hands out stay frozen, holding outbound traffic,
// until the slave has installed its end and sends activate.
package netserver
