// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service runs method calls over a single pipe.
//
// A [Client] writes requests {id, method, params} to its pipe and
// matches replies {id, result} or {id, error} by id. A [Context] is
// the other end: it reads requests, dispatches them to bound methods,
// and writes the replies. [NewService] wraps a Context as a
// [localserver.Service], so a method set can be registered locally or
// published to a remote peer through netserver.
//
// Ids are per-client counters starting at 0. A request may receive
// more than one reply; [Result.Next] returns them in arrival order.
package service
