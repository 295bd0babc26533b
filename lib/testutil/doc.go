// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by edlink's tests.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout pattern so a wedged channel fails the test
// instead of hanging it. They are the only place tests wait on the
// wall clock; protocol timeouts are driven through a fake clock.
//
// [ConnPair] returns both ends of a synchronous in-memory connection
// that is closed when the test ends.
package testutil
