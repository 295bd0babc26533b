// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by the edlink
// binaries: reporting an error from run() before or instead of the
// structured logger, and turning SIGINT/SIGTERM into context
// cancellation.
package process
