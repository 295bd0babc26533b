// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the edlink binaries.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected with
// -ldflags -X, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/edlink/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Without injection the VCS stamp embedded by the go command is used
// when present.
package version
