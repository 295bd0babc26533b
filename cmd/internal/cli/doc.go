// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli holds what the edlink binaries share: the common flag
// set, logger construction and the interactive password prompt.
package cli
