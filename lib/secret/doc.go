// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds account passwords and other credential material
// outside the Go heap.
//
// [Buffer] allocates its memory with mmap(MAP_ANONYMOUS), asks the
// kernel to lock it into RAM (mlock) and to leave it out of core dumps
// (MADV_DONTDUMP), and zeroes it on Close. The garbage collector never
// sees the region, so it is never copied or relocated.
//
// Locking is best effort: containers commonly run with a small
// RLIMIT_MEMLOCK, and a credential store holding many accounts would
// otherwise fail to start. When mlock is refused the buffer stays
// usable and [Buffer.Locked] reports false; callers that require
// locked memory check it.
//
// [ReadFile] loads a password from a file or stdin directly into a
// Buffer for the client binary's --password-file flag.
//
// Depends on golang.org/x/sys/unix. Imported by lib/auth for account
// passwords and lib/sealed for decrypted credential values.
package secret
