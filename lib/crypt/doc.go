// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package crypt defines the cipher capability surface the transport
// stack is built on, and the concrete providers that implement it.
//
// A [Provider] bundles five operations: password-based key
// derivation, encryption and decryption under a key and IV, the
// cipher's block and IV sizes, and random byte generation. The
// encrypted transport and the authenticators depend only on this
// interface, so swapping ciphers never touches framing or session
// code.
//
// Two providers ship:
//
//   - [AESCBC] -- AES-256 in CBC mode with PKCS#7 padding and a
//     scrypt key derivation. This is the default and the format
//     remote editor builds speak.
//   - [XChaCha20] -- the XChaCha20 stream cipher with the same scrypt
//     derivation. Block size 1, 24-byte IVs, no padding.
//
// Neither provider authenticates ciphertext on its own. Integrity is
// the transport's job: every frame carries a checksum signature that
// only verifies under the right key and IV.
//
// Key derivation is CPU- and memory-heavy by design (scrypt with
// N=32768). Tests construct providers with a smaller [ScryptParams]
// to stay fast.
package crypt
