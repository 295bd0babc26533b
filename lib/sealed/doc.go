// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts and decrypts configuration secrets with age.
//
// Account passwords in a slave's configuration may be stored sealed
// (password_sealed) rather than in plaintext. A sealed value is the
// base64 form of an age ciphertext addressed to one or more x25519
// recipients. The slave holds the matching identity in a key file and
// unseals each password into a secret.Buffer at startup, so the
// plaintext never lives on the Go heap longer than the age reader
// needs it.
//
// Key exports:
//
//   - [Encrypt] -- seal a value to age recipients
//   - [Decrypt] -- unseal into a secret.Buffer
//   - [ReadKeyFile] -- load the identity from an age-keygen file
//   - [GenerateKeypair] -- fresh x25519 keypair for tests and tooling
package sealed
