// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth authenticates an edlink session and drives the
// transport's key rotation.
//
// Both ends hold a [CredentialStorage] with the same accounts. A login
// runs:
//
//  1. The slave asks for a nonce; the master's [Master.InitiateLogin]
//     draws a random 32-bit one.
//  2. The slave's [Slave.Authenticate] derives the account key from
//     its password and the shared salt and returns [Token]: the nonce
//     encrypted under that key, base64-encoded.
//  3. The master's [Master.ContinueLogin] recomputes the token and
//     compares. On a match [Master.FinalizeLogin] rotates the
//     transport to the account key, announcing the account id in a
//     KeyChange frame.
//  4. The slave sees the KeyChange. If the id is the account it is
//     logging into, it adopts the account key. Any other id is
//     [ErrUnexpectedKeyChange] and fails the connection.
//
// A rejected login changes nothing: the previous account and key stay
// in effect on both ends once the slave calls [Slave.Abort].
//
// Logout rotates back to the transport's default key with an empty id.
// While logged in, both ends watch the account: a password change
// re-derives the key and installs it without a new handshake.
package auth
