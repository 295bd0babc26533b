// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secureconn frames a byte stream into signed, optionally
// encrypted frames and supports replacing the key mid-stream without
// reconnecting.
//
// # Frame format
//
//	type:u8 | length:u32le | signature:u32le | iv:[IVSize] | ciphertext:[length]
//
// A frame with an empty payload is exactly five bytes (type and a zero
// length); signature, IV, and ciphertext are omitted. Otherwise every
// frame carries a fresh random IV. The signature is the CRC-32 of the
// payload's own CRC-32 (four little-endian bytes) after encrypting
// those four bytes under the same key and IV. A frame therefore only
// verifies when the receiver holds the sender's key: tampering, a
// wrong key, and stream desynchronization all surface as
// [ErrIntegrity]. With no key the payload travels in plaintext and
// the signature is the CRC-32 of the unencrypted checksum bytes, so
// frames are still checked for corruption.
//
// Two frame types exist. [FrameData] carries application bytes.
// [FrameKeyChange] carries an account id (empty for "back to the
// default key"), signed and encrypted under the key in force BEFORE
// the change so the peer can still read it.
//
// # Key rotation
//
// [Conn.RotateKey] queues a KeyChange frame under the outgoing key and
// swaps to the new key as one transition, then flushes the queued
// frame. The frame always precedes any data written under the new key,
// even when the flush fails and is retried by a later Write.
//
// Receiving a KeyChange frame does NOT change keys. The connection
// invokes the listeners registered with [Conn.OnKeyChange]
// synchronously from Read, before decoding the next frame. A listener
// (the authenticator) decides whether to adopt a new key by calling
// [Conn.SetEncryptionKey]. A listener error is a protocol violation
// and poisons the connection.
//
// Keys are set per direction internally; SetEncryptionKey and
// RotateKey change both directions together, which is what the
// session layer needs.
package secureconn
