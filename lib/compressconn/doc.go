// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compressconn compresses a duplex byte stream one write at a
// time.
//
// Every Write becomes one self-contained frame:
//
//	rawLength (varint) | compressedLength (varint) | compressed bytes
//
// No dictionary or window carries over between frames, so a frame can
// be decoded with no knowledge of the ones before it. The reading side
// buffers partial frames across reads and decodes every complete frame
// in a chunk, so frames may be split or coalesced freely by the
// transport underneath. A frame that does not expand to exactly
// rawLength bytes is a fatal [ErrFraming] and poisons the connection.
package compressconn
