// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the pluggable message serializers carried by
// the net interface, plus the shared CBOR configuration.
//
// Envelopes are dynamic values (nil, bool, integers, floats, strings,
// slices, string-keyed maps) rather than Go structs, because the
// remote editor's methods carry schema-free parameters. A [Serializer]
// turns one such value into bytes and back. Three ship:
//
//   - [Binary] -- the tagged binary format remote editors speak by
//     default. One tag byte per value; strings, arrays, and objects
//     carry a 4-byte little-endian count. Integers always travel as
//     8-byte two's complement little-endian, floats as 8-byte IEEE-754
//     little-endian.
//   - [JSON] -- UTF-8 JSON text.
//   - [CBOR] -- CBOR with Core Deterministic Encoding (RFC 8949 §4.2),
//     via the package-level [Marshal] and [Unmarshal].
//
// Decoded values use a fixed vocabulary: nil, bool, int64 (binary and
// CBOR) or float64 (JSON) for numbers, string, []any, and
// map[string]any. [Int64] normalizes any numeric representation so
// protocol code can read ids without caring which serializer produced
// them.
//
// [ByName] maps configuration names ("binary", "json", "cbor") to
// serializers.
package codec
