// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package checksum computes the CRC-32 that signs every frame of the
// encrypted transport. The algorithm is the IEEE 802.3 variant
// (reflected polynomial 0xEDB88320, initial value 0xFFFFFFFF, final
// complement), so checksums interoperate with any other CRC-32/IEEE
// implementation.
package checksum

import (
	"encoding/binary"
	"hash/crc32"
)

// Size is the width of a checksum on the wire, in bytes.
const Size = 4

// Calculate returns the CRC-32/IEEE checksum of data. The empty input
// has checksum 0.
func Calculate(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Bytes returns the little-endian wire encoding of Calculate(data).
func Bytes(data []byte) []byte {
	return binary.LittleEndian.AppendUint32(make([]byte, 0, Size), Calculate(data))
}
