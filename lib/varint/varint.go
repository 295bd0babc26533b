// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package varint implements the variable-length unsigned integer
// encoding used for length fields in compressed frames.
//
// Each byte carries 7 bits of the value, least significant group
// first. Unlike LEB128, the high bit marks the LAST byte of an
// encoding rather than a continuation: 0 encodes as 0x80, 128 as
// 0x00 0x81. A decoder reads until it sees a byte with the high bit
// set; running out of input first means the encoding is incomplete
// and the caller should wait for more data.
package varint

import (
	"errors"
	"fmt"
)

// MaxLen is the longest encoding of a uint64.
const MaxLen = 10

const terminator = 0x80

// ErrIncomplete reports that the buffer ended before the terminating
// byte. It is not a corruption signal: the caller should buffer more
// input and retry.
var ErrIncomplete = errors.New("varint: incomplete encoding")

// ErrOverflow reports an encoding longer than any uint64 can need.
var ErrOverflow = errors.New("varint: value overflows 64 bits")

// Append appends the encoding of value to dst and returns the
// extended slice.
func Append(dst []byte, value uint64) []byte {
	for value >= terminator {
		dst = append(dst, byte(value&0x7f))
		value >>= 7
	}
	return append(dst, byte(value)|terminator)
}

// Encode returns the encoding of value.
func Encode(value uint64) []byte {
	return Append(make([]byte, 0, Len(value)), value)
}

// Len returns the number of bytes Encode(value) produces.
func Len(value uint64) int {
	length := 1
	for value >= terminator {
		value >>= 7
		length++
	}
	return length
}

// Decode reads one value from the front of buffer and returns it with
// the unconsumed remainder. Returns ErrIncomplete when buffer holds
// no terminating byte.
func Decode(buffer []byte) (uint64, []byte, error) {
	var value uint64
	for index, current := range buffer {
		if index >= MaxLen {
			return 0, buffer, ErrOverflow
		}
		group := uint64(current &^ terminator)
		if index == MaxLen-1 && group > 1 {
			return 0, buffer, fmt.Errorf("%w: final group %#x", ErrOverflow, group)
		}
		value |= group << (7 * index)
		if current&terminator != 0 {
			return value, buffer[index+1:], nil
		}
	}
	if len(buffer) >= MaxLen {
		return 0, buffer, ErrOverflow
	}
	return 0, buffer, ErrIncomplete
}
