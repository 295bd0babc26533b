// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compressconn

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/edlink/lib/varint"
)

// ErrFraming reports a frame whose lengths are inconsistent with its
// contents. The stream cannot be resynchronized after one.
var ErrFraming = errors.New("compressconn: framing error")

// errNeedMore means the buffer ends mid-frame.
var errNeedMore = errors.New("compressconn: incomplete frame")

// EncodeFrame compresses payload with algorithm and returns the
// complete frame.
func EncodeFrame(algorithm Algorithm, payload []byte) ([]byte, error) {
	compressed, err := algorithm.Compress(payload)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 2*varint.MaxLen+len(compressed))
	frame = varint.Append(frame, uint64(len(payload)))
	frame = varint.Append(frame, uint64(len(compressed)))
	return append(frame, compressed...), nil
}

// CompressedBound is the largest compressed length accepted for a
// frame of at most rawLength payload bytes. Incompressible input
// grows slightly under zlib; the bound sits well above deflate's
// stored-block overhead.
func CompressedBound(rawLength int) int {
	return rawLength + rawLength/64 + 64
}

// DecodeFrame decodes the first frame in buf. It returns the payload
// and the number of bytes consumed. When buf holds only part of a
// frame the error wraps errNeedMore; any other error wraps
// ErrFraming. Frames claiming more than maxLength raw bytes, or more
// compressed bytes than CompressedBound(maxLength), are rejected
// before anything is allocated.
func DecodeFrame(algorithm Algorithm, buf []byte, maxLength int) ([]byte, int, error) {
	rawLength, rest, err := varint.Decode(buf)
	if err != nil {
		return nil, 0, lengthError("raw", err)
	}
	compressedLength, rest, err := varint.Decode(rest)
	if err != nil {
		return nil, 0, lengthError("compressed", err)
	}
	if rawLength > uint64(maxLength) || compressedLength > uint64(CompressedBound(maxLength)) {
		return nil, 0, fmt.Errorf("%w: frame lengths %d/%d exceed limit %d",
			ErrFraming, rawLength, compressedLength, maxLength)
	}
	if uint64(len(rest)) < compressedLength {
		return nil, 0, errNeedMore
	}
	headerLength := len(buf) - len(rest)
	body := rest[:compressedLength]

	payload, err := algorithm.Decompress(body, int(rawLength))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrFraming, err)
	}
	if uint64(len(payload)) != rawLength {
		return nil, 0, fmt.Errorf("%w: frame expanded to %d bytes, header says %d",
			ErrFraming, len(payload), rawLength)
	}
	return payload, headerLength + int(compressedLength), nil
}

func lengthError(which string, err error) error {
	if errors.Is(err, varint.ErrIncomplete) {
		return errNeedMore
	}
	return fmt.Errorf("%w: %s length: %v", ErrFraming, which, err)
}
