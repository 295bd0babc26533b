// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compressconn

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm compresses one frame's payload at a time. No state is
// shared between frames. Implementations must be safe for concurrent
// use.
type Algorithm interface {
	// Name is the configuration name ("zlib", "zstd", "lz4").
	Name() string

	// Compress returns the compressed form of src.
	Compress(src []byte) ([]byte, error)

	// Decompress expands src, which must have been produced by
	// Compress from exactly rawLength bytes.
	Decompress(src []byte, rawLength int) ([]byte, error)
}

// Algorithm names accepted by AlgorithmByName.
const (
	NameZlib = "zlib"
	NameZstd = "zstd"
	NameLZ4  = "lz4"
)

// AlgorithmByName returns the algorithm registered under name. The
// empty name selects zlib, the format remote editors expect.
func AlgorithmByName(name string) (Algorithm, error) {
	switch name {
	case "", NameZlib:
		return Zlib{}, nil
	case NameZstd:
		return Zstd{}, nil
	case NameLZ4:
		return LZ4{}, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", name)
	}
}

// Zlib is RFC 1950 zlib-wrapped deflate at the default level.
type Zlib struct{}

func (Zlib) Name() string { return NameZlib }

func (Zlib) Compress(src []byte) ([]byte, error) {
	var output bytes.Buffer
	writer := zlib.NewWriter(&output)
	if _, err := writer.Write(src); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	return output.Bytes(), nil
}

func (Zlib) Decompress(src []byte, rawLength int) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	defer reader.Close()
	// Read one byte past the expected length so an oversized stream
	// is caught without inflating it fully.
	output, err := io.ReadAll(io.LimitReader(reader, int64(rawLength)+1))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return output, nil
}

// Zstd and LZ4 fall back to storing a payload verbatim when
// compression would not shrink it. A stored payload is recognizable
// because its compressed length equals its raw length, which a real
// compressed payload never does.

// zstdEncoder and zstdDecoder are safe for concurrent use and costly
// to build, so one of each serves every connection.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compressconn: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compressconn: zstd decoder initialization failed: " + err.Error())
	}
}

// Zstd is zstd at the default level.
type Zstd struct{}

func (Zstd) Name() string { return NameZstd }

func (Zstd) Compress(src []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(src, nil)
	if len(compressed) >= len(src) {
		return append([]byte(nil), src...), nil
	}
	return compressed, nil
}

func (Zstd) Decompress(src []byte, rawLength int) ([]byte, error) {
	if len(src) == rawLength {
		return append([]byte(nil), src...), nil
	}
	output, err := zstdDecoder.DecodeAll(src, make([]byte, 0, rawLength))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return output, nil
}

// LZ4 is LZ4 block compression.
type LZ4 struct{}

func (LZ4) Name() string { return NameLZ4 }

func (LZ4) Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	destination := make([]byte, lz4.CompressBlockBound(len(src)))
	written, err := lz4.CompressBlock(src, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(src) {
		return append([]byte(nil), src...), nil
	}
	return destination[:written], nil
}

func (LZ4) Decompress(src []byte, rawLength int) ([]byte, error) {
	if len(src) == rawLength {
		return append([]byte(nil), src...), nil
	}
	destination := make([]byte, rawLength)
	read, err := lz4.UncompressBlock(src, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return destination[:read], nil
}
