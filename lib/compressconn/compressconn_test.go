// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compressconn

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/bureau-foundation/edlink/lib/varint"
)

// stream is an in-memory io.ReadWriteCloser. Reads drain whatever has
// been written so far and return io.EOF when it is empty.
type stream struct {
	bytes.Buffer
}

func (s *stream) Close() error { return nil }

// trickle hands out at most one byte per Read.
type trickle struct {
	data []byte
}

func (t *trickle) Read(p []byte) (int, error) {
	if len(t.data) == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = t.data[0]
	t.data = t.data[1:]
	return 1, nil
}

func (t *trickle) Write(p []byte) (int, error) { return len(p), nil }
func (t *trickle) Close() error                { return nil }

func algorithms() []Algorithm {
	return []Algorithm{Zlib{}, Zstd{}, LZ4{}}
}

func TestFrameRoundTrip(t *testing.T) {
	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}
	payloads := map[string][]byte{
		"empty":        {},
		"short":        []byte("hello"),
		"repetitive":   []byte(strings.Repeat("edlink ", 2000)),
		"random":       random,
	}

	for _, algorithm := range algorithms() {
		for name, payload := range payloads {
			t.Run(algorithm.Name()+"/"+name, func(t *testing.T) {
				frame, err := EncodeFrame(algorithm, payload)
				if err != nil {
					t.Fatalf("EncodeFrame: %v", err)
				}
				decoded, consumed, err := DecodeFrame(algorithm, frame, DefaultMaxFrameSize)
				if err != nil {
					t.Fatalf("DecodeFrame: %v", err)
				}
				if consumed != len(frame) {
					t.Errorf("consumed %d of %d bytes", consumed, len(frame))
				}
				if !bytes.Equal(decoded, payload) {
					t.Errorf("payload mismatch: got %d bytes, want %d", len(decoded), len(payload))
				}
			})
		}
	}
}

func TestFrameHeader(t *testing.T) {
	payload := []byte(strings.Repeat("a", 300))
	frame, err := EncodeFrame(Zlib{}, payload)
	if err != nil {
		t.Fatal(err)
	}

	rawLength, rest, err := varint.Decode(frame)
	if err != nil {
		t.Fatalf("raw length: %v", err)
	}
	if rawLength != 300 {
		t.Errorf("raw length = %d, want 300", rawLength)
	}
	compressedLength, rest, err := varint.Decode(rest)
	if err != nil {
		t.Fatalf("compressed length: %v", err)
	}
	if int(compressedLength) != len(rest) {
		t.Errorf("compressed length = %d, body is %d bytes", compressedLength, len(rest))
	}
	// zlib stream header: CMF 0x78 (deflate, 32K window).
	if rest[0] != 0x78 {
		t.Errorf("zlib CMF byte = %#x, want 0x78", rest[0])
	}
}

func TestIncompressibleStoredVerbatim(t *testing.T) {
	random := make([]byte, 512)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}
	for _, algorithm := range []Algorithm{Zstd{}, LZ4{}} {
		compressed, err := algorithm.Compress(random)
		if err != nil {
			t.Fatalf("%s: %v", algorithm.Name(), err)
		}
		if !bytes.Equal(compressed, random) {
			t.Errorf("%s: incompressible payload was not stored verbatim", algorithm.Name())
		}
	}
}

func TestLengthMismatchIsFramingError(t *testing.T) {
	for _, algorithm := range algorithms() {
		t.Run(algorithm.Name(), func(t *testing.T) {
			payload := []byte(strings.Repeat("mismatch ", 100))
			compressed, err := algorithm.Compress(payload)
			if err != nil {
				t.Fatal(err)
			}
			// Claim one byte fewer than the payload really has.
			var frame []byte
			frame = varint.Append(frame, uint64(len(payload)-1))
			frame = varint.Append(frame, uint64(len(compressed)))
			frame = append(frame, compressed...)

			_, _, err = DecodeFrame(algorithm, frame, DefaultMaxFrameSize)
			if !errors.Is(err, ErrFraming) {
				t.Fatalf("DecodeFrame error = %v, want ErrFraming", err)
			}
		})
	}
}

func TestCorruptBodyIsFramingError(t *testing.T) {
	var frame []byte
	frame = varint.Append(frame, 10)
	frame = varint.Append(frame, 4)
	frame = append(frame, 0xde, 0xad, 0xbe, 0xef)

	_, _, err := DecodeFrame(Zlib{}, frame, DefaultMaxFrameSize)
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("DecodeFrame error = %v, want ErrFraming", err)
	}
}

func TestOversizedFrameRejected(t *testing.T) {
	var frame []byte
	frame = varint.Append(frame, 1<<30)
	frame = varint.Append(frame, 8)

	_, _, err := DecodeFrame(Zlib{}, frame, 1024)
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("DecodeFrame error = %v, want ErrFraming", err)
	}
}

func TestPartialFrameNeedsMore(t *testing.T) {
	frame, err := EncodeFrame(Zlib{}, []byte("partial frame payload"))
	if err != nil {
		t.Fatal(err)
	}
	for cut := 0; cut < len(frame); cut++ {
		_, _, err := DecodeFrame(Zlib{}, frame[:cut], DefaultMaxFrameSize)
		if !errors.Is(err, errNeedMore) {
			t.Fatalf("cut at %d: error = %v, want errNeedMore", cut, err)
		}
	}
}

func TestConnRoundTrip(t *testing.T) {
	for _, algorithm := range algorithms() {
		t.Run(algorithm.Name(), func(t *testing.T) {
			wire := &stream{}
			sender := New(wire, Config{Algorithm: algorithm})
			receiver := New(wire, Config{Algorithm: algorithm})

			messages := []string{"first", strings.Repeat("second ", 500), "", "fourth"}
			var want string
			for _, message := range messages {
				if _, err := sender.Write([]byte(message)); err != nil {
					t.Fatalf("Write: %v", err)
				}
				want += message
			}

			got, err := io.ReadAll(receiver)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(got) != want {
				t.Errorf("received %d bytes, want %d", len(got), len(want))
			}
		})
	}
}

func TestConnSplitFrames(t *testing.T) {
	var wire []byte
	for _, message := range []string{"alpha", "beta", strings.Repeat("gamma", 64)} {
		frame, err := EncodeFrame(Zlib{}, []byte(message))
		if err != nil {
			t.Fatal(err)
		}
		wire = append(wire, frame...)
	}

	receiver := New(&trickle{data: wire}, Config{})
	got, err := io.ReadAll(receiver)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if want := "alphabeta" + strings.Repeat("gamma", 64); string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestConnLargeWriteSplits(t *testing.T) {
	wire := &stream{}
	sender := New(wire, Config{MaxFrameSize: 1024})
	receiver := New(wire, Config{MaxFrameSize: 1024})

	payload := bytes.Repeat([]byte("0123456789"), 500)
	if _, err := sender.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := io.ReadAll(receiver)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("received %d bytes, want %d", len(got), len(payload))
	}
}

func TestConnIncompressibleFullFrames(t *testing.T) {
	random := make([]byte, 4*1024)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}
	for _, algorithm := range algorithms() {
		t.Run(algorithm.Name(), func(t *testing.T) {
			wire := &stream{}
			config := Config{Algorithm: algorithm, MaxFrameSize: 1024}
			sender := New(wire, config)
			receiver := New(wire, config)

			if _, err := sender.Write(random); err != nil {
				t.Fatalf("Write: %v", err)
			}
			got, err := io.ReadAll(receiver)
			if err != nil {
				t.Fatalf("ReadAll after %d of %d bytes: %v", len(got), len(random), err)
			}
			if !bytes.Equal(got, random) {
				t.Errorf("received %d bytes, want %d", len(got), len(random))
			}
		})
	}
}

func TestCompressedBoundCoversExpansion(t *testing.T) {
	random := make([]byte, 64*1024)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}
	for _, algorithm := range algorithms() {
		compressed, err := algorithm.Compress(random)
		if err != nil {
			t.Fatalf("%s: %v", algorithm.Name(), err)
		}
		if len(compressed) > CompressedBound(len(random)) {
			t.Errorf("%s: %d compressed bytes exceed bound %d",
				algorithm.Name(), len(compressed), CompressedBound(len(random)))
		}
	}
}

func TestConnTruncatedStream(t *testing.T) {
	frame, err := EncodeFrame(Zlib{}, []byte("cut short"))
	if err != nil {
		t.Fatal(err)
	}
	wire := &stream{}
	wire.Write(frame[:len(frame)-2])

	receiver := New(wire, Config{})
	_, err = io.ReadAll(receiver)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("ReadAll error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestConnFramingErrorIsSticky(t *testing.T) {
	var frame []byte
	frame = varint.Append(frame, 3)
	frame = varint.Append(frame, 2)
	frame = append(frame, 0x00, 0x01)

	wire := &stream{}
	wire.Write(frame)
	receiver := New(wire, Config{})

	buf := make([]byte, 16)
	if _, err := receiver.Read(buf); !errors.Is(err, ErrFraming) {
		t.Fatalf("first Read error = %v, want ErrFraming", err)
	}
	good, err := EncodeFrame(Zlib{}, []byte("late"))
	if err != nil {
		t.Fatal(err)
	}
	wire.Write(good)
	if _, err := receiver.Read(buf); !errors.Is(err, ErrFraming) {
		t.Fatalf("second Read error = %v, want ErrFraming", err)
	}
}

func TestAlgorithmByName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"", NameZlib},
		{"zlib", NameZlib},
		{"zstd", NameZstd},
		{"lz4", NameLZ4},
	}
	for _, test := range tests {
		algorithm, err := AlgorithmByName(test.name)
		if err != nil {
			t.Fatalf("AlgorithmByName(%q): %v", test.name, err)
		}
		if algorithm.Name() != test.want {
			t.Errorf("AlgorithmByName(%q) = %s, want %s", test.name, algorithm.Name(), test.want)
		}
	}
	if _, err := AlgorithmByName("brotli"); err == nil {
		t.Error("AlgorithmByName(brotli) succeeded")
	}
}
