// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secureconn

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bureau-foundation/edlink/lib/checksum"
	"github.com/bureau-foundation/edlink/lib/crypt"
)

// FrameType distinguishes data frames from key change notices.
type FrameType uint8

const (
	FrameData      FrameType = 0
	FrameKeyChange FrameType = 1
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "data"
	case FrameKeyChange:
		return "key-change"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

const (
	// shortHeaderSize is the size of an empty frame: type and length.
	shortHeaderSize = 5
	// headerSize adds the signature; the IV follows.
	headerSize = 9
)

var (
	// ErrIntegrity reports a frame whose signature does not verify
	// under the receive key. Fatal to the connection.
	ErrIntegrity = errors.New("secureconn: frame integrity check failed")

	// ErrProtocol reports a structurally invalid frame or an
	// unacceptable key change. Fatal to the connection.
	ErrProtocol = errors.New("secureconn: protocol violation")

	// ErrNeedMore reports that the buffer holds only part of a frame.
	ErrNeedMore = errors.New("secureconn: incomplete frame")
)

// Frame is one decoded frame.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// EncodeFrame signs and, when key is non-nil, encrypts payload.
func EncodeFrame(provider crypt.Provider, frameType FrameType, payload []byte, key crypt.Key) ([]byte, error) {
	if len(payload) == 0 {
		return []byte{byte(frameType), 0, 0, 0, 0}, nil
	}

	iv, err := provider.RandomBytes(provider.IVSize())
	if err != nil {
		return nil, err
	}
	body := payload
	if key != nil {
		if body, err = provider.Encrypt(payload, key, iv); err != nil {
			return nil, fmt.Errorf("encrypting frame: %w", err)
		}
	}
	signature, err := sign(provider, checksum.Calculate(payload), key, iv)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, headerSize, headerSize+len(iv)+len(body))
	frame[0] = byte(frameType)
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(body)))
	binary.LittleEndian.PutUint32(frame[5:9], signature)
	frame = append(frame, iv...)
	return append(frame, body...), nil
}

// DecodeFrame parses one frame from the front of buffer and returns it
// with the number of bytes consumed. Returns ErrNeedMore when buffer
// holds less than a whole frame. A ciphertext longer than maxLength
// (when positive) is rejected as a protocol violation before it is
// buffered in full.
func DecodeFrame(provider crypt.Provider, buffer []byte, key crypt.Key, maxLength int) (Frame, int, error) {
	if len(buffer) < shortHeaderSize {
		return Frame{}, 0, ErrNeedMore
	}
	frameType := FrameType(buffer[0])
	if frameType > FrameKeyChange {
		return Frame{}, 0, fmt.Errorf("%w: invalid frame type %d", ErrProtocol, buffer[0])
	}
	length := binary.LittleEndian.Uint32(buffer[1:5])
	if length == 0 {
		return Frame{Type: frameType}, shortHeaderSize, nil
	}
	if maxLength > 0 && uint64(length) > uint64(maxLength) {
		return Frame{}, 0, fmt.Errorf("%w: frame of %d bytes exceeds limit %d", ErrProtocol, length, maxLength)
	}

	ivSize := provider.IVSize()
	total := headerSize + ivSize + int(length)
	if len(buffer) < total {
		return Frame{}, 0, ErrNeedMore
	}
	signature := binary.LittleEndian.Uint32(buffer[5:9])
	iv := buffer[headerSize : headerSize+ivSize]
	body := buffer[headerSize+ivSize : total]

	var payload []byte
	if key != nil {
		decrypted, err := provider.Decrypt(body, key, iv)
		if err != nil {
			return Frame{}, 0, fmt.Errorf("%w: %v", ErrIntegrity, err)
		}
		payload = decrypted
	} else {
		payload = append([]byte(nil), body...)
	}

	expected, err := sign(provider, checksum.Calculate(payload), key, iv)
	if err != nil {
		return Frame{}, 0, err
	}
	if expected != signature {
		return Frame{}, 0, fmt.Errorf("%w: signature %#08x, computed %#08x", ErrIntegrity, signature, expected)
	}
	return Frame{Type: frameType, Payload: payload}, total, nil
}

// sign encrypts the little-endian checksum under key and iv (when key
// is set) and returns the CRC-32 of the result.
func sign(provider crypt.Provider, sum uint32, key crypt.Key, iv []byte) (uint32, error) {
	buffer := binary.LittleEndian.AppendUint32(make([]byte, 0, checksum.Size), sum)
	if key != nil {
		encrypted, err := provider.Encrypt(buffer, key, iv)
		if err != nil {
			return 0, fmt.Errorf("signing frame: %w", err)
		}
		buffer = encrypted
	}
	return checksum.Calculate(buffer), nil
}
