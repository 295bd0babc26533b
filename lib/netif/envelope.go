// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netif

import (
	"encoding/binary"
	"fmt"
)

// Envelope keys and actions.
const (
	keyAction = "action"
	keyID     = "id"
	keyMethod = "method"
	keyParams = "params"
	keyResult = "result"
	keyError  = "error"

	// keyErrorShort is the error key some peers emit. It is accepted
	// on input only.
	keyErrorShort = "err"

	actionInvoke   = "invoke"
	actionResponse = "response"
	actionClose    = "close"
)

// lengthSize is the size of the envelope length prefix.
const lengthSize = 4

// nextEnvelope returns the body of the first complete envelope in buf
// and the number of bytes it occupies including the prefix. A zero
// size means buf holds only part of an envelope.
func nextEnvelope(buf []byte, maxSize int) ([]byte, int, error) {
	if len(buf) < lengthSize {
		return nil, 0, nil
	}
	length := binary.LittleEndian.Uint32(buf)
	if uint64(length) > uint64(maxSize) {
		return nil, 0, fmt.Errorf("%w: envelope of %d bytes exceeds limit %d", ErrProtocol, length, maxSize)
	}
	total := lengthSize + int(length)
	if len(buf) < total {
		return nil, 0, nil
	}
	return buf[lengthSize:total], total, nil
}

// appendEnvelope appends the length prefix and body.
func appendEnvelope(dst, body []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...)
}

func invokeEnvelope(id int64, method string, params any) map[string]any {
	return map[string]any{
		keyAction: actionInvoke,
		keyID:     id,
		keyMethod: method,
		keyParams: params,
	}
}

func resultEnvelope(id int64, result any) map[string]any {
	return map[string]any{
		keyAction: actionResponse,
		keyID:     id,
		keyResult: result,
	}
}

func errorEnvelope(id int64, message string) map[string]any {
	return map[string]any{
		keyAction: actionResponse,
		keyID:     id,
		keyError:  message,
	}
}

func closeEnvelope() map[string]any {
	return map[string]any{keyAction: actionClose}
}
