// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/json"
	"fmt"
	"math"
)

// Serializer converts dynamic message values to bytes and back.
// Implementations must be safe for concurrent use.
type Serializer interface {
	Serialize(value any) ([]byte, error)
	Deserialize(data []byte) (any, error)
}

// Serializer names accepted by ByName.
const (
	NameBinary = "binary"
	NameJSON   = "json"
	NameCBOR   = "cbor"
)

// ByName returns the serializer registered under name. The empty name
// selects the binary serializer.
func ByName(name string) (Serializer, error) {
	switch name {
	case "", NameBinary:
		return Binary{}, nil
	case NameJSON:
		return JSON{}, nil
	case NameCBOR:
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}

// JSON serializes values as JSON text. Numbers decode as float64.
type JSON struct{}

func (JSON) Serialize(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (JSON) Deserialize(data []byte) (any, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// CBOR serializes values with the package's deterministic CBOR mode.
type CBOR struct{}

func (CBOR) Serialize(value any) ([]byte, error) {
	return Marshal(value)
}

func (CBOR) Deserialize(data []byte) (any, error) {
	var value any
	if err := Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// Int64 converts a decoded numeric value to int64. Floats convert only
// when integral. Returns false for non-numeric values and for values
// outside the int64 range.
func Int64(value any) (int64, bool) {
	switch number := value.(type) {
	case int:
		return int64(number), true
	case int8:
		return int64(number), true
	case int16:
		return int64(number), true
	case int32:
		return int64(number), true
	case int64:
		return number, true
	case uint:
		return uint64ToInt64(uint64(number))
	case uint8:
		return int64(number), true
	case uint16:
		return int64(number), true
	case uint32:
		return int64(number), true
	case uint64:
		return uint64ToInt64(number)
	case float32:
		return float64ToInt64(float64(number))
	case float64:
		return float64ToInt64(number)
	case json.Number:
		if parsed, err := number.Int64(); err == nil {
			return parsed, true
		}
		if parsed, err := number.Float64(); err == nil {
			return float64ToInt64(parsed)
		}
	}
	return 0, false
}

// Uint32 converts a decoded numeric value to uint32, the width of
// call and pipe identifiers on the wire.
func Uint32(value any) (uint32, bool) {
	number, ok := Int64(value)
	if !ok || number < 0 || number > math.MaxUint32 {
		return 0, false
	}
	return uint32(number), true
}

func uint64ToInt64(number uint64) (int64, bool) {
	if number > math.MaxInt64 {
		return 0, false
	}
	return int64(number), true
}

func float64ToInt64(number float64) (int64, bool) {
	if number != math.Trunc(number) || number < math.MinInt64 || number >= math.MaxInt64 {
		return 0, false
	}
	return int64(number), true
}
