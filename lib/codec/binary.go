// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Binary type tags. These are wire constants shared with remote
// editors; the numbering starts at 1.
const (
	tagNull byte = iota + 1
	tagInt8
	tagInt16
	tagInt32
	tagInt64
	tagFloat
	tagTrue
	tagFalse
	tagString
	tagArray
	tagObject
)

// maxBinaryDepth bounds nesting so hostile input cannot exhaust the
// stack.
const maxBinaryDepth = 128

// ErrMalformed reports binary input that does not decode: an unknown
// tag, a truncated value, or trailing bytes.
var ErrMalformed = errors.New("codec: malformed binary value")

// Binary is the tagged binary serializer. Encoding accepts nil, bool,
// every Go integer and float kind, string, []byte (as a string),
// slices and arrays, and maps with string keys. Object keys are
// written in sorted order, so encoding is deterministic.
type Binary struct{}

func (Binary) Serialize(value any) ([]byte, error) {
	return appendBinary(nil, reflect.ValueOf(value), 0)
}

func (Binary) Deserialize(data []byte) (any, error) {
	value, rest, err := decodeBinary(data, 0)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(rest))
	}
	return value, nil
}

func appendBinary(dst []byte, value reflect.Value, depth int) ([]byte, error) {
	if depth > maxBinaryDepth {
		return nil, fmt.Errorf("codec: value nested deeper than %d levels", maxBinaryDepth)
	}
	if !value.IsValid() {
		return append(dst, tagNull), nil
	}

	switch value.Kind() {
	case reflect.Interface, reflect.Pointer:
		if value.IsNil() {
			return append(dst, tagNull), nil
		}
		return appendBinary(dst, value.Elem(), depth)

	case reflect.Bool:
		if value.Bool() {
			return append(dst, tagTrue), nil
		}
		return append(dst, tagFalse), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return appendInt64(dst, value.Int()), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		number := value.Uint()
		if number > math.MaxInt64 {
			return nil, fmt.Errorf("codec: unsigned value %d does not fit in int64", number)
		}
		return appendInt64(dst, int64(number)), nil

	case reflect.Float32, reflect.Float64:
		dst = append(dst, tagFloat)
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(value.Float())), nil

	case reflect.String:
		return appendString(append(dst, tagString), value.String()), nil

	case reflect.Slice, reflect.Array:
		if value.Kind() == reflect.Slice && value.IsNil() {
			return append(dst, tagNull), nil
		}
		if value.Type().Elem().Kind() == reflect.Uint8 {
			return appendString(append(dst, tagString), string(bytesOf(value))), nil
		}
		length := value.Len()
		if uint64(length) > math.MaxUint32 {
			return nil, fmt.Errorf("codec: array of %d elements is too long", length)
		}
		dst = binary.LittleEndian.AppendUint32(append(dst, tagArray), uint32(length))
		for index := 0; index < length; index++ {
			var err error
			if dst, err = appendBinary(dst, value.Index(index), depth+1); err != nil {
				return nil, err
			}
		}
		return dst, nil

	case reflect.Map:
		if value.IsNil() {
			return append(dst, tagNull), nil
		}
		if value.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("codec: map key type %s is not a string", value.Type().Key())
		}
		keys := value.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		dst = binary.LittleEndian.AppendUint32(append(dst, tagObject), uint32(len(keys)))
		for _, key := range keys {
			dst = appendString(dst, key.String())
			var err error
			if dst, err = appendBinary(dst, value.MapIndex(key), depth+1); err != nil {
				return nil, err
			}
		}
		return dst, nil

	default:
		return nil, fmt.Errorf("codec: unsupported type %s", value.Type())
	}
}

func appendInt64(dst []byte, number int64) []byte {
	return binary.LittleEndian.AppendUint64(append(dst, tagInt64), uint64(number))
}

func appendString(dst []byte, text string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(text)))
	return append(dst, text...)
}

func bytesOf(value reflect.Value) []byte {
	if value.Kind() == reflect.Slice {
		return value.Bytes()
	}
	buffer := make([]byte, value.Len())
	reflect.Copy(reflect.ValueOf(buffer), value)
	return buffer
}

func decodeBinary(data []byte, depth int) (any, []byte, error) {
	if depth > maxBinaryDepth {
		return nil, nil, fmt.Errorf("%w: nested deeper than %d levels", ErrMalformed, maxBinaryDepth)
	}
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: missing type tag", ErrMalformed)
	}
	tag, body := data[0], data[1:]

	switch tag {
	case tagNull:
		return nil, body, nil
	case tagTrue:
		return true, body, nil
	case tagFalse:
		return false, body, nil

	case tagInt8:
		if len(body) < 1 {
			return nil, nil, truncated("int8")
		}
		return int64(int8(body[0])), body[1:], nil
	case tagInt16:
		if len(body) < 2 {
			return nil, nil, truncated("int16")
		}
		return int64(int16(binary.LittleEndian.Uint16(body))), body[2:], nil
	case tagInt32:
		if len(body) < 4 {
			return nil, nil, truncated("int32")
		}
		return int64(int32(binary.LittleEndian.Uint32(body))), body[4:], nil
	case tagInt64:
		if len(body) < 8 {
			return nil, nil, truncated("int64")
		}
		return int64(binary.LittleEndian.Uint64(body)), body[8:], nil
	case tagFloat:
		if len(body) < 8 {
			return nil, nil, truncated("float")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(body)), body[8:], nil

	case tagString:
		return decodeString(body)

	case tagArray:
		count, rest, err := decodeCount(body)
		if err != nil {
			return nil, nil, err
		}
		// Every element takes at least one byte.
		if uint64(count) > uint64(len(rest)) {
			return nil, nil, truncated("array")
		}
		array := make([]any, 0, count)
		for index := uint32(0); index < count; index++ {
			var element any
			if element, rest, err = decodeBinary(rest, depth+1); err != nil {
				return nil, nil, err
			}
			array = append(array, element)
		}
		return array, rest, nil

	case tagObject:
		count, rest, err := decodeCount(body)
		if err != nil {
			return nil, nil, err
		}
		// Every entry takes at least five bytes: key length and a tag.
		if uint64(count)*5 > uint64(len(rest)) {
			return nil, nil, truncated("object")
		}
		object := make(map[string]any, count)
		for index := uint32(0); index < count; index++ {
			var key, element any
			if key, rest, err = decodeString(rest); err != nil {
				return nil, nil, err
			}
			if element, rest, err = decodeBinary(rest, depth+1); err != nil {
				return nil, nil, err
			}
			object[key.(string)] = element
		}
		return object, rest, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown tag %#x", ErrMalformed, tag)
	}
}

func decodeCount(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, truncated("count")
	}
	return binary.LittleEndian.Uint32(data), data[4:], nil
}

func decodeString(data []byte) (any, []byte, error) {
	length, rest, err := decodeCount(data)
	if err != nil {
		return nil, nil, err
	}
	if uint64(length) > uint64(len(rest)) {
		return nil, nil, truncated("string")
	}
	return string(rest[:length]), rest[length:], nil
}

func truncated(what string) error {
	return fmt.Errorf("%w: truncated %s", ErrMalformed, what)
}
