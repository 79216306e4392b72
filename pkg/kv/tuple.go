// Copyright 2026 The Sql-Layer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kv

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Tuple is an ordered sequence of elements, each an int64, a string, or a
// []byte, packed so that the lexicographic order of the packed bytes
// matches the element-wise order of the tuples — the same guarantee the
// real FoundationDB tuple layer gives the directory layer and the schema
// manager's key encoding both depend on.
type Tuple []interface{}

const (
	tagInt    byte = 0x15
	tagString byte = 0x16
	tagBytes  byte = 0x17
)

// PackTuple encodes elems as a Tuple and returns its bytes.
func PackTuple(elems ...interface{}) []byte {
	var buf []byte
	for _, e := range elems {
		buf = appendElem(buf, e)
	}
	return buf
}

func appendElem(buf []byte, e interface{}) []byte {
	switch v := e.(type) {
	case int64:
		buf = append(buf, tagInt)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v)^(uint64(1)<<63))
		return append(buf, b[:]...)
	case int:
		return appendElem(buf, int64(v))
	case int32:
		return appendElem(buf, int64(v))
	case string:
		buf = append(buf, tagString)
		return appendEscaped(buf, []byte(v))
	case []byte:
		buf = append(buf, tagBytes)
		return appendEscaped(buf, v)
	default:
		panic(errors.AssertionFailedf("kv: unsupported tuple element type %T", e))
	}
}

// appendEscaped writes raw with every 0x00 byte escaped to 0x00 0xFF, then
// a 0x00 0x00 terminator, so that embedded NUL bytes don't truncate the
// element and the terminator never collides with an escaped byte.
func appendEscaped(buf, raw []byte) []byte {
	for _, b := range raw {
		if b == 0x00 {
			buf = append(buf, 0x00, 0xFF)
		} else {
			buf = append(buf, b)
		}
	}
	return append(buf, 0x00, 0x00)
}

// UnpackTuple decodes a Tuple previously produced by PackTuple.
func UnpackTuple(b []byte) (Tuple, error) {
	var t Tuple
	for len(b) > 0 {
		tag := b[0]
		b = b[1:]
		switch tag {
		case tagInt:
			if len(b) < 8 {
				return nil, errors.Errorf("kv: truncated int tuple element")
			}
			u := binary.BigEndian.Uint64(b[:8])
			t = append(t, int64(u^(uint64(1)<<63)))
			b = b[8:]
		case tagString, tagBytes:
			raw, rest, err := readEscaped(b)
			if err != nil {
				return nil, err
			}
			if tag == tagString {
				t = append(t, string(raw))
			} else {
				t = append(t, raw)
			}
			b = rest
		default:
			return nil, errors.Errorf("kv: unknown tuple tag 0x%02x", tag)
		}
	}
	return t, nil
}

func readEscaped(b []byte) (raw, rest []byte, err error) {
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			raw = append(raw, b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, nil, errors.Errorf("kv: truncated escaped tuple element")
		}
		switch b[i+1] {
		case 0xFF:
			raw = append(raw, 0x00)
			i++
		case 0x00:
			return raw, b[i+2:], nil
		default:
			return nil, nil, errors.Errorf("kv: invalid escape sequence in tuple element")
		}
	}
	return nil, nil, errors.Errorf("kv: unterminated tuple element")
}

// Int64 returns the i'th element as an int64, panicking (like the tuple
// bindings this mirrors) if it isn't one — callers only ever index tuples
// they just unpacked from a key of known shape.
func (t Tuple) Int64(i int) int64 {
	return t[i].(int64)
}

// String returns the i'th element as a string.
func (t Tuple) String(i int) string {
	return t[i].(string)
}

// Bytes returns the i'th element as a []byte.
func (t Tuple) Bytes(i int) []byte {
	return t[i].([]byte)
}

// StrInc returns the smallest byte string greater than every string with
// prefix b, by incrementing the last byte that isn't already 0xFF and
// truncating the 0xFF run after it. Mirrors ByteArrayUtil.strinc, used by
// the schema manager to turn a directory prefix into a half-open range
// end.
func StrInc(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	panic(errors.AssertionFailedf("kv: key is all 0xFF bytes, has no successor"))
}
