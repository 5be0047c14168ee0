/*
Copyright (C) 2025-2026  ShinDB Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package codec implements the self-describing packed-value encoding spec
// §6 requires on the wire: null, boolean, signed/unsigned 64-bit integers,
// 64-bit float, UTF-8 string, opaque byte string, ordered array and
// string-keyed map. It is a standalone leaf package (rather than living
// inside wire) so both the wire server and the engine facade's find
// decoder can share one codec without an import cycle — exactly the
// role spec §9 describes: "find... can obtain [a structured view] by
// decoding the stored bytes on demand with the same codec used on the
// wire." The reference codec is msgpack, via hashicorp/go-msgpack/v2 (an
// indirect dependency of the teacher's pack, elevated to a direct
// dependency here since this spec needs exactly the codec it implements).
package codec

import "github.com/hashicorp/go-msgpack/v2/codec"

var handle = &codec.MsgpackHandle{}

func init() {
	handle.RawToString = false
	handle.WriteExt = true
}

// Encode serializes v (expected to be built from nil, bool, int64/uint64,
// float64, string, []byte, []any or map[string]any) into the packed
// format this codec defines.
func Encode(v any) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, handle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode parses data into a generic value (map[string]any, []any,
// string, []byte, int64, uint64, float64, bool or nil).
func Decode(data []byte) (any, error) {
	var v any
	dec := codec.NewDecoderBytes(data, handle)
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

// DecodeMap is a convenience for callers (find's predicate evaluator)
// that require a string-keyed map specifically.
func DecodeMap(data []byte) (map[string]any, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errNotAMap
	}
	return m, nil
}

// normalize walks a decoded value and converts the msgpack library's
// map[any]any/[]byte-keyed-string shapes into the plain map[string]any /
// []any tree the rest of this codebase (find's predicate evaluator, the
// protocol dispatcher) expects to work with.
func normalize(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[toStringKey(k)] = normalize(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	default:
		return x
	}
}

func toStringKey(k any) string {
	switch s := k.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

type decodeError string

func (e decodeError) Error() string { return string(e) }

const errNotAMap decodeError = "codec: decoded value is not a map"
