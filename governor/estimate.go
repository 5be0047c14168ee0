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
package governor

import (
	"golang.org/x/text/encoding/unicode"
)

// utf16Encoder is reused across calls; unicode.UTF16(...).NewEncoder() is
// safe for concurrent Transform calls on independent inputs.
var utf16Encoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()

// utf16Units returns the number of UTF-16 code units s would occupy,
// falling back to len(s) (exact for ASCII, the overwhelming common case,
// and an over-estimate for other text) if the encoder returns an error.
func utf16Units(s string) int {
	encoded, err := utf16Encoder.String(s)
	if err != nil {
		return len(s)
	}
	return len(encoded) / 2
}

// EstimateSize is the rough per-shape byte estimator from spec §4.3:
//   - 24 + bytelen for byte arrays
//   - 2*len for strings (UTF-16 worst case)
//   - 8 for numbers
//   - 1 for booleans
//   - for generic records: 24 base + for each field (2*keylen + 16 + recurse on value)
func EstimateSize(value any) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case []byte:
		return 24 + int64(len(v))
	case string:
		return int64(2 * utf16Units(v))
	case bool:
		return 1
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		return 8
	case []any:
		var sz int64 = 24
		for _, e := range v {
			sz += EstimateSize(e)
		}
		return sz
	case map[string]any:
		sz := int64(24)
		for k, e := range v {
			sz += int64(2*len(k)+16) + EstimateSize(e)
		}
		return sz
	default:
		// unknown shape: treat as an 8-byte scalar, the same default the
		// teacher's estimator falls back to for opaque values.
		return 8
	}
}

// BulkEstimate sums EstimateSize over a slice of documents, as used by
// setMany's admission check (spec §4.4 step 1).
func BulkEstimate(docs [][]byte) int64 {
	var total int64
	for _, d := range docs {
		total += EstimateSize(d)
	}
	return total
}
