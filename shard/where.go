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
package shard

import "fmt"

// Where is the recursive predicate grammar find evaluates (spec §4.4,
// §9 "model Where as a tagged sum"). Exactly one of And, Or or Condition
// is set on any given node.
type Where struct {
	And       []Where
	Or        []Where
	Condition *Condition
}

// Condition tests a single named field against Ops.
type Condition struct {
	Field string
	Op    Ops
}

// Ops is the struct-of-options form of the operator grammar (spec §4.4).
// Exactly one field (other than Not) is expected to be set per node.
type Ops struct {
	Eq       any
	Gt       any
	Lt       any
	Gte      any
	Lte      any
	In       []any
	Nin      []any
	Contains any
	Overlap  []any
	Not      *Ops
}

// Eval evaluates w against a decoded document (a string-keyed map, the
// shape the wire codec produces for a record payload).
func Eval(w Where, doc map[string]any) bool {
	switch {
	case w.And != nil:
		for _, sub := range w.And {
			if !Eval(sub, doc) {
				return false
			}
		}
		return true
	case w.Or != nil:
		for _, sub := range w.Or {
			if Eval(sub, doc) {
				return true
			}
		}
		return false
	case w.Condition != nil:
		return evalOps(w.Condition.Op, doc[w.Condition.Field])
	default:
		return false
	}
}

func evalOps(op Ops, value any) bool {
	switch {
	case op.Not != nil:
		return !evalOps(*op.Not, value)
	case op.Eq != nil:
		return compareEq(value, op.Eq)
	case op.Gt != nil:
		return compareOrder(value, op.Gt) > 0
	case op.Lt != nil:
		return compareOrder(value, op.Lt) < 0
	case op.Gte != nil:
		return compareOrder(value, op.Gte) >= 0
	case op.Lte != nil:
		return compareOrder(value, op.Lte) <= 0
	case op.In != nil:
		for _, candidate := range op.In {
			if compareEq(value, candidate) {
				return true
			}
		}
		return false
	case op.Nin != nil:
		for _, candidate := range op.Nin {
			if compareEq(value, candidate) {
				return false
			}
		}
		return true
	case op.Contains != nil:
		return evalContains(value, op.Contains)
	case op.Overlap != nil:
		return evalOverlap(value, op.Overlap)
	default:
		return false
	}
}

func compareEq(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareOrder returns -1/0/1 comparing a to b, treating both as numbers
// when possible and falling back to string comparison otherwise.
func compareOrder(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// evalContains matches substring for strings and element-membership for
// lists (spec §4.4).
func evalContains(value, needle any) bool {
	switch v := value.(type) {
	case string:
		s, ok := needle.(string)
		return ok && containsSubstring(v, s)
	case []any:
		for _, elem := range v {
			if compareEq(elem, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func containsSubstring(haystack, needle string) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// evalOverlap reports a non-empty intersection over list-valued fields
// (spec §4.4).
func evalOverlap(value any, other []any) bool {
	list, ok := value.([]any)
	if !ok {
		return false
	}
	for _, a := range list {
		for _, b := range other {
			if compareEq(a, b) {
				return true
			}
		}
	}
	return false
}
