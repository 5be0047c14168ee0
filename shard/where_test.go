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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func u1() map[string]any { return map[string]any{"username": "u1", "age": float64(29)} }
func u2() map[string]any { return map[string]any{"username": "u2", "age": float64(30)} }

func TestEvalAndCondition(t *testing.T) {
	w := Where{And: []Where{
		{Condition: &Condition{Field: "username", Op: Ops{Eq: "u2"}}},
		{Condition: &Condition{Field: "age", Op: Ops{Eq: float64(30)}}},
	}}
	assert.True(t, Eval(w, u2()))
	assert.False(t, Eval(w, u1()))
}

func TestEvalOrCondition(t *testing.T) {
	w := Where{Or: []Where{
		{Condition: &Condition{Field: "username", Op: Ops{Eq: "u1"}}},
		{Condition: &Condition{Field: "username", Op: Ops{Eq: "u2"}}},
	}}
	assert.True(t, Eval(w, u1()))
	assert.True(t, Eval(w, u2()))
}

func TestEvalNotNegatesInnerOps(t *testing.T) {
	w := Where{Condition: &Condition{Field: "age", Op: Ops{Not: &Ops{Eq: float64(30)}}}}
	assert.True(t, Eval(w, u1()))
	assert.False(t, Eval(w, u2()))
}

func TestEvalGtLt(t *testing.T) {
	gt := Where{Condition: &Condition{Field: "age", Op: Ops{Gt: float64(29)}}}
	assert.False(t, Eval(gt, u1()))
	assert.True(t, Eval(gt, u2()))

	lte := Where{Condition: &Condition{Field: "age", Op: Ops{Lte: float64(29)}}}
	assert.True(t, Eval(lte, u1()))
	assert.False(t, Eval(lte, u2()))
}

func TestEvalInNin(t *testing.T) {
	in := Where{Condition: &Condition{Field: "username", Op: Ops{In: []any{"u1", "u3"}}}}
	assert.True(t, Eval(in, u1()))
	assert.False(t, Eval(in, u2()))

	nin := Where{Condition: &Condition{Field: "username", Op: Ops{Nin: []any{"u1"}}}}
	assert.False(t, Eval(nin, u1()))
	assert.True(t, Eval(nin, u2()))
}

func TestEvalContainsString(t *testing.T) {
	w := Where{Condition: &Condition{Field: "username", Op: Ops{Contains: "1"}}}
	assert.True(t, Eval(w, u1()))
	assert.False(t, Eval(w, u2()))
}

func TestEvalContainsList(t *testing.T) {
	doc := map[string]any{"tags": []any{"a", "b", "c"}}
	w := Where{Condition: &Condition{Field: "tags", Op: Ops{Contains: "b"}}}
	assert.True(t, Eval(w, doc))
	w2 := Where{Condition: &Condition{Field: "tags", Op: Ops{Contains: "z"}}}
	assert.False(t, Eval(w2, doc))
}

func TestEvalOverlap(t *testing.T) {
	doc := map[string]any{"tags": []any{"a", "b"}}
	overlap := Where{Condition: &Condition{Field: "tags", Op: Ops{Overlap: []any{"b", "c"}}}}
	assert.True(t, Eval(overlap, doc))
	noOverlap := Where{Condition: &Condition{Field: "tags", Op: Ops{Overlap: []any{"x", "y"}}}}
	assert.False(t, Eval(noOverlap, doc))
}

func TestEvalMissingFieldIsFalsyNotPanic(t *testing.T) {
	w := Where{Condition: &Condition{Field: "missing", Op: Ops{Eq: "x"}}}
	assert.False(t, Eval(w, u1()))
}
