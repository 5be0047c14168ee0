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

// Package catalog implements the Schema Catalog: the authoritative list of
// declared collections and their schemas (spec §4.1). It is backed by
// NonLockingReadMap, the pack's read-optimized non-blocking map, because a
// collection's schema is consulted on essentially every engine operation
// but only written when a collection is declared or redefined.
package catalog

import (
	"sync"

	nlrm "github.com/launix-de/NonLockingReadMap"

	"github.com/nikolagigic/shindb/result"
)

// FieldType is one of the three primitive types a document field may
// declare in its schema (spec §3 "Collection").
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
)

// Modifier is one of the per-field modifiers a schema may declare.
type Modifier string

const (
	ModifierUnique   Modifier = "unique"
	ModifierRequired Modifier = "required"
	ModifierIndexed  Modifier = "indexed"
)

type FieldSchema struct {
	Name      string
	Type      FieldType
	Modifiers map[Modifier]bool
}

func (f FieldSchema) HasModifier(m Modifier) bool {
	return f.Modifiers[m]
}

// Schema is a named bundle of field declarations shared by every document
// in a collection. The engine never interprets these fields except to
// enumerate collection names and, during find, to look a named field up
// on a decoded document (spec §3 "Collection").
type Schema struct {
	Name   string
	Fields []FieldSchema
}

// GetKey/ComputeSize implement nlrm.KeyGetter[string] with value receivers
// so Schema itself (not *Schema) satisfies the constraint; the map stores
// *Schema internally regardless.
func (s Schema) GetKey() string { return s.Name }

func (s Schema) ComputeSize() uint {
	sz := uint(32 + len(s.Name))
	for _, f := range s.Fields {
		sz += uint(16 + len(f.Name) + len(f.Modifiers)*8)
	}
	return sz
}

// UniqueFields returns the names of fields carrying the `unique` modifier.
// The catalog tracks this for future validation; per spec §9 Open
// Questions it is not enforced on insert in this spec.
func (s *Schema) UniqueFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.HasModifier(ModifierUnique) {
			out = append(out, f.Name)
		}
	}
	return out
}

// Catalog is not concurrency-aware on its own per spec §4.1 ("all
// mutations happen from the single-threaded engine loop"); writeMu exists
// so a threaded deployment (spec §9 "Cooperative single-threaded event
// loop... protect the shard set and log with a single mutex each") can
// still serialize catalog writes without serializing reads, since reads
// go straight through the underlying NonLockingReadMap.
type Catalog struct {
	writeMu sync.Mutex
	schemas nlrm.NonLockingReadMap[Schema, string]
}

func New() *Catalog {
	return &Catalog{schemas: nlrm.New[Schema, string]()}
}

// Set declares or overwrites a collection's schema. Always returns OK.
func (c *Catalog) Set(name string, schema Schema) result.Response {
	schema.Name = name
	c.writeMu.Lock()
	c.schemas.Set(&schema)
	c.writeMu.Unlock()
	return result.Ok(nil)
}

// Update overwrites an existing collection's schema. Returns ERROR if the
// name is unknown.
func (c *Catalog) Update(name string, schema Schema) result.Response {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.schemas.Get(name) == nil {
		return result.Err()
	}
	schema.Name = name
	c.schemas.Set(&schema)
	return result.Ok(nil)
}

// Delete removes a collection's schema. Returns ERROR if the name is
// unknown.
func (c *Catalog) Delete(name string) result.Response {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.schemas.Remove(name) == nil {
		return result.Err()
	}
	return result.Ok(nil)
}

// Get returns the declared schema for name, ERROR if unknown.
func (c *Catalog) Get(name string) result.Response {
	s := c.schemas.Get(name)
	if s == nil {
		return result.Err()
	}
	return result.Ok(*s)
}

// GetAll returns every declared schema.
func (c *Catalog) GetAll() result.Response {
	all := c.schemas.GetAll()
	out := make([]Schema, 0, len(all))
	for _, s := range all {
		out = append(out, *s)
	}
	return result.Ok(out)
}

// Exists reports whether name has a declared schema.
func (c *Catalog) Exists(name string) bool {
	return c.schemas.Get(name) != nil
}
