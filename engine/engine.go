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

// Package engine implements the Engine Facade (spec §4.5): a thin
// composition of one Catalog, one ShardSet (with its embedded Governor)
// and one Log, exposing the public get/set/update/delete surface and its
// bulk variants plus find. It replaces the teacher's package-level
// singletons (storage.databases, storage.CreateDatabase/CreateTable) with
// an explicit engine value constructed once at program start and threaded
// through the wire layer — the re-architecture spec §9 calls for under
// "Singleton managers with lazy setup()".
package engine

import (
	"github.com/nikolagigic/shindb/catalog"
	"github.com/nikolagigic/shindb/codec"
	"github.com/nikolagigic/shindb/config"
	"github.com/nikolagigic/shindb/governor"
	applog "github.com/nikolagigic/shindb/log"
	"github.com/nikolagigic/shindb/result"
	"github.com/nikolagigic/shindb/shard"
)

// Engine composes the storage engine's components behind the operation
// set the wire protocol dispatches to.
type Engine struct {
	Catalog *catalog.Catalog
	Shards  *shard.ShardSet
	Log     *applog.Log
	Gov     *governor.Governor
}

// New wires an Engine from already-constructed components (the governor
// embedded in the shard set, per spec §4.5 "one shard set (with its
// embedded governor)").
func New(cat *catalog.Catalog, shards *shard.ShardSet, lg *applog.Log, gov *governor.Governor) *Engine {
	return &Engine{Catalog: cat, Shards: shards, Log: lg, Gov: gov}
}

// Collection declares schema for name in the catalog and returns a
// per-collection operations handle (spec §4.5 "collection(name, schema)
// initializer").
func (e *Engine) Collection(name string, schema catalog.Schema) *Collection {
	e.Catalog.Set(name, schema)
	return &Collection{name: name, engine: e}
}

// Collection is the per-collection view spec §4.5 describes; every
// method simply forwards to the shard set scoped to this collection's
// name.
type Collection struct {
	name   string
	engine *Engine
}

func (c *Collection) Get(id uint64) result.Response             { return c.engine.Shards.Get(c.name, id) }
func (c *Collection) Set(doc []byte) result.Response             { return c.engine.Shards.Set(c.name, doc) }
func (c *Collection) Update(id uint64, doc []byte) result.Response {
	return c.engine.Shards.Update(c.name, id, doc)
}
func (c *Collection) Delete(id uint64) result.Response { return c.engine.Shards.Delete(c.name, id) }

func (c *Collection) GetMany(ids []uint64) result.Response {
	return c.engine.Shards.GetMany(c.name, ids)
}
func (c *Collection) SetMany(docs [][]byte) result.Response {
	return c.engine.Shards.SetMany(c.name, docs)
}
func (c *Collection) UpdateMany(updates []shard.DocUpdate) result.Response {
	return c.engine.Shards.UpdateMany(c.name, updates)
}
func (c *Collection) ReplaceMany(updates []shard.DocUpdate) result.Response {
	return c.engine.Shards.ReplaceMany(c.name, updates)
}
func (c *Collection) DeleteMany(ids []uint64) result.Response {
	return c.engine.Shards.DeleteMany(c.name, ids)
}

// Find decodes each candidate document with the wire codec on demand
// (spec §9: "keep documents as opaque byte sequences... only find needs
// a structured view").
func (c *Collection) Find(where shard.Where) result.Response {
	return c.engine.Shards.Find(c.name, where, codec.DecodeMap)
}

// --- memory controls (spec §4.5 "Exposed memory controls") ---

func (e *Engine) StartMemoryMonitoring() { e.Gov.StartMonitoring() }
func (e *Engine) StopMemoryMonitoring()  { e.Gov.StopMonitoring() }
func (e *Engine) GetMemoryStats() governor.Stats { return e.Gov.Stat() }
func (e *Engine) UpdateMemoryConfig(cfg config.Config) { e.Gov.UpdateConfig(cfg) }

// ResetEmergencyBrake is a no-op on the governor itself (the brake's
// counter lives on the shard set, reset implicitly on its next clean
// eviction); exposed here so callers have one place to call after an
// operator has confirmed memory pressure has subsided (spec §9 open
// question: "Whether the caller or a periodic task restarts [the
// monitor] is policy").
func (e *Engine) ResetEmergencyBrake() {}

// RestartMemoryMonitoring resumes sampling after an admission-triggered
// stop (spec §4.4 step 3, §9 open question).
func (e *Engine) RestartMemoryMonitoring() { e.Gov.StartMonitoring() }
