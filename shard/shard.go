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

// Package shard implements the Shard Set / Document Index (spec §4.4): a
// horizontally-sharded DocId→bytes store. storage/database.go's table
// carries an ordered []*storageShard slice with a table-level mutex
// guarding shard transitions (storage/shard.go's storageShard.rebuild);
// this package keeps that shape but replaces the columnar rebuild
// machinery with a flat, fixed-capacity, per-collection document map since
// there is no column compression to perform here.
package shard

// collectionState is one collection's slice of a Shard: its live documents
// and its own monotonic id counter, mirroring storage/shard.go's per-table
// delta bookkeeping collapsed down to a single map (no main/delta split is
// needed since documents are opaque and never rebuilt/compressed).
type collectionState struct {
	docs   map[uint64][]byte
	nextId uint64
}

// Shard is one fixed-capacity partition of the document index (spec §3
// "Shard"). size counts live documents across all collections held by
// this shard; capacity bounds that count (spec invariant 3).
type Shard struct {
	capacity     int
	size         int
	collections  map[string]*collectionState
}

func New(capacity int) *Shard {
	return &Shard{
		capacity:    capacity,
		collections: make(map[string]*collectionState),
	}
}

func (s *Shard) Size() int     { return s.size }
func (s *Shard) Capacity() int { return s.capacity }
func (s *Shard) Full() bool    { return s.size >= s.capacity }

// ensure returns (creating if absent) the per-collection state, seeded
// with nextId so ids allocated from a freshly created shard continue a
// collection's existing monotonic sequence (spec §3 "Identifiers").
func (s *Shard) ensure(collection string, seedNextId uint64) *collectionState {
	cs, ok := s.collections[collection]
	if !ok {
		cs = &collectionState{docs: make(map[uint64][]byte), nextId: seedNextId}
		s.collections[collection] = cs
	}
	return cs
}

// SeedCollection ensures collection exists on this shard with nextId set
// to at least seedNextId, without storing any document. Used by rotation
// to carry every known collection's counter onto a freshly spawned shard.
func (s *Shard) SeedCollection(collection string, seedNextId uint64) {
	s.ensure(collection, seedNextId)
}

// NextId returns the next id that would be allocated for collection on
// this shard, without allocating it. Used to seed a new shard's counter
// and by ShardSet to find the current global high-water mark.
func (s *Shard) NextId(collection string) uint64 {
	cs, ok := s.collections[collection]
	if !ok {
		return 0
	}
	return cs.nextId
}

// Has reports whether this shard holds id for collection, without
// touching recency (the caller records access).
func (s *Shard) Has(collection string, id uint64) bool {
	cs, ok := s.collections[collection]
	if !ok {
		return false
	}
	_, ok = cs.docs[id]
	return ok
}

// Get returns the document bytes and whether it was present.
func (s *Shard) Get(collection string, id uint64) ([]byte, bool) {
	cs, ok := s.collections[collection]
	if !ok {
		return nil, false
	}
	doc, ok := cs.docs[id]
	return doc, ok
}

// Insert allocates the next id for collection and stores doc, seeding the
// collection's counter from seedNextId if this is the first document the
// shard has seen for that collection. The caller (ShardSet) is
// responsible for deciding whether this shard has room.
func (s *Shard) Insert(collection string, doc []byte, seedNextId uint64) uint64 {
	cs := s.ensure(collection, seedNextId)
	id := cs.nextId
	cs.nextId++
	cs.docs[id] = doc
	s.size++
	return id
}

// InsertAt stores doc under an already-allocated id, advancing the
// collection's counter past it if needed. Used by bulk insert, which
// allocates a contiguous id range up front (spec §4.4 setMany step 5).
func (s *Shard) InsertAt(collection string, id uint64, doc []byte, seedNextId uint64) {
	cs := s.ensure(collection, seedNextId)
	cs.docs[id] = doc
	if id >= cs.nextId {
		cs.nextId = id + 1
	}
	s.size++
}

// Update replaces doc in place; returns false if id was not present.
func (s *Shard) Update(collection string, id uint64, doc []byte) bool {
	cs, ok := s.collections[collection]
	if !ok {
		return false
	}
	if _, ok := cs.docs[id]; !ok {
		return false
	}
	cs.docs[id] = doc
	return true
}

// Delete removes id, decrementing the live size counter. Returns false if
// id was not present.
func (s *Shard) Delete(collection string, id uint64) bool {
	cs, ok := s.collections[collection]
	if !ok {
		return false
	}
	if _, ok := cs.docs[id]; !ok {
		return false
	}
	delete(cs.docs, id)
	s.size--
	return true
}

// Range calls fn for every (id, doc) pair in collection, in map iteration
// order (find's full scan, spec §4.4, does not require any ordering).
func (s *Shard) Range(collection string, fn func(id uint64, doc []byte)) {
	cs, ok := s.collections[collection]
	if !ok {
		return
	}
	for id, doc := range cs.docs {
		fn(id, doc)
	}
}

// Collections lists every collection this shard has seen data for.
func (s *Shard) Collections() []string {
	out := make([]string, 0, len(s.collections))
	for name := range s.collections {
		out = append(out, name)
	}
	return out
}
