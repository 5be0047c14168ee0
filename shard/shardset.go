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
	"fmt"
	stdlog "log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nikolagigic/shindb/governor"
	applog "github.com/nikolagigic/shindb/log"
	"github.com/nikolagigic/shindb/result"
)

// ShardSet is the primary key→bytes store (spec §4.4), an ordered list of
// fixed-capacity Shards with a single lock guarding both shard-creation
// transitions and, per the threaded-target note in spec §9 ("protect the
// shard set and log with a single mutex each"), ordinary mutation — the
// same coarse-grained-mutex idiom storage/database.go uses around its
// table's []*storageShard slice (db.schemalock, t.mu).
//
// Acquiring mu IS the ROTATING transition spec §4.4 describes: the
// critical section that checks capacity and appends a new shard already
// serializes every other mutating call, so no separate state flag is
// needed to model ACCEPTING/ROTATING.
type ShardSet struct {
	mu       sync.Mutex
	capacity int
	shards   []*Shard
	active   int
	nextIds  map[string]uint64

	gov *governor.Governor
	lg  *applog.Log

	lastEvictionAt     time.Time
	closeEvictionCount int

	txMu       sync.Mutex
	activeTxns map[string]struct{}
	txnCounter atomic.Uint64
}

// DocUpdate is one entry of an UpdateMany/ReplaceMany call.
type DocUpdate struct {
	Id  uint64
	Doc []byte
}

func NewShardSet(capacity int, gov *governor.Governor, lg *applog.Log) *ShardSet {
	ss := &ShardSet{
		capacity:   capacity,
		shards:     []*Shard{New(capacity)},
		nextIds:    make(map[string]uint64),
		gov:        gov,
		lg:         lg,
		activeTxns: make(map[string]struct{}),
	}
	gov.OnEviction(ss.handleEviction)
	gov.OnEmergency(ss.handleEmergency)
	return ss
}

func key(collection string, id uint64) governor.RecencyKey {
	return governor.RecencyKey{Collection: collection, DocId: id}
}

// MapsCount reports how many shards currently exist (used by tests to
// assert rotation happened, per spec §8 scenario 2).
func (ss *ShardSet) MapsCount() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.shards)
}

func (ss *ShardSet) Get(collection string, id uint64) result.Response {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, s := range ss.shards {
		if doc, ok := s.Get(collection, id); ok {
			ss.gov.RecordAccess(key(collection, id), governor.EstimateSize(doc))
			return result.Ok(map[string]any{"id": id, "doc": doc})
		}
	}
	return result.Err()
}

// Set commits a single document (spec §4.4 "set"). A log-flush failure
// is fatal to the process under the simplest policy spec §7 describes.
func (ss *ShardSet) Set(collection string, doc []byte) result.Response {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.shards[ss.active].Full() {
		ss.rotateLocked()
	}
	active := ss.shards[ss.active]
	seed := ss.nextIds[collection]
	id := active.Insert(collection, doc, seed)
	ss.nextIds[collection] = id + 1

	if err := ss.lg.AddRecord(doc); err != nil {
		panic(fmt.Sprintf("shard: log flush failure: %v", err))
	}
	ss.gov.RecordAccess(key(collection, id), governor.EstimateSize(doc))
	return result.Ok(map[string]any{"id": id})
}

// Update replaces a document in place; no log entry is written (spec
// §4.4: "no log append in this spec — updates reuse the id and are not
// re-journalled", acknowledged as an open question in spec §9).
func (ss *ShardSet) Update(collection string, id uint64, doc []byte) result.Response {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, s := range ss.shards {
		if s.Update(collection, id, doc) {
			ss.gov.RecordAccess(key(collection, id), governor.EstimateSize(doc))
			return result.Ok(map[string]any{"id": id, "doc": doc})
		}
	}
	return result.Err()
}

func (ss *ShardSet) Delete(collection string, id uint64) result.Response {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.deleteLocked(collection, id) {
		return result.Ok(map[string]any{"success": true})
	}
	return result.Err()
}

func (ss *ShardSet) deleteLocked(collection string, id uint64) bool {
	for _, s := range ss.shards {
		if s.Delete(collection, id) {
			ss.gov.ForgetAccess(key(collection, id))
			return true
		}
	}
	return false
}

// GetMany silently skips misses and always returns OK (spec §4.4).
func (ss *ShardSet) GetMany(collection string, ids []uint64) result.Response {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := make(map[uint64][]byte, len(ids))
	for _, id := range ids {
		for _, s := range ss.shards {
			if doc, ok := s.Get(collection, id); ok {
				out[id] = doc
				ss.gov.RecordAccess(key(collection, id), governor.EstimateSize(doc))
				break
			}
		}
	}
	return result.Ok(out)
}

// SetMany is the admission-controlled bulk insert (spec §4.4 "Bulk-insert
// admission"). It is the public, always-unlocked-on-entry variant; the
// chunked fallback recurses through setManyLocked directly since
// sync.Mutex is not reentrant.
// SetMany registers itself in the active-transaction set for the
// duration of the call (spec §4.4 "Emergency wiring") so a bulk insert
// straddling many chunks can be cancelled mid-flight if handleEmergency
// fires; the txn id is dropped from the set regardless of the outcome.
func (ss *ShardSet) SetMany(collection string, docs [][]byte) result.Response {
	txnID := ss.newTxnID()
	ss.BeginTxn(txnID)
	defer ss.EndTxn(txnID)

	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.setManyLocked(collection, docs, false, txnID)
}

func (ss *ShardSet) newTxnID() string {
	return fmt.Sprintf("setMany-%d", ss.txnCounter.Add(1))
}

func (ss *ShardSet) setManyLocked(collection string, docs [][]byte, chunked bool, txnID string) result.Response {
	n := len(docs)
	if n == 0 {
		return result.Ok(map[string]any{"ids": []uint64{}})
	}

	extra := int64(50 * n)
	if extra > 512*1024 {
		extra = 512 * 1024
	}
	estSize := governor.BulkEstimate(docs) + int64(32*n) + extra

	if !ss.gov.CanAllocate(estSize) {
		if n > 10000 && !chunked {
			return ss.chunkedIngestLocked(collection, docs, estSize, txnID)
		}
		// Stop the monitor to avoid a re-entry storm (spec §4.4 step 3,
		// §9 open question on who restarts it — see Engine.RestartMemoryMonitoring).
		ss.gov.StopMonitoring()
		return result.Err()
	}
	if ss.gov.OverLimit() {
		return result.Err()
	}

	seed := ss.nextIds[collection]

	ids := make([]uint64, n)
	for i, doc := range docs {
		if ss.shards[ss.active].Full() {
			ss.rotateLocked()
		}
		id := seed + uint64(i)
		ss.shards[ss.active].InsertAt(collection, id, doc, seed)
		ids[i] = id
	}
	ss.nextIds[collection] = seed + uint64(n)

	for _, doc := range docs {
		if err := ss.lg.AddRecord(doc); err != nil {
			panic(fmt.Sprintf("shard: log flush failure: %v", err))
		}
	}

	entries := make(map[governor.RecencyKey]int64, n)
	for i, doc := range docs {
		entries[key(collection, ids[i])] = governor.EstimateSize(doc)
	}
	ss.gov.RecordAccessBulk(entries)

	return result.Ok(map[string]any{"ids": ids})
}

// chunkedIngestLocked implements spec §4.4 step 2: pick a chunk size from
// available memory and per-document estimate, then ingest window by
// window, propagating the first chunk failure as the whole call's result.
// Before each window it checks TxnActive(txnID): an emergency callback
// firing mid-loop drops the id from activeTxns, and a dropped id aborts
// the remaining windows instead of continuing to ingest under pressure.
func (ss *ShardSet) chunkedIngestLocked(collection string, docs [][]byte, estSize int64, txnID string) result.Response {
	n := len(docs)
	perDocEst := estSize / int64(n)
	if perDocEst <= 0 {
		perDocEst = 1
	}

	stats := ss.gov.Stat()
	availableRss := stats.MaxRssBytes - stats.RssBytes
	availableHeap := stats.MaxHeapBytes - stats.HeapBytes
	available := availableRss
	if availableHeap < available {
		available = availableHeap
	}
	if available < 0 {
		available = 0
	}

	chunkSize := int(float64(available) * 0.8 / float64(perDocEst))
	const hundredMiB = 100 * 1024 * 1024
	if available < hundredMiB && chunkSize > 5000 {
		chunkSize = 5000
	}
	if chunkSize < 1000 {
		chunkSize = 1000
	}
	if chunkSize > 50000 {
		chunkSize = 50000
	}

	allIds := make([]uint64, 0, n)
	for start := 0; start < n; start += chunkSize {
		if !ss.TxnActive(txnID) {
			return result.Err()
		}
		end := start + chunkSize
		if end > n {
			end = n
		}
		resp := ss.setManyLocked(collection, docs[start:end], true, txnID)
		if !resp.IsOK() {
			return result.Err()
		}
		chunkIds, _ := resp.Data.(map[string]any)["ids"].([]uint64)
		allIds = append(allIds, chunkIds...)
	}
	return result.Ok(map[string]any{"ids": allIds})
}

// UpdateMany returns ERROR on the first missing id; earlier writes in the
// same call are not rolled back (spec §4.4, acknowledged limitation,
// spec §9 open question).
func (ss *ShardSet) UpdateMany(collection string, updates []DocUpdate) result.Response {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.updateManyLocked(collection, updates)
}

// ReplaceMany is, in this implementation, the same non-atomic update
// spec §9 describes updateMany and replaceMany both exhibiting.
func (ss *ShardSet) ReplaceMany(collection string, updates []DocUpdate) result.Response {
	return ss.UpdateMany(collection, updates)
}

func (ss *ShardSet) updateManyLocked(collection string, updates []DocUpdate) result.Response {
	updated := make([]map[string]any, 0, len(updates))
	for _, u := range updates {
		found := false
		for _, s := range ss.shards {
			if s.Update(collection, u.Id, u.Doc) {
				found = true
				ss.gov.RecordAccess(key(collection, u.Id), governor.EstimateSize(u.Doc))
				updated = append(updated, map[string]any{"id": u.Id, "doc": u.Doc})
				break
			}
		}
		if !found {
			return result.Err()
		}
	}
	return result.Ok(map[string]any{"updated": updated})
}

// DeleteMany reports ids actually removed and always returns OK, even if
// some ids were missing (spec §4.4).
func (ss *ShardSet) DeleteMany(collection string, ids []uint64) result.Response {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	deleted := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if ss.deleteLocked(collection, id) {
			deleted = append(deleted, id)
		}
	}
	return result.Ok(map[string]any{"deleted": deleted})
}

// Find performs a full scan across every shard (spec §4.4), decoding each
// stored document on demand via decode (the wire codec, supplied by the
// caller so this package stays independent of the wire format).
func (ss *ShardSet) Find(collection string, where Where, decode func([]byte) (map[string]any, error)) result.Response {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := make([]map[string]any, 0)
	for _, s := range ss.shards {
		s.Range(collection, func(id uint64, doc []byte) {
			decoded, err := decode(doc)
			if err != nil {
				return
			}
			if Eval(where, decoded) {
				out = append(out, map[string]any{"id": id, "doc": doc})
			}
		})
	}
	return result.Ok(out)
}

// rotateLocked spawns a new active shard, seeding every known collection's
// counter from the current global nextId so allocation stays monotonic
// across shards (spec §3 "Shard Set" invariants). Must be called with mu
// held.
func (ss *ShardSet) rotateLocked() {
	next := New(ss.capacity)
	for collection, seed := range ss.nextIds {
		next.SeedCollection(collection, seed)
	}
	ss.shards = append(ss.shards, next)
	ss.active = len(ss.shards) - 1
}

// handleEviction is registered with the governor's onEviction subscribers
// (spec §4.4 "Recency eviction wiring"): target = 0.2·rss, delete the
// oldest-touched keys until that target is met, and track the emergency
// brake (spec §4.4 "Emergency brake").
func (ss *ShardSet) handleEviction() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	stats := ss.gov.Stat()
	target := int64(float64(stats.RssBytes) * 0.2)
	for _, k := range ss.gov.EvictByRecency(target) {
		ss.deleteLocked(k.Collection, k.DocId)
	}

	now := time.Now()
	if !ss.lastEvictionAt.IsZero() && now.Sub(ss.lastEvictionAt) <= time.Second {
		ss.closeEvictionCount++
	} else {
		ss.closeEvictionCount = 0
	}
	ss.lastEvictionAt = now
	if ss.closeEvictionCount >= 3 {
		ss.gov.StopMonitoring()
		stdlog.Println("shard: emergency brake tripped (3 close evictions), monitor stopped")
		ss.closeEvictionCount = 0
	}
}

// handleEmergency drops the active-transaction bookkeeping set, a
// best-effort cancellation handle for in-flight bulk callers (spec §4.4
// "Emergency wiring", §5 "Cancellation and timeouts").
func (ss *ShardSet) handleEmergency() {
	ss.txMu.Lock()
	defer ss.txMu.Unlock()
	ss.activeTxns = make(map[string]struct{})
}

// BeginTxn and EndTxn let a bulk caller register itself in the
// active-transaction set so an emergency can observe and drop it.
func (ss *ShardSet) BeginTxn(id string) {
	ss.txMu.Lock()
	defer ss.txMu.Unlock()
	ss.activeTxns[id] = struct{}{}
}

func (ss *ShardSet) EndTxn(id string) {
	ss.txMu.Lock()
	defer ss.txMu.Unlock()
	delete(ss.activeTxns, id)
}

func (ss *ShardSet) TxnActive(id string) bool {
	ss.txMu.Lock()
	defer ss.txMu.Unlock()
	_, ok := ss.activeTxns[id]
	return ok
}
