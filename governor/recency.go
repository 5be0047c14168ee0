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
	"container/list"
	"fmt"
	"sync"
	"time"
)

// RecencyKey identifies a document across its collection.
type RecencyKey struct {
	Collection string
	DocId      uint64
}

func (k RecencyKey) String() string {
	return fmt.Sprintf("%s:%d", k.Collection, k.DocId)
}

type recencyEntry struct {
	key          RecencyKey
	lastAccessed time.Time
	estSize      int64
}

// RecencyIndex maps (collection, DocId) to last-access time and estimated
// size (spec §3 "Recency Index"). It is a doubly-linked list plus a hash
// map keyed by RecencyKey, giving O(1) touch and O(1) oldest-entry removal
// (spec §9 "Recency map" design note), unlike the teacher's CacheManager
// cache.go which re-sorts its whole item slice on every eviction.
type RecencyIndex struct {
	mu      sync.Mutex
	order   *list.List // front = least recently used, back = most recently used
	entries map[RecencyKey]*list.Element
}

func NewRecencyIndex() *RecencyIndex {
	return &RecencyIndex{
		order:   list.New(),
		entries: make(map[RecencyKey]*list.Element),
	}
}

// Touch upserts key, moving it to the most-recently-used end.
func (r *RecencyIndex) Touch(key RecencyKey, estSize int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLocked(key, estSize)
}

func (r *RecencyIndex) touchLocked(key RecencyKey, estSize int64) {
	if el, ok := r.entries[key]; ok {
		el.Value.(*recencyEntry).lastAccessed = time.Now()
		el.Value.(*recencyEntry).estSize = estSize
		r.order.MoveToBack(el)
		return
	}
	entry := &recencyEntry{key: key, lastAccessed: time.Now(), estSize: estSize}
	r.entries[key] = r.order.PushBack(entry)
}

// TouchBulk upserts many keys in one locked pass (recordAccessBulk, spec §4.3).
func (r *RecencyIndex) TouchBulk(entries map[RecencyKey]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, size := range entries {
		r.touchLocked(key, size)
	}
}

// Remove deletes key from the index, as happens on delete (spec §3
// "Recency entry... destroyed by delete or by eviction").
func (r *RecencyIndex) Remove(key RecencyKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if el, ok := r.entries[key]; ok {
		r.order.Remove(el)
		delete(r.entries, key)
	}
}

// Has reports whether key currently has a recency entry.
func (r *RecencyIndex) Has(key RecencyKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// OldestByTarget returns the oldest-touched keys whose cumulative estSize
// reaches or exceeds targetBytes, oldest first (spec §4.3 "evictByRecency").
func (r *RecencyIndex) OldestByTarget(targetBytes int64) []RecencyKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []RecencyKey
	var sum int64
	for el := r.order.Front(); el != nil && sum < targetBytes; el = el.Next() {
		entry := el.Value.(*recencyEntry)
		keys = append(keys, entry.key)
		sum += entry.estSize
	}
	return keys
}

func (r *RecencyIndex) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
