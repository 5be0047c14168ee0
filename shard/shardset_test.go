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
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikolagigic/shindb/config"
	"github.com/nikolagigic/shindb/governor"
	applog "github.com/nikolagigic/shindb/log"
)

// memSink is a minimal in-memory log.Sink for tests, recording segments in
// write order.
type memSink struct {
	mu       sync.Mutex
	segments [][]byte
}

func (m *memSink) WriteSegment(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg := make([]byte, len(data))
	copy(seg, data)
	m.segments = append(m.segments, seg)
	return nil
}

func (m *memSink) Close() error { return nil }

func (m *memSink) all() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.segments))
	copy(out, m.segments)
	return out
}

func roomyConfig() config.Config {
	cfg := config.Defaults()
	cfg.MaxRssBytes = 1 << 30
	cfg.MaxHeapBytes = 1 << 30
	cfg.EvictionThreshold = 0.99
	return cfg
}

func jsonDecode(doc []byte) (map[string]any, error) {
	var out map[string]any
	err := json.Unmarshal(doc, &out)
	return out, err
}

func newTestShardSet(t *testing.T, capacity int) (*ShardSet, *memSink) {
	t.Helper()
	sink := &memSink{}
	lg := applog.New(sink, 1, nil) // flush every AddRecord so sink.all() is observable immediately
	gov := governor.New(roomyConfig(), func() governor.MemSample { return governor.MemSample{} })
	return NewShardSet(capacity, gov, lg), sink
}

func TestSetThenGetRoundTrip(t *testing.T) {
	ss, _ := newTestShardSet(t, 6_000_000)
	resp := ss.Set("c", []byte("hello"))
	require.True(t, resp.IsOK())
	id := resp.Data.(map[string]any)["id"].(uint64)
	assert.Equal(t, uint64(0), id)

	got := ss.Get("c", id)
	require.True(t, got.IsOK())
	assert.Equal(t, []byte("hello"), got.Data.(map[string]any)["doc"])
}

func TestGetMissingReturnsError(t *testing.T) {
	ss, _ := newTestShardSet(t, 6_000_000)
	resp := ss.Get("c", 42)
	assert.False(t, resp.IsOK())
}

func TestMonotonicIdsAcrossShardRotation(t *testing.T) {
	ss, _ := newTestShardSet(t, 2)
	var ids []uint64
	for i := 0; i < 3; i++ {
		resp := ss.Set("c", []byte("x"))
		require.True(t, resp.IsOK())
		ids = append(ids, resp.Data.(map[string]any)["id"].(uint64))
	}
	assert.Equal(t, []uint64{0, 1, 2}, ids)
	assert.Equal(t, 2, ss.MapsCount())

	got := ss.Get("c", 2)
	assert.True(t, got.IsOK())
}

func TestUpdateInPlace(t *testing.T) {
	ss, _ := newTestShardSet(t, 6_000_000)
	resp := ss.Set("c", []byte("v1"))
	id := resp.Data.(map[string]any)["id"].(uint64)

	upd := ss.Update("c", id, []byte("v2"))
	require.True(t, upd.IsOK())

	got := ss.Get("c", id)
	assert.Equal(t, []byte("v2"), got.Data.(map[string]any)["doc"])
}

func TestUpdateMissingReturnsError(t *testing.T) {
	ss, _ := newTestShardSet(t, 6_000_000)
	assert.False(t, ss.Update("c", 9, []byte("x")).IsOK())
}

func TestDeleteRemovesDocAndRecency(t *testing.T) {
	ss, _ := newTestShardSet(t, 6_000_000)
	resp := ss.Set("c", []byte("v1"))
	id := resp.Data.(map[string]any)["id"].(uint64)

	del := ss.Delete("c", id)
	require.True(t, del.IsOK())
	assert.Equal(t, 0, ss.gov.Stat().RecencyCount)
	assert.False(t, ss.Get("c", id).IsOK())
}

func TestGetManySkipsMissesAndAlwaysOK(t *testing.T) {
	ss, _ := newTestShardSet(t, 6_000_000)
	r1 := ss.Set("c", []byte("a"))
	id1 := r1.Data.(map[string]any)["id"].(uint64)

	resp := ss.GetMany("c", []uint64{id1, 999})
	require.True(t, resp.IsOK())
	m := resp.Data.(map[uint64][]byte)
	assert.Len(t, m, 1)
	assert.Equal(t, []byte("a"), m[id1])
}

func TestSetManyAllocatesContiguousIdsAndLogsInOrder(t *testing.T) {
	ss, sink := newTestShardSet(t, 6_000_000)
	docs := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	resp := ss.SetMany("c", docs)
	require.True(t, resp.IsOK())
	ids := resp.Data.(map[string]any)["ids"].([]uint64)
	assert.Equal(t, []uint64{0, 1, 2}, ids)

	var logged []byte
	for _, seg := range sink.all() {
		logged = append(logged, seg...)
	}
	assert.Equal(t, "abc", string(logged))
}

func TestUpdateManyErrorsOnFirstMiss(t *testing.T) {
	ss, _ := newTestShardSet(t, 6_000_000)
	resp := ss.SetMany("c", [][]byte{[]byte("a"), []byte("b")})
	ids := resp.Data.(map[string]any)["ids"].([]uint64)

	bad := ss.UpdateMany("c", []DocUpdate{
		{Id: ids[0], Doc: []byte("a2")},
		{Id: 9999, Doc: []byte("x")},
	})
	assert.False(t, bad.IsOK())

	good := ss.UpdateMany("c", []DocUpdate{{Id: ids[1], Doc: []byte("b2")}})
	assert.True(t, good.IsOK())
}

func TestDeleteManyReportsActualRemovalsAndOK(t *testing.T) {
	ss, _ := newTestShardSet(t, 6_000_000)
	resp := ss.SetMany("c", [][]byte{[]byte("a"), []byte("b")})
	ids := resp.Data.(map[string]any)["ids"].([]uint64)

	del := ss.DeleteMany("c", []uint64{ids[0], 999})
	require.True(t, del.IsOK())
	deleted := del.Data.(map[string]any)["deleted"].([]uint64)
	assert.Equal(t, []uint64{ids[0]}, deleted)
}

func TestFindEvaluatesPredicateAcrossShards(t *testing.T) {
	ss, _ := newTestShardSet(t, 1) // force rotation so docs land on different shards
	u1, _ := json.Marshal(map[string]any{"username": "u1", "age": 29})
	u2, _ := json.Marshal(map[string]any{"username": "u2", "age": 30})
	ss.Set("c", u1)
	ss.Set("c", u2)

	where := Where{And: []Where{
		{Condition: &Condition{Field: "username", Op: Ops{Eq: "u2"}}},
		{Condition: &Condition{Field: "age", Op: Ops{Eq: float64(30)}}},
	}}
	resp := ss.Find("c", where, jsonDecode)
	require.True(t, resp.IsOK())
	rows := resp.Data.([]map[string]any)
	require.Len(t, rows, 1)

	notEq := Where{Condition: &Condition{Field: "age", Op: Ops{Not: &Ops{Eq: float64(30)}}}}
	resp2 := ss.Find("c", notEq, jsonDecode)
	rows2 := resp2.Data.([]map[string]any)
	require.Len(t, rows2, 1)
}

func TestSetManyAdmissionRefusalWhenOverLimit(t *testing.T) {
	cfg := config.Defaults()
	cfg.MaxRssBytes = 100
	cfg.MaxHeapBytes = 100
	gov := governor.New(cfg, func() governor.MemSample {
		return governor.MemSample{RssBytes: 1000, HeapBytes: 1000}
	})
	sink := &memSink{}
	lg := applog.New(sink, 1, nil)
	ss := NewShardSet(6_000_000, gov, lg)

	resp := ss.SetMany("c", [][]byte{[]byte("x")})
	assert.False(t, resp.IsOK())
}

// TestSetManyChunkedIngestSucceedsUnderConstrainedBudget exercises spec §8
// scenario 4: a bulk insert far past the 10,000-document chunking
// threshold, admitted only because setManyLocked falls back to
// chunkedIngestLocked instead of refusing outright (spec §4.4 step 2).
func TestSetManyChunkedIngestSucceedsUnderConstrainedBudget(t *testing.T) {
	cfg := config.Defaults()
	cfg.MaxRssBytes = 2_000_000
	cfg.MaxHeapBytes = 2_000_000
	gov := governor.New(cfg, func() governor.MemSample { return governor.MemSample{} })
	sink := &memSink{}
	lg := applog.New(sink, 1, nil)
	ss := NewShardSet(50_000, gov, lg)

	const n = 12_000
	docs := make([][]byte, n)
	for i := range docs {
		docs[i] = bytes.Repeat([]byte("x"), 128)
	}

	resp := ss.SetMany("c", docs)
	require.True(t, resp.IsOK(), "chunked ingest should still admit the bulk insert")
	ids := resp.Data.(map[string]any)["ids"].([]uint64)
	require.Len(t, ids, n)
	for i, id := range ids {
		assert.Equal(t, uint64(i), id, "ids must stay contiguous across chunk boundaries")
	}

	// every document must be reachable afterward, proving each chunk
	// actually committed rather than being silently dropped.
	assert.True(t, ss.Get("c", ids[0]).IsOK())
	assert.True(t, ss.Get("c", ids[n-1]).IsOK())
}

// TestEvictionUnderPressureRemovesOldestFirst exercises spec §8 scenario 6:
// prefill, then let the governor's real sampling loop observe sustained
// pressure and fire onEviction; the least-recently-touched documents must
// be the ones removed while a just-inserted document survives.
func TestEvictionUnderPressureRemovesOldestFirst(t *testing.T) {
	sink := &memSink{}
	lg := applog.New(sink, 1, nil)
	cfg := config.Defaults()
	cfg.MaxRssBytes = 1000
	cfg.MaxHeapBytes = 1000
	cfg.EvictionThreshold = 0.1
	cfg.SampleIntervalMs = 5
	gov := governor.New(cfg, func() governor.MemSample { return governor.MemSample{RssBytes: 500} })
	ss := NewShardSet(6_000_000, gov, lg)

	oldIds := make([]uint64, 5)
	for i := range oldIds {
		resp := ss.Set("c", bytes.Repeat([]byte("a"), 76)) // EstimateSize == 24+76 == 100
		oldIds[i] = resp.Data.(map[string]any)["id"].(uint64)
	}
	recent := ss.Set("c", bytes.Repeat([]byte("b"), 76))
	recentID := recent.Data.(map[string]any)["id"].(uint64)

	gov.StartMonitoring()
	defer gov.StopMonitoring()

	require.Eventually(t, func() bool {
		return !ss.Get("c", oldIds[0]).IsOK()
	}, 2*time.Second, 5*time.Millisecond, "oldest document was never evicted under sustained memory pressure")

	assert.True(t, ss.Get("c", recentID).IsOK(), "the most recently touched document must survive eviction")
}

// TestEmergencyBrakeStopsMonitorAfterThreeCloseEvictions exercises the
// emergency brake (spec §4.4 "Emergency brake"): handleEviction firing
// four times in quick succession (the first call only seeds
// lastEvictionAt; three more within a second each increment the close
// counter past the trip threshold) stops the governor's monitor.
func TestEmergencyBrakeStopsMonitorAfterThreeCloseEvictions(t *testing.T) {
	ss, _ := newTestShardSet(t, 6_000_000)
	ss.gov.StartMonitoring()
	require.True(t, ss.gov.IsMonitoring())

	ss.handleEviction()
	ss.handleEviction()
	ss.handleEviction()
	assert.True(t, ss.gov.IsMonitoring(), "monitor should still be running before the brake trips")

	ss.handleEviction()
	assert.False(t, ss.gov.IsMonitoring(), "monitor must stop once three close evictions have been observed")
}
