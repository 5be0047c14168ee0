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
package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikolagigic/shindb/catalog"
	"github.com/nikolagigic/shindb/codec"
	"github.com/nikolagigic/shindb/config"
	"github.com/nikolagigic/shindb/governor"
	applog "github.com/nikolagigic/shindb/log"
	"github.com/nikolagigic/shindb/shard"
)

type nullSink struct{}

func (nullSink) WriteSegment([]byte) error { return nil }
func (nullSink) Close() error              { return nil }

func newTestEngine(t *testing.T, capacity int) *Engine {
	t.Helper()
	cfg := config.Defaults()
	cfg.MaxRssBytes = 1 << 30
	cfg.MaxHeapBytes = 1 << 30
	gov := governor.New(cfg, func() governor.MemSample { return governor.MemSample{} })
	lg := applog.New(nullSink{}, 1, nil)
	shards := shard.NewShardSet(capacity, gov, lg)
	return New(catalog.New(), shards, lg, gov)
}

func userSchema() catalog.Schema {
	return catalog.Schema{
		Name: "users",
		Fields: []catalog.FieldSchema{
			{Name: "username", Type: catalog.TypeString, Modifiers: map[catalog.Modifier]bool{catalog.ModifierUnique: true}},
			{Name: "age", Type: catalog.TypeNumber},
		},
	}
}

func TestCollectionDeclaresSchemaInCatalog(t *testing.T) {
	e := newTestEngine(t, 6_000_000)
	e.Collection("users", userSchema())
	assert.True(t, e.Catalog.Exists("users"))
}

func TestCollectionSetGetUpdateDelete(t *testing.T) {
	e := newTestEngine(t, 6_000_000)
	users := e.Collection("users", userSchema())

	resp := users.Set([]byte("hello"))
	require.True(t, resp.IsOK())
	id := resp.Data.(map[string]any)["id"].(uint64)

	got := users.Get(id)
	require.True(t, got.IsOK())
	assert.Equal(t, []byte("hello"), got.Data.(map[string]any)["doc"])

	upd := users.Update(id, []byte("world"))
	require.True(t, upd.IsOK())

	del := users.Delete(id)
	require.True(t, del.IsOK())
	assert.False(t, users.Get(id).IsOK())
}

func TestCollectionBulkOperations(t *testing.T) {
	e := newTestEngine(t, 6_000_000)
	users := e.Collection("users", userSchema())

	resp := users.SetMany([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.True(t, resp.IsOK())
	ids := resp.Data.(map[string]any)["ids"].([]uint64)
	require.Len(t, ids, 3)

	many := users.GetMany(ids)
	require.True(t, many.IsOK())
	assert.Len(t, many.Data.(map[uint64][]byte), 3)

	del := users.DeleteMany(ids[:2])
	require.True(t, del.IsOK())
	deleted := del.Data.(map[string]any)["deleted"].([]uint64)
	assert.Len(t, deleted, 2)
}

func TestCollectionFindUsesWireCodecToDecode(t *testing.T) {
	e := newTestEngine(t, 6_000_000)
	users := e.Collection("users", userSchema())

	doc1, err := codec.Encode(map[string]any{"username": "u1", "age": int64(29)})
	require.NoError(t, err)
	doc2, err := codec.Encode(map[string]any{"username": "u2", "age": int64(30)})
	require.NoError(t, err)
	users.Set(doc1)
	users.Set(doc2)

	where := shard.Where{And: []shard.Where{
		{Condition: &shard.Condition{Field: "username", Op: shard.Ops{Eq: "u2"}}},
		{Condition: &shard.Condition{Field: "age", Op: shard.Ops{Eq: int64(30)}}},
	}}
	resp := users.Find(where)
	require.True(t, resp.IsOK())
	rows := resp.Data.([]map[string]any)
	assert.Len(t, rows, 1)
}

func TestEngineMemoryControls(t *testing.T) {
	e := newTestEngine(t, 6_000_000)
	e.StartMemoryMonitoring()
	stats := e.GetMemoryStats()
	assert.True(t, stats.Monitoring)
	e.StopMemoryMonitoring()
	assert.False(t, e.GetMemoryStats().Monitoring)

	cfg := config.Defaults()
	cfg.EvictionThreshold = 0.5
	e.UpdateMemoryConfig(cfg)
	assert.Equal(t, 0.5, e.Gov.Config().EvictionThreshold)

	e.RestartMemoryMonitoring()
	assert.True(t, e.GetMemoryStats().Monitoring)
	e.ResetEmergencyBrake()
}
