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

// Package wire implements the framed binary protocol (spec §4.6, §6):
// length-prefixed messages carrying {action, collection, payload}
// requests, dispatched to the engine facade over a closed action set.
package wire

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nikolagigic/shindb/catalog"
	"github.com/nikolagigic/shindb/codec"
	"github.com/nikolagigic/shindb/engine"
	"github.com/nikolagigic/shindb/result"
	"github.com/nikolagigic/shindb/shard"
)

// ErrUnknownAction signals a request outside the closed action set (spec
// §6: "Unknown actions close the connection with an error").
var ErrUnknownAction = errors.New("wire: unknown action")

// Dispatcher decodes requests and routes them to the engine facade. A
// collection referenced for the first time is created with an empty
// schema (spec §3 Lifecycles: "Collection: created by set(catalog,…) on
// first reference") since the wire protocol carries no schema-declaration
// action in its closed set — schema authoring is the typed client
// surface's job, explicitly out of scope here (spec §1).
type Dispatcher struct {
	eng *engine.Engine

	mu          sync.Mutex
	collections map[string]*engine.Collection
}

func NewDispatcher(eng *engine.Engine) *Dispatcher {
	return &Dispatcher{eng: eng, collections: make(map[string]*engine.Collection)}
}

func (d *Dispatcher) collection(name string) *engine.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	if !ok {
		c = d.eng.Collection(name, catalog.Schema{Name: name})
		d.collections[name] = c
	}
	return c
}

// Dispatch routes one decoded request to the engine facade and returns
// the Response to frame back to the client. An error return means the
// request was malformed in a way the protocol, not the engine, must
// reject (spec §7 "Codec failure": connection-level, close).
func (d *Dispatcher) Dispatch(action, collectionName string, payload any) (result.Response, error) {
	c := d.collection(collectionName)

	switch action {
	case "create":
		doc, err := codec.Encode(payload)
		if err != nil {
			return result.Response{}, err
		}
		return c.Set(doc), nil

	case "get":
		id, ok := docIdField(payload, "docId")
		if !ok {
			return result.Err(), nil
		}
		return c.Get(id), nil

	case "update":
		m, ok := payload.(map[string]any)
		if !ok {
			return result.Err(), nil
		}
		id, ok := docIdField(m["query"], "docId")
		if !ok {
			return result.Err(), nil
		}
		doc, err := codec.Encode(m["update"])
		if err != nil {
			return result.Response{}, err
		}
		return c.Update(id, doc), nil

	case "delete":
		id, ok := docIdField(payload, "docId")
		if !ok {
			return result.Err(), nil
		}
		return c.Delete(id), nil

	case "createMany":
		list, ok := payload.([]any)
		if !ok {
			return result.Err(), nil
		}
		docs := make([][]byte, len(list))
		for i, v := range list {
			doc, err := codec.Encode(v)
			if err != nil {
				return result.Response{}, err
			}
			docs[i] = doc
		}
		return c.SetMany(docs), nil

	case "getMany":
		ids, ok := toIdList(payload)
		if !ok {
			return result.Err(), nil
		}
		return c.GetMany(ids), nil

	case "updateMany":
		list, ok := payload.([]any)
		if !ok {
			return result.Err(), nil
		}
		updates := make([]shard.DocUpdate, len(list))
		for i, v := range list {
			m, ok := v.(map[string]any)
			if !ok {
				return result.Err(), nil
			}
			id, ok := docIdField(m, "id")
			if !ok {
				return result.Err(), nil
			}
			doc, err := codec.Encode(m["doc"])
			if err != nil {
				return result.Response{}, err
			}
			updates[i] = shard.DocUpdate{Id: id, Doc: doc}
		}
		return c.UpdateMany(updates), nil

	case "deleteMany":
		ids, ok := toIdList(payload)
		if !ok {
			return result.Err(), nil
		}
		return c.DeleteMany(ids), nil

	case "find":
		where, err := parseWhere(payload)
		if err != nil {
			return result.Err(), nil
		}
		return c.Find(where), nil

	default:
		return result.Response{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
}

func docIdField(v any, field string) (uint64, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	return toUint64(m[field])
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

func toIdList(v any) ([]uint64, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	ids := make([]uint64, len(list))
	for i, e := range list {
		id, ok := toUint64(e)
		if !ok {
			return nil, false
		}
		ids[i] = id
	}
	return ids, true
}

// parseWhere turns a decoded generic value into the tagged-sum Where
// tree (spec §4.4 grammar, §9 "model Where as a tagged sum").
func parseWhere(v any) (shard.Where, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return shard.Where{}, fmt.Errorf("wire: where expression must be a map")
	}
	if and, ok := m["AND"]; ok {
		subs, err := parseWhereList(and)
		if err != nil {
			return shard.Where{}, err
		}
		return shard.Where{And: subs}, nil
	}
	if or, ok := m["OR"]; ok {
		subs, err := parseWhereList(or)
		if err != nil {
			return shard.Where{}, err
		}
		return shard.Where{Or: subs}, nil
	}
	field, ok := m["field"].(string)
	if !ok {
		return shard.Where{}, fmt.Errorf("wire: condition missing field")
	}
	ops, err := parseOps(m["op"])
	if err != nil {
		return shard.Where{}, err
	}
	return shard.Where{Condition: &shard.Condition{Field: field, Op: ops}}, nil
}

func parseWhereList(v any) ([]shard.Where, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("wire: AND/OR must be a list")
	}
	out := make([]shard.Where, len(list))
	for i, e := range list {
		w, err := parseWhere(e)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func parseOps(v any) (shard.Ops, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return shard.Ops{}, fmt.Errorf("wire: op must be a map")
	}
	var ops shard.Ops
	if val, ok := m["eq"]; ok {
		ops.Eq = val
	}
	if val, ok := m["gt"]; ok {
		ops.Gt = val
	}
	if val, ok := m["lt"]; ok {
		ops.Lt = val
	}
	if val, ok := m["gte"]; ok {
		ops.Gte = val
	}
	if val, ok := m["lte"]; ok {
		ops.Lte = val
	}
	if val, ok := m["in"].([]any); ok {
		ops.In = val
	}
	if val, ok := m["nin"].([]any); ok {
		ops.Nin = val
	}
	if val, ok := m["contains"]; ok {
		ops.Contains = val
	}
	if val, ok := m["overlap"].([]any); ok {
		ops.Overlap = val
	}
	if val, ok := m["not"]; ok {
		inner, err := parseOps(val)
		if err != nil {
			return shard.Ops{}, err
		}
		ops.Not = &inner
	}
	return ops, nil
}
