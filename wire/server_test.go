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
package wire

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikolagigic/shindb/catalog"
	"github.com/nikolagigic/shindb/codec"
	"github.com/nikolagigic/shindb/config"
	"github.com/nikolagigic/shindb/engine"
	"github.com/nikolagigic/shindb/governor"
	applog "github.com/nikolagigic/shindb/log"
	"github.com/nikolagigic/shindb/shard"
)

type nullSink struct{}

func (nullSink) WriteSegment([]byte) error { return nil }
func (nullSink) Close() error              { return nil }

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cfg := config.Defaults()
	cfg.MaxRssBytes = 1 << 30
	cfg.MaxHeapBytes = 1 << 30
	gov := governor.New(cfg, func() governor.MemSample { return governor.MemSample{} })
	lg := applog.New(nullSink{}, 1, nil)
	shards := shard.NewShardSet(6_000_000, gov, lg)
	eng := engine.New(catalog.New(), shards, lg, gov)
	return NewDispatcher(eng)
}

func writeRawFrame(t *testing.T, conn net.Conn, body []byte) {
	t.Helper()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	_, err := conn.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = conn.Write(body)
	require.NoError(t, err)
}

func readRawFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var lenBuf [4]byte
	_, err := io.ReadFull(conn, lenBuf[:])
	require.NoError(t, err)
	length := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, length)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func TestReadFrameRoundTripsOverPipe(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := NewServer("", newTestDispatcher(t))
	go func() {
		body, _ := codec.Encode(map[string]any{"hello": "world"})
		writeRawFrame(t, client, body)
	}()

	payload, err := s.readFrame(server)
	require.NoError(t, err)
	decoded, err := codec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "world", decoded.(map[string]any)["hello"])
}

func TestReadFrameRejectsOversizeMessage(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := NewServer("", newTestDispatcher(t))
	s.MaxMessageBytes = 10

	go func() {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], 1000)
		client.Write(lenBuf[:])
	}()

	_, err := s.readFrame(server)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestHandleMessageUnknownActionErrors(t *testing.T) {
	s := NewServer("", newTestDispatcher(t))
	req, _ := codec.Encode(map[string]any{"action": "drop-table", "collection": "c", "payload": nil})
	_, err := s.handleMessage(req)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestServerEndToEndCreateAndGet(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := NewServer(ln.Addr().String(), newTestDispatcher(t))
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handleConn(conn, uuid.UUID{})
		}
	}()
	defer ln.Close()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	createReq, _ := codec.Encode(map[string]any{
		"action":     "create",
		"collection": "c",
		"payload":    "hello",
	})
	writeRawFrame(t, conn, createReq)
	createRespBytes := readRawFrame(t, conn)
	createResp, err := codec.Decode(createRespBytes)
	require.NoError(t, err)
	m := createResp.(map[string]any)
	assert.Equal(t, "OK", m["status"])
	id := m["data"].(map[string]any)["id"]

	getReq, _ := codec.Encode(map[string]any{
		"action":     "get",
		"collection": "c",
		"payload":    map[string]any{"docId": id},
	})
	writeRawFrame(t, conn, getReq)
	getRespBytes := readRawFrame(t, conn)
	getResp, err := codec.Decode(getRespBytes)
	require.NoError(t, err)
	gm := getResp.(map[string]any)
	assert.Equal(t, "OK", gm["status"])
}
