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
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/jtolds/gls"

	"github.com/nikolagigic/shindb/codec"
	"github.com/nikolagigic/shindb/result"
)

const (
	lengthPrefixBytes = 4
	defaultMaxMessage = 100 * 1024 * 1024
	defaultChunkBytes = 64 * 1024
	defaultReadTimeout = 30 * time.Second
)

var glsMgr = gls.NewContextManager()

// ErrMessageTooLarge is returned (and the connection closed) when a
// frame's declared length exceeds MaxMessageBytes (spec §4.6 step 1,
// §6 "Length > 100 MiB is rejected").
var ErrMessageTooLarge = errors.New("wire: message exceeds max length")

// Server is the TCP front end: it frames/unframes messages and hands
// decoded requests to a Dispatcher (spec §4.6 "Wire Protocol").
type Server struct {
	Addr            string
	MaxMessageBytes int64
	ChunkBytes      int
	ReadTimeout     time.Duration

	Dispatcher *Dispatcher
}

func NewServer(addr string, dispatcher *Dispatcher) *Server {
	return &Server{
		Addr:            addr,
		MaxMessageBytes: defaultMaxMessage,
		ChunkBytes:      defaultChunkBytes,
		ReadTimeout:     defaultReadTimeout,
		Dispatcher:      dispatcher,
	}
}

// ListenAndServe binds Addr and serves connections until Accept fails,
// returning that error. The listener is not exposed to the caller.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("wire: listen %s: %w", s.Addr, err)
	}
	defer ln.Close()
	log.Printf("wire: listening on %s", s.Addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		sessionID := newSessionID()
		glsMgr.SetValues(gls.Values{"session": sessionID.String()}, func() {
			gls.Go(func() { s.handleConn(conn, sessionID) })
		})
	}
}

// handleConn drives spec §4.6's per-connection loop: read a frame,
// dispatch it, write the framed response, repeat until a read/write or
// framing error closes the connection (spec §4.6 step 6, §7 "Framing/
// oversize" and "Codec failure").
func (s *Server) handleConn(conn net.Conn, sessionID uuid.UUID) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("wire: session %s panicked: %v\n%s", sessionID, r, debug.Stack())
		}
	}()

	for {
		payload, err := s.readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("wire: session %s read error: %v", sessionID, err)
			}
			return
		}
		if payload == nil {
			continue // L == 0: skip (spec §4.6 step 1)
		}

		resp, err := s.handleMessage(payload)
		if err != nil {
			log.Printf("wire: session %s: %v", sessionID, err)
			return
		}
		if err := s.writeFrame(conn, resp); err != nil {
			log.Printf("wire: session %s write error: %v", sessionID, err)
			return
		}
	}
}

func (s *Server) handleMessage(payload []byte) ([]byte, error) {
	decoded, err := codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("codec failure: %w", err)
	}
	req, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("codec failure: request is not a map")
	}
	action, _ := req["action"].(string)
	collection, _ := req["collection"].(string)

	resp, err := s.Dispatcher.Dispatch(action, collection, req["payload"])
	if err != nil {
		return nil, err
	}
	return codec.Encode(envelope(resp))
}

func envelope(r result.Response) map[string]any {
	if !r.IsOK() {
		return map[string]any{"status": r.Status.String()}
	}
	return map[string]any{"status": r.Status.String(), "data": r.Data}
}

// readFrame reads one 4-byte-length-prefixed message (spec §4.6 steps 1-2).
// A nil, nil return means the frame declared length 0 and should be
// skipped without dispatching.
func (s *Server) readFrame(conn net.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(s.readTimeout()))

	var lenBuf [lengthPrefixBytes]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, nil
	}
	if int64(length) > s.maxMessageBytes() {
		return nil, ErrMessageTooLarge
	}

	buf := make([]byte, length)
	chunk := s.chunkBytes()
	var read int
	for read < len(buf) {
		end := read + chunk
		if end > len(buf) {
			end = len(buf)
		}
		n, err := io.ReadFull(conn, buf[read:end])
		read += n
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// writeFrame writes the 4-byte length prefix followed by body in
// chunked writes (spec §4.6 step 5).
func (s *Server) writeFrame(conn net.Conn, body []byte) error {
	var lenBuf [lengthPrefixBytes]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	chunk := s.chunkBytes()
	for written := 0; written < len(body); {
		end := written + chunk
		if end > len(body) {
			end = len(body)
		}
		n, err := conn.Write(body[written:end])
		written += n
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) maxMessageBytes() int64 {
	if s.MaxMessageBytes <= 0 {
		return defaultMaxMessage
	}
	return s.MaxMessageBytes
}

func (s *Server) chunkBytes() int {
	if s.ChunkBytes <= 0 {
		return defaultChunkBytes
	}
	return s.ChunkBytes
}

func (s *Server) readTimeout() time.Duration {
	if s.ReadTimeout <= 0 {
		return defaultReadTimeout
	}
	return s.ReadTimeout
}
