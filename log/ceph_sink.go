//go:build ceph

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
package log

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ceph/go-ceph/rados"
)

// CephSinkConfig mirrors storage/persistence-ceph.go's CephFactory fields.
type CephSinkConfig struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string
}

// CephSink writes each flushed buffer as its own RADOS object, the same
// segmenting rationale storage/persistence-ceph.go documents: RADOS has no
// append primitive, so segmenting avoids unbounded single-object growth.
type CephSink struct {
	cfg CephSinkConfig

	mu    sync.Mutex
	conn  *rados.Conn
	ioctx *rados.IOContext
	seg   atomic.Int64
}

func NewCephSink(cfg CephSinkConfig) (*CephSink, error) {
	conn, err := rados.NewConnWithClusterAndUser(cfg.ClusterName, cfg.UserName)
	if err != nil {
		return nil, fmt.Errorf("log: rados conn: %w", err)
	}
	if cfg.ConfFile != "" {
		if err := conn.ReadConfigFile(cfg.ConfFile); err != nil {
			return nil, fmt.Errorf("log: rados read conf: %w", err)
		}
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("log: rados connect: %w", err)
	}
	ioctx, err := conn.OpenIOContext(cfg.Pool)
	if err != nil {
		conn.Shutdown()
		return nil, fmt.Errorf("log: rados open pool %s: %w", cfg.Pool, err)
	}
	return &CephSink{cfg: cfg, conn: conn, ioctx: ioctx}, nil
}

func (s *CephSink) segmentObj() string {
	n := s.seg.Add(1)
	pfx := s.cfg.Prefix
	if pfx != "" {
		pfx += "/"
	}
	return fmt.Sprintf("%srecords.log.%08d", pfx, n)
}

func (s *CephSink) WriteSegment(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioctx.WriteFull(s.segmentObj(), data)
}

func (s *CephSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioctx.Destroy()
	s.conn.Shutdown()
	return nil
}
