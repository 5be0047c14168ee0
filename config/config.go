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

// Package config loads the flat settings struct spec §6 describes
// ("Configuration surface") from a JSON file with environment variable
// overrides, the way storage.SettingsT is a single flat struct in the
// teacher rather than a hierarchy of per-component config objects.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	units "github.com/docker/go-units"
)

type EvictionPolicy string

const (
	EvictionNone     EvictionPolicy = "none"
	EvictionRecency  EvictionPolicy = "recency"
	EvictionRandom   EvictionPolicy = "random"
)

type LogBackend string

const (
	LogBackendFile LogBackend = "file"
	LogBackendS3   LogBackend = "s3"
	LogBackendCeph LogBackend = "ceph"
)

type LogCompression string

const (
	CompressionNone LogCompression = "none"
	CompressionLZ4  LogCompression = "lz4"
	CompressionXZ   LogCompression = "xz"
)

// Config is the process-wide settings struct. Byte-size fields are stored
// as plain ints after parsing so the hot paths never re-parse strings.
type Config struct {
	// Wire protocol
	BindAddr       string `json:"bindAddr"`
	MaxMessageBytes int64  `json:"maxMessageBytes"`
	ReadTimeoutMs  int    `json:"readTimeoutMs"`
	ChunkBytes     int    `json:"chunkBytes"`

	// Shard set
	ShardCapacity uint `json:"shardCapacity"`

	// Append-only log
	FlushThresholdBytes int64          `json:"flushThresholdBytes"`
	LogBackend          LogBackend     `json:"logBackend"`
	LogCompression      LogCompression `json:"logCompression"`
	LogPath             string         `json:"logPath"`

	// Memory governor
	MaxRssBytes       int64          `json:"maxRssBytes"`
	MaxHeapBytes      int64          `json:"maxHeapBytes"`
	EvictionPolicy    EvictionPolicy `json:"evictionPolicy"`
	EvictionThreshold float64        `json:"evictionThreshold"`
	SampleIntervalMs  int            `json:"sampleIntervalMs"`
}

// Defaults mirror spec §6's "Configuration surface" table exactly.
func Defaults() Config {
	return Config{
		BindAddr:            "127.0.0.1:7333",
		MaxMessageBytes:     100 * 1024 * 1024,
		ReadTimeoutMs:       30_000,
		ChunkBytes:          64 * 1024,
		ShardCapacity:       6_000_000,
		FlushThresholdBytes: 4 * 1024,
		LogBackend:          LogBackendFile,
		LogCompression:      CompressionNone,
		LogPath:             "data/records.aof",
		MaxRssBytes:         1 << 30,       // 1 GiB
		MaxHeapBytes:        512 * 1 << 20, // 512 MiB
		EvictionPolicy:      EvictionRecency,
		EvictionThreshold:   0.8,
		SampleIntervalMs:    1000,
	}
}

// rawConfig mirrors Config but takes byte-size fields as JSON strings,
// either human-readable ("512MB", "1GiB") or a plain byte count
// ("1048576"), the way operators expect from docker/go-units-backed tools.
// A bare JSON number in a byte-size field is a parse error.
type rawConfig struct {
	BindAddr            *string `json:"bindAddr"`
	MaxMessageBytes     *string `json:"maxMessageBytes"`
	ReadTimeoutMs       *int    `json:"readTimeoutMs"`
	ChunkBytes          *string `json:"chunkBytes"`
	ShardCapacity       *uint   `json:"shardCapacity"`
	FlushThresholdBytes *string `json:"flushThresholdBytes"`
	LogBackend          *string `json:"logBackend"`
	LogCompression      *string `json:"logCompression"`
	LogPath             *string `json:"logPath"`
	MaxRssBytes         *string `json:"maxRssBytes"`
	MaxHeapBytes        *string `json:"maxHeapBytes"`
	EvictionPolicy      *string `json:"evictionPolicy"`
	EvictionThreshold   *float64 `json:"evictionThreshold"`
	SampleIntervalMs    *int    `json:"sampleIntervalMs"`
}

// Load reads a JSON config file, falling back to Defaults() for any field
// the file omits, then applies SHINDB_-prefixed environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if len(data) > 0 {
			var raw rawConfig
			if err := json.Unmarshal(data, &raw); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
			if err := applyRaw(&cfg, raw); err != nil {
				return cfg, err
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyRaw(cfg *Config, raw rawConfig) error {
	var err error
	if raw.BindAddr != nil {
		cfg.BindAddr = *raw.BindAddr
	}
	if raw.MaxMessageBytes != nil {
		if cfg.MaxMessageBytes, err = units.RAMInBytes(*raw.MaxMessageBytes); err != nil {
			return fmt.Errorf("config: maxMessageBytes: %w", err)
		}
	}
	if raw.ReadTimeoutMs != nil {
		cfg.ReadTimeoutMs = *raw.ReadTimeoutMs
	}
	if raw.ChunkBytes != nil {
		var n int64
		if n, err = units.RAMInBytes(*raw.ChunkBytes); err != nil {
			return fmt.Errorf("config: chunkBytes: %w", err)
		}
		cfg.ChunkBytes = int(n)
	}
	if raw.ShardCapacity != nil {
		cfg.ShardCapacity = *raw.ShardCapacity
	}
	if raw.FlushThresholdBytes != nil {
		if cfg.FlushThresholdBytes, err = units.RAMInBytes(*raw.FlushThresholdBytes); err != nil {
			return fmt.Errorf("config: flushThresholdBytes: %w", err)
		}
	}
	if raw.LogBackend != nil {
		cfg.LogBackend = LogBackend(*raw.LogBackend)
	}
	if raw.LogCompression != nil {
		cfg.LogCompression = LogCompression(*raw.LogCompression)
	}
	if raw.LogPath != nil {
		cfg.LogPath = *raw.LogPath
	}
	if raw.MaxRssBytes != nil {
		if cfg.MaxRssBytes, err = units.RAMInBytes(*raw.MaxRssBytes); err != nil {
			return fmt.Errorf("config: maxRssBytes: %w", err)
		}
	}
	if raw.MaxHeapBytes != nil {
		if cfg.MaxHeapBytes, err = units.RAMInBytes(*raw.MaxHeapBytes); err != nil {
			return fmt.Errorf("config: maxHeapBytes: %w", err)
		}
	}
	if raw.EvictionPolicy != nil {
		cfg.EvictionPolicy = EvictionPolicy(*raw.EvictionPolicy)
	}
	if raw.EvictionThreshold != nil {
		cfg.EvictionThreshold = *raw.EvictionThreshold
	}
	if raw.SampleIntervalMs != nil {
		cfg.SampleIntervalMs = *raw.SampleIntervalMs
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("SHINDB_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("SHINDB_MAX_MESSAGE_BYTES"); v != "" {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return fmt.Errorf("config: SHINDB_MAX_MESSAGE_BYTES: %w", err)
		}
		cfg.MaxMessageBytes = n
	}
	if v := os.Getenv("SHINDB_MAX_RSS_BYTES"); v != "" {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return fmt.Errorf("config: SHINDB_MAX_RSS_BYTES: %w", err)
		}
		cfg.MaxRssBytes = n
	}
	if v := os.Getenv("SHINDB_MAX_HEAP_BYTES"); v != "" {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return fmt.Errorf("config: SHINDB_MAX_HEAP_BYTES: %w", err)
		}
		cfg.MaxHeapBytes = n
	}
	if v := os.Getenv("SHINDB_EVICTION_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: SHINDB_EVICTION_THRESHOLD: %w", err)
		}
		cfg.EvictionThreshold = f
	}
	return nil
}
