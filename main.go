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
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/dc0d/onexit"

	"github.com/nikolagigic/shindb/catalog"
	"github.com/nikolagigic/shindb/config"
	"github.com/nikolagigic/shindb/engine"
	"github.com/nikolagigic/shindb/governor"
	applog "github.com/nikolagigic/shindb/log"
	"github.com/nikolagigic/shindb/shard"
	"github.com/nikolagigic/shindb/wire"
)

func main() {
	fmt.Print(`ShinDB Copyright (C) 2025-2026  ShinDB Contributors
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	configPath := flag.String("config", "", "path to a JSON config file (defaults only if empty)")
	watch := flag.Bool("watch-config", false, "hot-reload memory limits from -config on change")
	flag.Parse()

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("shindb: loading config %s: %v", *configPath, err)
		}
		cfg = loaded
	}

	sink, err := buildSink(cfg)
	if err != nil {
		log.Fatalf("shindb: building log sink: %v", err)
	}
	switch cfg.LogCompression {
	case config.CompressionLZ4:
		sink = applog.NewLZ4Sink(sink)
	case config.CompressionXZ:
		sink = applog.NewXZSink(sink)
	}
	var worker *applog.Worker
	if cfg.LogBackend != config.LogBackendFile {
		// remote sinks (S3/Ceph) benefit from offloading flush latency
		// off the engine's hot path (spec §9 "Log offload via background worker").
		worker = applog.NewWorker(sink, 4)
	}
	lg := applog.New(sink, cfg.FlushThresholdBytes, worker)

	gov := governor.New(cfg, nil)
	shards := shard.NewShardSet(int(cfg.ShardCapacity), gov, lg)
	cat := catalog.New()
	eng := engine.New(cat, shards, lg, gov)

	gov.StartMonitoring()
	onexit.Register(func() { gov.StopMonitoring() })
	onexit.Register(func() {
		if err := lg.Close(); err != nil {
			log.Printf("shindb: log close: %v", err)
		}
	})

	if *configPath != "" && *watch {
		stop, err := config.Watch(*configPath, func(updated config.Config) {
			eng.UpdateMemoryConfig(updated)
			log.Printf("shindb: config reloaded from %s", *configPath)
		})
		if err != nil {
			log.Printf("shindb: config watch disabled: %v", err)
		} else {
			onexit.Register(stop)
		}
	}

	dispatcher := wire.NewDispatcher(eng)
	server := wire.NewServer(cfg.BindAddr, dispatcher)
	server.MaxMessageBytes = cfg.MaxMessageBytes
	server.ChunkBytes = cfg.ChunkBytes
	server.ReadTimeout = time.Duration(cfg.ReadTimeoutMs) * time.Millisecond

	log.Printf("shindb: listening on %s (shard capacity %d)", cfg.BindAddr, cfg.ShardCapacity)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("shindb: server exited: %v", err)
	}
}

func buildSink(cfg config.Config) (applog.Sink, error) {
	switch cfg.LogBackend {
	case config.LogBackendFile:
		return applog.NewFileSink(cfg.LogPath)
	case config.LogBackendS3:
		return nil, fmt.Errorf("shindb: s3 log backend requires an S3SinkConfig; configure via code, not -config")
	case config.LogBackendCeph:
		return applog.NewCephSink(applog.CephSinkConfig{})
	default:
		return applog.NewFileSink(cfg.LogPath)
	}
}
