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

// Package governor implements the Memory Governor (spec §4.3): it samples
// process memory, maintains the recency index, fires eviction/emergency
// callbacks, answers admission-control queries and provides the rough size
// estimator. It is the systems-language analogue of the teacher's
// storage.CacheManager (storage/cache.go) and storage.softItem, rebuilt
// around the spec's O(1) recency index and explicit RSS/heap limits
// instead of the teacher's single memory-budget-only model.
package governor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nikolagigic/shindb/config"
)

// MemSample is a single observation of process memory.
type MemSample struct {
	RssBytes  int64
	HeapBytes int64
}

// Sampler abstracts the OS-specific process-memory read so Governor's
// sampling loop can be tested without a real process.
type Sampler func() MemSample

type Governor struct {
	cfg atomic.Pointer[config.Config]

	recency *RecencyIndex

	onEviction  []func()
	onEmergency []func()
	subMu       sync.Mutex

	sampler  Sampler
	stopCh   chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup

	lastSample atomic.Pointer[MemSample]
}

func New(cfg config.Config, sampler Sampler) *Governor {
	g := &Governor{
		recency: NewRecencyIndex(),
		sampler: sampler,
	}
	g.cfg.Store(&cfg)
	if g.sampler == nil {
		g.sampler = DefaultSampler
	}
	return g
}

// UpdateConfig swaps the live configuration (exposed via Engine.UpdateMemoryConfig).
func (g *Governor) UpdateConfig(cfg config.Config) {
	g.cfg.Store(&cfg)
}

func (g *Governor) Config() config.Config {
	return *g.cfg.Load()
}

// OnEviction registers a callback invoked when usageFraction crosses the
// eviction threshold.
func (g *Governor) OnEviction(fn func()) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.onEviction = append(g.onEviction, fn)
}

// OnEmergency registers a callback invoked when rss>maxRss or heap>maxHeap.
func (g *Governor) OnEmergency(fn func()) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.onEmergency = append(g.onEmergency, fn)
}

// StartMonitoring launches the sampling loop. Idempotent.
func (g *Governor) StartMonitoring() {
	if !g.running.CompareAndSwap(false, true) {
		return
	}
	g.stopCh = make(chan struct{})
	g.wg.Add(1)
	go g.loop(g.stopCh)
}

// StopMonitoring signals the sampling loop to exit and returns without
// waiting for it, so it is safe to call from an eviction or emergency
// callback running on the loop itself. Idempotent.
func (g *Governor) StopMonitoring() {
	if !g.running.CompareAndSwap(true, false) {
		return
	}
	close(g.stopCh)
}

func (g *Governor) IsMonitoring() bool {
	return g.running.Load()
}

func (g *Governor) loop(stop chan struct{}) {
	defer g.wg.Done()
	for {
		cfg := g.Config()
		interval := time.Duration(cfg.SampleIntervalMs) * time.Millisecond
		if interval <= 0 {
			interval = time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			g.sampleOnce()
		}
	}
}

func (g *Governor) sampleOnce() {
	sample := g.sampler()
	g.lastSample.Store(&sample)
	cfg := g.Config()

	rssFraction := 0.0
	if cfg.MaxRssBytes > 0 {
		rssFraction = float64(sample.RssBytes) / float64(cfg.MaxRssBytes)
	}
	heapFraction := 0.0
	if cfg.MaxHeapBytes > 0 {
		heapFraction = float64(sample.HeapBytes) / float64(cfg.MaxHeapBytes)
	}
	usageFraction := rssFraction
	if heapFraction > usageFraction {
		usageFraction = heapFraction
	}

	// Emergency callbacks run before eviction callbacks: an eviction
	// callback may block on a lock held by an in-flight bulk write, and the
	// emergency callback is what cancels that write.
	if sample.RssBytes > cfg.MaxRssBytes || sample.HeapBytes > cfg.MaxHeapBytes {
		g.fireEmergency()
	}
	if usageFraction >= cfg.EvictionThreshold {
		g.fireEviction()
	}
}

func (g *Governor) fireEviction() {
	g.subMu.Lock()
	cbs := append([]func(){}, g.onEviction...)
	g.subMu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

func (g *Governor) fireEmergency() {
	g.subMu.Lock()
	cbs := append([]func(){}, g.onEmergency...)
	g.subMu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// LastSample returns the most recent observation, or the zero value if
// monitoring has never sampled.
func (g *Governor) LastSample() MemSample {
	if p := g.lastSample.Load(); p != nil {
		return *p
	}
	return MemSample{}
}

// CanAllocate answers the admission-control question (spec §4.3): would
// allocating estBytes more, after a safety margin, keep projected RSS and
// heap under their configured limits? The margin is 1.02 for estimates up
// to 1 GiB and 1.01 above that, matching spec's stated constants exactly.
func (g *Governor) CanAllocate(estBytes int64) bool {
	cfg := g.Config()
	sample := g.LastSample()

	margin := 1.02
	if estBytes > 1<<30 {
		margin = 1.01
	}

	projectedRss := float64(sample.RssBytes+estBytes) * margin
	projectedHeap := float64(sample.HeapBytes+estBytes) * margin

	if cfg.MaxRssBytes > 0 && projectedRss >= float64(cfg.MaxRssBytes) {
		return false
	}
	if cfg.MaxHeapBytes > 0 && projectedHeap >= float64(cfg.MaxHeapBytes) {
		return false
	}
	return true
}

// OverLimit reports whether the last sample already breaches either limit.
func (g *Governor) OverLimit() bool {
	cfg := g.Config()
	sample := g.LastSample()
	return sample.RssBytes > cfg.MaxRssBytes || sample.HeapBytes > cfg.MaxHeapBytes
}

// RecordAccess upserts a single recency entry (spec §4.3 "recordAccess").
func (g *Governor) RecordAccess(key RecencyKey, size int64) {
	g.recency.Touch(key, size)
}

// RecordAccessBulk upserts many recency entries in one pass ("recordAccessBulk").
func (g *Governor) RecordAccessBulk(entries map[RecencyKey]int64) {
	g.recency.TouchBulk(entries)
}

// ForgetAccess removes a recency entry, used on delete.
func (g *Governor) ForgetAccess(key RecencyKey) {
	g.recency.Remove(key)
}

// EvictByRecency returns the oldest-touched keys whose cumulative estSize
// reaches or exceeds targetBytes; empty if the configured eviction policy
// is "none" (spec §4.3).
func (g *Governor) EvictByRecency(targetBytes int64) []RecencyKey {
	cfg := g.Config()
	if cfg.EvictionPolicy == config.EvictionNone {
		return nil
	}
	return g.recency.OldestByTarget(targetBytes)
}

// Stats is the snapshot returned by Engine.GetMemoryStats.
type Stats struct {
	RssBytes      int64
	HeapBytes     int64
	MaxRssBytes   int64
	MaxHeapBytes  int64
	UsageFraction float64
	RecencyCount  int
	Monitoring    bool
}

func (g *Governor) Stat() Stats {
	cfg := g.Config()
	sample := g.LastSample()
	rssFraction := 0.0
	if cfg.MaxRssBytes > 0 {
		rssFraction = float64(sample.RssBytes) / float64(cfg.MaxRssBytes)
	}
	heapFraction := 0.0
	if cfg.MaxHeapBytes > 0 {
		heapFraction = float64(sample.HeapBytes) / float64(cfg.MaxHeapBytes)
	}
	usage := rssFraction
	if heapFraction > usage {
		usage = heapFraction
	}
	return Stats{
		RssBytes:      sample.RssBytes,
		HeapBytes:     sample.HeapBytes,
		MaxRssBytes:   cfg.MaxRssBytes,
		MaxHeapBytes:  cfg.MaxHeapBytes,
		UsageFraction: usage,
		RecencyCount:  g.recency.Len(),
		Monitoring:    g.IsMonitoring(),
	}
}

// DefaultSampler reads heap usage from the Go runtime and approximates RSS
// with it on platforms without a cheaper process-level read. No library in
// this corpus offers a cross-platform process-RSS read (pbnjay/memory, the
// one memory-introspection dependency present in the pack, reports total
// system memory rather than this process's resident set) so this falls
// back to runtime.ReadMemStats, which is also how the teacher's own
// settings/estimator code (storage/cache.go) measures memory pressure.
func DefaultSampler() MemSample {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	rss := readRSS()
	if rss == 0 {
		rss = int64(stats.Sys)
	}
	return MemSample{
		RssBytes:  rss,
		HeapBytes: int64(stats.HeapInuse),
	}
}
