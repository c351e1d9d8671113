// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stats samples engine counters for diagnostics and Prometheus.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/xg2g-player/internal/metrics"
	"github.com/ManuGH/xg2g-player/internal/player/engine"
)

// DefaultInterval is the sampling period.
const DefaultInterval = time.Second

// Snapshot is one sample of engine counters.
type Snapshot struct {
	BandwidthBps       float64   `json:"bandwidthBps"`
	BufferAheadSeconds float64   `json:"bufferAheadSeconds"`
	SegmentsLoaded     int64     `json:"segmentsLoaded"`
	DroppedSegments    int64     `json:"droppedSegments"`
	Rebuffers          int64     `json:"rebuffers"`
	Level              int       `json:"level"`
	SampledAt          time.Time `json:"sampledAt"`
}

// Monitor keeps the latest snapshot. The zero value is not usable; use New.
type Monitor struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	snap Snapshot
	ok   bool
}

// New returns a monitor sampling every interval (DefaultInterval if <= 0).
func New(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{interval: interval, now: time.Now}
}

// Run samples src until ctx is done, then clears the snapshot and gauges.
func (m *Monitor) Run(ctx context.Context, src engine.StatsSource) {
	defer m.clear()
	if src == nil {
		<-ctx.Done()
		return
	}

	m.Sample(src)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sample(src)
		}
	}
}

// Sample reads src once and publishes the result.
func (m *Monitor) Sample(src engine.StatsSource) Snapshot {
	s := src.Stats()
	snap := Snapshot{
		BandwidthBps:       s.BandwidthBps,
		BufferAheadSeconds: s.BufferAheadSeconds,
		SegmentsLoaded:     s.SegmentsLoaded,
		DroppedSegments:    s.DroppedSegments,
		Rebuffers:          s.Rebuffers,
		Level:              s.Level,
		SampledAt:          m.now(),
	}
	m.mu.Lock()
	m.snap, m.ok = snap, true
	m.mu.Unlock()

	metrics.SetEngineSample(metrics.EngineSample{
		BandwidthBps:       snap.BandwidthBps,
		BufferAheadSeconds: snap.BufferAheadSeconds,
		Level:              snap.Level,
		SegmentsLoaded:     snap.SegmentsLoaded,
		DroppedSegments:    snap.DroppedSegments,
		Rebuffers:          snap.Rebuffers,
	})
	return snap
}

// Snapshot returns the latest sample; ok is false before the first one.
func (m *Monitor) Snapshot() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap, m.ok
}

func (m *Monitor) clear() {
	m.mu.Lock()
	m.snap, m.ok = Snapshot{}, false
	m.mu.Unlock()
	metrics.ResetEngineSample()
}
