// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	engineBandwidthBps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg2g_player_engine_bandwidth_bps",
		Help: "Last measured segment download bandwidth",
	})

	engineBufferAheadSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg2g_player_engine_buffer_ahead_seconds",
		Help: "Media buffered ahead of the playhead",
	})

	engineLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg2g_player_engine_level",
		Help: "Selected variant index (-1 when unknown)",
	})

	engineSegmentsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg2g_player_engine_segments_loaded",
		Help: "Segments loaded in the current session",
	})

	engineDroppedSegments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg2g_player_engine_dropped_segments",
		Help: "Segments dropped in the current session",
	})

	engineRebuffers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xg2g_player_engine_rebuffers",
		Help: "Rebuffer events in the current session",
	})
)

// EngineSample is the subset of stats exported as gauges.
type EngineSample struct {
	BandwidthBps       float64
	BufferAheadSeconds float64
	Level              int
	SegmentsLoaded     int64
	DroppedSegments    int64
	Rebuffers          int64
}

// SetEngineSample publishes one stats sample.
func SetEngineSample(s EngineSample) {
	engineBandwidthBps.Set(s.BandwidthBps)
	engineBufferAheadSeconds.Set(s.BufferAheadSeconds)
	engineLevel.Set(float64(s.Level))
	engineSegmentsLoaded.Set(float64(s.SegmentsLoaded))
	engineDroppedSegments.Set(float64(s.DroppedSegments))
	engineRebuffers.Set(float64(s.Rebuffers))
}

// ResetEngineSample clears the gauges when no engine is attached.
func ResetEngineSample() {
	SetEngineSample(EngineSample{Level: -1})
}
