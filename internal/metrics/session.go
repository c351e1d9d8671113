// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the player's Prometheus metrics. All labels are
// normalized to a closed set to keep cardinality bounded.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const labelUnknown = "unknown"

var (
	intentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_intent_total",
		Help: "Intents sent to the session broker by type and outcome",
	}, []string{"type", "outcome"})

	readinessPollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_readiness_poll_total",
		Help: "Session readiness polls by classification",
	}, []string{"result"})

	heartbeatTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_heartbeat_total",
		Help: "Lease heartbeats by outcome",
	}, []string{"outcome"})

	engineErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_engine_error_total",
		Help: "Engine errors by engine, kind and fatality",
	}, []string{"engine", "kind", "fatal"})

	terminalErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_terminal_error_total",
		Help: "Errors surfaced to the user by kind",
	}, []string{"kind"})

	feedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_feedback_total",
		Help: "Playback feedback reports by outcome",
	}, []string{"outcome"})

	startToReadySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xg2g_player_start_to_ready_seconds",
		Help:    "Time from start request to engine attach by mode and outcome",
		Buckets: []float64{0.25, 0.5, 1, 2, 3, 4, 5, 8, 13, 20, 30},
	}, []string{"mode", "outcome"})
)

// IncIntent records one intent. Outcome is ok, conflict, rejected or error.
func IncIntent(intentType, outcome string) {
	intentTotal.WithLabelValues(normalizeIntentType(intentType), normalizeOutcome(outcome)).Inc()
}

// IncReadinessPoll records one readiness poll result
// (ready, pending, transient, terminal).
func IncReadinessPoll(result string) {
	switch result {
	case "ready", "pending", "transient", "terminal":
	default:
		result = labelUnknown
	}
	readinessPollTotal.WithLabelValues(result).Inc()
}

// IncHeartbeat records one heartbeat (ok, expired, gone, transient, lease_lapsed).
func IncHeartbeat(outcome string) {
	switch outcome {
	case "ok", "expired", "gone", "transient", "lease_lapsed":
	default:
		outcome = labelUnknown
	}
	heartbeatTotal.WithLabelValues(outcome).Inc()
}

// IncEngineError records one engine error event.
func IncEngineError(engine, kind string, fatal bool) {
	engineErrorTotal.WithLabelValues(normalizeEngine(engine), normalizeErrorKind(kind), strconv.FormatBool(fatal)).Inc()
}

// IncTerminalError records an error that reached the user.
func IncTerminalError(kind string) {
	terminalErrorTotal.WithLabelValues(strings.ToLower(strings.TrimSpace(kind))).Inc()
}

// IncFeedback records one feedback report (sent, dropped, error).
func IncFeedback(outcome string) {
	switch outcome {
	case "sent", "dropped", "error":
	default:
		outcome = labelUnknown
	}
	feedbackTotal.WithLabelValues(outcome).Inc()
}

// ObserveStartToReady records the start latency for a live or recording session.
func ObserveStartToReady(mode, outcome string, d time.Duration) {
	if mode != "live" && mode != "recording" {
		mode = labelUnknown
	}
	startToReadySeconds.WithLabelValues(mode, normalizeOutcome(outcome)).Observe(d.Seconds())
}

func normalizeIntentType(t string) string {
	switch t {
	case "stream.start", "stream.stop":
		return t
	default:
		return labelUnknown
	}
}

func normalizeOutcome(o string) string {
	switch strings.ToLower(strings.TrimSpace(o)) {
	case "ok", "conflict", "rejected", "error", "failed", "aborted":
		return strings.ToLower(strings.TrimSpace(o))
	default:
		return labelUnknown
	}
}

func normalizeEngine(e string) string {
	switch e {
	case "adaptive", "native":
		return e
	default:
		return labelUnknown
	}
}

func normalizeErrorKind(k string) string {
	switch strings.ToLower(k) {
	case "network", "media", "other":
		return strings.ToLower(k)
	default:
		return labelUnknown
	}
}
