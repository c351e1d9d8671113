// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_native_terminate_total",
		Help: "Signals sent to native player process groups by signal and result",
	}, []string{"signal", "result"})

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_player_native_wait_total",
		Help: "Native player process exits after termination by outcome",
	}, []string{"outcome"})
)

// IncProcTerminate records a termination signal. Result is sent, esrch or error.
func IncProcTerminate(signal, result string) {
	switch signal {
	case "SIGTERM", "SIGKILL":
	default:
		signal = labelUnknown
	}
	switch result {
	case "sent", "esrch", "error":
	default:
		result = labelUnknown
	}
	procTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process exited.
func IncProcWait(outcome string) {
	switch outcome {
	case "exit0", "exit_nonzero", "forced_exit0", "forced_error":
	default:
		outcome = labelUnknown
	}
	procWaitTotal.WithLabelValues(outcome).Inc()
}
