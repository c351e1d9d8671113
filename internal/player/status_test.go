// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"testing"

	"github.com/ManuGH/xg2g-player/internal/player/broker"
	"github.com/stretchr/testify/assert"
)

func TestReduce(t *testing.T) {
	tests := []struct {
		name string
		cur  Status
		sig  Signal
		want Status
	}{
		{"start from idle", StatusIdle, Signal{Type: SignalStart}, StatusStarting},
		{"start after error", StatusError, Signal{Type: SignalStart}, StatusStarting},
		{"priming", StatusStarting, Signal{Type: SignalBrokerState, BrokerState: broker.StatePriming}, StatusPriming},
		{"starting again", StatusPriming, Signal{Type: SignalBrokerState, BrokerState: broker.StateStarting}, StatusStarting},
		{"broker state ignored once ready", StatusReady, Signal{Type: SignalBrokerState, BrokerState: broker.StatePriming}, StatusReady},
		{"unknown broker state", StatusStarting, Signal{Type: SignalBrokerState, BrokerState: broker.StateDraining}, StatusStarting},
		{"ready from starting", StatusStarting, Signal{Type: SignalReady}, StatusReady},
		{"ready from priming", StatusPriming, Signal{Type: SignalReady}, StatusReady},
		{"ready ignored while idle", StatusIdle, Signal{Type: SignalReady}, StatusIdle},
		{"playing from ready", StatusReady, Signal{Type: SignalPlaying}, StatusPlaying},
		{"buffering from playing", StatusPlaying, Signal{Type: SignalBuffering}, StatusBuffering},
		{"playing ignored while starting", StatusStarting, Signal{Type: SignalPlaying}, StatusStarting},
		{"paused from playing", StatusPlaying, Signal{Type: SignalPaused}, StatusPaused},
		{"paused ignored from ready", StatusReady, Signal{Type: SignalPaused}, StatusReady},
		{"resume from paused", StatusPaused, Signal{Type: SignalPlaying}, StatusPlaying},
		{"error", StatusPlaying, Signal{Type: SignalError}, StatusError},
		{"error after stop", StatusStopped, Signal{Type: SignalError}, StatusStopped},
		{"ended", StatusPlaying, Signal{Type: SignalEnded}, StatusStopped},
		{"stop", StatusBuffering, Signal{Type: SignalStop}, StatusStopped},
		{"events ignored after error", StatusError, Signal{Type: SignalPlaying}, StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reduce(tt.cur, tt.sig))
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusError.IsTerminal())
	assert.True(t, StatusStopped.IsTerminal())
	assert.False(t, StatusPlaying.IsTerminal())
	assert.False(t, StatusIdle.IsTerminal())
}
