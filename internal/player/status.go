// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import "github.com/ManuGH/xg2g-player/internal/player/broker"

// Status is the controller's user-facing state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStarting  Status = "starting"
	StatusPriming   Status = "priming"
	StatusBuffering Status = "buffering"
	StatusReady     Status = "ready"
	StatusPlaying   Status = "playing"
	StatusPaused    Status = "paused"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

// IsTerminal reports whether only a new start leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusError || s == StatusStopped
}

// SignalType names an input to Reduce.
type SignalType string

const (
	SignalStart       SignalType = "start"
	SignalBrokerState SignalType = "broker_state"
	SignalReady       SignalType = "ready"
	SignalBuffering   SignalType = "buffering"
	SignalPlaying     SignalType = "playing"
	SignalPaused      SignalType = "paused"
	SignalEnded       SignalType = "ended"
	SignalError       SignalType = "error"
	SignalStop        SignalType = "stop"
)

// Signal is one event fed to the reducer.
type Signal struct {
	Type SignalType
	// BrokerState accompanies SignalBrokerState.
	BrokerState broker.SessionState
}

// transitions lists, per signal, the states it applies in and the target.
// Signals not listed for the current state leave it unchanged.
var transitions = map[SignalType]struct {
	from []Status
	to   Status
}{
	SignalReady:     {from: []Status{StatusStarting, StatusPriming}, to: StatusReady},
	SignalBuffering: {from: []Status{StatusReady, StatusBuffering, StatusPlaying, StatusPaused}, to: StatusBuffering},
	SignalPlaying:   {from: []Status{StatusReady, StatusBuffering, StatusPlaying, StatusPaused}, to: StatusPlaying},
	SignalPaused:    {from: []Status{StatusBuffering, StatusPlaying}, to: StatusPaused},
}

// Reduce is the only place status changes are decided.
func Reduce(cur Status, sig Signal) Status {
	switch sig.Type {
	case SignalStart:
		return StatusStarting
	case SignalStop, SignalEnded:
		return StatusStopped
	case SignalError:
		if cur == StatusStopped {
			return cur
		}
		return StatusError
	case SignalBrokerState:
		if cur != StatusStarting && cur != StatusPriming {
			return cur
		}
		switch sig.BrokerState {
		case broker.StatePriming:
			return StatusPriming
		case broker.StateIdle, broker.StateStarting:
			return StatusStarting
		}
		return cur
	}

	t, ok := transitions[sig.Type]
	if !ok {
		return cur
	}
	for _, from := range t.from {
		if from == cur {
			return t.to
		}
	}
	return cur
}
