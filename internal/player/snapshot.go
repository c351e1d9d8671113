// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"time"

	"github.com/ManuGH/xg2g-player/internal/player/broker"
	"github.com/ManuGH/xg2g-player/internal/player/lease"
	"github.com/ManuGH/xg2g-player/internal/player/resume"
	"github.com/ManuGH/xg2g-player/internal/player/session"
	"github.com/ManuGH/xg2g-player/internal/player/stats"
	"github.com/ManuGH/xg2g-player/internal/player/timeline"
)

// Snapshot is the observable controller state.
type Snapshot struct {
	Status          Status              `json:"status"`
	Error           *Error              `json:"error,omitempty"`
	SessionID       string              `json:"session_id,omitempty"`
	CorrelationID   string              `json:"correlation_id,omitempty"`
	RequestID       string              `json:"request_id,omitempty"`
	ServiceRef      string              `json:"service_ref,omitempty"`
	RecordingID     string              `json:"recording_id,omitempty"`
	Mode            session.Mode        `json:"mode,omitempty"`
	BrokerState     broker.SessionState `json:"broker_state,omitempty"`
	PlaybackURL     string              `json:"playback_url,omitempty"`
	Engine          string              `json:"engine,omitempty"`
	Contract        string              `json:"contract,omitempty"`
	Codecs          []string            `json:"codecs,omitempty"`
	Window          timeline.Window     `json:"window"`
	AtLiveEdge      bool                `json:"at_live_edge"`
	Lease           *lease.State        `json:"lease,omitempty"`
	Stats           *stats.Snapshot     `json:"stats,omitempty"`
	ResumeOffer     *resume.State       `json:"resume_offer,omitempty"`
	ControlsVisible bool                `json:"controls_visible"`
}

// Status returns the current playback status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error that ended the last session, if any.
func (c *Controller) Err() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Snapshot returns a copy of the observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:          c.status,
		Error:           c.lastErr,
		ControlsVisible: c.controlsVisible,
	}
	as := c.active
	if as == nil {
		return snap
	}
	snap.SessionID = as.sessionID
	snap.CorrelationID = as.correlationID
	snap.RequestID = as.requestID
	snap.ServiceRef = as.req.serviceRef
	snap.RecordingID = as.req.recordingID
	snap.Mode = as.mode
	snap.BrokerState = as.brokerState
	snap.PlaybackURL = as.playbackURL
	snap.Engine = string(as.engineKind)
	snap.Contract = string(as.contract)
	snap.Codecs = append([]string(nil), as.codecs...)
	snap.Window = c.tracker.Window()
	snap.AtLiveEdge = as.mode == session.ModeLive && c.tracker.IsAtLiveEdge()
	if as.lease != nil {
		st := as.lease.State()
		snap.Lease = &st
	}
	if s, ok := c.monitor.Snapshot(); ok {
		snap.Stats = &s
	}
	if as.resume != nil {
		st := *as.resume
		snap.ResumeOffer = &st
	}
	return snap
}

// Watch streams snapshots on every state change. Slow receivers only see
// the latest one. The channel is closed by cancel or Close.
func (c *Controller) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w, ok := c.watchers[id]; ok {
			delete(c.watchers, id)
			close(w)
		}
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.watchers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Touch shows the controls and restarts the idle timer that hides them.
func (c *Controller) Touch() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.controlsVisible = true
	if c.idle != nil {
		c.idle.Stop()
	}
	c.idle = time.AfterFunc(c.opts.IdleHide, c.hideControls)
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) hideControls() {
	c.mu.Lock()
	if c.closed || !c.controlsVisible {
		c.mu.Unlock()
		return
	}
	c.controlsVisible = false
	c.mu.Unlock()
	c.notify()
}

// SeekTo moves the playhead to pos, clamped to the seekable window. It
// returns the position actually requested.
func (c *Controller) SeekTo(pos float64) (float64, error) {
	if !c.hasSession() {
		return 0, ErrNoSession
	}
	return c.tracker.SeekTo(pos)
}

// SeekBy moves the playhead by delta seconds.
func (c *Controller) SeekBy(delta float64) (float64, error) {
	if !c.hasSession() {
		return 0, ErrNoSession
	}
	return c.tracker.SeekBy(delta)
}

// SeekToLiveEdge jumps to the end of the seekable window.
func (c *Controller) SeekToLiveEdge() (float64, error) {
	if !c.hasSession() {
		return 0, ErrNoSession
	}
	return c.tracker.SeekToLiveEdge()
}

// AcceptResume takes the pending resume offer.
func (c *Controller) AcceptResume() error {
	c.mu.Lock()
	as := c.active
	if as == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if as.resume == nil {
		c.mu.Unlock()
		return ErrNoResumeOffer
	}
	pos := as.resume.PosSeconds
	as.resume = nil
	c.mu.Unlock()

	err := c.tracker.AcceptResume(pos)
	c.notify()
	return err
}

// DismissResume drops the pending resume offer.
func (c *Controller) DismissResume() {
	c.mu.Lock()
	if c.active != nil {
		c.active.resume = nil
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) hasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}
