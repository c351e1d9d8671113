// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package timeline tracks the seekable window, the playhead and resume
// handling of the active session.
package timeline

import (
	"math"
	"sync"

	"github.com/ManuGH/xg2g-player/internal/player/engine"
	"github.com/ManuGH/xg2g-player/internal/player/resume"
	"github.com/ManuGH/xg2g-player/internal/player/session"
)

// LiveEdgeTolerance is how close to the window end counts as live.
const LiveEdgeTolerance = 2.0

// Window is the seekable range and playhead in seconds.
type Window struct {
	SeekableStart   float64  `json:"seekable_start"`
	SeekableEnd     float64  `json:"seekable_end"`
	CurrentPosition float64  `json:"current_position"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// Duration is the window length, never negative.
func (w Window) Duration() float64 {
	return math.Max(0, w.SeekableEnd-w.SeekableStart)
}

// Clamp bounds target to the window, or to >= 0 when the window is empty.
func (w Window) Clamp(target float64) float64 {
	if w.SeekableEnd > w.SeekableStart {
		return math.Min(math.Max(target, w.SeekableStart), w.SeekableEnd)
	}
	return math.Max(0, target)
}

// SeekFunc moves the engine playhead.
type SeekFunc func(position float64) error

// Tracker is safe for concurrent use. Seeks are issued outside the lock.
type Tracker struct {
	mu            sync.Mutex
	mode          session.Mode
	knownDuration *float64
	window        Window
	ended         bool
	seek          SeekFunc

	resumeOffered bool
	pendingSeek   *float64
	metadataSeen  bool
}

// New returns a tracker for one session.
func New(mode session.Mode, knownDuration *float64) *Tracker {
	t := &Tracker{}
	t.Reset(mode, knownDuration)
	return t
}

// Reset starts a new session: the window is cleared and the resume prompt
// may be offered again.
func (t *Tracker) Reset(mode session.Mode, knownDuration *float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = mode
	t.knownDuration = nil
	if knownDuration != nil && *knownDuration > 0 {
		d := *knownDuration
		t.knownDuration = &d
	}
	t.window = Window{}
	t.ended = false
	t.resumeOffered = false
	t.pendingSeek = nil
	t.metadataSeen = false
	t.recomputeLocked(engine.Event{})
}

// SetSeeker installs the engine seek function, nil when detached.
func (t *Tracker) SetSeeker(fn SeekFunc) {
	t.mu.Lock()
	t.seek = fn
	t.mu.Unlock()
}

// Update folds an engine event into the window. When the first event with
// a duration arrives, a deferred resume seek is executed.
func (t *Tracker) Update(ev engine.Event) error {
	t.mu.Lock()
	switch ev.Type {
	case engine.EventTimeUpdate, engine.EventMetadata, engine.EventProgress,
		engine.EventLevelLoaded, engine.EventManifestParsed:
	case engine.EventEnded:
		t.ended = true
		t.mu.Unlock()
		return nil
	default:
		t.mu.Unlock()
		return nil
	}

	if ev.Type == engine.EventTimeUpdate || ev.Position > 0 {
		t.window.CurrentPosition = ev.Position
	}
	t.recomputeLocked(ev)

	var target *float64
	if !t.metadataSeen && t.window.DurationSeconds != nil {
		t.metadataSeen = true
		if t.pendingSeek != nil {
			pos := t.window.Clamp(*t.pendingSeek)
			target = &pos
			t.pendingSeek = nil
		}
	}
	seek := t.seek
	t.mu.Unlock()

	if target != nil && seek != nil {
		return seek(*target)
	}
	return nil
}

func (t *Tracker) recomputeLocked(ev engine.Event) {
	w := &t.window
	if t.mode == session.ModeVOD && t.knownDuration != nil {
		d := *t.knownDuration
		w.SeekableStart, w.SeekableEnd, w.DurationSeconds = 0, d, &d
		return
	}
	if ev.Duration > 0 {
		d := ev.Duration
		w.DurationSeconds = &d
	}
	if len(ev.Seekable) > 0 {
		w.SeekableStart = ev.Seekable[0].Start
		w.SeekableEnd = ev.Seekable[len(ev.Seekable)-1].End
		return
	}
	if w.DurationSeconds != nil && w.SeekableEnd <= w.SeekableStart {
		w.SeekableStart, w.SeekableEnd = 0, *w.DurationSeconds
	}
}

// Window returns a snapshot.
func (t *Tracker) Window() Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.window
	if w.DurationSeconds != nil {
		d := *w.DurationSeconds
		w.DurationSeconds = &d
	}
	return w
}

// Ended reports whether the engine reached the end of the media.
func (t *Tracker) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// IsAtLiveEdge is true for live sessions within LiveEdgeTolerance of the
// window end.
func (t *Tracker) IsAtLiveEdge() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.window
	return t.mode == session.ModeLive && w.Duration() > 0 && math.Abs(w.SeekableEnd-w.CurrentPosition) < LiveEdgeTolerance
}

// SeekTo clamps target and seeks. It returns the clamped position.
func (t *Tracker) SeekTo(target float64) (float64, error) {
	t.mu.Lock()
	pos := t.window.Clamp(target)
	t.window.CurrentPosition = pos
	seek := t.seek
	t.mu.Unlock()

	if seek == nil {
		return pos, engine.ErrNotAttached
	}
	return pos, seek(pos)
}

// SeekBy seeks relative to the playhead.
func (t *Tracker) SeekBy(delta float64) (float64, error) {
	t.mu.Lock()
	target := t.window.CurrentPosition + delta
	t.mu.Unlock()
	return t.SeekTo(target)
}

// SeekToLiveEdge jumps to the end of the window.
func (t *Tracker) SeekToLiveEdge() (float64, error) {
	t.mu.Lock()
	target := t.window.SeekableEnd
	t.mu.Unlock()
	return t.SeekTo(target)
}

// OfferResume reports whether state should be offered to the user. It is
// true at most once per session.
func (t *Tracker) OfferResume(state *resume.State) bool {
	if state == nil || !state.Eligible() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resumeOffered {
		return false
	}
	t.resumeOffered = true
	return true
}

// AcceptResume seeks to pos now if the duration is known, otherwise once
// it first becomes available.
func (t *Tracker) AcceptResume(pos float64) error {
	t.mu.Lock()
	if !t.metadataSeen {
		p := pos
		t.pendingSeek = &p
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	_, err := t.SeekTo(pos)
	return err
}

// PendingSeek returns the deferred resume position, if any.
func (t *Tracker) PendingSeek() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pendingSeek == nil {
		return 0, false
	}
	return *t.pendingSeek, true
}
