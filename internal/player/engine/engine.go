// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine defines the playback engine interface shared by the
// adaptive HLS engine and the native player, plus engine selection.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind identifies an engine implementation.
type Kind string

const (
	Adaptive Kind = "adaptive"
	Native   Kind = "native"
)

// SourceKind is the container family of a source.
type SourceKind string

const (
	SourceHLS  SourceKind = "hls"
	SourceFile SourceKind = "file"
)

// EventType names an engine event.
type EventType string

const (
	EventManifestParsed EventType = "manifest_parsed"
	EventLevelLoaded    EventType = "level_loaded"
	EventTimeUpdate     EventType = "time_update"
	EventProgress       EventType = "progress"
	EventBuffering      EventType = "buffering"
	EventPlaying        EventType = "playing"
	EventPaused         EventType = "paused"
	EventEnded          EventType = "ended"
	EventError          EventType = "error"
	EventMetadata       EventType = "metadata"
)

// ErrorKind is the engine error taxonomy.
type ErrorKind string

const (
	ErrorNetwork ErrorKind = "NETWORK"
	ErrorMedia   ErrorKind = "MEDIA"
	ErrorOther   ErrorKind = "OTHER"
)

// ErrorInfo describes an engine failure.
type ErrorInfo struct {
	Kind    ErrorKind
	Fatal   bool
	Details string
	Err     error
}

func (e *ErrorInfo) Error() string {
	state := "non-fatal"
	if e.Fatal {
		state = "fatal"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", state, e.Kind, e.Details, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", state, e.Kind, e.Details)
}

func (e *ErrorInfo) Unwrap() error { return e.Err }

// Range is a seekable interval in seconds.
type Range struct {
	Start float64
	End   float64
}

// Event is delivered to handlers registered with On.
type Event struct {
	Type EventType
	At   time.Time

	Position float64
	// Duration is 0 while unknown; +Inf is never reported.
	Duration float64
	Live     bool
	Seekable []Range
	Level    int

	Error *ErrorInfo
	// Element marks errors raised by the output element rather than the
	// segment engine. They are subject to the teardown quiet window.
	Element bool
}

// Handler receives events. Handlers must not block.
type Handler func(Event)

// Source is what an engine attaches to.
type Source struct {
	URL           string
	Kind          SourceKind
	Live          bool
	StartPosition float64
	DecisionToken string

	// Authorize decorates outgoing media requests (bearer token).
	Authorize func(*http.Request)
}

// Engine is a playback engine. Implementations are safe for concurrent use.
type Engine interface {
	Kind() Kind
	Attach(ctx context.Context, src Source) error
	Detach() error
	On(t EventType, h Handler) (unsubscribe func())
	Destroy()
}

// Reloader reloads the segment index after a fatal network error.
type Reloader interface {
	ReloadSegments() error
}

// MediaRecoverer resets decoding after a fatal media error.
type MediaRecoverer interface {
	RecoverMediaError() error
}

// Seeker moves the playhead.
type Seeker interface {
	Seek(position float64) error
}

// Stats is a point-in-time engine counter snapshot.
type Stats struct {
	BandwidthBps       float64
	BufferAheadSeconds float64
	Level              int
	SegmentsLoaded     int64
	DroppedSegments    int64
	Rebuffers          int64
}

// StatsSource exposes engine counters.
type StatsSource interface {
	Stats() Stats
}

var (
	// ErrNoEngine is returned when no engine can play the source.
	ErrNoEngine = errors.New("engine: no engine supports this source")
	// ErrDestroyed is returned by operations on a destroyed engine.
	ErrDestroyed = errors.New("engine: destroyed")
	// ErrNotAttached is returned when an operation needs a source.
	ErrNotAttached = errors.New("engine: no source attached")
)

// Availability is what the host offers for selection.
type Availability struct {
	// NativeDecodes reports whether the native player can decode the container.
	NativeDecodes bool
	// PreferNative is set for native-engine-preferring host classes.
	PreferNative bool
	// AdaptiveSupported is false only on hosts without the in-process engine.
	AdaptiveSupported bool
}

// Select picks the engine kind for a source. File sources need the native
// player; HLS goes native only when the host decodes natively and prefers it.
func Select(kind SourceKind, a Availability) (Kind, error) {
	switch kind {
	case SourceFile:
		if a.NativeDecodes {
			return Native, nil
		}
		return "", fmt.Errorf("%w: direct file requires a native player", ErrNoEngine)
	case SourceHLS, "":
		if a.NativeDecodes && a.PreferNative {
			return Native, nil
		}
		if a.AdaptiveSupported {
			return Adaptive, nil
		}
		if a.NativeDecodes {
			return Native, nil
		}
		return "", ErrNoEngine
	default:
		return "", fmt.Errorf("%w: source kind %q", ErrNoEngine, kind)
	}
}
