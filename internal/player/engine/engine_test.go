// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name    string
		kind    SourceKind
		avail   Availability
		want    Kind
		wantErr bool
	}{
		{"hls adaptive host", SourceHLS, Availability{NativeDecodes: true, AdaptiveSupported: true}, Adaptive, false},
		{"hls native host", SourceHLS, Availability{NativeDecodes: true, PreferNative: true, AdaptiveSupported: true}, Native, false},
		{"hls prefers native but cannot decode", SourceHLS, Availability{PreferNative: true, AdaptiveSupported: true}, Adaptive, false},
		{"hls native fallback", SourceHLS, Availability{NativeDecodes: true}, Native, false},
		{"hls nothing", SourceHLS, Availability{}, "", true},
		{"file native", SourceFile, Availability{NativeDecodes: true, AdaptiveSupported: true}, Native, false},
		{"file without native", SourceFile, Availability{AdaptiveSupported: true}, "", true},
		{"unknown kind", SourceKind("dash"), Availability{NativeDecodes: true, AdaptiveSupported: true}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(tt.kind, tt.avail)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrNoEngine))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmitter(t *testing.T) {
	var e Emitter
	var got []EventType

	unsub := e.On(EventPlaying, func(ev Event) { got = append(got, ev.Type) })
	e.On(EventError, func(ev Event) { got = append(got, ev.Type) })

	e.Emit(Event{Type: EventPlaying})
	e.Emit(Event{Type: EventPaused})
	e.Emit(Event{Type: EventError, Error: &ErrorInfo{Kind: ErrorOther}})

	unsub()
	unsub()
	e.Emit(Event{Type: EventPlaying})

	assert.Equal(t, []EventType{EventPlaying, EventError}, got)
}

func TestEmitter_HandlerMaySubscribe(t *testing.T) {
	var e Emitter
	calls := 0
	e.On(EventPlaying, func(Event) {
		calls++
		e.On(EventEnded, func(Event) { calls++ })
	})
	e.Emit(Event{Type: EventPlaying})
	e.Emit(Event{Type: EventEnded})
	assert.Equal(t, 2, calls)

	e.Reset()
	e.Emit(Event{Type: EventPlaying})
	assert.Equal(t, 2, calls)
}

func TestEmitter_StampsTime(t *testing.T) {
	var e Emitter
	var ev Event
	e.On(EventProgress, func(got Event) { ev = got })
	e.Emit(Event{Type: EventProgress})
	assert.False(t, ev.At.IsZero())
}

func TestErrorInfo(t *testing.T) {
	cause := errors.New("boom")
	e := &ErrorInfo{Kind: ErrorNetwork, Fatal: true, Details: "segment", Err: cause}
	assert.ErrorIs(t, e, cause)
	assert.Equal(t, "fatal NETWORK: segment: boom", e.Error())
	assert.Equal(t, "non-fatal MEDIA: x", (&ErrorInfo{Kind: ErrorMedia, Details: "x"}).Error())
}
