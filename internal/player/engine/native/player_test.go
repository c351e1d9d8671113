// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

import (
	"context"
	"net/http"
	"runtime"
	"testing"
	"time"

	"github.com/ManuGH/xg2g-player/internal/player/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" || !Available("sh") {
		t.Skip("needs a POSIX shell")
	}
}

func collect(p *Player, types ...engine.EventType) <-chan engine.Event {
	ch := make(chan engine.Event, 16)
	for _, typ := range types {
		p.On(typ, func(ev engine.Event) { ch <- ev })
	}
	return ch
}

func next(t *testing.T, ch <-chan engine.Event) engine.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return engine.Event{}
	}
}

func TestPlayer_EndsOnCleanExit(t *testing.T) {
	defer goleak.VerifyNone(t)
	requireShell(t)

	p := New("sh", "-c", "exit 0")
	defer p.Destroy()
	events := collect(p, engine.EventPlaying, engine.EventEnded, engine.EventError)

	require.NoError(t, p.Attach(context.Background(), engine.Source{URL: "http://example.invalid/x.mp4", Kind: engine.SourceFile}))
	assert.Equal(t, engine.EventPlaying, next(t, events).Type)
	assert.Equal(t, engine.EventEnded, next(t, events).Type)
}

func TestPlayer_ErrorOnFailedExit(t *testing.T) {
	defer goleak.VerifyNone(t)
	requireShell(t)

	p := New("sh", "-c", "exit 3")
	defer p.Destroy()
	events := collect(p, engine.EventError)

	require.NoError(t, p.Attach(context.Background(), engine.Source{URL: "http://example.invalid/x.m3u8"}))
	ev := next(t, events)
	require.NotNil(t, ev.Error)
	assert.True(t, ev.Error.Fatal)
	assert.False(t, ev.Element, "a dead player process is a playback failure")
	assert.Equal(t, engine.ErrorOther, ev.Error.Kind)
	assert.Equal(t, "exit status 3", ev.Error.Details)
}

func TestPlayer_DetachIsSilent(t *testing.T) {
	defer goleak.VerifyNone(t)
	requireShell(t)

	p := New("sh", "-c", "sleep 30")
	events := collect(p, engine.EventEnded, engine.EventError)

	require.NoError(t, p.Attach(context.Background(), engine.Source{URL: "http://example.invalid/x.m3u8"}))
	require.NoError(t, p.Detach())
	p.Destroy()

	select {
	case ev := <-events:
		t.Fatalf("unexpected event after detach: %v", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
	assert.ErrorIs(t, p.Attach(context.Background(), engine.Source{URL: "http://x"}), engine.ErrDestroyed)
}

func TestPlayer_StartFailure(t *testing.T) {
	p := New("/nonexistent/player-binary")
	defer p.Destroy()
	err := p.Attach(context.Background(), engine.Source{URL: "http://example.invalid/x"})
	assert.Error(t, err)
}

func TestCommandArgs_MPV(t *testing.T) {
	p := New("/usr/bin/mpv", "--no-terminal")
	src := engine.Source{
		URL:           "http://broker:8088/api/v3/sessions/s/hls/index.m3u8",
		StartPosition: 42.5,
		DecisionToken: "tok",
		Authorize: func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer secret")
		},
	}
	assert.Equal(t, []string{
		"--no-terminal",
		"--start=42.500",
		"--http-header-fields=Authorization: Bearer secret,X-Playback-Decision-Token: tok",
		src.URL,
	}, p.commandArgs(src))
}

func TestCommandArgs_OtherPlayer(t *testing.T) {
	p := New("vlc")
	src := engine.Source{URL: "http://x/y.m3u8", StartPosition: 10, DecisionToken: "tok"}
	assert.Equal(t, []string{"http://x/y.m3u8"}, p.commandArgs(src))
}
