// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hlsengine is the in-process adaptive HLS engine. It resolves the
// manifest, follows the media playlist, downloads and validates segments
// and runs a wallclock playhead over the buffered range.
package hlsengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/platform/httpx"
	xgnet "github.com/ManuGH/xg2g-player/internal/platform/net"
	"github.com/ManuGH/xg2g-player/internal/player/engine"
	"github.com/rs/zerolog"
)

const (
	defaultMaxBufferAhead = 30 * time.Second
	defaultTickInterval   = 250 * time.Millisecond
	defaultRetryDelay     = time.Second
	defaultHeaderTimeout  = 10 * time.Second

	networkFatalAfter = 3
	mediaFatalAfter   = 2

	// Live playback starts this many target durations behind the edge.
	liveEdgeTargetDurations = 3

	maxPlaylistBytes = 4 << 20
	maxSegmentBytes  = 64 << 20

	headerDecisionToken = "X-Playback-Decision-Token"
)

// Options configures an Engine.
type Options struct {
	HTTPClient *http.Client

	// Codecs is the video codec preference, best first ("av1", "hevc", "h264").
	Codecs []string

	MaxBufferAhead time.Duration
	TickInterval   time.Duration
	RetryDelay     time.Duration
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = httpx.Instrument(httpx.NewMediaClient(defaultHeaderTimeout), "hls.fetch")
	}
	if o.MaxBufferAhead <= 0 {
		o.MaxBufferAhead = defaultMaxBufferAhead
	}
	if o.TickInterval <= 0 {
		o.TickInterval = defaultTickInterval
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if len(o.Codecs) == 0 {
		o.Codecs = []string{"h264"}
	}
	return o
}

type pendingOps struct {
	reload  bool
	recover bool
	seek    *float64
}

// Engine implements engine.Engine, engine.Reloader, engine.MediaRecoverer,
// engine.Seeker and engine.StatsSource.
type Engine struct {
	opts   Options
	events engine.Emitter
	logger zerolog.Logger
	wake   chan struct{}

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	destroyed bool
	pending   pendingOps
	stats     engine.Stats
}

var (
	_ engine.Engine         = (*Engine)(nil)
	_ engine.Reloader       = (*Engine)(nil)
	_ engine.MediaRecoverer = (*Engine)(nil)
	_ engine.Seeker         = (*Engine)(nil)
	_ engine.StatsSource    = (*Engine)(nil)
)

// New returns an idle engine.
func New(opts Options) *Engine {
	return &Engine{
		opts:   opts.withDefaults(),
		logger: xglog.WithComponent("hlsengine"),
		wake:   make(chan struct{}, 1),
		stats:  engine.Stats{Level: -1},
	}
}

// Kind implements engine.Engine.
func (e *Engine) Kind() engine.Kind { return engine.Adaptive }

// On implements engine.Engine.
func (e *Engine) On(t engine.EventType, h engine.Handler) func() {
	return e.events.On(t, h)
}

// Attach starts loading src. Any previous source is detached first.
// Failures after this point are reported as error events.
func (e *Engine) Attach(ctx context.Context, src engine.Source) error {
	base, err := url.Parse(src.URL)
	if err != nil || !base.IsAbs() {
		return fmt.Errorf("hlsengine: invalid source url %q", src.URL)
	}
	if err := e.Detach(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return engine.ErrDestroyed
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.pending = pendingOps{}
	e.stats = engine.Stats{Level: -1}

	l := &loop{
		e:      e,
		src:    src,
		base:   base,
		client: e.opts.HTTPClient,
		opts:   e.opts,
		level:  -1,
	}
	go func() {
		defer close(done)
		l.run(runCtx)
	}()

	e.logger.Debug().Str(xglog.FieldPlaybackURL, xgnet.SanitizeURL(base.String())).Msg("hls source attached")
	return nil
}

// Detach stops loading and waits for the loader to exit. It must not be
// called from an event handler.
func (e *Engine) Detach() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return engine.ErrDestroyed
	}
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// Destroy detaches and drops all subscribers. The engine cannot be reused.
func (e *Engine) Destroy() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.destroyed = true
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	e.events.Reset()
}

// ReloadSegments clears a network halt and refetches the segment index.
func (e *Engine) ReloadSegments() error {
	return e.request(func(p *pendingOps) { p.reload = true })
}

// RecoverMediaError clears a media halt and retries the failing segment.
func (e *Engine) RecoverMediaError() error {
	return e.request(func(p *pendingOps) { p.recover = true })
}

// Seek moves the playhead. The position is clamped to the known timeline.
func (e *Engine) Seek(position float64) error {
	return e.request(func(p *pendingOps) { p.seek = &position })
}

// Stats implements engine.StatsSource.
func (e *Engine) Stats() engine.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// request queues an operation for the loader without blocking, so it is
// safe to call from event handlers.
func (e *Engine) request(apply func(*pendingOps)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return engine.ErrDestroyed
	}
	if e.cancel == nil {
		return engine.ErrNotAttached
	}
	apply(&e.pending)
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

func (e *Engine) updateStats(fn func(*engine.Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

var errNotOK = errors.New("unexpected status")
