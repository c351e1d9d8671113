// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package player is the streaming session controller. It keeps a local
// playback engine and a leased broker session coherent: capability
// negotiation, start intents and readiness polling, engine attach and
// error recovery, lease heartbeats, timeline and resume handling, and an
// at-most-once stop on teardown.
package player

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/xg2g-player/internal/config"
	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/metrics"
	xgnet "github.com/ManuGH/xg2g-player/internal/platform/net"
	"github.com/ManuGH/xg2g-player/internal/player/broker"
	"github.com/ManuGH/xg2g-player/internal/player/capabilities"
	"github.com/ManuGH/xg2g-player/internal/player/engine"
	"github.com/ManuGH/xg2g-player/internal/player/lease"
	"github.com/ManuGH/xg2g-player/internal/player/policy"
	"github.com/ManuGH/xg2g-player/internal/player/resume"
	"github.com/ManuGH/xg2g-player/internal/player/session"
	"github.com/ManuGH/xg2g-player/internal/player/stats"
	"github.com/ManuGH/xg2g-player/internal/player/timeline"
	"github.com/ManuGH/xg2g-player/internal/telemetry"
	"github.com/rs/zerolog"
)

const (
	defaultTeardownQuiet = 50 * time.Millisecond
	defaultIdleHide      = 3 * time.Second
	flushTimeout         = 2 * time.Second
	feedbackTimeout      = 5 * time.Second
)

var (
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("player: controller closed")
	// ErrNothingToRetry is returned by Retry before any start.
	ErrNothingToRetry = errors.New("player: nothing to retry")
	// ErrNoSession is returned by session operations while idle.
	ErrNoSession = errors.New("player: no active session")
	// ErrNoResumeOffer is returned by AcceptResume without a pending offer.
	ErrNoResumeOffer = errors.New("player: no resume offer")
)

// Broker is the part of the broker client the controller uses.
type Broker interface {
	session.API
	lease.API
	ResolveURL(ref string) (string, error)
	Authorize(req *http.Request)
}

// EngineFactory builds a fresh engine of the given kind.
type EngineFactory func(kind engine.Kind) (engine.Engine, error)

// Options wires the controller's collaborators.
type Options struct {
	Broker       Broker
	Engines      EngineFactory
	Availability engine.Availability

	// Host is probed for codecs unless Codecs is set.
	Host   capabilities.Host
	Codecs []capabilities.Codec

	Policy  policy.Flags
	Session session.Options

	// Resume is optional; without it only the broker's resume hint is used.
	Resume     resume.Store
	Principal  string
	AutoResume bool

	TeardownQuiet      time.Duration
	StatsInterval      time.Duration
	CheckpointInterval time.Duration
	IdleHide           time.Duration
}

type startRequest struct {
	live        bool
	serviceRef  string
	recordingID string
}

// activeSession is everything owned by one start. Mutable fields are
// guarded by Controller.mu.
type activeSession struct {
	gen     uint64
	req     startRequest
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time

	sessionID     string
	correlationID string
	requestID     string
	mode          session.Mode
	brokerState   broker.SessionState
	playbackURL   string
	contract      policy.Contract
	codecs        []string

	eng        engine.Engine
	engineKind engine.Kind
	unsub      []func()
	attached   bool
	recovered  map[engine.ErrorKind]bool

	// tearingDown is set once release starts; element errors raised before
	// quietUntil are teardown noise.
	tearingDown bool
	quietUntil  time.Time

	lease      *lease.Loop
	checkpoint *timeline.Checkpointer
	resume     *resume.State
}

// Controller drives one playback at a time. All methods are safe for
// concurrent use. Close must be called to release its goroutines.
type Controller struct {
	opts    Options
	mgr     *session.Manager
	tracker *timeline.Tracker
	monitor *stats.Monitor
	logger  zerolog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	queue      queue
	loopDone   chan struct{}
	bg         sync.WaitGroup
	starts     sync.WaitGroup

	mu              sync.Mutex
	gen             uint64
	status          Status
	lastErr         *Error
	active          *activeSession
	last            *startRequest
	closed          bool
	controlsVisible bool
	idle            *time.Timer
	watchers        map[int]chan Snapshot
	nextWatcher     int
}

// New builds a controller and starts its event goroutine.
func New(opts Options) (*Controller, error) {
	if opts.Broker == nil {
		return nil, errors.New("player: broker is required")
	}
	if opts.Engines == nil {
		return nil, errors.New("player: engine factory is required")
	}
	if opts.TeardownQuiet <= 0 {
		opts.TeardownQuiet = defaultTeardownQuiet
	}
	if opts.IdleHide <= 0 {
		opts.IdleHide = defaultIdleHide
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:       opts,
		mgr:        session.NewManager(opts.Broker, opts.Session),
		tracker:    timeline.New(session.ModeUnknown, nil),
		monitor:    stats.New(opts.StatsInterval),
		logger:     xglog.WithComponent("player"),
		baseCtx:    ctx,
		baseCancel: cancel,
		queue:      newQueue(),
		loopDone:   make(chan struct{}),
		status:     StatusIdle,
		watchers:   make(map[int]chan Snapshot),
	}
	go c.run()
	return c, nil
}

// ApplyConfig takes the hot-reloadable playback tunables.
func (c *Controller) ApplyConfig(pc config.PlaybackConfig) {
	c.mgr.SetTiming(pc.PollInterval, pc.PollAttempts)
	c.mu.Lock()
	if pc.TeardownQuiet > 0 {
		c.opts.TeardownQuiet = pc.TeardownQuiet
	}
	if pc.IdleHide > 0 {
		c.opts.IdleHide = pc.IdleHide
	}
	c.mu.Unlock()
}

// StartLive tunes serviceRef. It returns once the engine is attached or the
// start failed; a failure is also reflected in the status.
func (c *Controller) StartLive(ctx context.Context, serviceRef string) error {
	return c.start(ctx, startRequest{live: true, serviceRef: serviceRef})
}

// StartRecording plays a recording.
func (c *Controller) StartRecording(ctx context.Context, recordingID string) error {
	return c.start(ctx, startRequest{recordingID: recordingID})
}

// Retry performs a full stop followed by the last start.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last == nil {
		return ErrNothingToRetry
	}
	c.Stop()
	return c.start(ctx, *last)
}

// Stop tears down the active session. It never blocks on the broker.
func (c *Controller) Stop() {
	c.mu.Lock()
	as := c.active
	if as == nil {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.gen++
	c.status = Reduce(c.status, Signal{Type: SignalStop})
	c.mu.Unlock()

	c.release(as)
	c.notify()
}

// Close stops playback and waits for every goroutine the controller owns.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	as := c.active
	c.active = nil
	c.gen++
	if as != nil {
		c.status = Reduce(c.status, Signal{Type: SignalStop})
	}
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
	c.mu.Unlock()

	if as != nil {
		c.release(as)
	}
	c.baseCancel()
	<-c.loopDone
	// An in-flight start may still issue a stop for its orphaned session.
	c.starts.Wait()
	c.bg.Wait()
	c.mgr.Wait()

	c.mu.Lock()
	for id, ch := range c.watchers {
		close(ch)
		delete(c.watchers, id)
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) start(ctx context.Context, req startRequest) (err error) {
	release, err := c.mgr.Acquire()
	if err != nil {
		return err
	}
	defer release()

	as, sctx, err := c.begin(req)
	if err != nil {
		return err
	}
	defer c.starts.Done()
	stop := context.AfterFunc(ctx, as.cancel)
	defer stop()

	sctx, span := telemetry.StartSpan(sctx, "player.start",
		telemetry.SessionAttributes("", "", req.serviceRef, req.recordingID)...)
	defer span.End()

	if req.live {
		err = c.startLive(sctx, as)
	} else {
		err = c.startRecording(sctx, as)
	}
	if err != nil {
		if pe := classify(err); pe != nil {
			telemetry.RecordError(span, err, string(pe.Kind))
		}
		return c.fail(as, err)
	}

	c.mu.Lock()
	span.SetAttributes(telemetry.PlaybackAttributes(string(as.engineKind), string(as.contract), as.codecs)...)
	c.mu.Unlock()
	return nil
}

// begin supersedes any previous session and installs a new one.
func (c *Controller) begin(req startRequest) (*activeSession, context.Context, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, ErrClosed
	}
	prev := c.active
	c.gen++
	ctx, cancel := context.WithCancel(c.baseCtx)
	mode := session.ModeVOD
	if req.live {
		mode = session.ModeLive
	}
	as := &activeSession{
		gen:       c.gen,
		req:       req,
		ctx:       ctx,
		cancel:    cancel,
		started:   time.Now(),
		mode:      mode,
		recovered: make(map[engine.ErrorKind]bool),
	}
	c.active = as
	c.starts.Add(1)
	c.status = Reduce(c.status, Signal{Type: SignalStart})
	c.lastErr = nil
	r := req
	c.last = &r
	c.mu.Unlock()

	if prev != nil {
		c.release(prev)
	}
	c.tracker.Reset(mode, nil)
	c.notify()
	return as, ctx, nil
}

func (c *Controller) codecs(ctx context.Context) []string {
	codecs := c.opts.Codecs
	if len(codecs) == 0 {
		codecs = capabilities.DetectPreferredCodecs(ctx, c.opts.Host)
	}
	out := make([]string, len(codecs))
	for i, cd := range codecs {
		out[i] = string(cd)
	}
	return out
}

func (c *Controller) startLive(ctx context.Context, as *activeSession) error {
	codecs := c.codecs(ctx)
	c.mu.Lock()
	as.codecs = codecs
	c.mu.Unlock()

	started, err := c.mgr.StartLive(ctx, session.LiveRequest{
		ServiceRef: as.req.serviceRef,
		Codecs:     codecs,
	})
	if err != nil {
		return err
	}
	if !c.update(as, func() {
		as.sessionID = started.SessionID
		as.correlationID = started.CorrelationID
		as.requestID = started.RequestID
	}) {
		// Superseded between the intent and now; the session is still ours to stop.
		c.mgr.Stop(started.SessionID, started.CorrelationID)
		return context.Canceled
	}
	ctx = xglog.ContextWithSessionID(ctx, started.SessionID)
	ctx = xglog.ContextWithCorrelationID(ctx, started.CorrelationID)

	s, err := c.mgr.WaitReady(ctx, started.SessionID, func(s broker.Session) {
		c.signal(as, Signal{Type: SignalBrokerState, BrokerState: s.State}, func() { as.brokerState = s.State })
	})
	if err != nil {
		metrics.ObserveStartToReady("live", "failed", time.Since(as.started))
		return err
	}
	if s.PlaybackURL == "" {
		return &session.Error{Sentinel: session.ErrRejected, Message: "session ready without playback url", State: s.State}
	}
	target, err := c.opts.Broker.ResolveURL(s.PlaybackURL)
	if err != nil {
		return &session.Error{Sentinel: session.ErrRejected, Message: "invalid playback url", Err: err}
	}

	mode := session.ParseMode(s.Mode)
	if mode == session.ModeUnknown {
		mode = session.ModeLive
	}
	c.tracker.Reset(mode, s.DurationSeconds)
	c.signal(as, Signal{Type: SignalReady}, func() {
		as.mode = mode
		as.brokerState = s.State
		as.playbackURL = target
	})
	metrics.ObserveStartToReady("live", "ok", time.Since(as.started))

	if err := c.attach(ctx, as, engine.Source{
		URL:  target,
		Kind: engine.SourceHLS,
		Live: mode == session.ModeLive,
	}); err != nil {
		return err
	}

	if s.HeartbeatInterval > 0 {
		var expires time.Time
		if s.LeaseExpiresAt != nil {
			expires = *s.LeaseExpiresAt
		}
		loop := lease.New(c.opts.Broker, started.SessionID, time.Duration(s.HeartbeatInterval)*time.Second, expires)
		c.spawn(as, func(ctx context.Context) {
			if err := loop.Run(ctx); err != nil {
				c.queue.push(item{gen: as.gen, err: err})
			}
		}, func() { as.lease = loop })
	}
	return nil
}

func (c *Controller) startRecording(ctx context.Context, as *activeSession) error {
	recordingID := as.req.recordingID
	codecs := c.codecs(ctx)
	c.mu.Lock()
	as.codecs = codecs
	c.mu.Unlock()

	caps := session.Capabilities(codecs, c.opts.Availability.NativeDecodes)
	info, err := c.mgr.PlaybackInfo(ctx, recordingID, caps)
	if err != nil {
		metrics.ObserveStartToReady("recording", "failed", time.Since(as.started))
		return err
	}
	if !c.update(as, func() { as.sessionID = info.SessionID }) {
		c.mgr.Stop(info.SessionID, "")
		return context.Canceled
	}
	res, err := policy.Resolve(c.opts.Policy, info)
	if err != nil {
		metrics.ObserveStartToReady("recording", "rejected", time.Since(as.started))
		return err
	}
	target, err := c.opts.Broker.ResolveURL(res.URL)
	if err != nil {
		return &session.Error{Sentinel: session.ErrRejected, Message: "invalid playback url", Err: err}
	}
	if res.ProbeRequired {
		if err := c.mgr.ProbeFile(ctx, target, res.DecisionToken); err != nil {
			return err
		}
	}

	kind := engine.SourceHLS
	if res.Kind == policy.KindFile {
		kind = engine.SourceFile
	}
	c.tracker.Reset(session.ModeVOD, res.DurationSeconds)

	state := c.loadResume(ctx, recordingID, res.Resume)
	offer := c.tracker.OfferResume(state)
	if offer && c.opts.AutoResume {
		_ = c.tracker.AcceptResume(state.PosSeconds)
		offer = false
	}

	c.signal(as, Signal{Type: SignalReady}, func() {
		as.requestID = res.RequestID
		as.contract = res.Contract
		as.playbackURL = target
		as.mode = session.ModeVOD
		if offer {
			as.resume = state
		}
	})
	metrics.ObserveStartToReady("recording", "ok", time.Since(as.started))

	if err := c.attach(ctx, as, engine.Source{
		URL:           target,
		Kind:          kind,
		DecisionToken: res.DecisionToken,
	}); err != nil {
		return err
	}

	if c.opts.Resume != nil {
		cp := timeline.NewCheckpointer(c.opts.Resume, c.tracker, c.opts.Principal, recordingID, c.opts.CheckpointInterval)
		c.spawn(as, cp.Run, func() { as.checkpoint = cp })
	}
	return nil
}

// loadResume prefers the local store and falls back to the broker's hint.
func (c *Controller) loadResume(ctx context.Context, recordingID string, hint *broker.ResumeInfo) *resume.State {
	if c.opts.Resume != nil {
		st, err := c.opts.Resume.Get(ctx, c.opts.Principal, recordingID)
		if err != nil {
			c.logger.Warn().Err(err).Str(xglog.FieldRecordingID, recordingID).Msg("resume lookup failed")
		} else if st != nil {
			return st
		}
	}
	if hint == nil {
		return nil
	}
	st := &resume.State{PosSeconds: hint.PosSeconds, DurationSeconds: hint.DurationSeconds}
	if hint.Finished != nil {
		st.Finished = *hint.Finished
	}
	return st
}

// attach selects, builds and attaches the engine. Any previous engine of
// this session is gone by construction: sessions attach once.
func (c *Controller) attach(ctx context.Context, as *activeSession, src engine.Source) error {
	kind, err := engine.Select(src.Kind, c.opts.Availability)
	if err != nil {
		return err
	}
	eng, err := c.opts.Engines(kind)
	if err != nil {
		return err
	}

	var unsub []func()
	for _, t := range []engine.EventType{
		engine.EventManifestParsed, engine.EventLevelLoaded, engine.EventTimeUpdate,
		engine.EventProgress, engine.EventBuffering, engine.EventPlaying,
		engine.EventPaused, engine.EventEnded, engine.EventError, engine.EventMetadata,
	} {
		unsub = append(unsub, eng.On(t, func(ev engine.Event) {
			c.queue.push(item{gen: as.gen, engine: kind, ev: ev, hasEvent: true})
		}))
	}

	if !c.update(as, func() {
		as.eng = eng
		as.engineKind = kind
		as.unsub = unsub
	}) {
		for _, u := range unsub {
			u()
		}
		eng.Destroy()
		return context.Canceled
	}

	if sk, ok := eng.(engine.Seeker); ok {
		c.tracker.SetSeeker(sk.Seek)
	}
	src.Authorize = c.opts.Broker.Authorize

	if err := eng.Attach(ctx, src); err != nil {
		return err
	}
	c.update(as, func() { as.attached = true })

	c.logger.Info().
		Str(xglog.FieldEngine, string(kind)).
		Str(xglog.FieldPlaybackURL, xgnet.SanitizeURL(src.URL)).
		Str(xglog.FieldEvent, "engine.attached").
		Msg("engine attached")

	if ss, ok := eng.(engine.StatsSource); ok {
		c.spawn(as, func(ctx context.Context) { c.monitor.Run(ctx, ss) }, nil)
	}
	return nil
}

// spawn runs fn under the session context. register, when non-nil, runs
// under the lock if the session is still current.
func (c *Controller) spawn(as *activeSession, fn func(context.Context), register func()) {
	c.mu.Lock()
	if c.active != as {
		c.mu.Unlock()
		return
	}
	if register != nil {
		register()
	}
	as.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer as.wg.Done()
		fn(as.ctx)
	}()
}

// update applies fn under the lock when as is still current.
func (c *Controller) update(as *activeSession, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != as {
		return false
	}
	fn()
	return true
}

// signal feeds the reducer and applies fn for the current session.
func (c *Controller) signal(as *activeSession, sig Signal, fn func()) {
	changed := false
	c.mu.Lock()
	if c.active == as {
		if fn != nil {
			fn()
		}
		next := Reduce(c.status, sig)
		if next != c.status {
			c.logger.Debug().Str(xglog.FieldOldState, string(c.status)).Str(xglog.FieldNewState, string(next)).Msg("status changed")
			c.status = next
		}
		changed = true
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// fail ends as with err. Cancellation ends it as stopped.
func (c *Controller) fail(as *activeSession, err error) error {
	pe := classify(err)
	c.end(as, pe)
	if pe == nil {
		return err
	}
	return pe
}

// end makes as inactive (if it still is) with an error or as stopped.
func (c *Controller) end(as *activeSession, pe *Error) {
	c.mu.Lock()
	if c.active != as {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.gen++
	if pe != nil {
		c.status = Reduce(c.status, Signal{Type: SignalError})
		c.lastErr = pe
	} else {
		c.status = Reduce(c.status, Signal{Type: SignalStop})
	}
	sessionID := as.sessionID
	c.mu.Unlock()

	if pe != nil {
		metrics.IncTerminalError(string(pe.Kind))
		c.logger.Error().
			Err(pe.Err).
			Str(xglog.FieldSessionID, sessionID).
			Str("kind", string(pe.Kind)).
			Int(xglog.FieldStatus, pe.Diagnostics.Status).
			Str(xglog.FieldRequestID, pe.Diagnostics.RequestID).
			Str(xglog.FieldEvent, "player.error").
			Msg(pe.Message)
	}
	c.release(as)
	c.notify()
}

// release tears down everything as owns: engine first, then background
// loops, then the final checkpoint and the stop intent.
func (c *Controller) release(as *activeSession) {
	c.mu.Lock()
	eng, unsub := as.eng, as.unsub
	as.eng, as.unsub = nil, nil
	as.attached = false
	as.tearingDown = true
	as.quietUntil = time.Now().Add(c.opts.TeardownQuiet)
	cp := as.checkpoint
	as.checkpoint = nil
	sessionID, correlationID := as.sessionID, as.correlationID
	c.mu.Unlock()

	as.cancel()
	c.tracker.SetSeeker(nil)
	for _, u := range unsub {
		u()
	}
	if eng != nil {
		eng.Destroy()
	}
	as.wg.Wait()

	if cp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := cp.Flush(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("final resume checkpoint failed")
		}
		cancel()
	}
	c.mgr.Stop(sessionID, correlationID)
}
