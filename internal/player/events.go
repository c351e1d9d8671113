// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"
	"strings"
	"sync"
	"time"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/metrics"
	"github.com/ManuGH/xg2g-player/internal/player/broker"
	"github.com/ManuGH/xg2g-player/internal/player/engine"
)

// item is one unit of work for the event goroutine: an engine event or a
// background loop failure, stamped with the generation that produced it.
type item struct {
	gen      uint64
	engine   engine.Kind
	ev       engine.Event
	hasEvent bool
	err      error
}

// queue is unbounded so engine callbacks and loops never block on the
// controller.
type queue struct {
	mu    sync.Mutex
	items []item
	wake  chan struct{}
}

func newQueue() queue {
	return queue{wake: make(chan struct{}, 1)}
}

func (q *queue) push(it item) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) drain() []item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (c *Controller) run() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.baseCtx.Done():
			return
		case <-c.queue.wake:
		}
		for _, it := range c.queue.drain() {
			c.handle(it)
		}
	}
}

// handle drops work from superseded sessions.
func (c *Controller) handle(it item) {
	c.mu.Lock()
	as := c.active
	if as == nil || as.gen != it.gen {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if it.err != nil {
		c.end(as, classify(it.err))
		return
	}
	if it.hasEvent {
		c.handleEvent(as, it.engine, it.ev)
	}
}

func (c *Controller) handleEvent(as *activeSession, kind engine.Kind, ev engine.Event) {
	switch ev.Type {
	case engine.EventBuffering:
		c.signal(as, Signal{Type: SignalBuffering}, nil)
	case engine.EventPlaying:
		c.signal(as, Signal{Type: SignalPlaying}, nil)
	case engine.EventPaused:
		c.signal(as, Signal{Type: SignalPaused}, nil)
	case engine.EventEnded:
		_ = c.tracker.Update(ev)
		c.logger.Info().Str(xglog.FieldEvent, "playback.ended").Msg("playback ended")
		c.end(as, nil)
	case engine.EventError:
		c.handleError(as, kind, ev)
	default:
		if err := c.tracker.Update(ev); err != nil {
			c.logger.Warn().Err(err).Msg("deferred seek failed")
		}
		c.notify()
	}
}

// handleError applies the recovery ladder: one segment reload for network
// failures and one decoder reset for media failures per session. Anything
// else, or a repeat, ends the session.
func (c *Controller) handleError(as *activeSession, kind engine.Kind, ev engine.Event) {
	info := ev.Error
	if info == nil {
		info = &engine.ErrorInfo{Kind: engine.ErrorOther, Fatal: true, Details: "unspecified engine error"}
	}
	metrics.IncEngineError(string(kind), strings.ToLower(string(info.Kind)), info.Fatal)

	c.mu.Lock()
	quiet := as.tearingDown && time.Now().Before(as.quietUntil)
	attached := as.attached
	eng := as.eng
	sessionID := as.sessionID
	recovered := as.recovered[info.Kind]
	c.mu.Unlock()

	logger := c.logger.With().
		Str(xglog.FieldSessionID, sessionID).
		Str(xglog.FieldEngine, string(kind)).
		Str(xglog.FieldErrorKind, string(info.Kind)).
		Bool("fatal", info.Fatal).
		Logger()

	// Only element errors are ever discarded; engine failures of the current
	// session always reach the recovery ladder.
	if ev.Element && (quiet || !attached) {
		logger.Debug().Str("details", info.Details).Msg("element error ignored during teardown")
		return
	}
	if !info.Fatal {
		logger.Warn().Str("details", info.Details).Msg("engine error")
		return
	}

	c.feedback(sessionID, info)

	if !recovered && eng != nil {
		var attempt func() error
		switch info.Kind {
		case engine.ErrorNetwork:
			if r, ok := eng.(engine.Reloader); ok {
				attempt = r.ReloadSegments
			}
		case engine.ErrorMedia:
			if r, ok := eng.(engine.MediaRecoverer); ok {
				attempt = r.RecoverMediaError
			}
		}
		if attempt != nil {
			c.update(as, func() { as.recovered[info.Kind] = true })
			err := attempt()
			if err == nil {
				logger.Info().Str(xglog.FieldEvent, "engine.recovered").Msg("engine recovery attempted")
				return
			}
			logger.Warn().Err(err).Msg("engine recovery failed")
		}
	}

	pe := classify(info)
	if pe == nil {
		c.end(as, nil)
		return
	}
	pe.Diagnostics.Engine = string(kind)
	c.end(as, pe)
}

// feedback reports a fatal engine error to the broker in the background.
func (c *Controller) feedback(sessionID string, info *engine.ErrorInfo) {
	if sessionID == "" {
		return
	}
	code := broker.FeedbackCodeUnsupported
	switch info.Kind {
	case engine.ErrorNetwork:
		code = broker.FeedbackCodeNetwork
	case engine.ErrorMedia:
		code = broker.FeedbackCodeDecode
	}
	fb := broker.Feedback{Event: broker.FeedbackError, Code: &code, Message: info.Details}

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(c.baseCtx, feedbackTimeout)
		defer cancel()
		c.mgr.ReportFeedback(ctx, sessionID, fb)
	}()
}
