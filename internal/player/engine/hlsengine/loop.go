// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hlsengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/ManuGH/xg2g-player/internal/player/engine"
	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

type halt int

const (
	running halt = iota
	haltNetwork
	haltMedia
	haltOther
)

type segment struct {
	seq   int
	uri   *url.URL
	start float64
	dur   float64
}

// loop owns all playback state; it only runs on the loader goroutine.
type loop struct {
	e      *Engine
	src    engine.Source
	base   *url.URL
	client *http.Client
	opts   Options

	mediaURL    *url.URL
	loaded      bool
	live        bool
	endlist     bool
	targetDur   time.Duration
	level       int
	segs        []segment
	lastReload  time.Time
	forceReload bool

	nextSeq   int
	bufferEnd float64
	position  float64
	playing   bool
	finished  bool
	lastTick  time.Time

	netFailures   int
	mediaFailures int
	halted        halt
	retryAt       time.Time
}

func (l *loop) run(ctx context.Context) {
	ticker := time.NewTicker(l.opts.TickInterval)
	defer ticker.Stop()

	l.lastTick = time.Now()
	l.emit(l.event(engine.EventBuffering))
	l.step(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.e.wake:
			l.applyPending()
		case <-ticker.C:
		}
		l.advance(time.Now())
		l.step(ctx)
	}
}

func (l *loop) applyPending() {
	l.e.mu.Lock()
	p := l.e.pending
	l.e.pending = pendingOps{}
	l.e.mu.Unlock()

	if p.reload {
		l.netFailures = 0
		l.retryAt = time.Time{}
		if l.halted == haltNetwork {
			l.halted = running
		}
		if l.mediaURL != nil {
			l.forceReload = true
		}
		l.e.logger.Info().Msg("segment index reload requested")
	}
	if p.recover {
		l.mediaFailures = 0
		if l.halted == haltMedia {
			l.halted = running
		}
		l.e.logger.Info().Msg("media recovery requested")
	}
	if p.seek != nil {
		l.seekTo(*p.seek)
	}
}

func (l *loop) step(ctx context.Context) {
	if l.halted != running || ctx.Err() != nil {
		return
	}
	now := time.Now()
	if now.Before(l.retryAt) {
		return
	}

	if l.mediaURL == nil {
		if !l.loadManifest(ctx) {
			return
		}
	} else if l.forceReload || (l.live && !l.endlist && now.Sub(l.lastReload) >= l.targetDur) {
		if !l.reloadMedia(ctx) {
			return
		}
	}

	if l.bufferEnd-l.position < l.opts.MaxBufferAhead.Seconds() {
		l.fetchNext(ctx)
	}
	l.updatePlayState()
}

func (l *loop) loadManifest(ctx context.Context) bool {
	data, err := l.fetch(ctx, l.base, maxPlaylistBytes)
	if err != nil {
		l.networkError(ctx, "manifest", err)
		return false
	}
	pl, err := parsePlaylist(data)
	if err != nil {
		l.fatalOther("manifest", err)
		return false
	}

	switch p := pl.(type) {
	case *playlist.Multivariant:
		idx, err := pickVariant(p.Variants, l.opts.Codecs)
		if err != nil {
			l.fatalOther("variant selection", err)
			return false
		}
		u, err := resolve(l.base, p.Variants[idx].URI)
		if err != nil {
			l.fatalOther("variant uri", err)
			return false
		}
		l.level = idx
		l.mediaURL = u
		l.forceReload = true
		l.emit(l.event(engine.EventManifestParsed))
		l.e.logger.Debug().Int("level", idx).Strs("codecs", p.Variants[idx].Codecs).Msg("variant selected")
		return l.reloadMedia(ctx)

	case *playlist.Media:
		l.level = 0
		l.mediaURL = l.base
		l.emit(l.event(engine.EventManifestParsed))
		return l.applyMedia(p)

	default:
		l.fatalOther("manifest", fmt.Errorf("unsupported playlist type %T", pl))
		return false
	}
}

func (l *loop) reloadMedia(ctx context.Context) bool {
	data, err := l.fetch(ctx, l.mediaURL, maxPlaylistBytes)
	if err != nil {
		l.networkError(ctx, "playlist", err)
		return false
	}
	pl, err := parsePlaylist(data)
	if err != nil {
		l.fatalOther("playlist", err)
		return false
	}
	m, ok := pl.(*playlist.Media)
	if !ok {
		l.fatalOther("playlist", errors.New("variant uri does not point to a media playlist"))
		return false
	}
	return l.applyMedia(m)
}

func (l *loop) applyMedia(m *playlist.Media) bool {
	l.lastReload = time.Now()
	l.forceReload = false
	l.targetDur = time.Duration(m.TargetDuration) * time.Second
	l.endlist = m.Endlist

	first := !l.loaded
	if first {
		l.live = !m.Endlist
		if !l.live && len(m.Segments) == 0 {
			l.fatalOther("playlist", errors.New("playlist has no segments"))
			return false
		}
	}
	l.merge(m)

	if first {
		l.loaded = true
		start := l.src.StartPosition
		if l.live && len(l.segs) > 0 {
			start = math.Max(l.segs[0].start, l.windowEnd()-liveEdgeTargetDurations*l.targetDur.Seconds())
		}
		l.seekTo(start)

		l.emit(l.event(engine.EventLevelLoaded))
		if !l.live {
			l.emit(l.event(engine.EventMetadata))
		}
		l.e.updateStats(func(s *engine.Stats) { s.Level = l.level })
	}
	return true
}

// merge appends segments newer than the last known one and drops the ones
// that slid out of a live window.
func (l *loop) merge(m *playlist.Media) {
	for i, s := range m.Segments {
		seq := m.MediaSequence + i
		if n := len(l.segs); n > 0 && seq <= l.segs[n-1].seq {
			continue
		}
		u, err := resolve(l.mediaURL, s.URI)
		if err != nil {
			l.e.logger.Warn().Err(err).Int("seq", seq).Msg("skipping segment with invalid uri")
			continue
		}
		start := 0.0
		if n := len(l.segs); n > 0 {
			start = l.segs[n-1].start + l.segs[n-1].dur
		}
		l.segs = append(l.segs, segment{seq: seq, uri: u, start: start, dur: s.Duration.Seconds()})
	}

	for len(l.segs) > 0 && l.segs[0].seq < m.MediaSequence {
		l.segs = l.segs[1:]
	}
	if len(l.segs) > 0 && l.loaded && l.nextSeq < l.segs[0].seq {
		// Fell out of the live window.
		l.nextSeq = l.segs[0].seq
		l.bufferEnd = math.Max(l.bufferEnd, l.segs[0].start)
		l.position = math.Max(l.position, l.segs[0].start)
	}
}

func (l *loop) fetchNext(ctx context.Context) {
	seg, ok := l.segment(l.nextSeq)
	if !ok {
		return
	}

	began := time.Now()
	data, err := l.fetch(ctx, seg.uri, maxSegmentBytes)
	if err != nil {
		l.networkError(ctx, fmt.Sprintf("segment %d", seg.seq), err)
		return
	}
	elapsed := time.Since(began)

	if err := validateSegment(data); err != nil {
		l.mediaFailures++
		fatal := l.mediaFailures >= mediaFatalAfter
		l.emitError(engine.ErrorMedia, fatal, fmt.Sprintf("segment %d", seg.seq), err)
		if fatal {
			l.halted = haltMedia
			return
		}
		l.nextSeq = seg.seq + 1
		l.bufferEnd = seg.start + seg.dur
		l.e.updateStats(func(s *engine.Stats) { s.DroppedSegments++ })
		return
	}

	l.mediaFailures = 0
	l.nextSeq = seg.seq + 1
	l.bufferEnd = seg.start + seg.dur
	l.e.updateStats(func(s *engine.Stats) {
		s.SegmentsLoaded++
		if secs := elapsed.Seconds(); secs > 0 {
			s.BandwidthBps = float64(len(data)*8) / secs
		}
	})
	l.emit(l.event(engine.EventProgress))
}

func (l *loop) segment(seq int) (segment, bool) {
	for _, s := range l.segs {
		if s.seq == seq {
			return s, true
		}
	}
	return segment{}, false
}

func (l *loop) advance(now time.Time) {
	dt := now.Sub(l.lastTick).Seconds()
	l.lastTick = now
	if l.playing && dt > 0 {
		l.position = math.Min(l.position+dt, l.bufferEnd)
		l.emit(l.event(engine.EventTimeUpdate))
	}
	l.updatePlayState()

	ahead := math.Max(0, l.bufferEnd-l.position)
	l.e.updateStats(func(s *engine.Stats) { s.BufferAheadSeconds = ahead })
}

func (l *loop) updatePlayState() {
	if l.finished || !l.loaded {
		return
	}
	ahead := l.bufferEnd - l.position
	switch {
	case l.playing && ahead <= 0:
		l.playing = false
		if l.allFetched() {
			l.finished = true
			l.emit(l.event(engine.EventEnded))
			return
		}
		l.e.updateStats(func(s *engine.Stats) { s.Rebuffers++ })
		l.emit(l.event(engine.EventBuffering))
	case !l.playing && ahead > 0:
		l.playing = true
		l.emit(l.event(engine.EventPlaying))
	}
}

func (l *loop) allFetched() bool {
	if l.live && !l.endlist {
		return false
	}
	n := len(l.segs)
	return n == 0 || l.nextSeq > l.segs[n-1].seq
}

// seekTo positions the playhead and restarts buffering at the segment
// covering pos.
func (l *loop) seekTo(pos float64) {
	if !l.loaded {
		l.src.StartPosition = pos
		return
	}
	if len(l.segs) == 0 {
		l.position = math.Max(0, pos)
		return
	}

	first, last := l.segs[0], l.segs[len(l.segs)-1]
	pos = math.Max(first.start, math.Min(pos, last.start+last.dur))

	target := last
	for _, s := range l.segs {
		if pos < s.start+s.dur {
			target = s
			break
		}
	}
	wasPlaying := l.playing
	l.nextSeq = target.seq
	l.bufferEnd = target.start
	l.position = pos
	l.playing = false
	l.finished = false
	if wasPlaying {
		l.emit(l.event(engine.EventBuffering))
	}
}

func (l *loop) windowEnd() float64 {
	if n := len(l.segs); n > 0 {
		return l.segs[n-1].start + l.segs[n-1].dur
	}
	return 0
}

func (l *loop) duration() float64 {
	if l.live {
		return 0
	}
	return l.windowEnd()
}

func (l *loop) seekable() []engine.Range {
	if len(l.segs) == 0 {
		return nil
	}
	return []engine.Range{{Start: l.segs[0].start, End: l.windowEnd()}}
}

func (l *loop) event(t engine.EventType) engine.Event {
	return engine.Event{
		Type:     t,
		Position: l.position,
		Duration: l.duration(),
		Live:     l.live,
		Seekable: l.seekable(),
		Level:    l.level,
	}
}

func (l *loop) emit(ev engine.Event) {
	l.e.events.Emit(ev)
}

func (l *loop) emitError(kind engine.ErrorKind, fatal bool, details string, err error) {
	ev := l.event(engine.EventError)
	ev.Error = &engine.ErrorInfo{Kind: kind, Fatal: fatal, Details: details, Err: err}
	l.e.logger.Warn().Err(err).Str("kind", string(kind)).Bool("fatal", fatal).Str("details", details).Msg("hls engine error")
	l.emit(ev)
}

func (l *loop) networkError(ctx context.Context, what string, err error) {
	if ctx.Err() != nil {
		return
	}
	l.netFailures++
	fatal := l.netFailures >= networkFatalAfter
	l.emitError(engine.ErrorNetwork, fatal, what, err)
	if fatal {
		l.halted = haltNetwork
		return
	}
	l.retryAt = time.Now().Add(l.opts.RetryDelay)
}

func (l *loop) fatalOther(what string, err error) {
	l.halted = haltOther
	l.emitError(engine.ErrorOther, true, what, err)
}

func (l *loop) fetch(ctx context.Context, u *url.URL, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if l.src.Authorize != nil {
		l.src.Authorize(req)
	}
	if l.src.DecisionToken != "" {
		req.Header.Set(headerDecisionToken, l.src.DecisionToken)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: HTTP %d", errNotOK, u.Path, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, err
	}
	l.netFailures = 0
	return data, nil
}
