// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session drives the broker side of a playback session: start
// intents, readiness polling, idempotent stop, direct-file probing and
// recording playback-info lookups.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/metrics"
	"github.com/ManuGH/xg2g-player/internal/player/broker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const stopTimeout = 5 * time.Second

// Mode is the session's content mode.
type Mode string

const (
	ModeLive    Mode = "LIVE"
	ModeVOD     Mode = "VOD"
	ModeUnknown Mode = "UNKNOWN"
)

// ParseMode normalizes the broker's mode string.
func ParseMode(s string) Mode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIVE":
		return ModeLive
	case "VOD", "RECORDING":
		return ModeVOD
	}
	return ModeUnknown
}

// API is the subset of the broker client the manager needs.
type API interface {
	StartIntent(ctx context.Context, in broker.IntentRequest) (broker.IntentResponse, error)
	StopIntent(ctx context.Context, sessionID, correlationID string) error
	Session(ctx context.Context, sessionID string) (broker.Session, error)
	RecordingStreamInfo(ctx context.Context, recordingID string, caps broker.Capabilities) (broker.PlaybackInfo, error)
	Probe(ctx context.Context, rawURL, decisionToken string) (int, error)
	ReportFeedback(ctx context.Context, sessionID string, fb broker.Feedback) error
}

// Options tunes polling and retries.
type Options struct {
	PollInterval  time.Duration
	PollAttempts  int
	ProbeAttempts int
	ProbeBackoff  time.Duration
	InfoAttempts  int
	MaxRetryAfter time.Duration
}

// DefaultOptions matches the broker's published timing.
func DefaultOptions() Options {
	return Options{
		PollInterval:  100 * time.Millisecond,
		PollAttempts:  180,
		ProbeAttempts: 10,
		ProbeBackoff:  2 * time.Second,
		InfoAttempts:  5,
		MaxRetryAfter: 10 * time.Second,
	}
}

// LiveRequest describes a live start.
type LiveRequest struct {
	ServiceRef    string
	Codecs        []string
	CorrelationID string
	PlaybackMode  string
	DecisionToken string
}

// Started is the accepted start intent.
type Started struct {
	SessionID     string
	CorrelationID string
	RequestID     string
}

// Manager is per controller instance; two managers never share state.
type Manager struct {
	api    API
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	starting bool
	stopped  map[string]struct{}
	lastStop string
	stops    sync.WaitGroup
}

// NewManager returns a manager using api.
func NewManager(api API, opts Options) *Manager {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = def.PollAttempts
	}
	if opts.ProbeAttempts <= 0 {
		opts.ProbeAttempts = def.ProbeAttempts
	}
	if opts.ProbeBackoff <= 0 {
		opts.ProbeBackoff = def.ProbeBackoff
	}
	if opts.InfoAttempts <= 0 {
		opts.InfoAttempts = def.InfoAttempts
	}
	if opts.MaxRetryAfter <= 0 {
		opts.MaxRetryAfter = def.MaxRetryAfter
	}
	return &Manager{
		api:     api,
		opts:    opts,
		logger:  xglog.WithComponent("session"),
		stopped: make(map[string]struct{}),
	}
}

// SetTiming swaps the polling tunables, e.g. after a config reload.
func (m *Manager) SetTiming(pollInterval time.Duration, pollAttempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pollInterval > 0 {
		m.opts.PollInterval = pollInterval
	}
	if pollAttempts > 0 {
		m.opts.PollAttempts = pollAttempts
	}
}

func (m *Manager) options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// Acquire takes the start guard. The returned release must be called once
// the start sequence is over, successful or not.
func (m *Manager) Acquire() (release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.starting {
		return nil, ErrStartInFlight
	}
	m.starting = true
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.starting = false
			m.mu.Unlock()
		})
	}, nil
}

// StartLive posts the stream.start intent for a live service.
func (m *Manager) StartLive(ctx context.Context, req LiveRequest) (Started, error) {
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	params := map[string]string{
		broker.ParamCodecs: strings.Join(req.Codecs, ","),
		broker.ParamMode:   broker.ParamModeLive,
	}
	if req.PlaybackMode != "" {
		params[broker.ParamPlaybackMode] = req.PlaybackMode
	}
	if req.DecisionToken != "" {
		params[broker.ParamDecisionToken] = req.DecisionToken
	}

	logger := m.logger.With().
		Str(xglog.FieldServiceRef, req.ServiceRef).
		Str(xglog.FieldCorrelationID, correlationID).
		Logger()

	resp, err := m.api.StartIntent(ctx, broker.IntentRequest{
		ServiceRef:    req.ServiceRef,
		CorrelationID: correlationID,
		Params:        params,
	})
	if err != nil {
		se := classifyIntent(err)
		metrics.IncIntent(string(broker.IntentStart), outcomeOf(se))
		logger.Warn().Err(err).Str(xglog.FieldEvent, "intent.start.failed").Msg(se.Message)
		return Started{CorrelationID: correlationID}, se
	}
	if resp.SessionID == "" {
		metrics.IncIntent(string(broker.IntentStart), "rejected")
		return Started{CorrelationID: correlationID}, &Error{Sentinel: ErrRejected, Message: "broker returned no session id"}
	}

	metrics.IncIntent(string(broker.IntentStart), "ok")
	if resp.CorrelationID != "" {
		correlationID = resp.CorrelationID
	}
	logger.Info().
		Str(xglog.FieldSessionID, resp.SessionID).
		Str(xglog.FieldRequestID, resp.RequestID).
		Str(xglog.FieldEvent, "intent.start.accepted").
		Msg("start intent accepted")
	return Started{SessionID: resp.SessionID, CorrelationID: correlationID, RequestID: resp.RequestID}, nil
}

func outcomeOf(se *Error) string {
	switch {
	case errors.Is(se, ErrLeaseBusy):
		return "conflict"
	case errors.Is(se, ErrUnavailable):
		return "error"
	}
	return "rejected"
}

// WaitReady polls the session until it is playable, terminal or the attempt
// budget is spent. observe, when non-nil, sees every non-final state.
func (m *Manager) WaitReady(ctx context.Context, sessionID string, observe func(broker.Session)) (broker.Session, error) {
	opts := m.options()
	logger := m.logger.With().Str(xglog.FieldSessionID, sessionID).Logger()

	var lastErr error
	for attempt := 1; attempt <= opts.PollAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, opts.PollInterval); err != nil {
				return broker.Session{}, err
			}
		}

		s, err := m.api.Session(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return broker.Session{}, ctx.Err()
			}
			if terminal := classifyPoll(err); terminal != nil {
				metrics.IncReadinessPoll("terminal")
				logger.Warn().Err(err).Int(xglog.FieldAttempt, attempt).Msg(terminal.Message)
				return broker.Session{}, terminal
			}
			metrics.IncReadinessPoll(pollResult(err))
			lastErr = err
			continue
		}

		switch {
		case s.State.IsPlayable():
			metrics.IncReadinessPoll("ready")
			logger.Info().Int(xglog.FieldAttempt, attempt).Str(xglog.FieldNewState, string(s.State)).Msg("session ready")
			return s, nil
		case s.State.IsTerminal():
			metrics.IncReadinessPoll("terminal")
			return s, terminalState(s)
		default:
			metrics.IncReadinessPoll("pending")
			if observe != nil {
				observe(s)
			}
		}
	}

	return broker.Session{}, &Error{Sentinel: ErrNotReady, Message: "session not ready", Err: lastErr}
}

// classifyPoll returns a terminal error, or nil when polling may continue.
func classifyPoll(err error) *Error {
	be, ok := broker.AsError(err)
	if !ok {
		return nil
	}
	switch {
	case be.Status == http.StatusNotFound, be.Status == http.StatusTooManyRequests:
		return nil
	case be.Status == http.StatusUnauthorized || be.Status == http.StatusForbidden:
		return &Error{Sentinel: ErrAuth, Message: "not authorized", Err: err}
	case be.Status == http.StatusGone:
		return gone(be, err)
	case be.Status >= 400 && be.Status < 500:
		return &Error{Sentinel: ErrRejected, Message: fmt.Sprintf("session request rejected (HTTP %d)", be.Status), Reason: be.Code, Err: err}
	}
	// 5xx, transport and undecodable bodies.
	return nil
}

func pollResult(err error) string {
	if broker.StatusOf(err) == http.StatusNotFound {
		return "pending"
	}
	return "transient"
}

func terminalState(s broker.Session) *Error {
	msg := "session " + strings.ToLower(string(s.State))
	if s.Reason != "" {
		msg += ": " + s.Reason
	}
	sentinel := ErrRejected
	if broker.IsLeaseBusy(s.Reason) {
		sentinel = ErrLeaseBusy
		msg = "tuner busy: another session holds the lease"
	}
	return &Error{Sentinel: sentinel, Message: msg, State: s.State, Reason: s.Reason, ReasonDetail: s.ReasonDetail}
}

// Stop sends the stop intent for sessionID unless one was already sent by
// this manager. It never blocks and never fails; it reports whether an
// intent was dispatched.
func (m *Manager) Stop(sessionID, correlationID string) bool {
	if sessionID == "" {
		return false
	}
	m.mu.Lock()
	if _, done := m.stopped[sessionID]; done {
		m.mu.Unlock()
		return false
	}
	m.stopped[sessionID] = struct{}{}
	m.lastStop = sessionID
	m.stops.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.stops.Done()
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()

		logger := m.logger.With().Str(xglog.FieldSessionID, sessionID).Logger()
		if err := m.api.StopIntent(ctx, sessionID, correlationID); err != nil {
			metrics.IncIntent(string(broker.IntentStop), "error")
			logger.Warn().Err(err).Str(xglog.FieldEvent, "intent.stop.failed").Msg("stop intent failed")
			return
		}
		metrics.IncIntent(string(broker.IntentStop), "ok")
		logger.Debug().Str(xglog.FieldEvent, "intent.stop.sent").Msg("stop intent sent")
	}()
	return true
}

// LastStopped returns the most recently stopped session id.
func (m *Manager) LastStopped() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStop
}

// Wait blocks until in-flight stop intents have finished.
func (m *Manager) Wait() {
	m.stops.Wait()
}

// ProbeFile checks that a direct-file URL is servable. 503 is retried with
// a fixed backoff, 404 fails at once.
func (m *Manager) ProbeFile(ctx context.Context, rawURL, decisionToken string) error {
	opts := m.options()
	for attempt := 1; ; attempt++ {
		status, err := m.api.Probe(ctx, rawURL, decisionToken)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		retry := status == http.StatusServiceUnavailable || (status == 0 && errors.Is(err, broker.ErrTransport))
		switch {
		case retry:
			if attempt >= opts.ProbeAttempts {
				return &Error{Sentinel: ErrProbeTimeout, Message: "recording not ready (timeout)", Err: err}
			}
			m.logger.Debug().Int(xglog.FieldAttempt, attempt).Int(xglog.FieldStatus, status).Msg("direct file not ready, retrying")
			if err := sleep(ctx, opts.ProbeBackoff); err != nil {
				return err
			}
		case status == http.StatusNotFound:
			return &Error{Sentinel: ErrNotFound, Message: "recording not found", Err: err}
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &Error{Sentinel: ErrAuth, Message: "not authorized", Err: err}
		default:
			return &Error{Sentinel: ErrRejected, Message: fmt.Sprintf("recording unavailable (HTTP %d)", status), Err: err}
		}
	}
}

// PlaybackInfo resolves how to play a recording. 503 is retried after the
// advertised Retry-After, capped and bounded by the attempt budget.
func (m *Manager) PlaybackInfo(ctx context.Context, recordingID string, caps broker.Capabilities) (broker.PlaybackInfo, error) {
	opts := m.options()
	logger := m.logger.With().Str(xglog.FieldRecordingID, recordingID).Logger()

	for attempt := 1; ; attempt++ {
		info, err := m.api.RecordingStreamInfo(ctx, recordingID, caps)
		if err == nil {
			logger.Debug().Str(xglog.FieldRequestID, info.RequestID).Msg("playback info resolved")
			return info, nil
		}
		if ctx.Err() != nil {
			return broker.PlaybackInfo{}, ctx.Err()
		}

		be, ok := broker.AsError(err)
		if !ok {
			return broker.PlaybackInfo{}, &Error{Sentinel: ErrUnavailable, Message: "broker unavailable", Err: err}
		}
		switch {
		case be.Status == http.StatusConflict:
			return broker.PlaybackInfo{}, &Error{Sentinel: ErrLeaseBusy, Message: LeaseBusyMessage(be.RetryAfter), RetryAfter: be.RetryAfter, Reason: be.Code, Err: err}
		case be.Status == http.StatusGone:
			return broker.PlaybackInfo{}, gone(be, err)
		case be.Status == http.StatusUnauthorized || be.Status == http.StatusForbidden:
			return broker.PlaybackInfo{}, &Error{Sentinel: ErrAuth, Message: "not authorized", Err: err}
		case be.Status == http.StatusNotFound:
			return broker.PlaybackInfo{}, &Error{Sentinel: ErrNotFound, Message: "recording not found", Err: err}
		case be.Status == http.StatusServiceUnavailable:
			if attempt >= opts.InfoAttempts {
				return broker.PlaybackInfo{}, &Error{Sentinel: ErrNotReady, Message: "recording not ready", RetryAfter: be.RetryAfter, Err: err}
			}
			delay := be.RetryAfter
			if delay <= 0 {
				delay = opts.ProbeBackoff
			}
			if delay > opts.MaxRetryAfter {
				delay = opts.MaxRetryAfter
			}
			logger.Debug().Int(xglog.FieldAttempt, attempt).Dur("retry_after", delay).Msg("recording preparing, retrying")
			if err := sleep(ctx, delay); err != nil {
				return broker.PlaybackInfo{}, err
			}
		case be.Retryable():
			return broker.PlaybackInfo{}, &Error{Sentinel: ErrUnavailable, Message: "broker unavailable", Err: err}
		default:
			return broker.PlaybackInfo{}, &Error{Sentinel: ErrRejected, Message: "playback info rejected", Reason: be.Code, Err: err}
		}
	}
}

// ReportFeedback forwards an engine error to the broker. Failures are
// counted and logged only.
func (m *Manager) ReportFeedback(ctx context.Context, sessionID string, fb broker.Feedback) {
	if sessionID == "" {
		return
	}
	err := m.api.ReportFeedback(ctx, sessionID, fb)
	switch {
	case err == nil:
		metrics.IncFeedback("sent")
	case errors.Is(err, broker.ErrFeedbackDropped):
		metrics.IncFeedback("dropped")
	default:
		metrics.IncFeedback("error")
		m.logger.Debug().Err(err).Str(xglog.FieldSessionID, sessionID).Msg("feedback report failed")
	}
}

// Capabilities builds the stream-info capability body.
func Capabilities(codecs []string, native bool) broker.Capabilities {
	containers := []string{"ts", "fmp4"}
	if native {
		containers = append(containers, "mp4", "mkv")
	}
	supportsRange := native
	return broker.Capabilities{
		Version:       1,
		Containers:    containers,
		VideoCodecs:   append([]string(nil), codecs...),
		AudioCodecs:   []string{"aac", "mp3", "ac3"},
		SupportsHLS:   true,
		SupportsRange: &supportsRange,
		DeviceType:    "desktop",
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
