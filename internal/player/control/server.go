// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package control exposes a running player over a small local HTTP API:
// state, transport controls and Prometheus metrics.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/xg2g-player/internal/player"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultRateLimit = 120
	startTimeout     = 5 * time.Minute
	maxBodyBytes     = 1 << 16
)

// Player is the controller surface the API drives.
type Player interface {
	Snapshot() player.Snapshot
	StartLive(ctx context.Context, serviceRef string) error
	StartRecording(ctx context.Context, recordingID string) error
	Stop()
	Retry(ctx context.Context) error
	SeekTo(pos float64) (float64, error)
	SeekBy(delta float64) (float64, error)
	SeekToLiveEdge() (float64, error)
	AcceptResume() error
	DismissResume()
	Touch()
}

// Options configures the router.
type Options struct {
	// RateLimit is the per-client budget for mutating requests per minute.
	RateLimit int
	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Service names the tracing spans; empty disables tracing.
	Service string
}

type server struct {
	p Player
}

// NewHandler returns the control API handler.
func NewHandler(p Player, opts Options) http.Handler {
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &server{p: p}

	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Group(func(r chi.Router) {
			r.Use(rateLimit(opts.RateLimit))
			r.Post("/play/live", s.handlePlayLive)
			r.Post("/play/recording", s.handlePlayRecording)
			r.Post("/stop", s.handleStop)
			r.Post("/retry", s.handleRetry)
			r.Post("/seek", s.handleSeek)
			r.Post("/resume", s.handleResume)
			r.Delete("/resume", s.handleDismissResume)
			r.Post("/touch", s.handleTouch)
		})
	})

	if opts.Service != "" {
		return traced(opts.Service, r)
	}
	return r
}

func (s *server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.p.Snapshot())
}

type playLiveRequest struct {
	ServiceRef string `json:"serviceRef"`
}

type playRecordingRequest struct {
	RecordingID string `json:"recordingId"`
}

type seekRequest struct {
	Position *float64 `json:"position,omitempty"`
	Delta    *float64 `json:"delta,omitempty"`
	LiveEdge bool     `json:"liveEdge,omitempty"`
}

type seekResponse struct {
	Position float64 `json:"position"`
}

func (s *server) handlePlayLive(w http.ResponseWriter, r *http.Request) {
	var req playLiveRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ServiceRef) == "" {
		writeProblem(w, r, http.StatusBadRequest, "player/invalid_input", "Invalid Input", "INVALID_INPUT", "serviceRef is required", nil)
		return
	}
	s.start(w, r, func(ctx context.Context) error { return s.p.StartLive(ctx, req.ServiceRef) })
}

func (s *server) handlePlayRecording(w http.ResponseWriter, r *http.Request) {
	var req playRecordingRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RecordingID) == "" {
		writeProblem(w, r, http.StatusBadRequest, "player/invalid_input", "Invalid Input", "INVALID_INPUT", "recordingId is required", nil)
		return
	}
	s.start(w, r, func(ctx context.Context) error { return s.p.StartRecording(ctx, req.RecordingID) })
}

func (s *server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.start(w, r, s.p.Retry)
}

// start detaches playback from the request: a client hanging up does not
// cancel the session it asked for.
func (s *server) start(w http.ResponseWriter, r *http.Request, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), startTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.p.Snapshot())
}

func (s *server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.p.Stop()
	writeJSON(w, http.StatusOK, s.p.Snapshot())
}

func (s *server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		pos float64
		err error
	)
	switch {
	case req.LiveEdge:
		pos, err = s.p.SeekToLiveEdge()
	case req.Position != nil:
		pos, err = s.p.SeekTo(*req.Position)
	case req.Delta != nil:
		pos, err = s.p.SeekBy(*req.Delta)
	default:
		writeProblem(w, r, http.StatusBadRequest, "player/invalid_input", "Invalid Input", "INVALID_INPUT", "one of position, delta or liveEdge is required", nil)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seekResponse{Position: pos})
}

func (s *server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.p.AcceptResume(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.p.Snapshot())
}

func (s *server) handleDismissResume(w http.ResponseWriter, _ *http.Request) {
	s.p.DismissResume()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleTouch(w http.ResponseWriter, _ *http.Request) {
	s.p.Touch()
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, "player/invalid_input", "Request Too Large", "BODY_TOO_LARGE", "", nil)
			return false
		}
		writeProblem(w, r, http.StatusBadRequest, "player/invalid_input", "Invalid Input", "INVALID_JSON", err.Error(), nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
