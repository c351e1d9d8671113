// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/xg2g-player/internal/player/broker"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func fastOptions() Options {
	return Options{
		PollInterval:  time.Millisecond,
		PollAttempts:  5,
		ProbeAttempts: 3,
		ProbeBackoff:  time.Millisecond,
		InfoAttempts:  3,
		MaxRetryAfter: 5 * time.Millisecond,
	}
}

func newManager(t *testing.T, r chi.Router) *Manager {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c, err := broker.New(broker.Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return NewManager(c, fastOptions())
}

func writeProblem(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestStartLive_PostsIntent(t *testing.T) {
	var got broker.IntentRequest
	r := chi.NewRouter()
	r.Post("/api/v3/intents", func(w http.ResponseWriter, req *http.Request) {
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"sessionId": "sess-1", "status": "accepted", "requestId": "req-1"})
	})
	m := newManager(t, r)

	started, err := m.StartLive(context.Background(), LiveRequest{
		ServiceRef: "1:0:19:132F:3EF:1:C00000:0:0:0:",
		Codecs:     []string{"hevc", "h264"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", started.SessionID)
	assert.Equal(t, "req-1", started.RequestID)
	assert.NotEmpty(t, started.CorrelationID)

	assert.Equal(t, broker.IntentStart, got.Type)
	assert.Equal(t, started.CorrelationID, got.CorrelationID)
	assert.Equal(t, "hevc,h264", got.Params[broker.ParamCodecs])
	assert.Equal(t, broker.ParamModeLive, got.Params[broker.ParamMode])
}

func TestStartLive_ConflictCarriesRetryHint(t *testing.T) {
	calls := 0
	r := chi.NewRouter()
	r.Post("/api/v3/intents", func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Retry-After", "5")
		writeProblem(w, http.StatusConflict, map[string]any{"code": "LEASE_BUSY", "requestId": "req-9", "status": 409})
	})
	m := newManager(t, r)

	_, err := m.StartLive(context.Background(), LiveRequest{ServiceRef: "ref"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLeaseBusy)
	se, ok := AsError(err)
	require.True(t, ok)
	assert.Contains(t, se.Message, "retry in 5")
	assert.Equal(t, 5*time.Second, se.RetryAfter)
	assert.Equal(t, 1, calls, "no automatic retry")

	be, ok := broker.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "req-9", be.RequestID)
}

func TestStartLive_Unauthorized(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/v3/intents", func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusUnauthorized, map[string]any{"code": "UNAUTHORIZED"})
	})
	_, err := newManager(t, r).StartLive(context.Background(), LiveRequest{ServiceRef: "ref"})
	assert.ErrorIs(t, err, ErrAuth)
}

func TestWaitReady_ReadyOnThirdAttempt(t *testing.T) {
	var polls atomic.Int32
	r := chi.NewRouter()
	r.Get("/api/v3/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		switch polls.Add(1) {
		case 1:
			writeProblem(w, http.StatusNotFound, map[string]any{"code": "NOT_FOUND"})
		case 2:
			writeJSON(w, map[string]any{"sessionId": "s1", "state": "PRIMING"})
		default:
			writeJSON(w, map[string]any{"sessionId": "s1", "state": "READY", "playbackUrl": "/x.m3u8", "heartbeat_interval": 10})
		}
	})
	m := newManager(t, r)

	var observed []broker.SessionState
	s, err := m.WaitReady(context.Background(), "s1", func(s broker.Session) { observed = append(observed, s.State) })
	require.NoError(t, err)
	assert.Equal(t, broker.StateReady, s.State)
	assert.Equal(t, "/x.m3u8", s.PlaybackURL)
	assert.Equal(t, 10, s.HeartbeatInterval)
	assert.Equal(t, []broker.SessionState{broker.StatePriming}, observed)
	assert.Equal(t, int32(3), polls.Load())
}

func TestWaitReady_Terminal(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     map[string]any
		want     error
		wantMsg  string
		wantPoll int32
	}{
		{"unauthorized", http.StatusUnauthorized, map[string]any{"code": "UNAUTHORIZED"}, ErrAuth, "not authorized", 1},
		{"forbidden", http.StatusForbidden, map[string]any{"code": "FORBIDDEN"}, ErrAuth, "not authorized", 1},
		{"gone lease busy", http.StatusGone, map[string]any{"reason": "R_LEASE_BUSY", "reasonDetail": "tuner 0"}, ErrLeaseBusy, "tuner busy", 1},
		{"gone legacy lease busy", http.StatusGone, map[string]any{"reason": "LEASE_BUSY"}, ErrLeaseBusy, "tuner busy", 1},
		{"gone other", http.StatusGone, map[string]any{"reason": "R_IDLE_TIMEOUT"}, ErrGone, "session ended: R_IDLE_TIMEOUT", 1},
		{"bad request", http.StatusBadRequest, map[string]any{"code": "INVALID_INPUT"}, ErrRejected, "HTTP 400", 1},
		{"failed state", http.StatusOK, map[string]any{"state": "FAILED", "reason": "R_TUNE_FAILED"}, ErrRejected, "session failed: R_TUNE_FAILED", 1},
		{"stopping state", http.StatusOK, map[string]any{"state": "STOPPING"}, ErrRejected, "session stopping", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var polls atomic.Int32
			r := chi.NewRouter()
			r.Get("/api/v3/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
				polls.Add(1)
				if tt.status == http.StatusOK {
					writeJSON(w, tt.body)
					return
				}
				writeProblem(w, tt.status, tt.body)
			})
			m := newManager(t, r)

			_, err := m.WaitReady(context.Background(), "s1", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			se, ok := AsError(err)
			require.True(t, ok)
			assert.Contains(t, se.Message, tt.wantMsg)
			assert.Equal(t, tt.wantPoll, polls.Load())
		})
	}
}

func TestWaitReady_TransientUntilExhausted(t *testing.T) {
	for _, status := range []int{http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusNotFound, http.StatusBadGateway} {
		var polls atomic.Int32
		r := chi.NewRouter()
		r.Get("/api/v3/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
			polls.Add(1)
			writeProblem(w, status, map[string]any{"status": status})
		})
		m := newManager(t, r)

		_, err := m.WaitReady(context.Background(), "s1", nil)
		assert.ErrorIs(t, err, ErrNotReady, "status %d", status)
		assert.Equal(t, int32(5), polls.Load(), "status %d", status)
	}
}

func TestWaitReady_Cancelled(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/v3/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"state": "STARTING"})
	})
	m := newManager(t, r)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.WaitReady(ctx, "s1", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStop_AtMostOncePerSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var mu sync.Mutex
	stops := map[string]int{}
	r := chi.NewRouter()
	r.Post("/api/v3/intents", func(w http.ResponseWriter, req *http.Request) {
		var in broker.IntentRequest
		_ = json.NewDecoder(req.Body).Decode(&in)
		if in.Type == broker.IntentStop {
			mu.Lock()
			stops[in.SessionID]++
			mu.Unlock()
		}
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()
	c, err := broker.New(broker.Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	m := NewManager(c, fastOptions())

	var wg sync.WaitGroup
	var sent atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Stop("sess-a", "corr") {
				sent.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.True(t, m.Stop("sess-b", "corr"))
	assert.False(t, m.Stop("sess-a", "corr"))
	assert.False(t, m.Stop("", "corr"))
	m.Wait()

	assert.Equal(t, int32(1), sent.Load())
	assert.Equal(t, map[string]int{"sess-a": 1, "sess-b": 1}, stops)
	assert.Equal(t, "sess-b", m.LastStopped())
}

func TestStop_FailureIsSwallowed(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/v3/intents", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	m := newManager(t, r)
	assert.True(t, m.Stop("sess-a", ""))
	m.Wait()
}

func TestProbeFile(t *testing.T) {
	t.Run("retries 503 then succeeds", func(t *testing.T) {
		var heads atomic.Int32
		r := chi.NewRouter()
		r.Head("/media/{id}", func(w http.ResponseWriter, _ *http.Request) {
			if heads.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		require.NoError(t, newManager(t, r).ProbeFile(context.Background(), "/media/r1.mp4", "tok"))
		assert.Equal(t, int32(3), heads.Load())
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		var heads atomic.Int32
		r := chi.NewRouter()
		r.Head("/media/{id}", func(w http.ResponseWriter, _ *http.Request) {
			heads.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		err := newManager(t, r).ProbeFile(context.Background(), "/media/r1.mp4", "")
		assert.ErrorIs(t, err, ErrProbeTimeout)
		assert.Equal(t, int32(3), heads.Load())
	})

	t.Run("404 fails immediately", func(t *testing.T) {
		var heads atomic.Int32
		r := chi.NewRouter()
		r.Head("/media/{id}", func(w http.ResponseWriter, _ *http.Request) {
			heads.Add(1)
			w.WriteHeader(http.StatusNotFound)
		})
		err := newManager(t, r).ProbeFile(context.Background(), "/media/r1.mp4", "")
		assert.ErrorIs(t, err, ErrNotFound)
		se, _ := AsError(err)
		assert.Equal(t, "recording not found", se.Message)
		assert.Equal(t, int32(1), heads.Load())
	})

	t.Run("other status is terminal", func(t *testing.T) {
		r := chi.NewRouter()
		r.Head("/media/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
		err := newManager(t, r).ProbeFile(context.Background(), "/media/r1.mp4", "")
		assert.ErrorIs(t, err, ErrRejected)
	})
}

func TestPlaybackInfo(t *testing.T) {
	t.Run("503 retried after retry-after", func(t *testing.T) {
		var calls atomic.Int32
		r := chi.NewRouter()
		r.Post("/api/v3/recordings/{id}/stream-info", func(w http.ResponseWriter, req *http.Request) {
			var caps broker.Capabilities
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&caps))
			assert.Equal(t, 1, caps.Version)
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "1")
				writeProblem(w, http.StatusServiceUnavailable, map[string]any{"code": "PREPARING"})
				return
			}
			writeJSON(w, map[string]any{"mode": "hlsjs", "url": "/r.m3u8", "requestId": "req-3"})
		})
		info, err := newManager(t, r).PlaybackInfo(context.Background(), "rec-1", Capabilities([]string{"h264"}, false))
		require.NoError(t, err)
		assert.Equal(t, "/r.m3u8", info.URL)
		assert.Equal(t, int32(2), calls.Load())
	})

	tests := []struct {
		name   string
		status int
		body   map[string]any
		want   error
	}{
		{"conflict", http.StatusConflict, map[string]any{"code": "LEASE_BUSY"}, ErrLeaseBusy},
		{"gone", http.StatusGone, map[string]any{"reason": "R_RECORDING_DELETED"}, ErrGone},
		{"forbidden", http.StatusForbidden, nil, ErrAuth},
		{"not found", http.StatusNotFound, nil, ErrNotFound},
		{"always preparing", http.StatusServiceUnavailable, nil, ErrNotReady},
		{"bad request", http.StatusBadRequest, map[string]any{"code": "INVALID_CAPABILITIES"}, ErrRejected},
		{"upstream", http.StatusBadGateway, nil, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Post("/api/v3/recordings/{id}/stream-info", func(w http.ResponseWriter, _ *http.Request) {
				writeProblem(w, tt.status, tt.body)
			})
			_, err := newManager(t, r).PlaybackInfo(context.Background(), "rec-1", Capabilities(nil, true))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAcquire_GuardsConcurrentStarts(t *testing.T) {
	m := NewManager(nil, Options{})
	release, err := m.Acquire()
	require.NoError(t, err)

	_, err = m.Acquire()
	assert.ErrorIs(t, err, ErrStartInFlight)

	release()
	release()
	release2, err := m.Acquire()
	require.NoError(t, err)
	release2()
}

func TestReportFeedback(t *testing.T) {
	got := make(chan broker.Feedback, 1)
	r := chi.NewRouter()
	r.Post("/api/v3/sessions/{id}/feedback", func(w http.ResponseWriter, req *http.Request) {
		var fb broker.Feedback
		_ = json.NewDecoder(req.Body).Decode(&fb)
		got <- fb
		w.WriteHeader(http.StatusAccepted)
	})
	m := newManager(t, r)
	code := broker.FeedbackCodeDecode
	m.ReportFeedback(context.Background(), "s1", broker.Feedback{Event: broker.FeedbackError, Code: &code, Message: "MEDIA"})
	fb := <-got
	assert.Equal(t, broker.FeedbackError, fb.Event)
	require.NotNil(t, fb.Code)
	assert.Equal(t, broker.FeedbackCodeDecode, *fb.Code)
}

func TestLeaseBusyMessage(t *testing.T) {
	assert.Equal(t, "lease busy, retry in 5s", LeaseBusyMessage(5*time.Second))
	assert.Equal(t, "lease busy, retry later", LeaseBusyMessage(0))
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeLive, ParseMode("live"))
	assert.Equal(t, ModeVOD, ParseMode("RECORDING"))
	assert.Equal(t, ModeUnknown, ParseMode(""))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Sentinel: ErrGone, Message: "session ended", Err: cause}
	assert.ErrorIs(t, err, ErrGone)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "session ended: boom", err.Error())
}
