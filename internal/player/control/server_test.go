// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ManuGH/xg2g-player/internal/player"
	"github.com/ManuGH/xg2g-player/internal/player/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	snap     player.Snapshot
	startErr error
	seekErr  error
	resume   error

	liveRef   string
	recording string
	ctxErr    error
	stops     int
	seeks     []string
	touched   bool
	dismissed bool
}

func (f *fakePlayer) Snapshot() player.Snapshot { return f.snap }

func (f *fakePlayer) StartLive(ctx context.Context, ref string) error {
	f.liveRef = ref
	f.ctxErr = ctx.Err()
	return f.startErr
}

func (f *fakePlayer) StartRecording(_ context.Context, id string) error {
	f.recording = id
	return f.startErr
}

func (f *fakePlayer) Stop() { f.stops++ }

func (f *fakePlayer) Retry(context.Context) error { return f.startErr }

func (f *fakePlayer) AcceptResume() error { return f.resume }

func (f *fakePlayer) DismissResume() { f.dismissed = true }

func (f *fakePlayer) Touch() { f.touched = true }

func (f *fakePlayer) SeekToLiveEdge() (float64, error) {
	f.seeks = append(f.seeks, "edge")
	return 160, f.seekErr
}

func (f *fakePlayer) SeekTo(pos float64) (float64, error) {
	f.seeks = append(f.seeks, "to")
	return pos, f.seekErr
}

func (f *fakePlayer) SeekBy(delta float64) (float64, error) {
	f.seeks = append(f.seeks, "by")
	return 100 + delta, f.seekErr
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestState(t *testing.T) {
	p := &fakePlayer{snap: player.Snapshot{Status: player.StatusPlaying, SessionID: "sess-1"}}
	rec := do(t, NewHandler(p, Options{}), http.MethodGet, "/api/v1/state", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "playing", body["status"])
	assert.Equal(t, "sess-1", body["session_id"])
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestPlayLive(t *testing.T) {
	p := &fakePlayer{}
	rec := do(t, NewHandler(p, Options{}), http.MethodPost, "/api/v1/play/live", `{"serviceRef":"1:0:1:ABC"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1:0:1:ABC", p.liveRef)
	assert.NoError(t, p.ctxErr)
}

func TestPlayLive_Validation(t *testing.T) {
	h := NewHandler(&fakePlayer{}, Options{})

	rec := do(t, h, http.MethodPost, "/api/v1/play/live", `{"serviceRef":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodPost, "/api/v1/play/live", `{"unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeBody(t, rec)["code"])
}

func TestPlayRecording_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"in flight", player.ErrStartInFlight, http.StatusConflict, "START_IN_FLIGHT"},
		{"closed", player.ErrClosed, http.StatusServiceUnavailable, "CLOSED"},
		{"policy", &player.Error{Kind: player.KindPolicyViolation, Message: "playback denied"}, http.StatusUnprocessableEntity, "PolicyViolation"},
		{"not found", &player.Error{Kind: player.KindNotFound, Message: "recording not found"}, http.StatusNotFound, "NotFound"},
		{"engine", &player.Error{Kind: player.KindEngineFatal, Message: "playback failed"}, http.StatusBadGateway, "EngineFatal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePlayer{startErr: tt.err}
			rec := do(t, NewHandler(p, Options{}), http.MethodPost, "/api/v1/play/recording", `{"recordingId":"rec-1"}`)
			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, rec.Header().Get(HeaderRequestID), body[JSONKeyRequestID])
			assert.Equal(t, "rec-1", p.recording)
		})
	}
}

func TestLeaseBusySetsRetryAfter(t *testing.T) {
	pe := &player.Error{Kind: player.KindLeaseBusy, Message: "lease busy, retry in 5s"}
	pe.Diagnostics.RetryAfterSeconds = 5
	p := &fakePlayer{startErr: pe}

	rec := do(t, NewHandler(p, Options{}), http.MethodPost, "/api/v1/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	body := decodeBody(t, rec)
	assert.Equal(t, "lease busy, retry in 5s", body["detail"])
	diag, ok := body["diagnostics"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 5, diag["retryAfterSeconds"])
}

func TestSeek(t *testing.T) {
	p := &fakePlayer{}
	h := NewHandler(p, Options{})

	rec := do(t, h, http.MethodPost, "/api/v1/seek", `{"position":42}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 42, decodeBody(t, rec)["position"])

	rec = do(t, h, http.MethodPost, "/api/v1/seek", `{"delta":-10}`)
	assert.EqualValues(t, 90, decodeBody(t, rec)["position"])

	rec = do(t, h, http.MethodPost, "/api/v1/seek", `{"liveEdge":true}`)
	assert.EqualValues(t, 160, decodeBody(t, rec)["position"])

	rec = do(t, h, http.MethodPost, "/api/v1/seek", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{"to", "by", "edge"}, p.seeks)
}

func TestSeek_NotAttached(t *testing.T) {
	p := &fakePlayer{seekErr: engine.ErrNotAttached}
	rec := do(t, NewHandler(p, Options{}), http.MethodPost, "/api/v1/seek", `{"position":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_ATTACHED", decodeBody(t, rec)["code"])
}

func TestStopResumeTouch(t *testing.T) {
	p := &fakePlayer{resume: player.ErrNoResumeOffer}
	h := NewHandler(p, Options{})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/stop", "").Code)
	assert.Equal(t, 1, p.stops)

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/v1/resume", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/v1/resume", "").Code)
	assert.True(t, p.dismissed)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/v1/touch", "").Code)
	assert.True(t, p.touched)
}

func TestRateLimit(t *testing.T) {
	h := NewHandler(&fakePlayer{}, Options{RateLimit: 2})
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/v1/touch", "").Code)

	var limited *httptest.ResponseRecorder
	for range 4 {
		if rec := do(t, h, http.MethodPost, "/api/v1/touch", ""); rec.Code == http.StatusTooManyRequests {
			limited = rec
			break
		}
	}
	require.NotNil(t, limited)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeBody(t, limited)["code"])

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/state", "").Code, "reads are not limited")
}

func TestMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "xg2g_player_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h := NewHandler(&fakePlayer{}, Options{Gatherer: reg, Service: "xg2g-play"})
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "xg2g_player_test_total 1")

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestRecovererWritesProblem(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := do(t, h, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", decodeBody(t, rec)["code"])
}
