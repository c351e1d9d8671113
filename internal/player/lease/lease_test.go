// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lease

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/xg2g-player/internal/player/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const tick = 5 * time.Millisecond

type stubAPI struct {
	mu       sync.Mutex
	calls    int
	inFlight int
	overlap  bool
	respond  func(call int) (broker.HeartbeatResponse, error)
}

func (s *stubAPI) Heartbeat(_ context.Context, _ string) (broker.HeartbeatResponse, error) {
	s.mu.Lock()
	s.calls++
	s.inFlight++
	if s.inFlight > 1 {
		s.overlap = true
	}
	call := s.calls
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()
	return s.respond(call)
}

func (s *stubAPI) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func status(code int) error {
	return &broker.Error{Sentinel: broker.ErrRejected, Operation: "session.heartbeat", Status: code}
}

func TestRun_RenewsUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	expiry := time.Now().Add(time.Minute).Truncate(time.Second)
	api := &stubAPI{respond: func(call int) (broker.HeartbeatResponse, error) {
		time.Sleep(2 * tick)
		return broker.HeartbeatResponse{LeaseExpiresAt: expiry.Add(time.Duration(call) * time.Second), Acknowledged: true}, nil
	}}
	l := New(api, "s1", tick, time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return api.count() >= 3 }, 2*time.Second, tick)
	cancel()
	require.NoError(t, <-done)

	st := l.State()
	assert.GreaterOrEqual(t, st.Renewals, 3)
	assert.True(t, st.ExpiresAt.After(expiry))
	assert.False(t, api.overlap, "heartbeats must not overlap")
}

func TestRun_TerminalStatuses(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		want    error
		message string
	}{
		{"gone", http.StatusGone, ErrExpired, "session expired"},
		{"not found", http.StatusNotFound, ErrGone, "session no longer exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
			api := &stubAPI{respond: func(int) (broker.HeartbeatResponse, error) {
				return broker.HeartbeatResponse{}, status(tt.code)
			}}
			err := New(api, "s1", tick, time.Now().Add(time.Hour)).Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var le *Error
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.message, le.Message)
			assert.Equal(t, 1, api.count())
		})
	}
}

func TestRun_TransientFailuresContinue(t *testing.T) {
	api := &stubAPI{respond: func(call int) (broker.HeartbeatResponse, error) {
		if call < 3 {
			return broker.HeartbeatResponse{}, status(http.StatusServiceUnavailable)
		}
		return broker.HeartbeatResponse{LeaseExpiresAt: time.Now().Add(time.Minute)}, nil
	}}
	l := New(api, "s1", tick, time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	require.Eventually(t, func() bool { return l.State().Renewals >= 1 }, 2*time.Second, tick)
	cancel()
	assert.NoError(t, <-done)
}

func TestRun_LapsesAfterKnownExpiry(t *testing.T) {
	api := &stubAPI{respond: func(int) (broker.HeartbeatResponse, error) {
		return broker.HeartbeatResponse{}, &broker.Error{Sentinel: broker.ErrTransport, Operation: "session.heartbeat"}
	}}
	l := New(api, "s1", tick, time.Now().Add(30*time.Millisecond))

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLapsed)
	assert.ErrorIs(t, err, broker.ErrTransport)
	assert.Greater(t, api.count(), 1, "transient failures before the lapse are tolerated")
}

func TestRun_NoIntervalDoesNothing(t *testing.T) {
	api := &stubAPI{respond: func(int) (broker.HeartbeatResponse, error) { return broker.HeartbeatResponse{}, nil }}
	assert.NoError(t, New(api, "s1", 0, time.Time{}).Run(context.Background()))
	assert.Equal(t, 0, api.count())
}
