// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lease keeps a ready session's broker lease alive.
package lease

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/metrics"
	"github.com/ManuGH/xg2g-player/internal/player/broker"
	"github.com/rs/zerolog"
)

var (
	ErrExpired = errors.New("lease: session expired")
	ErrGone    = errors.New("lease: session no longer exists")
	ErrLapsed  = errors.New("lease: lease lapsed")
)

// Error ends the loop. Message is user-facing.
type Error struct {
	Sentinel error
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Sentinel, e.Err}
	}
	return []error{e.Sentinel}
}

// API is the heartbeat call of the broker client.
type API interface {
	Heartbeat(ctx context.Context, sessionID string) (broker.HeartbeatResponse, error)
}

// State is the renewed lease as last acknowledged by the broker.
type State struct {
	Interval  time.Duration `json:"interval"`
	ExpiresAt time.Time     `json:"expires_at"`
	Renewals  int           `json:"renewals"`
}

// Loop renews one session's lease. It runs at most once.
type Loop struct {
	api       API
	sessionID string
	logger    zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	state State
}

// New prepares a loop. A zero expiresAt means the broker never told us.
func New(api API, sessionID string, interval time.Duration, expiresAt time.Time) *Loop {
	return &Loop{
		api:       api,
		sessionID: sessionID,
		logger:    xglog.WithComponent("lease").With().Str(xglog.FieldSessionID, sessionID).Logger(),
		now:       time.Now,
		state:     State{Interval: interval, ExpiresAt: expiresAt},
	}
}

// State returns a snapshot of the lease.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Run ticks until ctx is done (nil) or the lease is lost (*Error). Ticks
// are serial: a slow heartbeat delays the next one instead of overlapping.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.State().Interval
	if interval <= 0 {
		return nil
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if err := l.beat(ctx); err != nil {
			return err
		}
	}
}

func (l *Loop) beat(ctx context.Context) error {
	resp, err := l.api.Heartbeat(ctx, l.sessionID)
	if err == nil {
		metrics.IncHeartbeat("ok")
		l.mu.Lock()
		if !resp.LeaseExpiresAt.IsZero() {
			l.state.ExpiresAt = resp.LeaseExpiresAt
		}
		l.state.Renewals++
		l.mu.Unlock()
		l.logger.Debug().Time("lease_expires_at", resp.LeaseExpiresAt).Msg("lease renewed")
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	switch broker.StatusOf(err) {
	case http.StatusGone:
		metrics.IncHeartbeat("expired")
		l.logger.Warn().Err(err).Str(xglog.FieldEvent, "lease.expired").Msg("session expired")
		return &Error{Sentinel: ErrExpired, Message: "session expired", Err: err}
	case http.StatusNotFound:
		metrics.IncHeartbeat("gone")
		l.logger.Warn().Err(err).Str(xglog.FieldEvent, "lease.gone").Msg("session no longer exists")
		return &Error{Sentinel: ErrGone, Message: "session no longer exists", Err: err}
	}

	expires := l.State().ExpiresAt
	if !expires.IsZero() && l.now().After(expires) {
		metrics.IncHeartbeat("lease_lapsed")
		l.logger.Warn().Err(err).Time("lease_expires_at", expires).Str(xglog.FieldEvent, "lease.lapsed").Msg("lease lapsed during transient failures")
		return &Error{Sentinel: ErrLapsed, Message: "lease expired", Err: err}
	}
	metrics.IncHeartbeat("transient")
	l.logger.Warn().Err(err).Str(xglog.FieldEvent, "lease.transient").Msg("heartbeat failed, will retry")
	return nil
}
