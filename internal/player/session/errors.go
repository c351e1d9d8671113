// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/xg2g-player/internal/player/broker"
)

var (
	ErrStartInFlight = errors.New("session: start already in flight")
	ErrAuth          = errors.New("session: not authorized")
	ErrLeaseBusy     = errors.New("session: lease busy")
	ErrGone          = errors.New("session: gone")
	ErrRejected      = errors.New("session: rejected")
	ErrUnavailable   = errors.New("session: broker unavailable")
	ErrNotReady      = errors.New("session: not ready")
	ErrNotFound      = errors.New("session: not found")
	ErrProbeTimeout  = errors.New("session: media not available in time")
)

// Error is a classified lifecycle failure. Message is short and meant for
// the user; the wrapped broker error carries the diagnostics.
type Error struct {
	Sentinel     error
	Message      string
	RetryAfter   time.Duration
	State        broker.SessionState
	Reason       string
	ReasonDetail string
	Err          error
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

// AsError unwraps err to a lifecycle *Error.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// LeaseBusyMessage renders the user-visible conflict message.
func LeaseBusyMessage(retryAfter time.Duration) string {
	if retryAfter <= 0 {
		return "lease busy, retry later"
	}
	return fmt.Sprintf("lease busy, retry in %ds", int(retryAfter.Round(time.Second)/time.Second))
}

// classifyIntent maps a failed start intent. Nothing here is retried.
func classifyIntent(err error) *Error {
	be, ok := broker.AsError(err)
	if !ok {
		return &Error{Sentinel: ErrUnavailable, Message: "broker unavailable", Err: err}
	}
	switch {
	case be.Status == http.StatusConflict:
		return &Error{Sentinel: ErrLeaseBusy, Message: LeaseBusyMessage(be.RetryAfter), RetryAfter: be.RetryAfter, Reason: be.Code, Err: err}
	case be.Status == http.StatusUnauthorized || be.Status == http.StatusForbidden:
		return &Error{Sentinel: ErrAuth, Message: "not authorized", Err: err}
	case be.Retryable():
		return &Error{Sentinel: ErrUnavailable, Message: "broker unavailable", RetryAfter: be.RetryAfter, Err: err}
	default:
		return &Error{Sentinel: ErrRejected, Message: "start rejected", Reason: be.Code, Err: err}
	}
}

// gone maps a 410 body to LeaseBusy or SessionGone.
func gone(be *broker.Error, err error) *Error {
	if be.LeaseBusy() {
		return &Error{
			Sentinel:     ErrLeaseBusy,
			Message:      "tuner busy: another session holds the lease",
			RetryAfter:   be.RetryAfter,
			Reason:       be.Reason,
			ReasonDetail: be.ReasonDetail,
			Err:          err,
		}
	}
	msg := "session ended"
	if be.Reason != "" {
		msg = "session ended: " + be.Reason
	}
	return &Error{Sentinel: ErrGone, Message: msg, Reason: be.Reason, ReasonDetail: be.ReasonDetail, Err: err}
}
