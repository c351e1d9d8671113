// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/xg2g-player/internal/player/broker"
	"github.com/ManuGH/xg2g-player/internal/player/engine"
	"github.com/ManuGH/xg2g-player/internal/player/lease"
	"github.com/ManuGH/xg2g-player/internal/player/policy"
	"github.com/ManuGH/xg2g-player/internal/player/session"
)

// Kind classifies terminal errors. A Kind is itself an error so callers can
// write errors.Is(err, player.KindLeaseBusy).
type Kind string

const (
	KindAuthFailure      Kind = "AuthFailure"
	KindLeaseBusy        Kind = "LeaseBusy"
	KindSessionGone      Kind = "SessionGone"
	KindPolicyViolation  Kind = "PolicyViolation"
	KindTransientNetwork Kind = "TransientNetwork"
	KindEngineFatal      Kind = "EngineFatal"
	KindNotFound         Kind = "NotFound"
	KindTimeout          Kind = "Timeout"
)

func (k Kind) Error() string { return string(k) }

// ErrStartInFlight is returned when a start is already running.
var ErrStartInFlight = session.ErrStartInFlight

// Diagnostics is the expandable detail behind a short message.
type Diagnostics struct {
	Status            int    `json:"status,omitempty"`
	Code              string `json:"code,omitempty"`
	RequestID         string `json:"requestId,omitempty"`
	Reason            string `json:"reason,omitempty"`
	ReasonDetail      string `json:"reasonDetail,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
	Body              string `json:"body,omitempty"`
	Engine            string `json:"engine,omitempty"`
	EngineDetails     string `json:"engineDetails,omitempty"`
	Cause             string `json:"cause,omitempty"`
}

// Error is a terminal, user-visible failure.
type Error struct {
	Kind        Kind        `json:"kind"`
	Message     string      `json:"message"`
	Diagnostics Diagnostics `json:"diagnostics"`
	Err         error       `json:"-"`
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// classify turns any failure of the start sequence or a background loop
// into an *Error. Context cancellation is not an error and yields nil.
func classify(err error) *Error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	out := &Error{Kind: KindTransientNetwork, Message: "playback failed", Err: err}
	out.Diagnostics.Cause = err.Error()
	if be, ok := broker.AsError(err); ok {
		out.Diagnostics.Status = be.Status
		out.Diagnostics.Code = be.Code
		out.Diagnostics.RequestID = be.RequestID
		out.Diagnostics.Reason = be.Reason
		out.Diagnostics.ReasonDetail = be.ReasonDetail
		out.Diagnostics.Body = be.Body
		out.Diagnostics.RetryAfterSeconds = seconds(be.RetryAfter)
	}

	var (
		se *session.Error
		le *lease.Error
		po *policy.Error
		ei *engine.ErrorInfo
	)
	switch {
	case errors.As(err, &se):
		out.Kind = sessionKind(se)
		out.Message = se.Message
		if se.Reason != "" {
			out.Diagnostics.Reason = se.Reason
		}
		if se.ReasonDetail != "" {
			out.Diagnostics.ReasonDetail = se.ReasonDetail
		}
		if se.RetryAfter > 0 {
			out.Diagnostics.RetryAfterSeconds = seconds(se.RetryAfter)
		}
	case errors.As(err, &le):
		out.Kind = KindSessionGone
		out.Message = le.Message
	case errors.As(err, &po):
		out.Kind = KindPolicyViolation
		out.Message = policyMessage(po)
		out.Diagnostics.Reason = po.Reason
		out.Diagnostics.ReasonDetail = po.Detail
	case errors.As(err, &ei):
		out.Kind = KindEngineFatal
		out.Message = "playback failed: " + string(ei.Kind)
		out.Diagnostics.EngineDetails = ei.Details
	case errors.Is(err, engine.ErrNoEngine):
		out.Kind = KindEngineFatal
		out.Message = "no playback engine can play this stream"
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = KindTimeout
		out.Message = "timed out"
	}
	return out
}

func sessionKind(se *session.Error) Kind {
	switch {
	case errors.Is(se, session.ErrAuth):
		return KindAuthFailure
	case errors.Is(se, session.ErrLeaseBusy):
		return KindLeaseBusy
	case errors.Is(se, session.ErrGone), errors.Is(se, session.ErrRejected):
		return KindSessionGone
	case errors.Is(se, session.ErrNotFound):
		return KindNotFound
	case errors.Is(se, session.ErrProbeTimeout):
		return KindTimeout
	}
	// ErrUnavailable, ErrNotReady
	return KindTransientNetwork
}

func policyMessage(po *policy.Error) string {
	switch {
	case errors.Is(po, policy.ErrDenied):
		return "playback denied"
	case errors.Is(po, policy.ErrUnavailable):
		return "stream not available"
	}
	return "playback decision unusable"
}

func seconds(d time.Duration) int {
	return int(d.Round(time.Second) / time.Second)
}
