// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnauthorized    = errors.New("broker: unauthorized")
	ErrNotFound        = errors.New("broker: not found")
	ErrConflict        = errors.New("broker: conflict")
	ErrGone            = errors.New("broker: gone")
	ErrRateLimited     = errors.New("broker: rate limited")
	ErrUnavailable     = errors.New("broker: temporarily unavailable")
	ErrRejected        = errors.New("broker: request rejected")
	ErrUpstream        = errors.New("broker: internal error (5xx)")
	ErrTransport       = errors.New("broker: transport failure")
	ErrBadResponse     = errors.New("broker: invalid response format")
	ErrFeedbackDropped = errors.New("broker: feedback dropped by rate limit")
)

const bodyExcerptLimit = 512

// Error is a broker failure with the HTTP and RFC 7807 context attached.
type Error struct {
	Sentinel  error
	Operation string
	Status    int

	// From the problem body.
	Code         string
	Title        string
	Detail       string
	RequestID    string
	Reason       string
	ReasonDetail string

	RetryAfter time.Duration
	Body       string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Sentinel, e.Err}
	}
	return []error{e.Sentinel}
}

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	switch {
	case errors.Is(e.Sentinel, ErrTransport),
		errors.Is(e.Sentinel, ErrRateLimited),
		errors.Is(e.Sentinel, ErrUnavailable),
		errors.Is(e.Sentinel, ErrUpstream):
		return true
	}
	return false
}

// LeaseBusy reports whether the failure names a held lease.
func (e *Error) LeaseBusy() bool {
	return IsLeaseBusy(e.Code) || IsLeaseBusy(e.Reason)
}

// AsError unwraps err to a broker *Error.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	if be, ok := AsError(err); ok {
		return be.Status
	}
	return 0
}

type problemBody struct {
	Type         string `json:"type"`
	Title        string `json:"title"`
	Status       int    `json:"status"`
	Code         string `json:"code"`
	Detail       string `json:"detail"`
	RequestID    string `json:"requestId"`
	Reason       string `json:"reason"`
	ReasonDetail string `json:"reasonDetail"`
	// legacy APIError shape
	Message string `json:"message"`
}

// newHTTPError classifies a non-2xx response. body may be empty (HEAD).
func newHTTPError(op string, resp *http.Response, body []byte) *Error {
	e := &Error{
		Operation:  op,
		Status:     resp.StatusCode,
		Sentinel:   sentinelFor(resp.StatusCode),
		RequestID:  resp.Header.Get(HeaderRequestID),
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Body:       excerpt(body),
	}

	var p problemBody
	if len(body) > 0 && json.Unmarshal(body, &p) == nil {
		e.Code = p.Code
		e.Title = p.Title
		e.Detail = p.Detail
		if e.Detail == "" {
			e.Detail = p.Message
		}
		e.Reason = p.Reason
		e.ReasonDetail = p.ReasonDetail
		if p.RequestID != "" {
			e.RequestID = p.RequestID
		}
	}
	return e
}

func sentinelFor(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusGone:
		return ErrGone
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusServiceUnavailable:
		return ErrUnavailable
	case status >= 500:
		return ErrUpstream
	default:
		return ErrRejected
	}
}

// excerpt trims body to bodyExcerptLimit bytes without splitting a rune.
func excerpt(body []byte) string {
	s := strings.ToValidUTF8(strings.TrimSpace(string(body)), "\uFFFD")
	if len(s) <= bodyExcerptLimit {
		return s
	}
	cut := bodyExcerptLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// maxRetryAfter bounds server hints; anything longer is treated as this.
const maxRetryAfter = 24 * time.Hour

// ParseRetryAfter accepts delta-seconds or an HTTP date. Invalid or negative
// values yield 0, and hints are capped at maxRetryAfter.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs < 0 {
			return 0
		}
		if secs > int64(maxRetryAfter/time.Second) {
			return maxRetryAfter
		}
		return time.Duration(secs) * time.Second
	} else if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(v, "-") {
		return maxRetryAfter
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return min(d.Round(time.Second), maxRetryAfter)
		}
	}
	return 0
}
