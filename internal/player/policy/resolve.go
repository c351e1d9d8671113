// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package policy turns a broker playback-info response into a concrete
// stream URL and kind, or refuses. It never guesses a stream: an
// incomplete normative decision fails closed instead of falling back to
// legacy fields.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/xg2g-player/internal/player/broker"
)

// Contract names which part of the response was consumed.
type Contract string

const (
	Normative  Contract = "normative"
	Legacy     Contract = "legacy"
	FailClosed Contract = "fail_closed"
)

// Kind is the output container family.
type Kind string

const (
	KindHLS  Kind = "hls"
	KindFile Kind = "file"
)

// Reason codes for refused resolutions.
const (
	ReasonDenied                = "playback_denied"
	ReasonOutputMissing         = "decision_output_missing"
	ReasonKindUnsupported       = "decision_output_kind_unsupported"
	ReasonContractUnsatisfiable = "contract_unsatisfiable"
	ReasonStreamUnavailable     = "stream_unavailable"
	ReasonLegacyModeUnsupported = "legacy_mode_unsupported"
)

var (
	// ErrDenied is returned when the broker explicitly denies playback.
	ErrDenied = errors.New("playback denied")
	// ErrUnavailable is returned when a legacy response has no URL.
	ErrUnavailable = errors.New("stream not available")
	// ErrFailClosed is returned for malformed or unsatisfiable contracts.
	ErrFailClosed = errors.New("playback decision unusable")
)

// Flags are local switches that constrain resolution.
type Flags struct {
	// RequireNormative refuses responses without a normative decision.
	RequireNormative bool
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Contract Contract
	URL      string
	Kind     Kind
	Mode     string
	Reason   string

	// ProbeRequired is set for direct files, which must be probed before attach.
	ProbeRequired bool

	DecisionToken   string
	RequestID       string
	DurationSeconds *float64
	Seekable        *bool
	Resume          *broker.ResumeInfo
}

// Error is a refused resolution.
type Error struct {
	Contract Contract
	Reason   string
	Detail   string
	base     error
}

func (e *Error) Error() string {
	msg := e.base.Error()
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.base }

func refuse(contract Contract, base error, reason, detail string) (Resolution, error) {
	return Resolution{Contract: FailClosed, Reason: reason}, &Error{Contract: contract, Reason: reason, Detail: detail, base: base}
}

// Resolve picks the stream to play from info. The returned Resolution has
// Contract FailClosed whenever err is non-nil.
func Resolve(flags Flags, info broker.PlaybackInfo) (Resolution, error) {
	if info.Decision != nil {
		return resolveNormative(info)
	}
	if flags.RequireNormative {
		return refuse(Normative, ErrFailClosed, ReasonOutputMissing, "normative decision required but absent")
	}
	if info.Mode != "" || info.URL != "" {
		return resolveLegacy(info)
	}
	return refuse(FailClosed, ErrFailClosed, ReasonContractUnsatisfiable, "response has neither decision nor legacy fields")
}

func resolveNormative(info broker.PlaybackInfo) (Resolution, error) {
	d := info.Decision
	if strings.EqualFold(d.Mode, "deny") {
		return refuse(Normative, ErrDenied, ReasonDenied, strings.Join(d.Reasons, ","))
	}
	outURL := strings.TrimSpace(d.SelectedOutputURL)
	if outURL == "" {
		return refuse(Normative, ErrFailClosed, ReasonOutputMissing, "decision.selectedOutputUrl is empty")
	}

	var kind Kind
	switch strings.ToLower(strings.TrimSpace(d.SelectedOutputKind)) {
	case string(KindHLS):
		kind = KindHLS
	case string(KindFile):
		kind = KindFile
	default:
		return refuse(Normative, ErrFailClosed, ReasonKindUnsupported, fmt.Sprintf("selectedOutputKind %q", d.SelectedOutputKind))
	}

	requestID := info.RequestID
	if requestID == "" {
		requestID = d.Trace.RequestID
	}
	return Resolution{
		Contract:        Normative,
		URL:             outURL,
		Kind:            kind,
		Mode:            d.Mode,
		ProbeRequired:   kind == KindFile,
		DecisionToken:   info.DecisionToken,
		RequestID:       requestID,
		DurationSeconds: info.Duration,
		Seekable:        info.Seekable,
		Resume:          info.Resume,
	}, nil
}

func resolveLegacy(info broker.PlaybackInfo) (Resolution, error) {
	mode := strings.ToLower(strings.TrimSpace(info.Mode))

	var kind Kind
	switch mode {
	case "deny":
		return refuse(Legacy, ErrDenied, ReasonDenied, "")
	case "direct_mp4":
		kind = KindFile
	case "native_hls", "hlsjs", "hls", "transcode", "":
		kind = KindHLS
	default:
		return refuse(Legacy, ErrFailClosed, ReasonLegacyModeUnsupported, fmt.Sprintf("mode %q", info.Mode))
	}

	u := strings.TrimSpace(info.URL)
	if u == "" {
		return refuse(Legacy, ErrUnavailable, ReasonStreamUnavailable, "")
	}

	return Resolution{
		Contract:        Legacy,
		URL:             u,
		Kind:            kind,
		Mode:            mode,
		ProbeRequired:   kind == KindFile,
		DecisionToken:   info.DecisionToken,
		RequestID:       info.RequestID,
		DurationSeconds: info.Duration,
		Seekable:        info.Seekable,
		Resume:          info.Resume,
	}, nil
}
