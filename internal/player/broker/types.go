// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broker

import "time"

// IntentType is the kind of intent posted to /api/v3/intents.
type IntentType string

const (
	IntentStart IntentType = "stream.start"
	IntentStop  IntentType = "stream.stop"
)

// Intent parameter keys understood by the broker.
const (
	ParamCodecs         = "codecs"
	ParamMode           = "mode"
	ParamPlaybackMode   = "playback_mode"
	ParamDecisionToken  = "playback_decision_token"
	ParamModeLive       = "live"
	HeaderDecisionToken = "X-Playback-Decision-Token"
	HeaderRequestID     = "X-Request-ID"
)

// IntentRequest is the body of POST /api/v3/intents.
type IntentRequest struct {
	Type          IntentType        `json:"type"`
	ServiceRef    string            `json:"serviceRef,omitempty"`
	SessionID     string            `json:"sessionId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Params        map[string]string `json:"params,omitempty"`
	StartMs       *int64            `json:"startMs,omitempty"`
}

// IntentResponse is the 202 body of an accepted intent.
type IntentResponse struct {
	SessionID     string `json:"sessionId"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlationId,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
}

// SessionState mirrors the broker's session lifecycle states.
type SessionState string

const (
	StateIdle      SessionState = "IDLE"
	StateStarting  SessionState = "STARTING"
	StatePriming   SessionState = "PRIMING"
	StateReady     SessionState = "READY"
	StateDraining  SessionState = "DRAINING"
	StateStopping  SessionState = "STOPPING"
	StateStopped   SessionState = "STOPPED"
	StateFailed    SessionState = "FAILED"
	StateCancelled SessionState = "CANCELLED"
)

// IsTerminal reports whether the session can no longer become playable.
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateFailed, StateStopped, StateCancelled, StateStopping:
		return true
	}
	return false
}

// IsPlayable reports whether the session serves media.
func (s SessionState) IsPlayable() bool {
	return s == StateReady || s == StateDraining
}

// Reason codes with dedicated client handling.
const (
	ReasonLeaseBusy       = "R_LEASE_BUSY"
	ReasonLeaseBusyLegacy = "LEASE_BUSY"
	ReasonLeaseExpired    = "R_LEASE_EXPIRED"
)

// IsLeaseBusy reports whether a reason or problem code denotes a held lease.
func IsLeaseBusy(code string) bool {
	return code == ReasonLeaseBusy || code == ReasonLeaseBusyLegacy
}

// Session is the body of GET /api/v3/sessions/{id}.
type Session struct {
	SessionID            string       `json:"sessionId"`
	ServiceRef           string       `json:"serviceRef,omitempty"`
	State                SessionState `json:"state"`
	Mode                 string       `json:"mode,omitempty"`
	PlaybackURL          string       `json:"playbackUrl,omitempty"`
	DurationSeconds      *float64     `json:"durationSeconds,omitempty"`
	SeekableStartSeconds *float64     `json:"seekableStartSeconds,omitempty"`
	SeekableEndSeconds   *float64     `json:"seekableEndSeconds,omitempty"`
	LiveEdgeSeconds      *float64     `json:"liveEdgeSeconds,omitempty"`
	HeartbeatInterval    int          `json:"heartbeat_interval,omitempty"`
	LeaseExpiresAt       *time.Time   `json:"lease_expires_at,omitempty"`
	Reason               string       `json:"reason,omitempty"`
	ReasonDetail         string       `json:"reasonDetail,omitempty"`
	RequestID            string       `json:"requestId,omitempty"`
	CorrelationID        string       `json:"correlationId,omitempty"`
}

// HeartbeatResponse is the 200 body of POST /api/v3/sessions/{id}/heartbeat.
type HeartbeatResponse struct {
	SessionID      string    `json:"session_id"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
	Acknowledged   bool      `json:"acknowledged"`
}

// FeedbackEvent classifies a feedback report.
type FeedbackEvent string

const (
	FeedbackError   FeedbackEvent = "error"
	FeedbackWarning FeedbackEvent = "warning"
)

// Feedback codes follow the media error numbering the broker understands.
// FeedbackCodeDecode asks the broker to switch to a fallback profile.
const (
	FeedbackCodeAborted     = 1
	FeedbackCodeNetwork     = 2
	FeedbackCodeDecode      = 3
	FeedbackCodeUnsupported = 4
)

// Feedback is the body of POST /api/v3/sessions/{id}/feedback.
type Feedback struct {
	Event   FeedbackEvent `json:"event"`
	Code    *int          `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Capabilities is the client capability body sent with stream-info lookups.
type Capabilities struct {
	Version       int      `json:"capabilities_version"`
	Containers    []string `json:"containers"`
	VideoCodecs   []string `json:"video_codecs"`
	AudioCodecs   []string `json:"audio_codecs"`
	SupportsHLS   bool     `json:"supports_hls"`
	SupportsRange *bool    `json:"supports_range,omitempty"`
	DeviceType    string   `json:"device_type,omitempty"`
}

// Decision is the normative playback decision.
type Decision struct {
	Mode               string   `json:"mode"`
	SelectedOutputURL  string   `json:"selectedOutputUrl,omitempty"`
	SelectedOutputKind string   `json:"selectedOutputKind,omitempty"`
	Reasons            []string `json:"reasons,omitempty"`
	Trace              struct {
		RequestID string `json:"requestId,omitempty"`
	} `json:"trace"`
}

// ResumeInfo is the legacy resume hint embedded in stream-info responses.
type ResumeInfo struct {
	PosSeconds      float64  `json:"pos_seconds"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Finished        *bool    `json:"finished,omitempty"`
}

// PlaybackInfo is the body of a stream-info lookup. It carries either the
// normative Decision or the legacy Mode/URL fields, or both.
type PlaybackInfo struct {
	Decision      *Decision   `json:"decision,omitempty"`
	DecisionToken string      `json:"playbackDecisionToken,omitempty"`
	RequestID     string      `json:"requestId,omitempty"`
	SessionID     string      `json:"sessionId,omitempty"`
	Mode          string      `json:"mode,omitempty"`
	URL           string      `json:"url,omitempty"`
	Seekable      *bool       `json:"isSeekable,omitempty"`
	Duration      *float64    `json:"durationSeconds,omitempty"`
	StartUnix     *int64      `json:"startUnix,omitempty"`
	Resume        *ResumeInfo `json:"resume,omitempty"`
}
