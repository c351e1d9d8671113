// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldServiceRef    = "service_ref"
	FieldRecordingID   = "recording_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"

	// Playback fields
	FieldEngine      = "engine"
	FieldMode        = "mode"
	FieldContract    = "contract"
	FieldCodecs      = "codecs"
	FieldErrorKind   = "error_kind"
	FieldPlaybackURL = "playback_url"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// HTTP fields
	FieldStatus  = "status"
	FieldBaseURL = "base_url"
)
