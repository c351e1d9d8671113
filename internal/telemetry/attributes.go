// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by player spans.
const (
	SessionIDKey     = "player.session_id"
	CorrelationIDKey = "player.correlation_id"
	ServiceRefKey    = "player.service_ref"
	RecordingIDKey   = "player.recording_id"
	EngineKey        = "player.engine"
	ContractKey      = "player.contract"
	CodecsKey        = "player.codecs"
	AttemptKey       = "player.attempt"

	BrokerStatusKey = "broker.status"
	BrokerCodeKey   = "broker.code"

	ErrorKindKey = "error.kind"
)

// SessionAttributes creates session-scoped span attributes, skipping empty values.
func SessionAttributes(sessionID, correlationID, serviceRef, recordingID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	add := func(k, v string) {
		if v != "" {
			attrs = append(attrs, attribute.String(k, v))
		}
	}
	add(SessionIDKey, sessionID)
	add(CorrelationIDKey, correlationID)
	add(ServiceRefKey, serviceRef)
	add(RecordingIDKey, recordingID)
	return attrs
}

// PlaybackAttributes describes the negotiated playback path.
func PlaybackAttributes(engine, contract string, codecs []string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(EngineKey, engine),
		attribute.String(ContractKey, contract),
		attribute.StringSlice(CodecsKey, codecs),
	}
}

// StartSpan starts a span on the player tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks the span as failed with an error kind.
func RecordError(span trace.Span, err error, kind string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(ErrorKindKey, kind))
	span.SetStatus(codes.Error, err.Error())
}
