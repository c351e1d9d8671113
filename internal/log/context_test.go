// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextIDs(t *testing.T) {
	tests := []struct {
		name string
		set  func(context.Context, string) context.Context
		get  func(context.Context) string
	}{
		{name: "session", set: ContextWithSessionID, get: SessionIDFromContext},
		{name: "correlation", set: ContextWithCorrelationID, get: CorrelationIDFromContext},
		{name: "request", set: ContextWithRequestID, get: RequestIDFromContext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			//nolint:staticcheck // nil context is part of the contract
			ctx := tt.set(nil, "id-123")
			if got := tt.get(ctx); got != "id-123" {
				t.Errorf("got %q, want %q", got, "id-123")
			}
			if got := tt.get(context.Background()); got != "" {
				t.Errorf("empty context returned %q", got)
			}
		})
	}
}

func TestWithContext_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithSessionID(context.Background(), "sess-1")
	ctx = ContextWithCorrelationID(ctx, "corr-1")

	l := WithContext(ctx, logger)
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if entry[FieldSessionID] != "sess-1" {
		t.Errorf("session_id = %v", entry[FieldSessionID])
	}
	if entry[FieldCorrelationID] != "corr-1" {
		t.Errorf("correlation_id = %v", entry[FieldCorrelationID])
	}
	if _, ok := entry[FieldRequestID]; ok {
		t.Error("request_id must be absent when not set")
	}
}

func TestWithContext_NoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	l := WithContext(context.Background(), logger)
	l.Info().Msg("plain")

	if bytes.Contains(buf.Bytes(), []byte(FieldSessionID)) {
		t.Errorf("unexpected session field in %s", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	if !SetLevel("debug") {
		t.Fatal("SetLevel(debug) returned false")
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("level = %v, want debug", zerolog.GlobalLevel())
	}
	if SetLevel("loud") {
		t.Error("SetLevel accepted an invalid level")
	}
}
