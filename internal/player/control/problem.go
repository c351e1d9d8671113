// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/player"
	"github.com/ManuGH/xg2g-player/internal/player/engine"
)

const (
	// HeaderRequestID is the canonical header for request correlation.
	HeaderRequestID = "X-Request-ID"
	// JSONKeyRequestID is the request correlation key in problem bodies.
	JSONKeyRequestID = "requestId"
)

// writeProblem writes an RFC 7807 problem details response.
//
//   - type: machine identifier (e.g. "player/no_session").
//   - title: short human label.
//   - code: stable machine-readable short code.
//   - detail: explanation of this occurrence.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, problemType, title, code, detail string, extra map[string]any) {
	reqID := xglog.RequestIDFromContext(r.Context())
	if reqID == "" {
		reqID = w.Header().Get(HeaderRequestID)
	}

	res := map[string]any{
		"type":           problemType,
		"title":          title,
		"status":         status,
		"code":           code,
		"instance":       r.URL.EscapedPath(),
		JSONKeyRequestID: reqID,
	}
	if detail != "" {
		res["detail"] = detail
	}
	for k, v := range extra {
		switch k {
		case "type", "title", "status", "detail", "instance", "code":
			continue
		}
		res[k] = v
	}

	if reqID != "" {
		w.Header().Set(HeaderRequestID, reqID)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		xglog.L().Error().Err(err).Str("type", problemType).Int(xglog.FieldStatus, status).Msg("failed to encode problem response")
	}
}

// writeError maps controller errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *player.Error
	switch {
	case errors.Is(err, player.ErrStartInFlight):
		writeProblem(w, r, http.StatusConflict, "player/start_in_flight", "Start In Flight", "START_IN_FLIGHT", err.Error(), nil)
	case errors.Is(err, player.ErrNoSession):
		writeProblem(w, r, http.StatusConflict, "player/no_session", "No Active Session", "NO_SESSION", err.Error(), nil)
	case errors.Is(err, player.ErrNoResumeOffer):
		writeProblem(w, r, http.StatusConflict, "player/no_resume_offer", "No Resume Offer", "NO_RESUME_OFFER", err.Error(), nil)
	case errors.Is(err, player.ErrNothingToRetry):
		writeProblem(w, r, http.StatusConflict, "player/nothing_to_retry", "Nothing To Retry", "NOTHING_TO_RETRY", err.Error(), nil)
	case errors.Is(err, engine.ErrNotAttached):
		writeProblem(w, r, http.StatusConflict, "player/not_attached", "Engine Not Attached", "NOT_ATTACHED", err.Error(), nil)
	case errors.Is(err, player.ErrClosed):
		writeProblem(w, r, http.StatusServiceUnavailable, "player/closed", "Player Closed", "CLOSED", err.Error(), nil)
	case errors.As(err, &pe):
		status := kindStatus(pe.Kind)
		if pe.Kind == player.KindLeaseBusy && pe.Diagnostics.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(pe.Diagnostics.RetryAfterSeconds))
		}
		writeProblem(w, r, status, "player/"+string(pe.Kind), string(pe.Kind), string(pe.Kind), pe.Message,
			map[string]any{"diagnostics": pe.Diagnostics})
	default:
		writeProblem(w, r, http.StatusInternalServerError, "system/internal", "Internal Error", "INTERNAL", err.Error(), nil)
	}
}

func kindStatus(k player.Kind) int {
	switch k {
	case player.KindLeaseBusy:
		return http.StatusConflict
	case player.KindNotFound:
		return http.StatusNotFound
	case player.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case player.KindTimeout:
		return http.StatusGatewayTimeout
	case player.KindAuthFailure:
		return http.StatusForbidden
	}
	return http.StatusBadGateway
}
