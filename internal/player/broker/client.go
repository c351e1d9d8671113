// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package broker is a typed client for the xg2g v3 session API: intents,
// session status, lease heartbeats, playback feedback and stream-info lookups.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/platform/httpx"
	xgnet "github.com/ManuGH/xg2g-player/internal/platform/net"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	apiPrefix    = "/api/v3"
	maxBodyBytes = 1 << 20

	defaultFeedbackPerMinute = 6
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// FeedbackPerMinute bounds feedback reports; 0 uses the default.
	FeedbackPerMinute int

	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
}

// Client talks to one xg2g instance. It is safe for concurrent use.
type Client struct {
	base     *url.URL
	token    string
	http     *http.Client
	feedback *rate.Limiter
	logger   zerolog.Logger
}

// New validates the options and builds a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("broker: invalid base URL %q", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = httpx.Instrument(httpx.NewClient(opts.Timeout), "xg2g.api")
	}

	perMinute := opts.FeedbackPerMinute
	if perMinute <= 0 {
		perMinute = defaultFeedbackPerMinute
	}

	return &Client{
		base:     base,
		token:    opts.Token,
		http:     hc,
		feedback: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 2),
		logger:   xglog.WithComponent("broker"),
	}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// ResolveURL resolves a server-provided reference (e.g. a relative
// playbackUrl) against the base URL.
func (c *Client) ResolveURL(ref string) (string, error) {
	abs, err := xgnet.ResolvePlaybackURL(c.base, ref)
	if err != nil {
		return "", fmt.Errorf("broker: %w", err)
	}
	return abs, nil
}

// StartIntent posts a stream.start intent.
func (c *Client) StartIntent(ctx context.Context, in IntentRequest) (IntentResponse, error) {
	in.Type = IntentStart
	var out IntentResponse
	err := c.do(ctx, "intent.start", http.MethodPost, c.endpoint("/intents"), in, &out, nil)
	return out, err
}

// StopIntent posts a stream.stop intent. The response body is ignored.
func (c *Client) StopIntent(ctx context.Context, sessionID, correlationID string) error {
	in := IntentRequest{Type: IntentStop, SessionID: sessionID, CorrelationID: correlationID}
	return c.do(ctx, "intent.stop", http.MethodPost, c.endpoint("/intents"), in, nil, nil)
}

// Session fetches the current session status.
func (c *Client) Session(ctx context.Context, sessionID string) (Session, error) {
	var out Session
	err := c.do(ctx, "session.get", http.MethodGet, c.endpoint("/sessions/"+url.PathEscape(sessionID)), nil, &out, nil)
	return out, err
}

// Heartbeat renews the session lease.
func (c *Client) Heartbeat(ctx context.Context, sessionID string) (HeartbeatResponse, error) {
	var out HeartbeatResponse
	err := c.do(ctx, "session.heartbeat", http.MethodPost, c.endpoint("/sessions/"+url.PathEscape(sessionID)+"/heartbeat"), nil, &out, nil)
	return out, err
}

// ReportFeedback sends playback feedback. Reports beyond the rate limit are
// dropped with ErrFeedbackDropped.
func (c *Client) ReportFeedback(ctx context.Context, sessionID string, fb Feedback) error {
	if !c.feedback.Allow() {
		return ErrFeedbackDropped
	}
	return c.do(ctx, "session.feedback", http.MethodPost, c.endpoint("/sessions/"+url.PathEscape(sessionID)+"/feedback"), fb, nil, nil)
}

// RecordingStreamInfo resolves playback info for a recording.
func (c *Client) RecordingStreamInfo(ctx context.Context, recordingID string, caps Capabilities) (PlaybackInfo, error) {
	var out PlaybackInfo
	err := c.do(ctx, "recording.stream_info", http.MethodPost, c.endpoint("/recordings/"+url.PathEscape(recordingID)+"/stream-info"), caps, &out, nil)
	return out, err
}

// Probe issues a HEAD request against a media URL and returns the status.
// Non-2xx statuses are returned as *Error alongside the status.
func (c *Client) Probe(ctx context.Context, rawURL, decisionToken string) (int, error) {
	target, err := c.ResolveURL(rawURL)
	if err != nil {
		return 0, &Error{Sentinel: ErrRejected, Operation: "media.probe", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return 0, &Error{Sentinel: ErrRejected, Operation: "media.probe", Err: err}
	}
	c.authorize(req)
	if decisionToken != "" {
		req.Header.Set(HeaderDecisionToken, decisionToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &Error{Sentinel: ErrTransport, Operation: "media.probe", Err: err}
	}
	drainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, newHTTPError("media.probe", resp, nil)
	}
	return resp.StatusCode, nil
}

// Authorize adds the bearer token to requests aimed at the broker's origin.
// Exported for the media fetchers of the playback engines.
func (c *Client) Authorize(req *http.Request) {
	c.authorize(req)
}

func (c *Client) authorize(req *http.Request) {
	if c.token == "" || req.URL == nil {
		return
	}
	// Never hand the token to a foreign origin.
	if !xgnet.SameOrigin(req.URL, c.base) {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + apiPrefix + path
}

func (c *Client) do(ctx context.Context, op, method, target string, in, out any, header http.Header) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Sentinel: ErrRejected, Operation: op, Err: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return &Error{Sentinel: ErrRejected, Operation: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := xglog.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(HeaderRequestID, id)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str(xglog.FieldEvent, op+".transport_error").Msg("broker request failed")
		return &Error{Sentinel: ErrTransport, Operation: op, Err: err}
	}
	defer drainClose(resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Sentinel: ErrTransport, Operation: op, Status: resp.StatusCode, Err: err}
	}

	c.logger.Debug().
		Str(xglog.FieldEvent, op).
		Int(xglog.FieldStatus, resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("broker request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(op, resp, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Sentinel: ErrBadResponse, Operation: op, Status: resp.StatusCode, Body: excerpt(data), Err: err}
	}
	return nil
}

func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxBodyBytes))
	_ = body.Close()
}
