// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package net holds URL helpers shared by the broker client and the
// playback engines.
package net

import (
	"fmt"
	"net/url"
	"strings"
)

// SanitizeURL removes user info and query parameters for safe logging.
// Playback URLs may carry tokens in their query.
func SanitizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	parsedURL.RawQuery = ""
	return parsedURL.String()
}

// ParseDirectHTTPURL validates if a string is a safe, direct HTTP/HTTPS URL.
// It enforces:
//   - Scheme must be "http" or "https"
//   - Host must be non-empty
//   - No embedded User/Password credentials
func ParseDirectHTTPURL(s string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, false
	}
	if u.Host == "" || u.User != nil || u.Fragment != "" {
		return nil, false
	}
	return u, true
}

// ResolvePlaybackURL resolves a server-provided reference against base and
// requires the result to be a direct HTTP(S) URL.
func ResolvePlaybackURL(base *url.URL, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty playback url")
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid playback url %q: %w", SanitizeURL(ref), err)
	}
	abs := base.ResolveReference(rel).String()
	if _, ok := ParseDirectHTTPURL(abs); !ok {
		return "", fmt.Errorf("playback url %q is not a direct http(s) url", SanitizeURL(abs))
	}
	return abs, nil
}
