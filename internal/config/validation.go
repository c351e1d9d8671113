// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var knownCodecs = map[string]bool{"av1": true, "hevc": true, "h264": true}

// Validate checks the configuration for values the controller cannot run with.
// All problems are reported at once.
func Validate(cfg Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("api.baseUrl must be an absolute http(s) URL, got %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout <= 0 {
		add("api.timeout must be positive")
	}

	p := cfg.Playback
	if p.PollInterval <= 0 {
		add("playback.pollInterval must be positive")
	}
	if p.PollAttempts < 1 {
		add("playback.pollAttempts must be >= 1")
	}
	if p.DirectProbeAttempts < 1 {
		add("playback.directProbeAttempts must be >= 1")
	}
	if p.DirectProbeBackoff < 0 {
		add("playback.directProbeBackoff must not be negative")
	}
	if p.PlaybackInfoAttempts < 1 {
		add("playback.playbackInfoAttempts must be >= 1")
	}
	if p.TeardownQuiet < 0 {
		add("playback.teardownQuiet must not be negative")
	}
	switch p.HostClass {
	case HostClassAdaptive, HostClassNative:
	default:
		add("playback.hostClass must be %q or %q, got %q", HostClassAdaptive, HostClassNative, p.HostClass)
	}
	for _, c := range p.Codecs {
		if !knownCodecs[strings.ToLower(c)] {
			add("playback.codecs contains unknown codec %q", c)
		}
	}

	switch cfg.Resume.Backend {
	case ResumeBackendMemory:
	case ResumeBackendSqlite:
		if cfg.Resume.Dir == "" {
			add("resume.dir is required for the sqlite backend")
		}
	case ResumeBackendRedis:
		if cfg.Resume.RedisAddr == "" {
			add("resume.redisAddr is required for the redis backend")
		}
	default:
		add("resume.backend %q is not supported (memory, sqlite, redis)", cfg.Resume.Backend)
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			add("telemetry.exporter must be grpc or http, got %q", cfg.Telemetry.Exporter)
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.samplingRate must be within [0,1]")
		}
	}

	if cfg.Control.ListenAddr != "" && cfg.Control.RequestsPerMinute < 1 {
		add("control.requestsPerMinute must be >= 1 when the control surface is enabled")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
