// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/xg2g-player/internal/log"
	"github.com/rs/zerolog"
)

// Environment keys understood by applyEnv.
const (
	EnvBaseURL        = "XG2G_PLAYER_BASE_URL"
	EnvToken          = "XG2G_PLAYER_TOKEN"
	EnvAPITimeout     = "XG2G_PLAYER_API_TIMEOUT"
	EnvPollInterval   = "XG2G_PLAYER_POLL_INTERVAL"
	EnvPollAttempts   = "XG2G_PLAYER_POLL_ATTEMPTS"
	EnvHostClass      = "XG2G_PLAYER_HOST_CLASS"
	EnvNativePlayer   = "XG2G_PLAYER_NATIVE_PLAYER"
	EnvFFmpegBin      = "XG2G_PLAYER_FFMPEG_BIN"
	EnvCodecs         = "XG2G_PLAYER_CODECS"
	EnvRequireNorm    = "XG2G_PLAYER_REQUIRE_NORMATIVE"
	EnvResumeBackend  = "XG2G_PLAYER_RESUME_BACKEND"
	EnvResumeDir      = "XG2G_PLAYER_RESUME_DIR"
	EnvRedisAddr      = "XG2G_PLAYER_REDIS_ADDR"
	EnvRedisPassword  = "XG2G_PLAYER_REDIS_PASSWORD"
	EnvPrincipal      = "XG2G_PLAYER_PRINCIPAL"
	EnvLogLevel       = "XG2G_PLAYER_LOG_LEVEL"
	EnvOTelEnabled    = "XG2G_PLAYER_OTEL_ENABLED"
	EnvOTelExporter   = "XG2G_PLAYER_OTEL_EXPORTER"
	EnvOTelEndpoint   = "XG2G_PLAYER_OTEL_ENDPOINT"
	EnvOTelSampling   = "XG2G_PLAYER_OTEL_SAMPLING_RATE"
	EnvControlListen  = "XG2G_PLAYER_CONTROL_LISTEN"
	EnvControlRPMCeil = "XG2G_PLAYER_CONTROL_RPM"
)

// applyEnv overlays environment values on cfg. Unset variables keep the current value.
func applyEnv(cfg *Config) {
	cfg.API.BaseURL = ParseString(EnvBaseURL, cfg.API.BaseURL)
	cfg.API.Token = ParseString(EnvToken, cfg.API.Token)
	cfg.API.Timeout = ParseDuration(EnvAPITimeout, cfg.API.Timeout)

	cfg.Playback.PollInterval = ParseDuration(EnvPollInterval, cfg.Playback.PollInterval)
	cfg.Playback.PollAttempts = ParseInt(EnvPollAttempts, cfg.Playback.PollAttempts)
	cfg.Playback.HostClass = ParseString(EnvHostClass, cfg.Playback.HostClass)
	cfg.Playback.NativePlayer = ParseString(EnvNativePlayer, cfg.Playback.NativePlayer)
	cfg.Playback.FFmpegBin = ParseString(EnvFFmpegBin, cfg.Playback.FFmpegBin)
	if raw := ParseString(EnvCodecs, ""); raw != "" {
		cfg.Playback.Codecs = splitList(raw)
	}
	cfg.Playback.RequireNormative = ParseBool(EnvRequireNorm, cfg.Playback.RequireNormative)

	cfg.Resume.Backend = ParseString(EnvResumeBackend, cfg.Resume.Backend)
	cfg.Resume.Dir = ParseString(EnvResumeDir, cfg.Resume.Dir)
	cfg.Resume.RedisAddr = ParseString(EnvRedisAddr, cfg.Resume.RedisAddr)
	cfg.Resume.RedisPassword = ParseString(EnvRedisPassword, cfg.Resume.RedisPassword)
	cfg.Resume.Principal = ParseString(EnvPrincipal, cfg.Resume.Principal)

	cfg.Logging.Level = ParseString(EnvLogLevel, cfg.Logging.Level)

	cfg.Telemetry.Enabled = ParseBool(EnvOTelEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString(EnvOTelExporter, cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString(EnvOTelEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(EnvOTelSampling, cfg.Telemetry.SamplingRate)

	cfg.Control.ListenAddr = ParseString(EnvControlListen, cfg.Control.ListenAddr)
	cfg.Control.RequestsPerMinute = ParseInt(EnvControlRPMCeil, cfg.Control.RequestsPerMinute)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// ParseString reads a string from environment variable or returns default value.
// It logs the source (environment or default) for observability.
func ParseString(key, defaultValue string) string {
	return parseStringWithLogger(log.WithComponent("config"), key, defaultValue)
}

func parseStringWithLogger(logger zerolog.Logger, key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		lowerKey := strings.ToLower(key)
		switch {
		case value == "":
			logger.Debug().
				Str("key", key).
				Str("source", "default").
				Msg("using default value (environment variable is empty)")
			return defaultValue
		case strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "password"):
			logger.Debug().
				Str("key", key).
				Str("source", "environment").
				Bool("sensitive", true).
				Msg("using environment variable")
		default:
			logger.Debug().
				Str("key", key).
				Str("value", value).
				Str("source", "environment").
				Msg("using environment variable")
		}
		return value
	}
	return defaultValue
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	return i
}

// ParseDuration reads a duration from environment variable in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	return d
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
		return defaultValue
	}
	return f
}
