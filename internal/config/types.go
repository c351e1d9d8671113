// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Host classes select the engine preference (see engine.Select).
const (
	HostClassAdaptive = "adaptive"
	HostClassNative   = "native"
)

// Resume store backends.
const (
	ResumeBackendMemory = "memory"
	ResumeBackendSqlite = "sqlite"
	ResumeBackendRedis  = "redis"
)

// Config is the complete player configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Resume    ResumeConfig    `yaml:"resume"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Control   ControlConfig   `yaml:"control"`
}

// APIConfig describes how to reach the xg2g v3 API.
type APIConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// PlaybackConfig holds session, engine and timing tunables.
type PlaybackConfig struct {
	PollInterval         time.Duration `yaml:"pollInterval"`
	PollAttempts         int           `yaml:"pollAttempts"`
	DirectProbeAttempts  int           `yaml:"directProbeAttempts"`
	DirectProbeBackoff   time.Duration `yaml:"directProbeBackoff"`
	PlaybackInfoAttempts int           `yaml:"playbackInfoAttempts"`
	TeardownQuiet        time.Duration `yaml:"teardownQuiet"`
	StatsInterval        time.Duration `yaml:"statsInterval"`
	ResumeCheckpoint     time.Duration `yaml:"resumeCheckpoint"`
	IdleHide             time.Duration `yaml:"idleHide"`

	// HostClass is "native" or "adaptive".
	HostClass    string   `yaml:"hostClass"`
	NativePlayer string   `yaml:"nativePlayer"`
	NativeArgs   []string `yaml:"nativeArgs"`
	FFmpegBin    string   `yaml:"ffmpegBin"`

	// Codecs overrides capability probing when non-empty.
	Codecs []string `yaml:"codecs"`

	RequireNormative  bool `yaml:"requireNormative"`
	FeedbackPerMinute int  `yaml:"feedbackPerMinute"`
}

// ResumeConfig selects where resume positions are kept.
type ResumeConfig struct {
	Backend       string `yaml:"backend"`
	Dir           string `yaml:"dir"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	Principal     string `yaml:"principal"`
}

// LoggingConfig controls the zerolog base logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// ControlConfig controls the optional local control surface.
type ControlConfig struct {
	ListenAddr        string `yaml:"listenAddr"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8088",
			Timeout: 10 * time.Second,
		},
		Playback: PlaybackConfig{
			PollInterval:         100 * time.Millisecond,
			PollAttempts:         180,
			DirectProbeAttempts:  10,
			DirectProbeBackoff:   2 * time.Second,
			PlaybackInfoAttempts: 5,
			TeardownQuiet:        50 * time.Millisecond,
			StatsInterval:        time.Second,
			ResumeCheckpoint:     10 * time.Second,
			IdleHide:             3 * time.Second,
			HostClass:            HostClassAdaptive,
			NativePlayer:         "mpv",
			FFmpegBin:            "ffmpeg",
			FeedbackPerMinute:    6,
		},
		Resume: ResumeConfig{
			Backend:   ResumeBackendMemory,
			Principal: "local",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Exporter:     "http",
			Endpoint:     "localhost:4318",
			Environment:  "development",
			SamplingRate: 1.0,
		},
		Control: ControlConfig{
			RequestsPerMinute: 120,
		},
	}
}
