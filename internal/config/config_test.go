// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "player.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults_AreValid(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  baseUrl: http://receiver.lan:8088
  timeout: 3s
playback:
  pollInterval: 250ms
  pollAttempts: 40
  hostClass: native
  codecs: [hevc, h264]
resume:
  backend: sqlite
  dir: /var/lib/xg2g-player
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://receiver.lan:8088", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Playback.PollInterval)
	assert.Equal(t, 40, cfg.Playback.PollAttempts)
	assert.Equal(t, HostClassNative, cfg.Playback.HostClass)
	assert.Equal(t, []string{"hevc", "h264"}, cfg.Playback.Codecs)
	assert.Equal(t, ResumeBackendSqlite, cfg.Resume.Backend)
	// untouched values keep their defaults
	assert.Equal(t, 10, cfg.Playback.DirectProbeAttempts)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "api:\n  baseUrl: http://file:8088\n")
	t.Setenv(EnvBaseURL, "http://env:9000")
	t.Setenv(EnvPollAttempts, "12")
	t.Setenv(EnvCodecs, "AV1, h264")
	t.Setenv(EnvRequireNorm, "yes")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://env:9000", cfg.API.BaseURL)
	assert.Equal(t, 12, cfg.Playback.PollAttempts)
	assert.Equal(t, []string{"av1", "h264"}, cfg.Playback.Codecs)
	assert.True(t, cfg.Playback.RequireNormative)
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv(EnvPollAttempts, "many")
	t.Setenv(EnvPollInterval, "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 180, cfg.Playback.PollAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Playback.PollInterval)
}

func TestParseEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("XG2G_PLAYER_TEST_INT", "x")
	t.Setenv("XG2G_PLAYER_TEST_DUR", "x")
	t.Setenv("XG2G_PLAYER_TEST_BOOL", "maybe")
	t.Setenv("XG2G_PLAYER_TEST_FLOAT", "x")

	assert.Equal(t, 7, ParseInt("XG2G_PLAYER_TEST_INT", 7))
	assert.Equal(t, time.Second, ParseDuration("XG2G_PLAYER_TEST_DUR", time.Second))
	assert.True(t, ParseBool("XG2G_PLAYER_TEST_BOOL", true))
	assert.Equal(t, 1.5, ParseFloat("XG2G_PLAYER_TEST_FLOAT", 1.5))

	t.Setenv("XG2G_PLAYER_TEST_BOOL", "no")
	assert.False(t, ParseBool("XG2G_PLAYER_TEST_BOOL", true))
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "playback:\n  pollIntervall: 1s\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownConfigField), "got %v", err)
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults().API.BaseURL, cfg.API.BaseURL)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.API.BaseURL = "receiver.lan"
	cfg.Playback.PollAttempts = 0
	cfg.Playback.HostClass = "tv"
	cfg.Playback.Codecs = []string{"vp9"}
	cfg.Resume.Backend = "redis"

	err := Validate(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	msg := err.Error()
	for _, want := range []string{"api.baseUrl", "pollAttempts", "hostClass", "vp9", "redisAddr"} {
		assert.Contains(t, msg, want)
	}
}

func TestHolder_ReloadNotifiesListeners(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	loader := NewLoader(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	ch := make(chan Config, 1)
	h.Subscribe(ch)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))
	require.NoError(t, h.Reload())

	select {
	case got := <-ch:
		assert.Equal(t, "debug", got.Logging.Level)
	default:
		t.Fatal("listener was not notified")
	}
	assert.Equal(t, "debug", h.Get().Logging.Level)
}

func TestHolder_ReloadKeepsOldConfigOnError(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: warn\n")
	loader := NewLoader(path)
	initial, err := loader.Load()
	require.NoError(t, err)
	h := NewHolder(initial, loader)

	require.NoError(t, os.WriteFile(path, []byte("playback:\n  hostClass: toaster\n"), 0o600))
	require.Error(t, h.Reload())
	assert.Equal(t, "warn", h.Get().Logging.Level)
}
