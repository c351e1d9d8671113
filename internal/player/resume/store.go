// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resume keeps the last playback position per principal and
// recording so playback can continue where it stopped.
package resume

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/xg2g-player/internal/config"
)

// Eligibility thresholds in seconds.
const (
	MinPosition   = 15.0
	EndGuard      = 10.0
	sqliteDBName  = "resume.sqlite"
	redisKeyspace = "xg2g:resume:"
)

// State is one stored resume position.
type State struct {
	PosSeconds      float64   `json:"pos_seconds"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	Finished        bool      `json:"finished"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Eligible reports whether the position is worth offering: far enough in,
// not finished and not within the last seconds of a known duration.
func (s State) Eligible() bool {
	if s.Finished || s.PosSeconds < MinPosition {
		return false
	}
	if s.DurationSeconds != nil && *s.DurationSeconds > 0 && s.PosSeconds >= *s.DurationSeconds-EndGuard {
		return false
	}
	return true
}

// Store persists resume states. Get returns (nil, nil) when nothing is stored.
type Store interface {
	Put(ctx context.Context, principalID, recordingID string, state *State) error
	Get(ctx context.Context, principalID, recordingID string) (*State, error)
	Delete(ctx context.Context, principalID, recordingID string) error
	Close() error
}

// NewStore builds the configured backend.
func NewStore(ctx context.Context, cfg config.ResumeConfig) (Store, error) {
	switch cfg.Backend {
	case "", config.ResumeBackendMemory:
		return NewMemoryStore(), nil
	case config.ResumeBackendSqlite:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("resume store: sqlite backend needs a directory")
		}
		return NewSqliteStore(ctx, SqlitePath(cfg.Dir))
	case config.ResumeBackendRedis:
		return NewRedisStore(ctx, RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	default:
		return nil, fmt.Errorf("unknown resume store backend: %s (supported: memory, sqlite, redis)", cfg.Backend)
	}
}

// SqlitePath returns the database file used for dir.
func SqlitePath(dir string) string {
	return filepath.Join(dir, sqliteDBName)
}

// MemoryStore implements Store using a map (thread-safe).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]State
}

// NewMemoryStore creates an in-memory resume store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]State)}
}

func (s *MemoryStore) Put(_ context.Context, principalID, recordingID string, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return fmt.Errorf("resume store: closed")
	}
	s.data[compositeKey(principalID, recordingID)] = clone(state)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, principalID, recordingID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if val, ok := s.data[compositeKey(principalID, recordingID)]; ok {
		c := clone(&val)
		return &c, nil
	}
	return nil, nil
}

func (s *MemoryStore) Delete(_ context.Context, principalID, recordingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, compositeKey(principalID, recordingID))
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}

// clone copies state including the duration pointer so callers can keep
// mutating theirs.
func clone(state *State) State {
	c := *state
	if state.DurationSeconds != nil {
		d := *state.DurationSeconds
		c.DurationSeconds = &d
	}
	return c
}

func compositeKey(principal, recording string) string {
	return principal + "\x00" + recording
}
