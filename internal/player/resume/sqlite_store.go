// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/xg2g-player/internal/persistence/sqlite"
)

var migrations = []sqlite.Migration{
	{Version: 1, SQL: `
	CREATE TABLE IF NOT EXISTS resume_states (
		principal_id TEXT NOT NULL,
		recording_id TEXT NOT NULL,
		pos_seconds REAL NOT NULL,
		duration_seconds REAL,
		finished BOOLEAN NOT NULL DEFAULT 0,
		updated_at_ms INTEGER NOT NULL,
		PRIMARY KEY (principal_id, recording_id)
	);
	CREATE INDEX IF NOT EXISTS idx_resume_updated ON resume_states(updated_at_ms);
	`},
}

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB   *sql.DB
	path string
}

// NewSqliteStore opens (and migrates) the resume database at dbPath.
func NewSqliteStore(ctx context.Context, dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(ctx, dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if _, err := sqlite.Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resume store: migration failed: %w", err)
	}
	return &SqliteStore{DB: db, path: dbPath}, nil
}

// Path returns the database file.
func (s *SqliteStore) Path() string {
	return s.path
}

func (s *SqliteStore) Put(ctx context.Context, principalID, recordingID string, state *State) error {
	query := `
	INSERT INTO resume_states (principal_id, recording_id, pos_seconds, duration_seconds, finished, updated_at_ms)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(principal_id, recording_id) DO UPDATE SET
		pos_seconds = excluded.pos_seconds,
		duration_seconds = excluded.duration_seconds,
		finished = excluded.finished,
		updated_at_ms = excluded.updated_at_ms
	`
	var duration sql.NullFloat64
	if state.DurationSeconds != nil {
		duration = sql.NullFloat64{Float64: *state.DurationSeconds, Valid: true}
	}
	_, err := s.DB.ExecContext(ctx, query,
		principalID, recordingID, state.PosSeconds, duration, state.Finished, state.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *SqliteStore) Get(ctx context.Context, principalID, recordingID string) (*State, error) {
	query := `SELECT pos_seconds, duration_seconds, finished, updated_at_ms FROM resume_states WHERE principal_id = ? AND recording_id = ?`
	var (
		state     State
		duration  sql.NullFloat64
		updatedMs int64
	)
	err := s.DB.QueryRowContext(ctx, query, principalID, recordingID).Scan(
		&state.PosSeconds, &duration, &state.Finished, &updatedMs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if duration.Valid {
		d := duration.Float64
		state.DurationSeconds = &d
	}
	state.UpdatedAt = time.UnixMilli(updatedMs)
	return &state, nil
}

func (s *SqliteStore) Delete(ctx context.Context, principalID, recordingID string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM resume_states WHERE principal_id = ? AND recording_id = ?", principalID, recordingID)
	return err
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
