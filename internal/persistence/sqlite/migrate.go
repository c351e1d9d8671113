// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one schema step. Version numbers start at 1 and must be contiguous.
type Migration struct {
	Version int
	SQL     string
}

// Migrate applies every migration newer than PRAGMA user_version, each in its
// own transaction, and returns the resulting version.
func Migrate(ctx context.Context, db *sql.DB, steps []Migration) (int, error) {
	current, err := UserVersion(ctx, db)
	if err != nil {
		return 0, err
	}

	for i, step := range steps {
		if step.Version != i+1 {
			return current, fmt.Errorf("sqlite: migration %d out of order (want %d)", step.Version, i+1)
		}
		if step.Version <= current {
			continue
		}
		if err := applyStep(ctx, db, step); err != nil {
			return current, fmt.Errorf("sqlite: migration %d: %w", step.Version, err)
		}
		current = step.Version
	}
	return current, nil
}

// UserVersion reads PRAGMA user_version.
func UserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("sqlite: read user_version: %w", err)
	}
	return v, nil
}

func applyStep(ctx context.Context, db *sql.DB, step Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
		return err
	}
	// PRAGMA does not accept bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", step.Version)); err != nil {
		return err
	}
	return tx.Commit()
}
