// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/xg2g-player/internal/player"
	"github.com/ManuGH/xg2g-player/internal/version"
	"github.com/google/renameio/v2"
)

// report is the diagnostics document written on exit.
type report struct {
	Version   string          `json:"version"`
	WrittenAt time.Time       `json:"written_at"`
	ExitError string          `json:"exit_error,omitempty"`
	Snapshot  player.Snapshot `json:"snapshot"`
}

// writeReport replaces path atomically so a reader never sees a partial file.
func writeReport(path string, snap player.Snapshot, exitErr error) error {
	r := report{
		Version:   version.String(),
		WrittenAt: time.Now().UTC(),
		Snapshot:  snap,
	}
	if exitErr != nil {
		r.ExitError = exitErr.Error()
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending report: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}
