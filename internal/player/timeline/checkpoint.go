// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timeline

import (
	"context"
	"time"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/player/resume"
	"github.com/rs/zerolog"
)

// DefaultCheckpointInterval is how often a playing recording's position is
// saved.
const DefaultCheckpointInterval = 10 * time.Second

// Checkpointer saves the tracker's position for a recording.
type Checkpointer struct {
	store       resume.Store
	tracker     *Tracker
	principal   string
	recordingID string
	interval    time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	last float64
}

// NewCheckpointer returns a checkpointer; interval <= 0 uses the default.
func NewCheckpointer(store resume.Store, tracker *Tracker, principal, recordingID string, interval time.Duration) *Checkpointer {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	return &Checkpointer{
		store:       store,
		tracker:     tracker,
		principal:   principal,
		recordingID: recordingID,
		interval:    interval,
		now:         time.Now,
		logger:      xglog.WithComponent("timeline").With().Str(xglog.FieldRecordingID, recordingID).Logger(),
		last:        -1,
	}
}

// Run saves every interval until ctx is done. It is not safe to call Run
// and Flush concurrently; Flush belongs after Run returned.
func (c *Checkpointer) Run(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.save(ctx, false); err != nil {
				c.logger.Warn().Err(err).Msg("resume checkpoint failed")
			}
		}
	}
}

// Flush saves the final position, e.g. on stop.
func (c *Checkpointer) Flush(ctx context.Context) error {
	return c.save(ctx, true)
}

func (c *Checkpointer) save(ctx context.Context, force bool) error {
	w := c.tracker.Window()
	pos := w.CurrentPosition
	if pos <= 0 || (!force && pos == c.last) {
		return nil
	}
	state := &resume.State{
		PosSeconds:      pos,
		DurationSeconds: w.DurationSeconds,
		Finished:        c.tracker.Ended(),
		UpdatedAt:       c.now(),
	}
	if err := c.store.Put(ctx, c.principal, c.recordingID, state); err != nil {
		return err
	}
	c.last = pos
	c.logger.Debug().Float64("pos_seconds", pos).Bool("finished", state.Finished).Msg("resume checkpoint saved")
	return nil
}
