// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stats

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/xg2g-player/internal/player/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type counterSource struct{ loaded atomic.Int64 }

func (c *counterSource) Stats() engine.Stats {
	n := c.loaded.Add(1)
	return engine.Stats{BandwidthBps: 4e6, BufferAheadSeconds: 6, Level: 1, SegmentsLoaded: n}
}

func TestMonitor_SamplesUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := New(5 * time.Millisecond)
	_, ok := m.Snapshot()
	assert.False(t, ok)

	src := &counterSource{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, src)
	}()

	require.Eventually(t, func() bool {
		s, ok := m.Snapshot()
		return ok && s.SegmentsLoaded >= 3
	}, 2*time.Second, 5*time.Millisecond)

	s, _ := m.Snapshot()
	assert.Equal(t, 1, s.Level)
	assert.Equal(t, 4e6, s.BandwidthBps)
	assert.False(t, s.SampledAt.IsZero())

	cancel()
	<-done
	_, ok = m.Snapshot()
	assert.False(t, ok, "snapshot cleared after detach")
}

func TestMonitor_NilSourceWaits(t *testing.T) {
	m := New(0)
	assert.Equal(t, DefaultInterval, m.interval)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx, nil)
	_, ok := m.Snapshot()
	assert.False(t, ok)
}

func TestMonitor_Sample(t *testing.T) {
	m := New(time.Second)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	s := m.Sample(&counterSource{})
	assert.Equal(t, fixed, s.SampledAt)
	assert.Equal(t, int64(1), s.SegmentsLoaded)
}
