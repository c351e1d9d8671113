// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuGH/xg2g-player/internal/player/engine"
	"github.com/ManuGH/xg2g-player/internal/player/resume"
	"github.com/ManuGH/xg2g-player/internal/player/session"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func f(v float64) *float64 { return &v }

type seekRecorder struct{ seeks []float64 }

func (r *seekRecorder) seek(pos float64) error {
	r.seeks = append(r.seeks, pos)
	return nil
}

func TestWindow_Clamp(t *testing.T) {
	w := Window{SeekableStart: 10, SeekableEnd: 70}
	assert.Equal(t, 10.0, w.Clamp(-5))
	assert.Equal(t, 70.0, w.Clamp(500))
	assert.Equal(t, 42.0, w.Clamp(42))
	assert.Equal(t, 60.0, w.Duration())

	empty := Window{}
	assert.Equal(t, 0.0, empty.Clamp(-3))
	assert.Equal(t, 12.0, empty.Clamp(12))
	assert.Equal(t, 0.0, Window{SeekableStart: 5, SeekableEnd: 1}.Duration())
}

func TestTracker_VODKnownDuration(t *testing.T) {
	tr := New(session.ModeVOD, f(3600))
	require.NoError(t, tr.Update(engine.Event{
		Type:     engine.EventLevelLoaded,
		Duration: 3500,
		Seekable: []engine.Range{{Start: 100, End: 3500}},
	}))
	w := tr.Window()
	assert.Equal(t, 0.0, w.SeekableStart)
	assert.Equal(t, 3600.0, w.SeekableEnd)
	require.NotNil(t, w.DurationSeconds)
	assert.Equal(t, 3600.0, *w.DurationSeconds)
	assert.False(t, tr.IsAtLiveEdge())
}

func TestTracker_SeekableRangesAndFallback(t *testing.T) {
	tr := New(session.ModeLive, nil)
	require.NoError(t, tr.Update(engine.Event{
		Type:     engine.EventLevelLoaded,
		Live:     true,
		Seekable: []engine.Range{{Start: 20, End: 40}, {Start: 40, End: 80}},
	}))
	w := tr.Window()
	assert.Equal(t, 20.0, w.SeekableStart)
	assert.Equal(t, 80.0, w.SeekableEnd)

	vod := New(session.ModeVOD, nil)
	require.NoError(t, vod.Update(engine.Event{Type: engine.EventMetadata, Duration: 90}))
	w = vod.Window()
	assert.Equal(t, 0.0, w.SeekableStart)
	assert.Equal(t, 90.0, w.SeekableEnd)
}

func TestTracker_LiveEdge(t *testing.T) {
	tr := New(session.ModeLive, nil)
	rec := &seekRecorder{}
	tr.SetSeeker(rec.seek)
	require.NoError(t, tr.Update(engine.Event{Type: engine.EventLevelLoaded, Seekable: []engine.Range{{Start: 0, End: 60}}}))

	require.NoError(t, tr.Update(engine.Event{Type: engine.EventTimeUpdate, Position: 58.5, Seekable: []engine.Range{{Start: 0, End: 60}}}))
	assert.True(t, tr.IsAtLiveEdge())

	require.NoError(t, tr.Update(engine.Event{Type: engine.EventTimeUpdate, Position: 50, Seekable: []engine.Range{{Start: 0, End: 60}}}))
	assert.False(t, tr.IsAtLiveEdge())

	pos, err := tr.SeekToLiveEdge()
	require.NoError(t, err)
	assert.Equal(t, 60.0, pos)
	assert.True(t, tr.IsAtLiveEdge())

	pos, err = tr.SeekBy(-30)
	require.NoError(t, err)
	assert.Equal(t, 30.0, pos)

	pos, err = tr.SeekBy(-100)
	require.NoError(t, err)
	assert.Equal(t, 0.0, pos)

	assert.Empty(t, cmp.Diff([]float64{60, 30, 0}, rec.seeks))
}

func TestTracker_LiveEdgeNeedsWindow(t *testing.T) {
	tr := New(session.ModeLive, nil)
	require.NoError(t, tr.Update(engine.Event{Type: engine.EventTimeUpdate, Position: 0}))
	assert.False(t, tr.IsAtLiveEdge())
}

func TestTracker_SeekWithoutEngine(t *testing.T) {
	tr := New(session.ModeVOD, f(100))
	pos, err := tr.SeekTo(150)
	assert.ErrorIs(t, err, engine.ErrNotAttached)
	assert.Equal(t, 100.0, pos)
}

func TestTracker_ResumeOfferedOncePerSession(t *testing.T) {
	tr := New(session.ModeVOD, f(3600))
	state := &resume.State{PosSeconds: 600, DurationSeconds: f(3600)}

	assert.False(t, tr.OfferResume(nil))
	assert.False(t, tr.OfferResume(&resume.State{PosSeconds: 5}))
	assert.True(t, tr.OfferResume(state))
	assert.False(t, tr.OfferResume(state), "only once per session")

	tr.Reset(session.ModeVOD, f(3600))
	assert.True(t, tr.OfferResume(state), "a new session may prompt again")
}

func TestTracker_DeferredResumeSeek(t *testing.T) {
	tr := New(session.ModeVOD, nil)
	rec := &seekRecorder{}
	tr.SetSeeker(rec.seek)

	require.NoError(t, tr.AcceptResume(600))
	pos, ok := tr.PendingSeek()
	require.True(t, ok)
	assert.Equal(t, 600.0, pos)
	assert.Empty(t, rec.seeks)

	// Events without a duration keep the seek pending.
	require.NoError(t, tr.Update(engine.Event{Type: engine.EventManifestParsed}))
	assert.Empty(t, rec.seeks)

	require.NoError(t, tr.Update(engine.Event{Type: engine.EventMetadata, Duration: 1800}))
	assert.Equal(t, []float64{600}, rec.seeks)
	_, ok = tr.PendingSeek()
	assert.False(t, ok)

	// Later metadata does not seek again.
	require.NoError(t, tr.Update(engine.Event{Type: engine.EventMetadata, Duration: 1800}))
	assert.Len(t, rec.seeks, 1)

	// Once metadata is known, accepting seeks immediately.
	require.NoError(t, tr.AcceptResume(900))
	assert.Equal(t, []float64{600, 900}, rec.seeks)
}

func TestTracker_DeferredSeekIsClamped(t *testing.T) {
	tr := New(session.ModeVOD, nil)
	rec := &seekRecorder{}
	tr.SetSeeker(rec.seek)
	require.NoError(t, tr.AcceptResume(5000))
	require.NoError(t, tr.Update(engine.Event{Type: engine.EventMetadata, Duration: 1800}))
	assert.Equal(t, []float64{1800}, rec.seeks)
}

func TestTracker_SeekErrorsPropagate(t *testing.T) {
	tr := New(session.ModeVOD, f(100))
	boom := errors.New("boom")
	tr.SetSeeker(func(float64) error { return boom })
	_, err := tr.SeekTo(10)
	assert.ErrorIs(t, err, boom)
}

func TestTracker_Ended(t *testing.T) {
	tr := New(session.ModeVOD, f(100))
	assert.False(t, tr.Ended())
	require.NoError(t, tr.Update(engine.Event{Type: engine.EventEnded}))
	assert.True(t, tr.Ended())
	tr.Reset(session.ModeVOD, f(100))
	assert.False(t, tr.Ended())
}

func TestCheckpointer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := resume.NewMemoryStore()
	tr := New(session.ModeVOD, f(3600))
	cp := NewCheckpointer(store, tr, "alice", "rec-1", 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		cp.Run(ctx)
	}()

	require.NoError(t, tr.Update(engine.Event{Type: engine.EventTimeUpdate, Position: 120}))
	require.Eventually(t, func() bool {
		st, err := store.Get(context.Background(), "alice", "rec-1")
		return err == nil && st != nil && st.PosSeconds == 120
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	require.NoError(t, tr.Update(engine.Event{Type: engine.EventTimeUpdate, Position: 3595}))
	require.NoError(t, tr.Update(engine.Event{Type: engine.EventEnded}))
	require.NoError(t, cp.Flush(context.Background()))

	st, err := store.Get(context.Background(), "alice", "rec-1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 3595.0, st.PosSeconds)
	assert.True(t, st.Finished)
	require.NotNil(t, st.DurationSeconds)
	assert.Equal(t, 3600.0, *st.DurationSeconds)
	assert.False(t, st.Eligible())
}

func TestCheckpointer_SkipsZeroPosition(t *testing.T) {
	store := resume.NewMemoryStore()
	cp := NewCheckpointer(store, New(session.ModeVOD, nil), "alice", "rec-1", 0)
	require.NoError(t, cp.Flush(context.Background()))
	st, err := store.Get(context.Background(), "alice", "rec-1")
	require.NoError(t, err)
	assert.Nil(t, st)
}
