// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/xg2g-player/internal/config"
	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/player"
	"github.com/ManuGH/xg2g-player/internal/player/broker"
	"github.com/ManuGH/xg2g-player/internal/player/capabilities"
	"github.com/ManuGH/xg2g-player/internal/player/control"
	"github.com/ManuGH/xg2g-player/internal/player/engine"
	"github.com/ManuGH/xg2g-player/internal/player/engine/hlsengine"
	"github.com/ManuGH/xg2g-player/internal/player/engine/native"
	"github.com/ManuGH/xg2g-player/internal/player/policy"
	"github.com/ManuGH/xg2g-player/internal/player/resume"
	"github.com/ManuGH/xg2g-player/internal/player/session"
	"github.com/ManuGH/xg2g-player/internal/telemetry"
	"github.com/ManuGH/xg2g-player/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type playFlags struct {
	autoResume bool
	report     string
	exitOnEnd  bool
}

func newPlayCmd(g *globalFlags) *cobra.Command {
	var pf playFlags
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Start playback of a live channel or a recording",
	}
	cmd.PersistentFlags().StringVar(&pf.report, "report", "", "write a JSON diagnostics report to this path on exit")
	cmd.PersistentFlags().BoolVar(&pf.exitOnEnd, "exit-on-end", true, "exit once playback stops or fails")

	live := &cobra.Command{
		Use:   "live <serviceRef>",
		Short: "Tune a live service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), g, pf, func(ctx context.Context, c *player.Controller) error {
				return c.StartLive(ctx, args[0])
			})
		},
	}

	recording := &cobra.Command{
		Use:   "recording <recordingId>",
		Short: "Play a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), g, pf, func(ctx context.Context, c *player.Controller) error {
				return c.StartRecording(ctx, args[0])
			})
		},
	}
	recording.Flags().BoolVar(&pf.autoResume, "resume", false, "continue from the stored position without asking")

	cmd.AddCommand(live, recording)
	return cmd
}

// runPlay wires the controller, starts playback and blocks until the
// context ends or, with --exit-on-end, playback reaches a terminal state.
func runPlay(ctx context.Context, g *globalFlags, pf playFlags, start func(context.Context, *player.Controller) error) error {
	loader, cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	logger := xglog.WithComponent("cli")

	tp, err := telemetry.NewProvider(ctx, telemetry.FromConfig(cfg.Telemetry, version.Version))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := shutdownContext()
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	client, err := broker.New(broker.Options{
		BaseURL:           cfg.API.BaseURL,
		Token:             cfg.API.Token,
		Timeout:           cfg.API.Timeout,
		FeedbackPerMinute: cfg.Playback.FeedbackPerMinute,
	})
	if err != nil {
		return err
	}

	store, err := resume.NewStore(ctx, cfg.Resume)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctrl, err := newController(ctx, cfg, client, store, pf.autoResume)
	if err != nil {
		return err
	}

	var exitErr error
	defer func() {
		if err := ctrl.Close(); err != nil {
			logger.Warn().Err(err).Msg("controller close failed")
		}
		if pf.report != "" {
			if err := writeReport(pf.report, ctrl.Snapshot(), exitErr); err != nil {
				logger.Warn().Err(err).Str("path", pf.report).Msg("diagnostics report not written")
			}
		}
	}()

	holder := config.NewHolder(cfg, loader)
	grp, gctx := errgroup.WithContext(ctx)

	if err := holder.Watch(gctx); err != nil {
		logger.Warn().Err(err).Msg("config hot reload disabled")
	}
	reloads := make(chan config.Config, 1)
	holder.Subscribe(reloads)
	grp.Go(func() error {
		defer holder.Wait()
		for {
			select {
			case <-gctx.Done():
				return nil
			case next := <-reloads:
				xglog.SetLevel(next.Logging.Level)
				ctrl.ApplyConfig(next.Playback)
			}
		}
	})

	if addr := cfg.Control.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr: addr,
			Handler: control.NewHandler(ctrl, control.Options{
				RateLimit: cfg.Control.RequestsPerMinute,
				Gatherer:  prometheus.DefaultGatherer,
				Service:   "xg2g-play.control",
			}),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		grp.Go(func() error {
			logger.Info().Str("addr", addr).Msg("control API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control API: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			<-gctx.Done()
			sctx, cancel := shutdownContext()
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	grp.Go(func() error {
		if err := start(gctx, ctrl); err != nil {
			return err
		}
		return waitTerminal(gctx, ctrl, pf.exitOnEnd)
	})

	exitErr = grp.Wait()
	switch {
	case errors.Is(exitErr, errStopped):
		exitErr = nil
	case errors.Is(exitErr, context.Canceled) && ctx.Err() != nil:
		exitErr = nil
	}
	return exitErr
}

// waitTerminal follows the snapshot stream. A terminal error status is
// returned as the command's error.
func waitTerminal(ctx context.Context, ctrl *player.Controller, exitOnEnd bool) error {
	logger := xglog.WithComponent("cli")
	snaps, cancel := ctrl.Watch()
	defer cancel()

	var last player.Status
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			if snap.Status != last {
				logger.Info().
					Str("status", string(snap.Status)).
					Str(xglog.FieldSessionID, snap.SessionID).
					Str(xglog.FieldEngine, snap.Engine).
					Msg("playback status")
				last = snap.Status
			}
			if !exitOnEnd || !snap.Status.IsTerminal() {
				continue
			}
			if snap.Error != nil {
				return snap.Error
			}
			return errStopped
		}
	}
}

// errStopped ends the errgroup once playback finished cleanly.
var errStopped = errors.New("playback stopped")

func newController(ctx context.Context, cfg config.Config, b player.Broker, store resume.Store, autoResume bool) (*player.Controller, error) {
	pc := cfg.Playback
	codecs := preferredCodecs(ctx, pc)

	return player.New(player.Options{
		Broker:       b,
		Engines:      engineFactory(pc, codecs),
		Availability: availability(pc),
		Host:         capabilities.NewFFmpegHost(pc.FFmpegBin),
		Codecs:       codecs,
		Policy:       policy.Flags{RequireNormative: pc.RequireNormative},
		Session:      sessionOptions(pc),
		Resume:       store,
		Principal:    cfg.Resume.Principal,
		AutoResume:   autoResume,

		TeardownQuiet:      pc.TeardownQuiet,
		StatsInterval:      pc.StatsInterval,
		CheckpointInterval: pc.ResumeCheckpoint,
		IdleHide:           pc.IdleHide,
	})
}

func sessionOptions(pc config.PlaybackConfig) session.Options {
	opts := session.DefaultOptions()
	if pc.PollInterval > 0 {
		opts.PollInterval = pc.PollInterval
	}
	if pc.PollAttempts > 0 {
		opts.PollAttempts = pc.PollAttempts
	}
	if pc.DirectProbeAttempts > 0 {
		opts.ProbeAttempts = pc.DirectProbeAttempts
	}
	if pc.DirectProbeBackoff > 0 {
		opts.ProbeBackoff = pc.DirectProbeBackoff
	}
	if pc.PlaybackInfoAttempts > 0 {
		opts.InfoAttempts = pc.PlaybackInfoAttempts
	}
	return opts
}

func availability(pc config.PlaybackConfig) engine.Availability {
	return engine.Availability{
		NativeDecodes:     native.Available(pc.NativePlayer),
		PreferNative:      pc.HostClass == config.HostClassNative,
		AdaptiveSupported: true,
	}
}

func engineFactory(pc config.PlaybackConfig, codecs []capabilities.Codec) player.EngineFactory {
	names := make([]string, 0, len(codecs))
	for _, c := range codecs {
		names = append(names, string(c))
	}
	return func(kind engine.Kind) (engine.Engine, error) {
		switch kind {
		case engine.Adaptive:
			return hlsengine.New(hlsengine.Options{Codecs: names}), nil
		case engine.Native:
			return native.New(pc.NativePlayer, pc.NativeArgs...), nil
		default:
			return nil, fmt.Errorf("%w: %s", engine.ErrNoEngine, kind)
		}
	}
}

// preferredCodecs honours the configured override, otherwise asks ffmpeg.
func preferredCodecs(ctx context.Context, pc config.PlaybackConfig) []capabilities.Codec {
	if len(pc.Codecs) > 0 {
		return capabilities.Parse(pc.Codecs)
	}
	return capabilities.DetectPreferredCodecs(ctx, capabilities.NewFFmpegHost(pc.FFmpegBin))
}
