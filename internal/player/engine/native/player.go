// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package native drives an external player process (mpv by default) as a
// playback engine.
package native

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/player/engine"
	"github.com/ManuGH/xg2g-player/internal/procgroup"
	"github.com/rs/zerolog"
)

const (
	headerDecisionToken = "X-Playback-Decision-Token"

	// stopGrace is how long the player may take to exit after SIGTERM.
	stopGrace = 2 * time.Second
)

// Available reports whether bin resolves to an executable.
func Available(bin string) bool {
	if bin == "" {
		return false
	}
	_, err := exec.LookPath(bin)
	return err == nil
}

// Player implements engine.Engine on top of an external process.
type Player struct {
	bin    string
	args   []string
	grace  time.Duration
	events engine.Emitter
	logger zerolog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	destroyed bool
}

var _ engine.Engine = (*Player)(nil)

// New returns a player that launches bin with args followed by the source
// URL.
func New(bin string, args ...string) *Player {
	if bin == "" {
		bin = "mpv"
	}
	return &Player{
		bin:    bin,
		args:   args,
		grace:  stopGrace,
		logger: xglog.WithComponent("native"),
	}
}

// Kind implements engine.Engine.
func (p *Player) Kind() engine.Kind { return engine.Native }

// On implements engine.Engine.
func (p *Player) On(t engine.EventType, h engine.Handler) func() {
	return p.events.On(t, h)
}

// Attach launches the player for src. A running player is stopped first.
func (p *Player) Attach(ctx context.Context, src engine.Source) error {
	if strings.TrimSpace(src.URL) == "" {
		return errors.New("native: empty source url")
	}
	if err := p.Detach(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return engine.ErrDestroyed
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.Command(p.bin, p.commandArgs(src)...)
	procgroup.Set(cmd)
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("native: start %s: %w", p.bin, err)
	}

	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	p.logger.Info().Str("bin", p.bin).Int("pid", cmd.Process.Pid).Msg("native player started")
	p.events.Emit(engine.Event{Type: engine.EventPlaying, Position: src.StartPosition, Live: src.Live})

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	go func() {
		defer close(done)
		var err error
		select {
		case err = <-waitCh:
		case <-runCtx.Done():
			// Detached on purpose; the stop is not a playback failure.
			_ = procgroup.Terminate(cmd, waitCh, p.grace)
			return
		}
		if runCtx.Err() != nil {
			return
		}
		if err == nil {
			p.events.Emit(engine.Event{Type: engine.EventEnded, Live: src.Live})
			return
		}
		details := err.Error()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			details = "exit status " + strconv.Itoa(exitErr.ExitCode())
		}
		p.logger.Warn().Err(err).Msg("native player exited with error")
		p.events.Emit(engine.Event{
			Type:  engine.EventError,
			Error: &engine.ErrorInfo{Kind: engine.ErrorOther, Fatal: true, Details: details, Err: err},
		})
	}()
	return nil
}

// commandArgs builds the argument list. Only mpv understands the start and
// header flags; other players get the URL alone.
func (p *Player) commandArgs(src engine.Source) []string {
	args := append([]string(nil), p.args...)
	if isMPV(p.bin) {
		if src.StartPosition > 0 {
			args = append(args, "--start="+strconv.FormatFloat(src.StartPosition, 'f', 3, 64))
		}
		if fields := headerFields(src); fields != "" {
			args = append(args, "--http-header-fields="+fields)
		}
	}
	return append(args, src.URL)
}

func isMPV(bin string) bool {
	name := strings.TrimSuffix(filepath.Base(bin), filepath.Ext(bin))
	return name == "mpv"
}

// headerFields renders the request headers the source needs as mpv's
// comma separated header list.
func headerFields(src engine.Source) string {
	req, err := http.NewRequest(http.MethodGet, src.URL, nil)
	if err != nil {
		return ""
	}
	if src.Authorize != nil {
		src.Authorize(req)
	}
	if src.DecisionToken != "" {
		req.Header.Set(headerDecisionToken, src.DecisionToken)
	}
	var fields []string
	for _, k := range []string{"Authorization", headerDecisionToken} {
		if v := req.Header.Get(k); v != "" {
			fields = append(fields, k+": "+v)
		}
	}
	return strings.Join(fields, ",")
}

// Detach stops the player process and waits for it to exit.
func (p *Player) Detach() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return engine.ErrDestroyed
	}
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// Destroy stops the process and drops all subscribers.
func (p *Player) Destroy() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.destroyed = true
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	p.events.Reset()
}
