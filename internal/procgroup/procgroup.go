// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup runs external players in their own process group so a
// stop reaches every helper process they spawn.
package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/metrics"
)

// Terminate gracefully stops the process group of cmd.
// It sends SIGTERM, waits for the process to exit (via waitCh), and sends
// SIGKILL if it is still alive after grace. It consumes and returns the
// error from waitCh. Safe on commands that never started.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	metrics.IncProcTerminate("SIGTERM", signalResult(Kill(cmd, syscall.SIGTERM)))

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-time.After(grace):
		logger := xglog.WithComponent("procgroup")
		logger.Warn().
			Int("pid", cmd.Process.Pid).
			Dur("grace", grace).
			Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
		metrics.IncProcTerminate("SIGKILL", signalResult(Kill(cmd, syscall.SIGKILL)))

		// SIGKILL frees a blocked Wait; its result is what we report.
		err := <-waitCh
		if err == nil {
			metrics.IncProcWait("forced_exit0")
		} else {
			metrics.IncProcWait("forced_error")
		}
		return err
	}
}

func signalResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return "esrch"
	default:
		return "error"
	}
}
