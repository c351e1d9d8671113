// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ManuGH/xg2g-player/internal/config"
	"github.com/ManuGH/xg2g-player/internal/persistence/sqlite"
	"github.com/ManuGH/xg2g-player/internal/player/resume"
	"github.com/spf13/cobra"
)

func newResumeCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Inspect and maintain stored resume positions",
	}

	get := &cobra.Command{
		Use:   "get <recordingId>",
		Short: "Print the stored position of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			store, err := resume.NewStore(cmd.Context(), cfg.Resume)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			st, err := store.Get(cmd.Context(), cfg.Resume.Principal, args[0])
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("no resume position stored for %s", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*resume.State
				Eligible bool `json:"eligible"`
			}{st, st.Eligible()})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <recordingId>",
		Short: "Forget the stored position of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			store, err := resume.NewStore(cmd.Context(), cfg.Resume)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			return store.Delete(cmd.Context(), cfg.Resume.Principal, args[0])
		},
	}

	var full bool
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Run an integrity check on the sqlite resume database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if cfg.Resume.Backend != config.ResumeBackendSqlite {
				return fmt.Errorf("verify needs the sqlite backend, configured: %q", cfg.Resume.Backend)
			}
			path := resume.SqlitePath(cfg.Resume.Dir)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("resume database not found: %s", path)
			}

			mode := "quick"
			if full {
				mode = "full"
			}
			problems, err := sqlite.VerifyIntegrity(cmd.Context(), path, mode)
			if err != nil {
				return err
			}
			if len(problems) > 0 {
				for _, p := range problems {
					fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return fmt.Errorf("integrity check failed: %d problem(s)", len(problems))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n", path, mode)
			return nil
		},
	}
	verify.Flags().BoolVar(&full, "full", false, "run integrity_check instead of quick_check")

	cmd.AddCommand(get, clearCmd, verify)
	return cmd
}
