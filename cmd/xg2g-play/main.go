// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command xg2g-play is a headless xg2g playback client: it negotiates a
// session with an xg2g instance, keeps the lease alive and drives a local
// playback engine until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/xg2g-player/internal/config"
	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"github.com/ManuGH/xg2g-player/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// globalFlags override values from the config file and environment.
type globalFlags struct {
	configPath string
	logLevel   string
	baseURL    string
	token      string
	hostClass  string
	codecs     []string
	listen     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "xg2g-play",
		Short:         "Headless xg2g playback client",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.String(),
	}
	bindGlobalFlags(root.PersistentFlags(), &g)

	root.AddCommand(
		newPlayCmd(&g),
		newCodecsCmd(&g),
		newResumeCmd(&g),
		newVersionCmd(),
	)
	return root
}

func bindGlobalFlags(fs *pflag.FlagSet, g *globalFlags) {
	fs.StringVarP(&g.configPath, "config", "c", os.Getenv("XG2G_PLAYER_CONFIG"), "path to config file (YAML)")
	fs.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&g.baseURL, "base-url", "", "xg2g base URL")
	fs.StringVar(&g.token, "token", "", "xg2g API token")
	fs.StringVar(&g.hostClass, "host-class", "", "engine preference: adaptive or native")
	fs.StringSliceVar(&g.codecs, "codecs", nil, "codec preference override, best first (av1,hevc,h264)")
	fs.StringVar(&g.listen, "listen", "", "control API listen address, e.g. 127.0.0.1:8099")
}

// loadConfig reads file and environment, then applies flag overrides.
func loadConfig(g *globalFlags) (*config.Loader, config.Config, error) {
	loader := config.NewLoader(g.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, config.Config{}, err
	}
	g.apply(&cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, config.Config{}, err
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.Logging.Level,
		Service: "xg2g-play",
		Version: version.Version,
	})
	return loader, cfg, nil
}

func (g *globalFlags) apply(cfg *config.Config) {
	if v := strings.TrimSpace(g.logLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(g.baseURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := strings.TrimSpace(g.token); v != "" {
		cfg.API.Token = v
	}
	if v := strings.TrimSpace(g.hostClass); v != "" {
		cfg.Playback.HostClass = v
	}
	if len(g.codecs) > 0 {
		cfg.Playback.Codecs = g.codecs
	}
	if v := strings.TrimSpace(g.listen); v != "" {
		cfg.Control.ListenAddr = v
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// shutdownContext bounds cleanup after the command context is gone.
func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
