// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"

	"github.com/ManuGH/xg2g-player/internal/player/capabilities"
	"github.com/ManuGH/xg2g-player/internal/player/engine"
	"github.com/spf13/cobra"
)

func newCodecsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "codecs",
		Short: "Show the codec preference and engine availability of this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			pc := cfg.Playback
			codecs := preferredCodecs(cmd.Context(), pc)
			avail := availability(pc)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "codecs:   %s\n", capabilities.Join(codecs))
			fmt.Fprintf(out, "hls:      %s\n", selectionLine(engine.SourceHLS, avail))
			fmt.Fprintf(out, "file:     %s\n", selectionLine(engine.SourceFile, avail))
			fmt.Fprintf(out, "native:   %s (available: %t)\n", pc.NativePlayer, avail.NativeDecodes)
			if len(pc.Codecs) == 0 {
				fmt.Fprintf(out, "probe:    %s\n", pc.FFmpegBin)
			} else {
				fmt.Fprintln(out, "probe:    configured override")
			}
			return nil
		},
	}
}

func selectionLine(kind engine.SourceKind, a engine.Availability) string {
	k, err := engine.Select(kind, a)
	if err != nil {
		return err.Error()
	}
	return string(k)
}
