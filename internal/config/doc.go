// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for xg2g-player.
//
// Precedence: defaults < YAML file < XG2G_PLAYER_* environment < CLI flags.
// CLI flags are applied by the caller after Load.
package config
