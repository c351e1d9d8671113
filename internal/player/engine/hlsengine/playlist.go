// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hlsengine

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

const tsSyncByte = 0x47

var (
	errNoVariant    = errors.New("no playable variant")
	errEmptySegment = errors.New("empty segment")
	errNoTracks     = errors.New("segment carries no tracks")
)

// codecFamily maps an RFC 6381 codec string to a family name.
func codecFamily(codec string) string {
	c := strings.ToLower(strings.TrimSpace(codec))
	switch {
	case strings.HasPrefix(c, "av01"):
		return "av1"
	case strings.HasPrefix(c, "hvc1"), strings.HasPrefix(c, "hev1"):
		return "hevc"
	case strings.HasPrefix(c, "avc1"), strings.HasPrefix(c, "avc3"):
		return "h264"
	}
	return ""
}

// pickVariant returns the index of the variant whose video codec ranks best
// in prefs, preferring higher bandwidth among equals. Variants without a
// recognizable video codec rank last; variants with a codec outside prefs
// are skipped.
func pickVariant(variants []*playlist.MultivariantVariant, prefs []string) (int, error) {
	rank := func(v *playlist.MultivariantVariant) (int, bool) {
		family := ""
		for _, c := range v.Codecs {
			if f := codecFamily(c); f != "" {
				family = f
				break
			}
		}
		if family == "" {
			return len(prefs), true
		}
		for i, p := range prefs {
			if strings.EqualFold(p, family) {
				return i, true
			}
		}
		return 0, false
	}

	best, bestRank := -1, 0
	for i, v := range variants {
		r, ok := rank(v)
		if !ok || v.URI == "" {
			continue
		}
		if best < 0 || r < bestRank || (r == bestRank && v.Bandwidth > variants[best].Bandwidth) {
			best, bestRank = i, r
		}
	}
	if best < 0 {
		return -1, errNoVariant
	}
	return best, nil
}

func parsePlaylist(data []byte) (playlist.Playlist, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}
	return pl, nil
}

func resolve(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("invalid uri %q: %w", ref, err)
	}
	return base.ResolveReference(u), nil
}

// validateSegment demuxes MPEG-TS payloads far enough to see the program
// tables. Other containers (fMP4) are accepted as long as they are non-empty.
func validateSegment(data []byte) error {
	if len(data) == 0 {
		return errEmptySegment
	}
	if data[0] != tsSyncByte {
		return nil
	}
	r := &mpegts.Reader{R: bytes.NewReader(data)}
	if err := r.Initialize(); err != nil {
		return fmt.Errorf("demux mpeg-ts: %w", err)
	}
	if len(r.Tracks()) == 0 {
		return errNoTracks
	}
	return nil
}
