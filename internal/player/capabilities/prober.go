// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package capabilities detects which video codecs the local host can decode
// and turns that into an ordered preference list for session intents.
package capabilities

import (
	"context"
	"slices"
	"strings"
	"sync"

	xglog "github.com/ManuGH/xg2g-player/internal/log"
	"golang.org/x/sync/singleflight"
)

// Codec is a video codec family.
type Codec string

const (
	AV1  Codec = "av1"
	HEVC Codec = "hevc"
	H264 Codec = "h264"
)

// Representative profiles probed for each optional codec.
const (
	ProbeAV1  = `video/mp4; codecs="av01.0.08M.08"`
	ProbeHEVC = `video/mp4; codecs="hvc1.1.6.L120.90"`
	ProbeH264 = `video/mp4; codecs="avc1.640028"`
)

// CanPlayType answers, matching the three-valued media element check.
const (
	CanPlayNo       = ""
	CanPlayMaybe    = "maybe"
	CanPlayProbably = "probably"
)

// Host exposes the local decoding facilities.
type Host interface {
	// DecodingInfo reports whether the content type can be decoded.
	DecodingInfo(ctx context.Context, contentType string) (bool, error)
	// CanPlayType is the fallback check; see the CanPlay constants.
	CanPlayType(contentType string) string
}

var (
	cacheMu sync.Mutex
	cached  []Codec
	flight  singleflight.Group
)

// DetectPreferredCodecs returns the decodable codecs, best first. H.264 is
// always last. The first result is cached for the process lifetime.
func DetectPreferredCodecs(ctx context.Context, host Host) []Codec {
	cacheMu.Lock()
	if cached != nil {
		out := slices.Clone(cached)
		cacheMu.Unlock()
		return out
	}
	cacheMu.Unlock()

	v, _, _ := flight.Do("codecs", func() (any, error) {
		codecs := detect(ctx, host)
		cacheMu.Lock()
		if cached == nil {
			cached = codecs
		}
		codecs = cached
		cacheMu.Unlock()
		return codecs, nil
	})
	return slices.Clone(v.([]Codec))
}

// ResetCache forgets the memoized result.
func ResetCache() {
	cacheMu.Lock()
	cached = nil
	cacheMu.Unlock()
}

func detect(ctx context.Context, host Host) []Codec {
	logger := xglog.WithComponent("capabilities")
	out := make([]Codec, 0, 3)
	if host != nil {
		if probe(ctx, host, ProbeAV1) {
			out = append(out, AV1)
		}
		if probe(ctx, host, ProbeHEVC) {
			out = append(out, HEVC)
		}
	}
	out = append(out, H264)

	logger.Info().
		Str(xglog.FieldEvent, "capabilities.detected").
		Str(xglog.FieldCodecs, Join(out)).
		Msg("detected preferred codecs")
	return out
}

func probe(ctx context.Context, host Host, contentType string) bool {
	ok, err := host.DecodingInfo(ctx, contentType)
	if err == nil && ok {
		return true
	}
	switch host.CanPlayType(contentType) {
	case CanPlayProbably, CanPlayMaybe:
		return true
	}
	return false
}

// Join renders codecs as the comma separated intent parameter.
func Join(codecs []Codec) string {
	parts := make([]string, len(codecs))
	for i, c := range codecs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

// Parse converts configured names into an ordered, de-duplicated list with
// H.264 forced last. Unknown names are skipped.
func Parse(names []string) []Codec {
	out := make([]Codec, 0, 3)
	for _, n := range names {
		c := Codec(strings.ToLower(strings.TrimSpace(n)))
		switch c {
		case AV1, HEVC:
			if !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
	}
	return append(out, H264)
}

// FromContentType maps a MIME type with a codecs parameter to a codec family.
func FromContentType(contentType string) (Codec, bool) {
	lower := strings.ToLower(contentType)
	idx := strings.Index(lower, "codecs=")
	if idx < 0 {
		return "", false
	}
	v := strings.Trim(lower[idx+len("codecs="):], `"' `)
	switch {
	case strings.HasPrefix(v, "av01"):
		return AV1, true
	case strings.HasPrefix(v, "hvc1"), strings.HasPrefix(v, "hev1"):
		return HEVC, true
	case strings.HasPrefix(v, "avc1"), strings.HasPrefix(v, "avc3"):
		return H264, true
	}
	return "", false
}
