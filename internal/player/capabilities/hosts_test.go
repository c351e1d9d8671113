// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capabilities

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const decodersOutput = `Decoders:
 V..... = Video
 A..... = Audio
 ------
 V....D av1                  Alliance for Open Media AV1
 V....D libdav1d             dav1d AV1 decoder by VideoLAN (codec av1)
 VFS..D h264                 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10
 A....D aac                  AAC (Advanced Audio Coding)
 V..... hevc_exotic          Some HEVC decoder (codec hevc)
`

func TestParseDecoders(t *testing.T) {
	got := parseDecoders([]byte(decodersOutput))
	assert.Equal(t, map[Codec]bool{AV1: true, H264: true, HEVC: true}, got)
}

func TestParseDecoders_IgnoresHeaderAndAudio(t *testing.T) {
	got := parseDecoders([]byte("Decoders:\n V..... = Video\n ------\n A....D aac AAC\n"))
	assert.Empty(t, got)
}

func TestFFmpegHost_RunsOnce(t *testing.T) {
	runs := 0
	h := &FFmpegHost{Bin: "ffmpeg", run: func(_ context.Context, bin string, args ...string) ([]byte, error) {
		runs++
		assert.Equal(t, []string{"-hide_banner", "-decoders"}, args)
		return []byte(" ------\n V....D h264 H.264\n V....D hevc HEVC\n"), nil
	}}

	ok, err := h.DecodingInfo(context.Background(), ProbeHEVC)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.DecodingInfo(context.Background(), ProbeAV1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, CanPlayMaybe, h.CanPlayType(ProbeHEVC))
	assert.Equal(t, 1, runs)
}

func TestFFmpegHost_MissingBinary(t *testing.T) {
	h := &FFmpegHost{Bin: "ffmpeg", run: func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("exec: not found")
	}}
	_, err := h.DecodingInfo(context.Background(), ProbeAV1)
	assert.Error(t, err)
	assert.Equal(t, CanPlayNo, h.CanPlayType(ProbeAV1))

	ResetCache()
	t.Cleanup(ResetCache)
	assert.Equal(t, []Codec{H264}, DetectPreferredCodecs(context.Background(), h))
}

func TestStaticHost(t *testing.T) {
	h := StaticHost{Codecs: []Codec{HEVC, H264}}
	ok, err := h.DecodingInfo(context.Background(), ProbeHEVC)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, CanPlayNo, h.CanPlayType(ProbeAV1))
}
