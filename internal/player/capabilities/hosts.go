// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capabilities

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const ffmpegProbeTimeout = 5 * time.Second

// decoderFamilies maps ffmpeg decoder names to codec families.
var decoderFamilies = map[string]Codec{
	"av1":          AV1,
	"libdav1d":     AV1,
	"libaom-av1":   AV1,
	"av1_cuvid":    AV1,
	"av1_qsv":      AV1,
	"hevc":         HEVC,
	"hevc_cuvid":   HEVC,
	"hevc_qsv":     HEVC,
	"hevc_v4l2m2m": HEVC,
	"h264":         H264,
	"h264_cuvid":   H264,
	"h264_qsv":     H264,
}

// FFmpegHost reports the decoders of a local ffmpeg binary. The decoder
// list is read once.
type FFmpegHost struct {
	Bin string

	run func(ctx context.Context, bin string, args ...string) ([]byte, error)

	once     sync.Once
	decoders map[Codec]bool
	err      error
}

// NewFFmpegHost returns a host backed by the given ffmpeg binary.
func NewFFmpegHost(bin string) *FFmpegHost {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegHost{Bin: bin, run: runCommand}
}

func runCommand(ctx context.Context, bin string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ffmpegProbeTimeout)
	defer cancel()
	return exec.CommandContext(ctx, bin, args...).Output()
}

func (h *FFmpegHost) load(ctx context.Context) {
	h.once.Do(func() {
		out, err := h.run(ctx, h.Bin, "-hide_banner", "-decoders")
		if err != nil {
			h.err = fmt.Errorf("list ffmpeg decoders: %w", err)
			return
		}
		h.decoders = parseDecoders(out)
	})
}

// DecodingInfo implements Host.
func (h *FFmpegHost) DecodingInfo(ctx context.Context, contentType string) (bool, error) {
	h.load(ctx)
	if h.err != nil {
		return false, h.err
	}
	c, ok := FromContentType(contentType)
	if !ok {
		return false, nil
	}
	return h.decoders[c], nil
}

// CanPlayType implements Host. ffmpeg never answers "probably".
func (h *FFmpegHost) CanPlayType(contentType string) string {
	h.load(context.Background())
	if h.err != nil {
		return CanPlayNo
	}
	if c, ok := FromContentType(contentType); ok && h.decoders[c] {
		return CanPlayMaybe
	}
	return CanPlayNo
}

// parseDecoders reads `ffmpeg -decoders` output. Entries follow the
// "------" separator as "<flags> <name> <description>"; only video
// decoders (flags starting with V) count.
func parseDecoders(out []byte) map[Codec]bool {
	found := make(map[Codec]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	listing := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !listing {
			listing = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "V") {
			continue
		}
		if c, ok := decoderFamilies[fields[1]]; ok {
			found[c] = true
			continue
		}
		desc := strings.Join(fields[2:], " ")
		switch {
		case strings.Contains(desc, "(codec av1)"):
			found[AV1] = true
		case strings.Contains(desc, "(codec hevc)"):
			found[HEVC] = true
		case strings.Contains(desc, "(codec h264)"):
			found[H264] = true
		}
	}
	return found
}

// StaticHost reports a fixed codec set, e.g. from configuration.
type StaticHost struct {
	Codecs []Codec
}

// DecodingInfo implements Host.
func (h StaticHost) DecodingInfo(_ context.Context, contentType string) (bool, error) {
	c, ok := FromContentType(contentType)
	if !ok {
		return false, nil
	}
	for _, have := range h.Codecs {
		if have == c {
			return true, nil
		}
	}
	return false, nil
}

// CanPlayType implements Host.
func (h StaticHost) CanPlayType(contentType string) string {
	if ok, _ := h.DecodingInfo(context.Background(), contentType); ok {
		return CanPlayProbably
	}
	return CanPlayNo
}
