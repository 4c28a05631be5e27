// Package hwaccel finds a hardware acceleration method ffmpeg can use on this host.
package hwaccel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/samber/lo"
)

const (
	MethodNone         = "none"
	MethodVideoToolbox = "videotoolbox"
)

var ErrDetect = errors.New("hwaccel detection failed")

// Config is consumed as opaque strings by the launcher.
type Config struct {
	Method  string `json:"method"`
	Encoder string `json:"encoder"`
	Decoder string `json:"decoder"`
}

// Hardware reports whether the method is accelerator-backed.
func (c Config) Hardware() bool {
	return c.Method != "" && c.Method != MethodNone
}

type Provider interface {
	Detect(ctx context.Context) (Config, error)
}

type codecPair struct {
	encoder string
	decoder string
}

// h264Codecs maps a -hwaccel method to its H.264 encoder and decoder.
// An empty decoder lets ffmpeg pick one for the method.
var h264Codecs = map[string]codecPair{
	"videotoolbox": {encoder: "h264_videotoolbox"},
	"cuda":         {encoder: "h264_nvenc", decoder: "h264_cuvid"},
	"qsv":          {encoder: "h264_qsv", decoder: "h264_qsv"},
	"vaapi":        {encoder: "h264_vaapi"},
	"d3d11va":      {encoder: "h264_amf"},
	MethodNone:     {encoder: "libx264"},
}

var preference = map[string][]string{
	"darwin":  {"videotoolbox"},
	"linux":   {"cuda", "qsv", "vaapi"},
	"windows": {"cuda", "qsv", "d3d11va"},
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFmpegDetector asks ffmpeg which methods and encoders it was built with.
// Non-empty fields of Override win over detection.
type FFmpegDetector struct {
	FFmpegPath string
	GOOS       string
	Override   Config
	run        commandRunner
}

func NewFFmpegDetector(ffmpegPath string, override Config) *FFmpegDetector {
	return &FFmpegDetector{
		FFmpegPath: ffmpegPath,
		GOOS:       runtime.GOOS,
		Override:   override,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

func (d *FFmpegDetector) Detect(ctx context.Context) (Config, error) {
	out, err := d.run(ctx, d.FFmpegPath, "-hide_banner", "-hwaccels")
	if err != nil {
		return Config{}, fmt.Errorf("%w: list hwaccels: %v", ErrDetect, err)
	}
	methods := parseHWAccels(string(out))

	out, err = d.run(ctx, d.FFmpegPath, "-hide_banner", "-encoders")
	if err != nil {
		return Config{}, fmt.Errorf("%w: list encoders: %v", ErrDetect, err)
	}
	encoders := parseEncoders(string(out))

	cfg := d.choose(methods, encoders)
	if d.Override.Method != "" {
		cfg = Config{Method: d.Override.Method}
		if pair, ok := h264Codecs[d.Override.Method]; ok {
			cfg.Encoder, cfg.Decoder = pair.encoder, pair.decoder
		}
	}
	if d.Override.Encoder != "" {
		cfg.Encoder = d.Override.Encoder
	}
	if d.Override.Decoder != "" {
		cfg.Decoder = d.Override.Decoder
	}
	if cfg.Encoder == "" {
		return Config{}, fmt.Errorf("%w: no encoder for method %q", ErrDetect, cfg.Method)
	}
	return cfg, nil
}

// choose returns the first preferred method whose encoder ffmpeg also lists,
// falling back to software encoding.
func (d *FFmpegDetector) choose(methods, encoders []string) Config {
	for _, m := range preference[d.GOOS] {
		pair := h264Codecs[m]
		if lo.Contains(methods, m) && lo.Contains(encoders, pair.encoder) {
			return Config{Method: m, Encoder: pair.encoder, Decoder: pair.decoder}
		}
	}
	sw := h264Codecs[MethodNone]
	return Config{Method: MethodNone, Encoder: sw.encoder}
}

// parseHWAccels reads the list printed after "Hardware acceleration methods:".
func parseHWAccels(out string) []string {
	var methods []string
	started := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "Hardware acceleration methods") {
			started = true
			continue
		}
		if started && line != "" {
			methods = append(methods, line)
		}
	}
	return methods
}

// parseEncoders reads `ffmpeg -encoders`: a legend, a "------" separator, then
// one "FLAGS name description" row per encoder.
func parseEncoders(out string) []string {
	var names []string
	started := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if strings.HasPrefix(fields[0], "---") {
			started = true
			continue
		}
		if started && len(fields) >= 2 {
			names = append(names, fields[1])
		}
	}
	return names
}

var _ Provider = (*FFmpegDetector)(nil)
