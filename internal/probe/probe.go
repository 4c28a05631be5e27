// Package probe reads video stream metadata with ffprobe.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
)

var ErrNoVideoStream = errors.New("no video stream")

type Metadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Codec  string `json:"codec"`
	// Resolution is WIDTHxHEIGHT.
	Resolution string `json:"resolution"`
	// FriendlyResolution is the common name, e.g. 1080p or 4K.
	FriendlyResolution string `json:"friendly_resolution"`
}

type Provider interface {
	Probe(ctx context.Context, path string) (Metadata, error)
}

type FFprobe struct {
	Path string
	run  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewFFprobe(path string) *FFprobe {
	return &FFprobe{
		Path: path,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func (p *FFprobe) Probe(ctx context.Context, path string) (Metadata, error) {
	out, err := p.run(ctx, p.Path,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height",
		"-of", "json",
		path,
	)
	if err != nil {
		return Metadata{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parse(out)
}

func parse(out []byte) (Metadata, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return Metadata{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(res.Streams) == 0 || res.Streams[0].Width == 0 || res.Streams[0].Height == 0 {
		return Metadata{}, ErrNoVideoStream
	}
	s := res.Streams[0]
	return Metadata{
		Width:              s.Width,
		Height:             s.Height,
		Codec:              s.CodecName,
		Resolution:         fmt.Sprintf("%dx%d", s.Width, s.Height),
		FriendlyResolution: FriendlyName(s.Width, s.Height),
	}, nil
}

// FriendlyName names a resolution by its shorter side so portrait video maps the same way.
func FriendlyName(width, height int) string {
	short := height
	if width < height {
		short = width
	}
	switch {
	case short >= 4320:
		return "8K"
	case short >= 2160:
		return "4K"
	case short >= 1440:
		return "1440p"
	case short >= 1080:
		return "1080p"
	case short >= 720:
		return "720p"
	case short >= 480:
		return "480p"
	default:
		return fmt.Sprintf("%dp", short)
	}
}

var _ Provider = (*FFprobe)(nil)
