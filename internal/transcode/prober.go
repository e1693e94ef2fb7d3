package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Prober inspects a media file. The worker depends on this interface so
// tests can substitute a fake for the real ffprobe binary.
type Prober interface {
	Probe(ctx context.Context, path string) (MediaInfo, error)
}

// FFProber shells out to ffprobe and parses its JSON report.
type FFProber struct {
	Path    string
	Timeout time.Duration
	Logger  *slog.Logger
	runner  commandRunner
}

type ffprobeReport struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// Probe runs ffprobe against path and extracts the fields the pipeline
// cares about: duration, the first video stream's shape and codec, and the
// container bitrate.
func (p *FFProber) Probe(ctx context.Context, path string) (MediaInfo, error) {
	binary := p.Path
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	output, err := p.run(ctx, binary, args)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var report ffprobeReport
	if err := json.Unmarshal(output, &report); err != nil {
		return MediaInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := MediaInfo{}
	if report.Format.Duration != "" {
		if seconds, err := strconv.ParseFloat(report.Format.Duration, 64); err == nil {
			info.Duration = seconds
		}
	}
	if report.Format.BitRate != "" {
		if bits, err := strconv.ParseInt(report.Format.BitRate, 10, 64); err == nil {
			info.Bitrate = bits
		}
	}
	for _, stream := range report.Streams {
		if stream.CodecType != "video" {
			continue
		}
		info.Width = stream.Width
		info.Height = stream.Height
		info.Codec = stream.CodecName
		break
	}
	if info.Height == 0 {
		return MediaInfo{}, fmt.Errorf("no video stream in %s", path)
	}
	return info, nil
}

func (p *FFProber) run(ctx context.Context, binary string, args []string) ([]byte, error) {
	runner := p.runner
	if runner == nil {
		runner = execRunner{}
	}
	var stderr bytes.Buffer
	output, err := runner.Output(ctx, binary, args, &stderr)
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, firstLine(msg))
		}
		return nil, err
	}
	return output, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}
