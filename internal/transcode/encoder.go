package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Encoder produces one HLS rendition from a source file. Tests substitute
// a fake; production uses FFmpegEncoder.
type Encoder interface {
	Encode(ctx context.Context, source, outputDir string, info MediaInfo, preset Preset) error
}

// commandRunner abstracts subprocess execution so the prober and encoder
// are testable without the ffmpeg tools installed.
type commandRunner interface {
	Output(ctx context.Context, binary string, args []string, stderr io.Writer) ([]byte, error)
	Run(ctx context.Context, binary string, args []string, stdout, stderr io.Writer) error
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, binary string, args []string, stderr io.Writer) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = stderr
	return cmd.Output()
}

func (execRunner) Run(ctx context.Context, binary string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// FFmpegEncoder shells out to ffmpeg for a single rendition: scaled H.264
// video, AAC audio, six-second VOD segments.
type FFmpegEncoder struct {
	Path    string
	Timeout time.Duration
	Logger  *slog.Logger
	runner  commandRunner
}

// Encode writes {preset.Name}.m3u8 and its numbered segments into outputDir.
func (e *FFmpegEncoder) Encode(ctx context.Context, source, outputDir string, info MediaInfo, preset Preset) error {
	binary := e.Path
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	args := buildEncodeArgs(source, outputDir, preset)

	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("rendition", preset.Name)
	logger.Info("encoding rendition", "source", source, "height", preset.Height, "videoBitrate", preset.VideoBitrate)

	runner := e.runner
	if runner == nil {
		runner = execRunner{}
	}
	output := newLineWriter(logger, "stdout")
	progress := newLineWriter(logger, "stderr")
	if err := runner.Run(ctx, binary, args, output, progress); err != nil {
		if last := progress.lastLine(); last != "" {
			return fmt.Errorf("ffmpeg %s: %w: %s", preset.Name, err, last)
		}
		return fmt.Errorf("ffmpeg %s: %w", preset.Name, err)
	}
	return nil
}

func buildEncodeArgs(source, outputDir string, preset Preset) []string {
	segments := filepath.ToSlash(filepath.Join(outputDir, preset.Name+"_%03d.ts"))
	playlist := filepath.ToSlash(filepath.Join(outputDir, preset.Name+".m3u8"))
	return []string{
		"-y",
		"-i", source,
		"-vf", fmt.Sprintf("scale=-2:%d", preset.Height),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", fmt.Sprintf("%dk", preset.VideoBitrate),
		"-maxrate", fmt.Sprintf("%dk", preset.VideoBitrate),
		"-bufsize", fmt.Sprintf("%dk", preset.VideoBitrate*2),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", preset.AudioBitrate),
		"-ac", "2",
		"-f", "hls",
		"-hls_time", "6",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segments,
		playlist,
	}
}

// lineWriter forwards subprocess output to the logger one trimmed line at a
// time and remembers the last line for error reporting.
type lineWriter struct {
	logger *slog.Logger
	stream string
	rest   []byte
	last   string
}

func newLineWriter(logger *slog.Logger, stream string) *lineWriter {
	return &lineWriter{logger: logger, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	total := len(p)
	data := append(w.rest, p...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx == -1 {
			break
		}
		line := bytes.TrimSpace(data[:idx])
		data = data[idx+1:]
		if len(line) == 0 {
			continue
		}
		w.last = string(line)
		w.logger.Debug(w.last, "stream", w.stream)
	}
	w.rest = append(w.rest[:0], data...)
	return total, nil
}

func (w *lineWriter) lastLine() string {
	if tail := strings.TrimSpace(string(w.rest)); tail != "" {
		return tail
	}
	return w.last
}
