package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mediavault/internal/audit"
	"mediavault/internal/metadata"
	"mediavault/internal/models"
	"mediavault/internal/observability/metrics"
	"mediavault/internal/queue"
)

const (
	defaultDequeueWait    = 5 * time.Second
	defaultSampleInterval = 30 * time.Second
)

// WorkerConfig wires a transcode worker to its collaborators.
type WorkerConfig struct {
	Queue          *queue.Client
	Store          *metadata.Store
	Audit          *audit.Logger
	Prober         Prober
	Encoder        Encoder
	Metrics        *metrics.Recorder
	Logger         *slog.Logger
	VideoDir       string
	DequeueWait    time.Duration
	SampleInterval time.Duration
}

// Worker drains the transcode queue. Jobs are processed one at a time;
// a failed job marks its asset transcode_failed and the loop moves on.
type Worker struct {
	queue          *queue.Client
	store          *metadata.Store
	audit          *audit.Logger
	prober         Prober
	encoder        Encoder
	metrics        *metrics.Recorder
	logger         *slog.Logger
	videoDir       string
	dequeueWait    time.Duration
	sampleInterval time.Duration
	now            func() time.Time
}

// NewWorker validates the wiring and returns a worker ready to Run.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, errors.New("queue client is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("metadata store is required")
	}
	if cfg.Prober == nil {
		return nil, errors.New("prober is required")
	}
	if cfg.Encoder == nil {
		return nil, errors.New("encoder is required")
	}
	if strings.TrimSpace(cfg.VideoDir) == "" {
		return nil, errors.New("video directory is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wait := cfg.DequeueWait
	if wait <= 0 {
		wait = defaultDequeueWait
	}
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return &Worker{
		queue:          cfg.Queue,
		store:          cfg.Store,
		audit:          cfg.Audit,
		prober:         cfg.Prober,
		encoder:        cfg.Encoder,
		metrics:        recorder,
		logger:         logger,
		videoDir:       cfg.VideoDir,
		dequeueWait:    wait,
		sampleInterval: interval,
		now:            time.Now,
	}, nil
}

// Run consumes jobs and samples the queue depth until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return w.consumeLoop(ctx) })
	group.Go(func() error { return w.sampleLoop(ctx) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job, err := w.queue.Dequeue(ctx, w.dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		// A dequeued job runs to completion; cancellation takes effect
		// between jobs. Subprocess timeouts still bound ffprobe/ffmpeg.
		w.ProcessJob(context.WithoutCancel(ctx), job)
	}
}

func (w *Worker) sampleLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			length, err := w.queue.Length(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn("queue depth sample failed", "error", err)
				}
				continue
			}
			w.metrics.SetQueueDepth(length)
		}
	}
}

// ProcessJob runs one job to completion. Every failure path records
// transcode_failed on the asset and never stops the worker.
func (w *Worker) ProcessJob(ctx context.Context, job *queue.Job) {
	logger := w.logger.With("jobId", job.ID, "assetId", job.AssetID)
	start := w.now()
	assetDir := filepath.Join(w.videoDir, job.AssetID)

	w.metrics.TranscodeStarted()
	record, err := w.store.Read(assetDir)
	if err != nil {
		w.fail(job, logger, fmt.Errorf("read metadata: %w", err))
		return
	}
	if _, err := w.store.Update(assetDir, map[string]any{
		models.FieldStatus: models.StatusTranscoding,
	}); err != nil {
		w.fail(job, logger, fmt.Errorf("mark transcoding: %w", err))
		return
	}

	source, err := w.sourcePath(assetDir, record)
	if err != nil {
		w.fail(job, logger, err)
		return
	}
	info, err := w.prober.Probe(ctx, source)
	if err != nil {
		w.fail(job, logger, fmt.Errorf("probe source: %w", err))
		return
	}

	presets := SelectLadder(info.Height)
	hlsDir := filepath.Join(assetDir, "hls")
	if err := os.MkdirAll(hlsDir, 0o755); err != nil {
		w.fail(job, logger, fmt.Errorf("create hls directory: %w", err))
		return
	}
	names := make([]string, 0, len(presets))
	for _, preset := range presets {
		if err := w.encoder.Encode(ctx, source, hlsDir, info, preset); err != nil {
			w.fail(job, logger, err)
			return
		}
		names = append(names, preset.Name)
	}
	if _, err := WriteMasterPlaylist(hlsDir, info, presets); err != nil {
		w.fail(job, logger, err)
		return
	}

	elapsed := w.now().Sub(start).Seconds()
	if _, err := w.store.Update(assetDir, map[string]any{
		models.FieldStatus:            models.StatusTranscoded,
		models.FieldTranscodedAt:      w.now().UTC().Format(time.RFC3339),
		models.FieldTranscodeDuration: elapsed,
		models.FieldTranscodeError:    "",
		models.FieldDuration:          info.Duration,
		models.FieldWidth:             info.Width,
		models.FieldHeight:            info.Height,
		models.FieldRenditions:        names,
	}); err != nil {
		w.fail(job, logger, fmt.Errorf("record result: %w", err))
		return
	}
	w.invalidateCache(job.AssetID, logger)
	if w.audit != nil {
		w.audit.LogTranscode(job.AssetID, "success", elapsed, len(names))
	}
	w.metrics.TranscodeSucceeded()
	logger.Info("transcode complete", "renditions", names, "elapsedSeconds", elapsed)
}

// fail marks the asset transcode_failed with the cause. The metadata write
// is best effort; the asset may not even have a readable record yet.
func (w *Worker) fail(job *queue.Job, logger *slog.Logger, cause error) {
	logger.Error("transcode failed", "error", cause)
	assetDir := filepath.Join(w.videoDir, job.AssetID)
	if _, err := w.store.Update(assetDir, map[string]any{
		models.FieldStatus:         models.StatusTranscodeFailed,
		models.FieldTranscodeError: cause.Error(),
	}); err != nil {
		logger.Error("record failure state", "error", err)
	}
	w.invalidateCache(job.AssetID, logger)
	if w.audit != nil {
		w.audit.LogTranscode(job.AssetID, "failed", 0, 0)
	}
	w.metrics.TranscodeFailed()
}

func (w *Worker) invalidateCache(assetID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.queue.InvalidateMetadata(ctx, assetID); err != nil {
		logger.Warn("cache invalidation failed", "error", err)
	}
}

// sourcePath locates the uploaded original inside the asset directory. The
// metadata record names it; older assets fall back to the original.* file.
func (w *Worker) sourcePath(assetDir string, record map[string]any) (string, error) {
	if name, ok := record[models.FieldOriginalFile].(string); ok && name != "" {
		path := filepath.Join(assetDir, filepath.Base(name))
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	matches, err := filepath.Glob(filepath.Join(assetDir, "original.*"))
	if err != nil {
		return "", fmt.Errorf("scan for source: %w", err)
	}
	// Drop the metadata temp file and anything else unexpected.
	candidates := matches[:0]
	for _, match := range matches {
		if filepath.Ext(match) != ".json" && !strings.HasSuffix(match, ".tmp") {
			candidates = append(candidates, match)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no source file in %s", assetDir)
	}
	sort.Strings(candidates)
	return candidates[0], nil
}
