package transcode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediavault/internal/audit"
	"mediavault/internal/metadata"
	"mediavault/internal/models"
	"mediavault/internal/observability/metrics"
	"mediavault/internal/queue"
	"mediavault/internal/testsupport/redisstub"
)

type stubProber struct {
	info  MediaInfo
	err   error
	paths []string
}

func (s *stubProber) Probe(ctx context.Context, path string) (MediaInfo, error) {
	s.paths = append(s.paths, path)
	return s.info, s.err
}

type stubEncoder struct {
	failOn  string
	presets []Preset
}

func (s *stubEncoder) Encode(ctx context.Context, source, outputDir string, info MediaInfo, preset Preset) error {
	if preset.Name == s.failOn {
		return errors.New("encoder exploded")
	}
	s.presets = append(s.presets, preset)
	name := filepath.Join(outputDir, preset.Name+".m3u8")
	return os.WriteFile(name, []byte("#EXTM3U\n"), 0o644)
}

// gateEncoder holds the first encode until released, so a test can cancel
// the run context while a job is in flight.
type gateEncoder struct {
	inner   *stubEncoder
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (e *gateEncoder) Encode(ctx context.Context, source, outputDir string, info MediaInfo, preset Preset) error {
	e.once.Do(func() { close(e.started) })
	<-e.release
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.inner.Encode(ctx, source, outputDir, info, preset)
}

type workerFixture struct {
	worker   *Worker
	store    *metadata.Store
	recorder *metrics.Recorder
	videoDir string
	prober   *stubProber
	encoder  Encoder
}

func newWorkerFixture(t *testing.T, prober *stubProber, encoder Encoder) *workerFixture {
	t.Helper()
	srv, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.New()
	client, err := queue.NewClient(queue.Config{Addr: srv.Addr(), Metrics: recorder, Logger: discard})
	if err != nil {
		t.Fatalf("new queue client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	auditor, err := audit.New(t.TempDir(), discard)
	if err != nil {
		t.Fatalf("new audit logger: %v", err)
	}

	videoDir := t.TempDir()
	store := metadata.NewStore()
	worker, err := NewWorker(WorkerConfig{
		Queue:    client,
		Store:    store,
		Audit:    auditor,
		Prober:   prober,
		Encoder:  encoder,
		Metrics:  recorder,
		Logger:   discard,
		VideoDir: videoDir,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return &workerFixture{
		worker:   worker,
		store:    store,
		recorder: recorder,
		videoDir: videoDir,
		prober:   prober,
		encoder:  encoder,
	}
}

func (f *workerFixture) seedAsset(t *testing.T, assetID string) string {
	t.Helper()
	assetDir := filepath.Join(f.videoDir, assetID)
	if err := os.MkdirAll(assetDir, 0o755); err != nil {
		t.Fatalf("mkdir asset: %v", err)
	}
	if err := os.WriteFile(filepath.Join(assetDir, "original.mp4"), []byte("not really video"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if _, err := f.store.Write(assetDir, map[string]any{
		models.FieldAssetID:      assetID,
		models.FieldStatus:       models.StatusUploaded,
		models.FieldOriginalFile: "original.mp4",
	}); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	return assetDir
}

func TestProcessJobSuccess(t *testing.T) {
	prober := &stubProber{info: MediaInfo{Duration: 12.5, Width: 1920, Height: 1080, Codec: "h264"}}
	encoder := &stubEncoder{}
	fixture := newWorkerFixture(t, prober, encoder)
	assetDir := fixture.seedAsset(t, "asset-1")

	fixture.worker.ProcessJob(context.Background(), &queue.Job{ID: "job-1", AssetID: "asset-1"})

	record, err := fixture.store.Read(assetDir)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	asset, err := models.AssetFromRecord(record)
	if err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if asset.Status != models.StatusTranscoded {
		t.Fatalf("status = %q", asset.Status)
	}
	if asset.Duration != 12.5 || asset.Width != 1920 || asset.Height != 1080 {
		t.Fatalf("probe fields not persisted: %+v", asset)
	}
	want := []string{"240p", "360p", "480p", "720p", "1080p"}
	if len(asset.Renditions) != len(want) {
		t.Fatalf("renditions = %v", asset.Renditions)
	}
	for i, name := range want {
		if asset.Renditions[i] != name {
			t.Fatalf("renditions = %v", asset.Renditions)
		}
	}
	if asset.TranscodedAt == "" {
		t.Fatal("transcodedAt not set")
	}
	if _, err := os.Stat(filepath.Join(assetDir, "hls", MasterPlaylistName)); err != nil {
		t.Fatalf("master playlist missing: %v", err)
	}
	if len(encoder.presets) != 5 {
		t.Fatalf("encoder ran %d times", len(encoder.presets))
	}

	snap := fixture.recorder.SnapshotNow()
	if snap.Transcodes["succeeded"] != 1 || snap.ActiveTranscodes != 0 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestProcessJobSmallSourceGetsSingleRendition(t *testing.T) {
	prober := &stubProber{info: MediaInfo{Duration: 3, Width: 160, Height: 120}}
	encoder := &stubEncoder{}
	fixture := newWorkerFixture(t, prober, encoder)
	assetDir := fixture.seedAsset(t, "asset-2")

	fixture.worker.ProcessJob(context.Background(), &queue.Job{ID: "job-2", AssetID: "asset-2"})

	record, err := fixture.store.Read(assetDir)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	renditions, ok := record[models.FieldRenditions].([]any)
	if !ok || len(renditions) != 1 || renditions[0] != "240p" {
		t.Fatalf("renditions = %v", record[models.FieldRenditions])
	}
}

func TestProcessJobEncoderFailureMarksAsset(t *testing.T) {
	prober := &stubProber{info: MediaInfo{Duration: 9, Width: 1280, Height: 720}}
	encoder := &stubEncoder{failOn: "480p"}
	fixture := newWorkerFixture(t, prober, encoder)
	assetDir := fixture.seedAsset(t, "asset-3")

	fixture.worker.ProcessJob(context.Background(), &queue.Job{ID: "job-3", AssetID: "asset-3"})

	record, err := fixture.store.Read(assetDir)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if record[models.FieldStatus] != models.StatusTranscodeFailed {
		t.Fatalf("status = %v", record[models.FieldStatus])
	}
	message, _ := record[models.FieldTranscodeError].(string)
	if message == "" {
		t.Fatal("transcodeError not recorded")
	}
	if _, err := os.Stat(filepath.Join(assetDir, "hls", MasterPlaylistName)); !os.IsNotExist(err) {
		t.Fatalf("master playlist published despite failure: %v", err)
	}

	snap := fixture.recorder.SnapshotNow()
	if snap.Transcodes["failed"] != 1 || snap.ActiveTranscodes != 0 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestProcessJobMissingSourceFails(t *testing.T) {
	prober := &stubProber{info: MediaInfo{Height: 720}}
	fixture := newWorkerFixture(t, prober, &stubEncoder{})
	assetDir := filepath.Join(fixture.videoDir, "asset-4")
	if err := os.MkdirAll(assetDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := fixture.store.Write(assetDir, map[string]any{
		models.FieldAssetID: "asset-4",
		models.FieldStatus:  models.StatusUploaded,
	}); err != nil {
		t.Fatalf("write metadata: %v", err)
	}

	fixture.worker.ProcessJob(context.Background(), &queue.Job{ID: "job-4", AssetID: "asset-4"})

	record, err := fixture.store.Read(assetDir)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if record[models.FieldStatus] != models.StatusTranscodeFailed {
		t.Fatalf("status = %v", record[models.FieldStatus])
	}
	if len(prober.paths) != 0 {
		t.Fatalf("prober ran against %v", prober.paths)
	}
}

func TestRunDrainsQueueAndStopsOnCancel(t *testing.T) {
	prober := &stubProber{info: MediaInfo{Duration: 5, Width: 640, Height: 360}}
	encoder := &stubEncoder{}
	fixture := newWorkerFixture(t, prober, encoder)
	assetDir := fixture.seedAsset(t, "asset-5")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := fixture.worker.queue.Enqueue(ctx, "asset-5", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	fixture.worker.dequeueWait = time.Second
	done := make(chan error, 1)
	go func() { done <- fixture.worker.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		record, err := fixture.store.Read(assetDir)
		if err == nil && record[models.FieldStatus] == models.StatusTranscoded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("asset never transcoded; last record %v (err %v)", record, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestRunFinishesInFlightJobOnShutdown(t *testing.T) {
	prober := &stubProber{info: MediaInfo{Duration: 5, Width: 640, Height: 360}}
	encoder := &gateEncoder{inner: &stubEncoder{}, started: make(chan struct{}), release: make(chan struct{})}
	fixture := newWorkerFixture(t, prober, encoder)
	assetDir := fixture.seedAsset(t, "asset-6")

	if _, err := fixture.worker.queue.Enqueue(context.Background(), "asset-6", nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixture.worker.dequeueWait = time.Second
	done := make(chan error, 1)
	go func() { done <- fixture.worker.Run(ctx) }()

	select {
	case <-encoder.started:
	case <-time.After(5 * time.Second):
		t.Fatal("encoder never started")
	}

	// Cancel mid-encode, then let the encoder proceed. The job must still
	// run to completion instead of being killed by the shutdown signal.
	cancel()
	close(encoder.release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after the in-flight job")
	}

	record, err := fixture.store.Read(assetDir)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if record[models.FieldStatus] != models.StatusTranscoded {
		t.Fatalf("status = %v, transcodeError = %v", record[models.FieldStatus], record[models.FieldTranscodeError])
	}
	if _, err := os.Stat(filepath.Join(assetDir, "hls", MasterPlaylistName)); err != nil {
		t.Fatalf("master playlist missing: %v", err)
	}
}
