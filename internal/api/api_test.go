package api

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"mediavault/internal/audit"
	"mediavault/internal/metadata"
	"mediavault/internal/observability/metrics"
	"mediavault/internal/queue"
	"mediavault/internal/testsupport/redisstub"
	"mediavault/internal/token"
)

const testSecret = "test-secret-0123456789abcdef"

type handlerFixture struct {
	handler  *Handler
	codec    *token.Codec
	store    *metadata.Store
	recorder *metrics.Recorder
	queue    *queue.Client
	videoDir string
	staging  string
	auditDir string
}

func newHandlerFixture(t *testing.T) *handlerFixture {
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

	codec, err := token.New(testSecret)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	auditDir := t.TempDir()
	auditor, err := audit.New(auditDir, discard)
	if err != nil {
		t.Fatalf("new audit logger: %v", err)
	}

	store := metadata.NewStore()
	videoDir := t.TempDir()
	staging := t.TempDir()
	handler := &Handler{
		Tokens:        codec,
		Store:         store,
		Audit:         auditor,
		Queue:         client,
		Metrics:       recorder,
		Logger:        discard,
		VideoDir:      videoDir,
		StagingDir:    staging,
		PublicBaseURL: "https://media.example.com",
	}
	return &handlerFixture{
		handler:  handler,
		codec:    codec,
		store:    store,
		recorder: recorder,
		queue:    client,
		videoDir: videoDir,
		staging:  staging,
		auditDir: auditDir,
	}
}

func (f *handlerFixture) writeAssetFile(t *testing.T, assetID, relative string, content []byte) string {
	t.Helper()
	path := filepath.Join(f.videoDir, assetID, filepath.FromSlash(relative))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func (f *handlerFixture) stageUpload(t *testing.T, uploadID string, content []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.staging, uploadID), content, 0o644); err != nil {
		t.Fatalf("stage upload: %v", err)
	}
}
