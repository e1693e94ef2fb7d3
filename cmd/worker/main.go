// Command worker consumes transcode jobs from the queue and produces HLS
// renditions with ffmpeg. Run multiple instances for parallelism; the queue
// hands each job to exactly one of them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mediavault/internal/audit"
	"mediavault/internal/config"
	"mediavault/internal/metadata"
	"mediavault/internal/observability/logging"
	"mediavault/internal/observability/metrics"
	"mediavault/internal/queue"
	"mediavault/internal/transcode"
)

func main() {
	cfg, err := config.Load("mediavault-worker", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.Default()

	auditor, err := audit.New(cfg.AuditDir, logging.WithComponent(logger, "audit"))
	if err != nil {
		logger.Error("audit log init failed", "error", err)
		os.Exit(1)
	}
	queueClient, err := queue.NewClient(queue.Config{
		Addr:         cfg.Redis.Addr,
		Addrs:        cfg.Redis.Addrs,
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		QueueName:    cfg.Redis.QueueName,
		MasterName:   cfg.Redis.MasterName,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.Timeout,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
		TLS: queue.TLSConfig{
			CAFile:             cfg.Redis.TLSCA,
			CertFile:           cfg.Redis.TLSCert,
			KeyFile:            cfg.Redis.TLSKey,
			ServerName:         cfg.Redis.TLSServerName,
			InsecureSkipVerify: cfg.Redis.TLSSkipVerify,
		},
		Metrics: recorder,
		Logger:  logging.WithComponent(logger, "queue"),
	})
	if err != nil {
		logger.Error("queue client init failed", "error", err)
		os.Exit(1)
	}
	defer queueClient.Close()

	worker, err := transcode.NewWorker(transcode.WorkerConfig{
		Queue:   queueClient,
		Store:   metadata.NewStore(),
		Audit:   auditor,
		Prober:  &transcode.FFProber{Path: cfg.FFprobePath, Timeout: cfg.SubprocessTimeout, Logger: logging.WithComponent(logger, "ffprobe")},
		Encoder: &transcode.FFmpegEncoder{Path: cfg.FFmpegPath, Timeout: cfg.SubprocessTimeout, Logger: logging.WithComponent(logger, "ffmpeg")},
		Metrics: recorder,
		Logger:  logging.WithComponent(logger, "worker"),

		VideoDir:       cfg.VideoDir,
		DequeueWait:    cfg.DequeueWait,
		SampleInterval: cfg.SampleInterval,
	})
	if err != nil {
		logger.Error("worker init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("transcode worker started", "videoDir", cfg.VideoDir)
	if err := worker.Run(ctx); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("transcode worker stopped")
}
