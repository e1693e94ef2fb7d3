// Command server runs the media pipeline's HTTP service: signed URL
// minting, media serving, upload finalization, and QR upload sessions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mediavault/internal/api"
	"mediavault/internal/audit"
	"mediavault/internal/config"
	"mediavault/internal/metadata"
	"mediavault/internal/observability/logging"
	"mediavault/internal/observability/metrics"
	"mediavault/internal/queue"
	"mediavault/internal/server"
	"mediavault/internal/serverutil"
	"mediavault/internal/token"
)

func main() {
	cfg, err := config.Load("mediavault-server", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.Default()

	codec, err := token.New(cfg.TokenSecret)
	if err != nil {
		logger.Error("token codec init failed", "error", err)
		os.Exit(1)
	}
	for _, dir := range []string{cfg.VideoDir, cfg.StagingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("data directory creation failed", "dir", dir, "error", err)
			os.Exit(1)
		}
	}
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

	handler := &api.Handler{
		Tokens:             codec,
		Store:              metadata.NewStore(),
		Audit:              auditor,
		Queue:              queueClient,
		Metrics:            recorder,
		Logger:             logging.WithComponent(logger, "api"),
		VideoDir:           cfg.VideoDir,
		StagingDir:         cfg.StagingDir,
		RequireUploadToken: cfg.RequireUploadToken,
		TranscodeEnabled:   cfg.TranscodeEnabled,
		PublicBaseURL:      cfg.PublicBaseURL,
		DeeplinkScheme:     cfg.DeeplinkScheme,
		MediaTokenTTL:      cfg.MediaTokenTTL,
		CacheTTL:           cfg.CacheTTL,
	}
	srv, err := server.New(handler, server.Config{
		Addr:    cfg.Addr,
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("server init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("media server listening", "addr", cfg.Addr, "transcode", cfg.TranscodeEnabled)
	if err := serverutil.Run(ctx, serverutil.Config{
		Server: srv.HTTPServer(),
		TLS:    serverutil.TLSConfig{CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey},
	}); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("media server stopped")
}
