// Package server assembles the HTTP stack around the API handlers: request
// IDs, security headers, metrics observation, and request logging.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"mediavault/internal/api"
	"mediavault/internal/observability/logging"
	"mediavault/internal/observability/metrics"
)

// Config controls the assembled HTTP server.
type Config struct {
	Addr     string
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Security SecurityConfig
}

// Server wraps the configured http.Server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

// New builds the middleware chain around the API routes and the metrics
// snapshot endpoint.
func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("api handler is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	router := handler.Routes()
	router.Handle("/metrics", snapshotHandler(recorder)).Methods(http.MethodGet)

	chain := http.Handler(router)
	chain = metrics.HTTPMiddleware(recorder, chain)
	chain = logging.RequestLogger(cfg.Logger)(chain)
	chain = securityHeaders(cfg.Security, chain)
	chain = requestIDMiddleware(chain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Media serving streams large files; write timeout stays generous.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: httpServer, logger: cfg.Logger, metrics: recorder}, nil
}

// HTTPServer exposes the underlying server for serverutil.Run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func snapshotHandler(recorder *metrics.Recorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recorder.SnapshotNow())
	})
}
