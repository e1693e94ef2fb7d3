// Package api exposes the HTTP surface of the media pipeline: signed URL
// minting, range-aware media serving, upload finalization, and QR
// upload-session issuance.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"mediavault/internal/audit"
	"mediavault/internal/metadata"
	"mediavault/internal/observability/metrics"
	"mediavault/internal/queue"
	"mediavault/internal/token"
)

const (
	defaultMediaTokenTTL = 15 * time.Minute
	defaultCacheTTL      = 5 * time.Minute
)

// Handler carries the pipeline's collaborators. Fields are set once during
// wiring and read-only afterwards.
type Handler struct {
	Tokens             *token.Codec
	Store              *metadata.Store
	Audit              *audit.Logger
	Queue              *queue.Client
	Metrics            *metrics.Recorder
	Logger             *slog.Logger
	VideoDir           string
	StagingDir         string
	RequireUploadToken bool
	TranscodeEnabled   bool
	PublicBaseURL      string
	DeeplinkScheme     string
	MediaTokenTTL      time.Duration
	CacheTTL           time.Duration
}

// Routes builds the router. More specific media routes must be registered
// before the catch-all file route so metadata and renditions do not fall
// through to the byte server.
func (h *Handler) Routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/media/sign", h.handleSignMedia).Methods(http.MethodPost)
	router.HandleFunc("/media/videos/{assetId}/metadata", h.handleMetadata).Methods(http.MethodGet)
	router.HandleFunc("/media/videos/{assetId}/renditions", h.handleRenditions).Methods(http.MethodGet)
	router.HandleFunc("/media/videos/{assetId}/{path:.+}", h.handleServeMedia).Methods(http.MethodGet)
	router.HandleFunc("/uploads/finalize", h.handleFinalizeUpload).Methods(http.MethodPost)
	router.HandleFunc("/qr/deeplink", h.handleQRDeeplink).Methods(http.MethodGet)
	router.HandleFunc("/qr/image", h.handleQRImage).Methods(http.MethodGet)
	router.HandleFunc("/qr/verify", h.handleQRVerify).Methods(http.MethodPost)
	return router
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if h.Queue != nil {
		if err := h.Queue.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["queue"] = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["queue"] = "ok"
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) mediaTokenTTL() time.Duration {
	if h.MediaTokenTTL > 0 {
		return h.MediaTokenTTL
	}
	return defaultMediaTokenTTL
}

func (h *Handler) cacheTTL() time.Duration {
	if h.CacheTTL > 0 {
		return h.CacheTTL
	}
	return defaultCacheTTL
}
