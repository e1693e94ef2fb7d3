package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"mediavault/internal/observability/logging"
)

// requestIDMiddleware tags every request with an ID: the caller's
// X-Request-Id when present, a fresh UUID otherwise. The ID travels in the
// request context for the logging layer and is echoed in the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
