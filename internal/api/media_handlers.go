package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"mediavault/internal/metadata"
	"mediavault/internal/models"
)

type signMediaRequest struct {
	AssetID   string `json:"assetId"`
	Path      string `json:"path"`
	ExpiresIn int64  `json:"expiresIn"`
}

func (h *Handler) handleSignMedia(w http.ResponseWriter, r *http.Request) {
	var req signMediaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	req.AssetID = strings.TrimSpace(req.AssetID)
	req.Path = strings.Trim(strings.TrimSpace(req.Path), "/")
	if req.AssetID == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("assetId and path are required"))
		return
	}
	ttl := h.mediaTokenTTL()
	if req.ExpiresIn > 0 {
		ttl = time.Duration(req.ExpiresIn) * time.Second
	}
	access := h.Tokens.SignMediaAccess(req.AssetID, req.Path, ttl)
	writeJSON(w, http.StatusOK, map[string]any{
		"url":       access.URL,
		"expiresAt": access.ExpiresAt,
		"expiresIn": access.ExpiresIn,
	})
}

func (h *Handler) handleServeMedia(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	assetID := vars["assetId"]
	relative := vars["path"]

	if err := h.Tokens.VerifyMediaAccess(assetID, relative, r.URL.Query().Get("token")); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	assetRoot := filepath.Join(h.VideoDir, assetID)
	resolved := filepath.Join(assetRoot, filepath.FromSlash(relative))
	if resolved != assetRoot && !strings.HasPrefix(resolved, assetRoot+string(os.PathSeparator)) {
		writeError(w, http.StatusForbidden, errors.New("path escapes asset directory"))
		return
	}

	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	file, err := os.Open(resolved)
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	defer file.Close()

	size := info.Size()
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentTypeFor(resolved))

	start, end, ok, satisfiable := parseRange(r.Header.Get("Range"), size)
	if ok && !satisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, errors.New("range not satisfiable"))
		return
	}

	// Only requests that serve bytes leave an access trail.
	if h.Audit != nil {
		h.Audit.LogAccess(assetID, relative, r.RemoteAddr)
	}
	if !ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, file)
		return
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("seek failed"))
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = io.CopyN(w, file, end-start+1)
}

// parseRange handles the single-range forms of the Range header:
// bytes=a-b, bytes=a-, bytes=-n. ok reports whether a range was requested
// in a form we honor; satisfiable is meaningful only when ok.
func parseRange(header string, size int64) (start, end int64, ok, satisfiable bool) {
	header = strings.TrimSpace(header)
	if header == "" || !strings.HasPrefix(header, "bytes=") {
		return 0, 0, false, false
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(spec, ",") {
		// Multi-range requests fall back to the full body.
		return 0, 0, false, false
	}
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return 0, 0, false, false
	}
	startPart := strings.TrimSpace(spec[:dash])
	endPart := strings.TrimSpace(spec[dash+1:])

	if startPart == "" {
		// Suffix form: last n bytes.
		n, err := strconv.ParseInt(endPart, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false, false
		}
		if n > size {
			n = size
		}
		if size == 0 {
			return 0, 0, true, false
		}
		return size - n, size - 1, true, true
	}

	s, err := strconv.ParseInt(startPart, 10, 64)
	if err != nil || s < 0 {
		return 0, 0, false, false
	}
	e := size - 1
	if endPart != "" {
		e, err = strconv.ParseInt(endPart, 10, 64)
		if err != nil || e < s {
			return 0, 0, false, false
		}
	}
	if s >= size {
		return 0, 0, true, false
	}
	if e > size-1 {
		e = size - 1
	}
	return s, e, true, true
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp4":
		return "video/mp4"
	default:
		if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// ResourceMetadata is the literal resource name a metadata token authorizes,
// in place of a file path.
const ResourceMetadata = "metadata"

// ResourceRenditions scopes tokens for the rendition listing.
const ResourceRenditions = "renditions"

func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["assetId"]
	if err := h.Tokens.VerifyMediaAccess(assetID, ResourceMetadata, r.URL.Query().Get("token")); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	if h.Queue != nil {
		if cached, err := h.Queue.CachedMetadata(r.Context(), assetID); err == nil && cached != nil {
			writeJSON(w, http.StatusOK, models.PublicRecord(cached))
			return
		}
	}

	record, err := h.Store.Read(filepath.Join(h.VideoDir, assetID))
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			writeError(w, http.StatusNotFound, errors.New("metadata not found"))
			return
		}
		if errors.Is(err, metadata.ErrCorrupt) {
			writeError(w, http.StatusInternalServerError, errors.New("metadata integrity check failed"))
			return
		}
		writeError(w, http.StatusInternalServerError, errors.New("metadata read failed"))
		return
	}
	if h.Queue != nil {
		if err := h.Queue.CacheMetadata(r.Context(), assetID, record, h.cacheTTL()); err != nil {
			h.logger().Warn("metadata cache populate failed", "assetId", assetID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, models.PublicRecord(record))
}

func (h *Handler) handleRenditions(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["assetId"]
	if err := h.Tokens.VerifyMediaAccess(assetID, ResourceRenditions, r.URL.Query().Get("token")); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	hlsDir := filepath.Join(h.VideoDir, assetID, "hls")
	entries, err := os.ReadDir(hlsDir)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, map[string]any{
				"renditions":     []string{},
				"status":         "pending",
				"masterPlaylist": "",
			})
			return
		}
		writeError(w, http.StatusInternalServerError, errors.New("rendition scan failed"))
		return
	}

	names := make([]string, 0, len(entries))
	master := ""
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".m3u8") {
			continue
		}
		if entry.Name() == "master.m3u8" {
			master = "hls/master.m3u8"
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".m3u8"))
	}
	sort.Strings(names)

	status := "processing"
	if len(names) > 0 {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"renditions":     names,
		"status":         status,
		"masterPlaylist": master,
	})
}
