package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"golang.org/x/text/unicode/norm"

	"mediavault/internal/metadata"
	"mediavault/internal/models"
	"mediavault/internal/token"
)

type finalizeRequest struct {
	UploadID    string         `json:"uploadId"`
	Filename    string         `json:"filename"`
	UserID      string         `json:"userId"`
	UploadToken string         `json:"uploadToken"`
	Metadata    map[string]any `json:"metadata"`
}

func (h *Handler) handleFinalizeUpload(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	req.UploadID = strings.TrimSpace(req.UploadID)
	if req.UploadID == "" {
		writeError(w, http.StatusBadRequest, errors.New("uploadId is required"))
		return
	}

	uploadToken := strings.TrimSpace(req.UploadToken)
	if uploadToken == "" {
		uploadToken = strings.TrimSpace(r.Header.Get("X-Upload-Token"))
	}
	if uploadToken == "" && h.RequireUploadToken {
		writeError(w, http.StatusUnauthorized, errors.New("Upload token required"))
		return
	}

	userID := strings.TrimSpace(req.UserID)
	organizationID := ""
	tokenID := ""
	authenticated := false
	var session token.UploadSession
	if uploadToken != "" {
		var err error
		session, err = h.Tokens.VerifyUploadSession(uploadToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if session.OneTimeUse && h.Queue != nil {
			ttl := time.Until(time.Unix(session.ExpiresAt, 0))
			consumed, err := h.Queue.ConsumeToken(r.Context(), session.TokenID, ttl)
			if err != nil {
				writeError(w, http.StatusInternalServerError, errors.New("token check failed"))
				return
			}
			if !consumed {
				writeError(w, http.StatusUnauthorized, errors.New("token already used"))
				return
			}
		}
		// The signed identity wins over caller-supplied values.
		if session.UserID != "" {
			userID = session.UserID
		}
		organizationID = session.OrganizationID
		tokenID = session.TokenID
		authenticated = true
	}

	staged, err := h.stagedUploadPath(req.UploadID)
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("upload not found"))
		return
	}

	assetID := uuid.NewString()
	assetDir := filepath.Join(h.VideoDir, assetID)
	if err := os.MkdirAll(assetDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("asset directory creation failed"))
		return
	}

	filename := sanitizeFilename(req.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	originalName := "original" + ext
	target := filepath.Join(assetDir, originalName)
	if err := os.Rename(staged, target); err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("upload installation failed"))
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("upload installation failed"))
		return
	}
	checksum, err := metadata.FileChecksum(target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("checksum computation failed"))
		return
	}

	record := make(map[string]any, len(req.Metadata)+10)
	for key, value := range req.Metadata {
		record[key] = value
	}
	record[models.FieldAssetID] = assetID
	record[models.FieldStatus] = models.StatusUploaded
	record[models.FieldOriginalSize] = info.Size()
	record[models.FieldOriginalChecksum] = checksum
	record[models.FieldOriginalFilename] = filename
	record[models.FieldOriginalFile] = originalName
	record[models.FieldUploadedAt] = time.Now().UTC().Format(time.RFC3339)
	record[models.FieldAuthenticated] = authenticated
	if userID != "" {
		record[models.FieldOwnerID] = userID
	}
	if organizationID != "" {
		record[models.FieldOrganizationID] = organizationID
	}
	if tokenID != "" {
		record[models.FieldTokenID] = tokenID
	}
	if _, err := h.Store.Write(assetDir, record); err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("metadata write failed"))
		return
	}

	canonical, err := h.Store.Read(assetDir)
	if err != nil {
		canonical = record
	}
	if h.Queue != nil {
		if err := h.Queue.CacheMetadata(r.Context(), assetID, canonical, h.cacheTTL()); err != nil {
			h.logger().Warn("metadata cache populate failed", "assetId", assetID, "error", err)
		}
	}
	if h.Audit != nil {
		h.Audit.LogUpload(assetID, userID, info.Size(), authenticated)
	}

	transcoding := false
	if h.TranscodeEnabled && h.Queue != nil {
		if _, err := h.Queue.Enqueue(r.Context(), assetID, canonical); err != nil {
			h.logger().Error("transcode enqueue failed", "assetId", assetID, "error", err)
		} else {
			transcoding = true
		}
	}
	if h.Metrics != nil {
		h.Metrics.UploadCompleted()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assetId":     assetID,
		"status":      models.StatusUploaded,
		"size":        info.Size(),
		"checksum":    checksum,
		"transcoding": transcoding,
	})
}

// stagedUploadPath locates the completed upload in the staging area, either
// as the bare upload ID or with the transport's extension attached.
func (h *Handler) stagedUploadPath(uploadID string) (string, error) {
	if strings.ContainsAny(uploadID, "/\\") || uploadID == "." || uploadID == ".." {
		return "", errors.New("invalid upload ID")
	}
	exact := filepath.Join(h.StagingDir, uploadID)
	if info, err := os.Stat(exact); err == nil && !info.IsDir() {
		return exact, nil
	}
	matches, err := filepath.Glob(filepath.Join(h.StagingDir, uploadID+".*"))
	if err != nil || len(matches) == 0 {
		return "", errors.New("upload not found")
	}
	return matches[0], nil
}

// sanitizeFilename normalizes a caller-supplied filename to a safe single
// path component: Unicode-normalized, no separators, no control runes.
func sanitizeFilename(name string) string {
	name = norm.NFKC.String(strings.TrimSpace(name))
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.Trim(name, ".")
	if name == "" {
		return "upload.bin"
	}
	return name
}
