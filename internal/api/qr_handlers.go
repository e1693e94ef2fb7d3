package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"mediavault/internal/token"
)

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

type deeplinkBundle struct {
	Deeplink   string `json:"deeplink"`
	Token      string `json:"token"`
	Server     string `json:"server"`
	TokenID    string `json:"tokenId"`
	ExpiresAt  int64  `json:"expiresAt"`
	OneTimeUse bool   `json:"oneTimeUse"`
}

// issueDeeplink mints an upload-session token from the request's query
// parameters and wraps it in the mobile deeplink the QR code encodes.
func (h *Handler) issueDeeplink(r *http.Request) (deeplinkBundle, error) {
	query := r.URL.Query()
	server := strings.TrimSpace(query.Get("server"))
	if server == "" {
		server = h.PublicBaseURL
	}
	if server == "" {
		return deeplinkBundle{}, errors.New("server URL is not configured")
	}

	params := token.UploadSessionParams{
		UserID:         strings.TrimSpace(query.Get("userId")),
		OrganizationID: strings.TrimSpace(query.Get("organizationId")),
		DraftID:        strings.TrimSpace(query.Get("draftId")),
	}
	if raw := query.Get("expiresIn"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seconds <= 0 {
			return deeplinkBundle{}, errors.New("expiresIn must be a positive integer")
		}
		params.TTL = time.Duration(seconds) * time.Second
	}
	if raw := query.Get("oneTimeUse"); raw != "" {
		oneTime, err := strconv.ParseBool(raw)
		if err != nil {
			return deeplinkBundle{}, errors.New("oneTimeUse must be a boolean")
		}
		params.OneTimeUse = oneTime
	}

	tok, session, err := h.Tokens.IssueUploadSession(server, params)
	if err != nil {
		return deeplinkBundle{}, err
	}
	scheme := h.DeeplinkScheme
	if scheme == "" {
		scheme = "mediavault"
	}
	deeplink := fmt.Sprintf("%s://upload?token=%s&server=%s", scheme, url.QueryEscape(tok), url.QueryEscape(server))
	return deeplinkBundle{
		Deeplink:   deeplink,
		Token:      tok,
		Server:     server,
		TokenID:    session.TokenID,
		ExpiresAt:  session.ExpiresAt,
		OneTimeUse: session.OneTimeUse,
	}, nil
}

func (h *Handler) handleQRDeeplink(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.issueDeeplink(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (h *Handler) handleQRImage(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.issueDeeplink(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	size := defaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("size must be an integer"))
			return
		}
		size = parsed
	}
	if size < minQRSize {
		size = minQRSize
	}
	if size > maxQRSize {
		size = maxQRSize
	}

	png, err := qrcode.Encode(bundle.Deeplink, qrcode.Medium, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errors.New("QR encoding failed"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

type qrVerifyRequest struct {
	Token string `json:"token"`
}

func (h *Handler) handleQRVerify(w http.ResponseWriter, r *http.Request) {
	var req qrVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	session, err := h.Tokens.VerifyUploadSession(strings.TrimSpace(req.Token))
	if err != nil {
		reason := err.Error()
		if r, ok := token.IsVerifyError(err); ok {
			reason = r
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"valid": false, "reason": reason})
		return
	}
	session.Signature = ""
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "payload": session})
}
