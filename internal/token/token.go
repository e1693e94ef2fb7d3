// Package token builds and verifies the HMAC-signed credentials used across
// the pipeline: time-limited media-access tokens for signed playback URLs and
// upload-session tokens for mobile QR/deeplink flows. Tokens are stateless;
// everything needed to verify one is carried in its own signed payload.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

// Verification failure reasons. Callers surface these verbatim.
const (
	ReasonMissing      = "missing token"
	ReasonMalformed    = "malformed token"
	ReasonExpired      = "expired"
	ReasonBadSignature = "bad signature"
)

// VerifyError reports why a token failed verification. Verification fails
// closed: any parse problem is a VerifyError, never a panic or a pass.
type VerifyError struct {
	Reason string
}

func (e *VerifyError) Error() string { return e.Reason }

// IsVerifyError reports whether err is a token verification failure and, if
// so, returns its reason.
func IsVerifyError(err error) (string, bool) {
	var verr *VerifyError
	if errors.As(err, &verr) {
		return verr.Reason, true
	}
	return "", false
}

const (
	keySalt       = "mediavault/token/v1"
	keyIterations = 4096
	keyLength     = 32
)

// Codec signs and verifies tokens with a key derived from the deployment
// secret. Every process sharing the secret derives the same key, so tokens
// verify across hosts without coordination.
type Codec struct {
	key []byte
	now func() time.Time
}

// New derives the signing key from the configured secret. An empty secret is
// refused so a misconfigured deployment fails at startup, not at verify time.
func New(secret string) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	key := pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, keyLength, sha256.New)
	return &Codec{key: key, now: time.Now}, nil
}

// WithClock overrides the wall clock, for tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// MediaAccess is the result of signing a media path.
type MediaAccess struct {
	Token     string
	URL       string
	ExpiresAt int64
	ExpiresIn int64
}

// SignMediaAccess mints a token authorizing reads of relativePath under the
// asset for ttl. The token string is "{expiresAt}.{hexSignature}".
func (c *Codec) SignMediaAccess(assetID, relativePath string, ttl time.Duration) MediaAccess {
	expiresAt := c.now().Add(ttl).Unix()
	sig := c.signHex(mediaAccessPayload(assetID, relativePath, expiresAt))
	tok := fmt.Sprintf("%d.%s", expiresAt, sig)
	return MediaAccess{
		Token:     tok,
		URL:       fmt.Sprintf("/media/videos/%s/%s?token=%s", assetID, relativePath, tok),
		ExpiresAt: expiresAt,
		ExpiresIn: int64(ttl / time.Second),
	}
}

// VerifyMediaAccess checks the token against the asset and path it claims to
// authorize. Returns nil when valid, otherwise a *VerifyError.
func (c *Codec) VerifyMediaAccess(assetID, relativePath, tok string) error {
	if strings.TrimSpace(tok) == "" {
		return &VerifyError{Reason: ReasonMissing}
	}
	dot := strings.IndexByte(tok, '.')
	if dot <= 0 || dot == len(tok)-1 {
		return &VerifyError{Reason: ReasonMalformed}
	}
	expiresAt, err := strconv.ParseInt(tok[:dot], 10, 64)
	if err != nil {
		return &VerifyError{Reason: ReasonMalformed}
	}
	sig, err := hex.DecodeString(tok[dot+1:])
	if err != nil || len(sig) != sha256.Size {
		return &VerifyError{Reason: ReasonMalformed}
	}
	want := c.sign(mediaAccessPayload(assetID, relativePath, expiresAt))
	if !hmac.Equal(sig, want) {
		return &VerifyError{Reason: ReasonBadSignature}
	}
	if c.now().Unix() > expiresAt {
		return &VerifyError{Reason: ReasonExpired}
	}
	return nil
}

func mediaAccessPayload(assetID, relativePath string, expiresAt int64) []byte {
	return []byte(fmt.Sprintf("%s:%s:%d", assetID, relativePath, expiresAt))
}

// UploadSession is the signed payload of an upload-session token. Field order
// is fixed by the struct, which keeps the signed serialization canonical
// across processes sharing the secret.
type UploadSession struct {
	Server         string `json:"server"`
	UserID         string `json:"userId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	DraftID        string `json:"draftId,omitempty"`
	ExpiresAt      int64  `json:"expiresAt"`
	TokenID        string `json:"tokenId"`
	OneTimeUse     bool   `json:"oneTimeUse,omitempty"`
	Signature      string `json:"signature,omitempty"`
}

// UploadSessionParams configures a new upload-session token.
type UploadSessionParams struct {
	UserID         string
	OrganizationID string
	DraftID        string
	TTL            time.Duration
	OneTimeUse     bool
}

// IssueUploadSession signs an upload-session payload for the given server.
// The token is the base64url-encoded signed JSON payload.
func (c *Codec) IssueUploadSession(serverURL string, params UploadSessionParams) (string, UploadSession, error) {
	if strings.TrimSpace(serverURL) == "" {
		return "", UploadSession{}, errors.New("server URL is required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	session := UploadSession{
		Server:         serverURL,
		UserID:         params.UserID,
		OrganizationID: params.OrganizationID,
		DraftID:        params.DraftID,
		ExpiresAt:      c.now().Add(ttl).Unix(),
		TokenID:        uuid.NewString(),
		OneTimeUse:     params.OneTimeUse,
	}
	sig, err := c.signSession(session)
	if err != nil {
		return "", UploadSession{}, err
	}
	session.Signature = sig
	data, err := json.Marshal(session)
	if err != nil {
		return "", UploadSession{}, err
	}
	return base64.RawURLEncoding.EncodeToString(data), session, nil
}

// VerifyUploadSession decodes and verifies an upload-session token, checking
// the signature and expiry against the wall clock at verification time.
func (c *Codec) VerifyUploadSession(tok string) (UploadSession, error) {
	if strings.TrimSpace(tok) == "" {
		return UploadSession{}, &VerifyError{Reason: ReasonMissing}
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(tok))
	if err != nil {
		return UploadSession{}, &VerifyError{Reason: ReasonMalformed}
	}
	var session UploadSession
	if err := json.Unmarshal(data, &session); err != nil {
		return UploadSession{}, &VerifyError{Reason: ReasonMalformed}
	}
	if session.Signature == "" || session.TokenID == "" {
		return UploadSession{}, &VerifyError{Reason: ReasonMalformed}
	}
	want, err := c.signSession(session)
	if err != nil {
		return UploadSession{}, &VerifyError{Reason: ReasonMalformed}
	}
	if !hmac.Equal([]byte(session.Signature), []byte(want)) {
		return UploadSession{}, &VerifyError{Reason: ReasonBadSignature}
	}
	if c.now().Unix() > session.ExpiresAt {
		return UploadSession{}, &VerifyError{Reason: ReasonExpired}
	}
	return session, nil
}

func (c *Codec) signSession(session UploadSession) (string, error) {
	session.Signature = ""
	payload, err := json.Marshal(session)
	if err != nil {
		return "", err
	}
	return c.signHex(payload), nil
}

func (c *Codec) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

func (c *Codec) signHex(payload []byte) string {
	return hex.EncodeToString(c.sign(payload))
}
