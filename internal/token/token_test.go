package token

import (
	"strings"
	"testing"
	"time"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := New("test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return codec
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New("   "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

func TestMediaAccessRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	signed := codec.SignMediaAccess("v1", "hls/master.m3u8", 10*time.Minute)

	if !strings.Contains(signed.URL, "/media/videos/v1/hls/master.m3u8?token=") {
		t.Fatalf("unexpected URL %q", signed.URL)
	}
	if signed.ExpiresIn != 600 {
		t.Fatalf("expiresIn = %d, want 600", signed.ExpiresIn)
	}
	if err := codec.VerifyMediaAccess("v1", "hls/master.m3u8", signed.Token); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestMediaAccessKeyStableAcrossCodecs(t *testing.T) {
	first := newTestCodec(t)
	second := newTestCodec(t)
	signed := first.SignMediaAccess("v1", "hls/master.m3u8", time.Minute)
	if err := second.VerifyMediaAccess("v1", "hls/master.m3u8", signed.Token); err != nil {
		t.Fatalf("verify with second codec: %v", err)
	}
}

func TestMediaAccessVerifyFailures(t *testing.T) {
	codec := newTestCodec(t)
	signed := codec.SignMediaAccess("v1", "hls/master.m3u8", time.Minute)

	cases := []struct {
		name   string
		asset  string
		path   string
		token  string
		reason string
	}{
		{"missing", "v1", "hls/master.m3u8", "", ReasonMissing},
		{"no separator", "v1", "hls/master.m3u8", "garbage", ReasonMalformed},
		{"bad expiry", "v1", "hls/master.m3u8", "abc." + strings.Repeat("0", 64), ReasonMalformed},
		{"bad hex", "v1", "hls/master.m3u8", "123.zz", ReasonMalformed},
		{"wrong asset", "v2", "hls/master.m3u8", signed.Token, ReasonBadSignature},
		{"wrong path", "v1", "hls/other.m3u8", signed.Token, ReasonBadSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := codec.VerifyMediaAccess(tc.asset, tc.path, tc.token)
			reason, ok := IsVerifyError(err)
			if !ok {
				t.Fatalf("expected verify error, got %v", err)
			}
			if reason != tc.reason {
				t.Fatalf("reason = %q, want %q", reason, tc.reason)
			}
		})
	}
}

func TestMediaAccessSignatureTamper(t *testing.T) {
	codec := newTestCodec(t)
	signed := codec.SignMediaAccess("v1", "hls/master.m3u8", time.Minute)

	tampered := []byte(signed.Token)
	last := tampered[len(tampered)-1]
	if last == '0' {
		tampered[len(tampered)-1] = '1'
	} else {
		tampered[len(tampered)-1] = '0'
	}
	err := codec.VerifyMediaAccess("v1", "hls/master.m3u8", string(tampered))
	if reason, ok := IsVerifyError(err); !ok || reason != ReasonBadSignature {
		t.Fatalf("expected bad signature, got %v", err)
	}
}

func TestMediaAccessExpired(t *testing.T) {
	codec := newTestCodec(t)
	base := time.Now()
	codec.WithClock(func() time.Time { return base })
	signed := codec.SignMediaAccess("v1", "hls/master.m3u8", time.Minute)

	codec.WithClock(func() time.Time { return base.Add(2 * time.Minute) })
	err := codec.VerifyMediaAccess("v1", "hls/master.m3u8", signed.Token)
	if reason, ok := IsVerifyError(err); !ok || reason != ReasonExpired {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestUploadSessionRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	tok, issued, err := codec.IssueUploadSession("https://vault.example.com", UploadSessionParams{
		UserID:         "user-1",
		OrganizationID: "org-9",
		DraftID:        "draft-3",
		TTL:            time.Hour,
		OneTimeUse:     true,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.TokenID == "" {
		t.Fatal("expected a token ID")
	}

	session, err := codec.VerifyUploadSession(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if session.UserID != "user-1" || session.OrganizationID != "org-9" || session.DraftID != "draft-3" {
		t.Fatalf("unexpected payload %+v", session)
	}
	if !session.OneTimeUse {
		t.Fatal("oneTimeUse flag lost")
	}
	if session.TokenID != issued.TokenID {
		t.Fatalf("tokenId mismatch: %q vs %q", session.TokenID, issued.TokenID)
	}
}

func TestUploadSessionTamper(t *testing.T) {
	codec := newTestCodec(t)
	tok, _, err := codec.IssueUploadSession("https://vault.example.com", UploadSessionParams{UserID: "user-1", TTL: time.Hour})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for i := 0; i+2 < len(tok); i += 7 {
		tampered := []byte(tok)
		if tampered[i] == 'A' {
			tampered[i] = 'B'
		} else {
			tampered[i] = 'A'
		}
		if _, err := codec.VerifyUploadSession(string(tampered)); err == nil {
			t.Fatalf("tampering at offset %d was not detected", i)
		}
	}
}

func TestUploadSessionExpired(t *testing.T) {
	codec := newTestCodec(t)
	base := time.Now()
	codec.WithClock(func() time.Time { return base })
	tok, _, err := codec.IssueUploadSession("https://vault.example.com", UploadSessionParams{TTL: time.Minute})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	codec.WithClock(func() time.Time { return base.Add(time.Hour) })
	_, err = codec.VerifyUploadSession(tok)
	if reason, ok := IsVerifyError(err); !ok || reason != ReasonExpired {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestUploadSessionMissing(t *testing.T) {
	codec := newTestCodec(t)
	_, err := codec.VerifyUploadSession("")
	if reason, ok := IsVerifyError(err); !ok || reason != ReasonMissing {
		t.Fatalf("expected missing token, got %v", err)
	}
}
