package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCountersAndGauges(t *testing.T) {
	rec := New()
	rec.UploadCompleted()
	rec.JobEnqueued()
	rec.JobEnqueued()
	rec.JobDequeued()
	rec.TranscodeStarted()
	rec.TranscodeSucceeded()
	rec.TranscodeStarted()
	rec.TranscodeFailed()
	rec.SetQueueDepth(7)

	snap := rec.SnapshotNow()
	if snap.UploadsCompleted != 1 {
		t.Fatalf("uploadsCompleted = %d", snap.UploadsCompleted)
	}
	if snap.JobsEnqueued != 2 || snap.JobsDequeued != 1 {
		t.Fatalf("jobs = %d/%d", snap.JobsEnqueued, snap.JobsDequeued)
	}
	if snap.Transcodes["succeeded"] != 1 || snap.Transcodes["failed"] != 1 {
		t.Fatalf("transcodes = %v", snap.Transcodes)
	}
	if snap.QueueDepth != 7 {
		t.Fatalf("queueDepth = %d", snap.QueueDepth)
	}
	if snap.ActiveTranscodes != 0 {
		t.Fatalf("activeTranscodes = %d", snap.ActiveTranscodes)
	}
}

func TestGaugeNeverGoesNegative(t *testing.T) {
	rec := New()
	rec.TranscodeSucceeded()
	if got := rec.SnapshotNow().ActiveTranscodes; got != 0 {
		t.Fatalf("activeTranscodes = %d, want 0", got)
	}
}

func TestNormalizePathCollapsesAssetIDs(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/media/videos/0b8f9d3e-90f4-4f2a-b9be-31337c0ffee1/metadata", "/media/videos/:id/metadata"},
		{"/media/videos/0b8f9d3e-90f4-4f2a-b9be-31337c0ffee1/hls/720p_001.ts", "/media/videos/:id/*"},
		{"/media/sign", "/media/sign"},
		{"/uploads/finalize", "/uploads/finalize"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.in); got != tc.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHTTPMiddlewareObservesStatus(t *testing.T) {
	rec := New()
	handler := HTTPMiddleware(rec, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Millisecond)
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/media/sign", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	snap := rec.SnapshotNow()
	if len(snap.Requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(snap.Requests))
	}
	stat := snap.Requests[0]
	if stat.Status != "418" || stat.Path != "/media/sign" || stat.Count != 1 {
		t.Fatalf("unexpected stat %+v", stat)
	}
	if stat.TotalDuration <= 0 {
		t.Fatal("duration not recorded")
	}
}
