// Package metrics aggregates in-memory counters and gauges for the media
// pipeline: HTTP requests, upload finalization, queue activity, and
// transcode outcomes. External metric export wiring lives outside this core;
// the recorder only has to be cheap and safe under concurrent writers.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder is the shared metrics sink for a process. Counters are guarded by
// a mutex; gauges use atomics so samplers never contend with request paths.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	transcodeEvents map[string]uint64

	uploadsCompleted atomic.Uint64
	jobsEnqueued     atomic.Uint64
	jobsDequeued     atomic.Uint64
	queueDepth       atomic.Int64
	activeTranscodes atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder ready for concurrent use.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		transcodeEvents: make(map[string]uint64),
	}
}

// Default returns the process-wide Recorder shared by packages that do not
// carry their own.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// UploadCompleted counts a successfully finalized upload.
func (r *Recorder) UploadCompleted() { r.uploadsCompleted.Add(1) }

// JobEnqueued counts a transcode job pushed onto the queue.
func (r *Recorder) JobEnqueued() { r.jobsEnqueued.Add(1) }

// JobDequeued counts a transcode job handed to a worker.
func (r *Recorder) JobDequeued() { r.jobsDequeued.Add(1) }

// TranscodeStarted marks a job in flight.
func (r *Recorder) TranscodeStarted() { r.activeTranscodes.Add(1) }

// TranscodeSucceeded records a terminal success and releases the in-flight
// gauge.
func (r *Recorder) TranscodeSucceeded() {
	r.recordTranscode("succeeded")
	r.decrementGauge(&r.activeTranscodes)
}

// TranscodeFailed records a terminal failure and releases the in-flight
// gauge.
func (r *Recorder) TranscodeFailed() {
	r.recordTranscode("failed")
	r.decrementGauge(&r.activeTranscodes)
}

func (r *Recorder) recordTranscode(outcome string) {
	r.mu.Lock()
	r.transcodeEvents[outcome]++
	r.mu.Unlock()
}

// SetQueueDepth records the sampled queue backlog.
func (r *Recorder) SetQueueDepth(depth int64) { r.queueDepth.Store(depth) }

// QueueDepth returns the last sampled backlog.
func (r *Recorder) QueueDepth() int64 { return r.queueDepth.Load() }

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// RequestStat is one aggregated request series.
type RequestStat struct {
	Method        string        `json:"method"`
	Path          string        `json:"path"`
	Status        string        `json:"status"`
	Count         uint64        `json:"count"`
	TotalDuration time.Duration `json:"totalDuration"`
}

// Snapshot is a point-in-time copy of every counter and gauge, used by the
// health payload and by tests.
type Snapshot struct {
	Requests         []RequestStat     `json:"requests,omitempty"`
	UploadsCompleted uint64            `json:"uploadsCompleted"`
	JobsEnqueued     uint64            `json:"jobsEnqueued"`
	JobsDequeued     uint64            `json:"jobsDequeued"`
	Transcodes       map[string]uint64 `json:"transcodes,omitempty"`
	QueueDepth       int64             `json:"queueDepth"`
	ActiveTranscodes int64             `json:"activeTranscodes"`
}

// SnapshotNow copies the recorder's current state.
func (r *Recorder) SnapshotNow() Snapshot {
	r.mu.RLock()
	requests := make([]RequestStat, 0, len(r.requestCount))
	for label, count := range r.requestCount {
		requests = append(requests, RequestStat{
			Method:        label.method,
			Path:          label.path,
			Status:        label.status,
			Count:         count,
			TotalDuration: r.requestDuration[label],
		})
	}
	transcodes := make(map[string]uint64, len(r.transcodeEvents))
	for outcome, count := range r.transcodeEvents {
		transcodes[outcome] = count
	}
	r.mu.RUnlock()

	return Snapshot{
		Requests:         requests,
		UploadsCompleted: r.uploadsCompleted.Load(),
		JobsEnqueued:     r.jobsEnqueued.Load(),
		JobsDequeued:     r.jobsDequeued.Load(),
		Transcodes:       transcodes,
		QueueDepth:       r.queueDepth.Load(),
		ActiveTranscodes: r.activeTranscodes.Load(),
	}
}

// normalizePath collapses per-asset identifiers so the request label set
// stays bounded no matter how many assets a deployment serves.
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if _, err := uuid.Parse(segment); err == nil {
			segments[i] = ":id"
		}
	}
	normalized := strings.Join(segments, "/")
	// Rendition file paths fan out per segment file; fold them into one label.
	if idx := strings.Index(normalized, "/:id/"); idx >= 0 && strings.HasPrefix(normalized, "/media/videos/") {
		rest := normalized[idx+len("/:id/"):]
		switch rest {
		case "metadata", "renditions":
		default:
			normalized = normalized[:idx+len("/:id/")] + "*"
		}
	}
	if normalized == "" {
		return "/"
	}
	return normalized
}
