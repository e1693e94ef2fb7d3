// Package audit maintains append-only, hash-chained event logs. Each entry
// embeds the hash of its predecessor, so retroactive edits anywhere in a
// file invalidate every later entry. Files are partitioned by category and
// UTC calendar day and are never rewritten.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event categories written by the pipeline.
const (
	CategoryAccess    = "access"
	CategoryUpload    = "upload"
	CategoryTranscode = "transcode"
)

const dayFormat = "2006-01-02"

// Logger appends hash-chained entries under a directory. The previous-hash
// cache is process-local; when cold, the chain tip is re-derived from the
// last line on disk so multiple processes can interleave appends.
type Logger struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastHash map[string]string
}

// New prepares the audit directory and returns a logger bound to it.
func New(dir string, logger *slog.Logger) (*Logger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("audit directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare audit directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		dir:      dir,
		logger:   logger,
		now:      time.Now,
		lastHash: make(map[string]string),
	}, nil
}

// WithClock overrides the wall clock, for tests.
func (l *Logger) WithClock(now func() time.Time) *Logger {
	l.now = now
	return l
}

func (l *Logger) filePath(category, day string) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s-%s.log", category, day))
}

// Log appends one entry to the current day's file for the category and
// returns the entry's hash.
func (l *Logger) Log(category string, event map[string]any) (string, error) {
	if strings.TrimSpace(category) == "" {
		return "", errors.New("audit category is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	path := l.filePath(category, now.Format(dayFormat))

	prev, cached := l.lastHash[path]
	if !cached {
		tip, err := lastHashOnDisk(path)
		if err != nil {
			return "", err
		}
		prev = tip
	}

	entry := map[string]any{
		"timestamp": now.Format(time.RFC3339Nano),
		"category":  category,
		"event":     event,
	}
	if prev == "" {
		entry["prevHash"] = nil
	} else {
		entry["prevHash"] = prev
	}
	hash, err := entryHash(entry)
	if err != nil {
		return "", err
	}
	entry["hash"] = hash

	line, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode audit entry: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return "", fmt.Errorf("append audit entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close audit log: %w", err)
	}

	l.lastHash[path] = hash
	return hash, nil
}

// VerifyChain replays every entry of a category/day file, checking prevHash
// linkage and recomputing each hash. Any mismatch anywhere returns false.
func (l *Logger) VerifyChain(category, day string) (bool, error) {
	path := l.filePath(category, day)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("audit log not found: %s", path)
		}
		return false, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	prev := ""
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return false, nil
		}
		stored, _ := entry["hash"].(string)
		if stored == "" {
			return false, nil
		}
		linked, _ := entry["prevHash"].(string)
		if first {
			if entry["prevHash"] != nil {
				return false, nil
			}
		} else if linked != prev {
			return false, nil
		}

		check := make(map[string]any, len(entry))
		for key, value := range entry {
			if key == "hash" {
				continue
			}
			check[key] = value
		}
		computed, err := entryHash(check)
		if err != nil {
			return false, nil
		}
		if computed != stored {
			return false, nil
		}
		prev = stored
		first = false
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scan audit log: %w", err)
	}
	return !first, nil
}

// LogAccess records a successful media serve with an anonymized caller IP.
func (l *Logger) LogAccess(assetID, relativePath, remoteIP string) {
	l.logBestEffort(CategoryAccess, map[string]any{
		"assetId": assetID,
		"path":    relativePath,
		"ip":      AnonymizeIP(remoteIP),
	})
}

// LogUpload records a finalized upload.
func (l *Logger) LogUpload(assetID, userID string, size int64, authenticated bool) {
	l.logBestEffort(CategoryUpload, map[string]any{
		"assetId":       assetID,
		"userId":        userID,
		"size":          size,
		"authenticated": authenticated,
	})
}

// LogTranscode records a transcode outcome.
func (l *Logger) LogTranscode(assetID, status string, elapsedSeconds float64, renditions int) {
	l.logBestEffort(CategoryTranscode, map[string]any{
		"assetId":        assetID,
		"status":         status,
		"elapsedSeconds": elapsedSeconds,
		"renditions":     renditions,
	})
}

func (l *Logger) logBestEffort(category string, event map[string]any) {
	if _, err := l.Log(category, event); err != nil {
		l.logger.Error("audit append failed", "category", category, "error", err)
	}
}

func entryHash(entry map[string]any) (string, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode audit entry: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func lastHashOnDisk(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	last := ""
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan audit log: %w", err)
	}
	if last == "" {
		return "", nil
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(last), &entry); err != nil {
		return "", fmt.Errorf("decode audit tail: %w", err)
	}
	hash, _ := entry["hash"].(string)
	return hash, nil
}
