// Package metadata persists per-asset JSON records with crash-safe writes
// and checksum-verified reads. One directory per asset is the unit of
// persistence; the live record is always either the old complete record or
// the new complete record, never a partial write.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mediavault/internal/models"
)

var (
	// ErrNotFound indicates the asset has no metadata record.
	ErrNotFound = errors.New("metadata not found")
	// ErrCorrupt indicates the stored checksum does not match the record.
	ErrCorrupt = errors.New("metadata checksum mismatch")
)

const (
	// FileName is the live record inside an asset directory.
	FileName = "meta.json"
	// TempFileName is the transient write target renamed over FileName.
	TempFileName = "meta.tmp.json"

	schemaVersion = 1
)

// Fields that are set exactly once: re-entering a state must not overwrite
// the timestamp recorded on the first transition.
var setOnceFields = map[string]struct{}{
	models.FieldUploadedAt:   {},
	models.FieldTranscodedAt: {},
}

// Store reads and writes asset metadata records. Concurrent updates to the
// same asset directory are serialized in-process; distinct assets never
// contend.
type Store struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// NewStore returns an empty store. The store itself is stateless on disk;
// all persistence lives in the asset directories handed to each call.
func NewStore() *Store {
	return &Store{
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

func (s *Store) lockFor(dir string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[dir]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[dir] = lock
	}
	return lock
}

// Write serializes the record with the schema version and a refreshed
// updatedAt, embeds its checksum, and replaces the live record atomically:
// temp file in the same directory, fsync, rename, then fsync of the
// directory so the rename itself survives a crash.
func (s *Store) Write(dir string, record map[string]any) (string, error) {
	lock := s.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()
	return s.writeLocked(dir, record)
}

func (s *Store) writeLocked(dir string, record map[string]any) (string, error) {
	out := cloneRecord(record)
	out[models.FieldVersion] = schemaVersion
	out[models.FieldUpdatedAt] = s.now().UTC().Format(time.RFC3339)
	delete(out, models.FieldChecksum)

	out, err := canonicalRecord(out)
	if err != nil {
		return "", fmt.Errorf("canonicalize metadata: %w", err)
	}
	sum, err := Checksum(out)
	if err != nil {
		return "", fmt.Errorf("checksum metadata: %w", err)
	}
	out[models.FieldChecksum] = sum

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare metadata directory: %w", err)
	}
	tmpPath := filepath.Join(dir, TempFileName)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open temp metadata: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write temp metadata: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("flush temp metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp metadata: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, FileName)); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("commit metadata: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return "", fmt.Errorf("flush metadata directory: %w", err)
	}
	return sum, nil
}

// Read loads and verifies the record for an asset directory. A missing file
// is ErrNotFound; a checksum mismatch is ErrCorrupt.
func (s *Store) Read(dir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if stored, ok := record[models.FieldChecksum].(string); ok && stored != "" {
		check := cloneRecord(record)
		delete(check, models.FieldChecksum)
		sum, err := Checksum(check)
		if err != nil {
			return nil, fmt.Errorf("checksum metadata: %w", err)
		}
		if sum != stored {
			return nil, fmt.Errorf("%w: %s", ErrCorrupt, dir)
		}
	}
	return record, nil
}

// Update performs a read-modify-write of the record. A missing prior record
// is not an error: the update starts from an empty base. Set-once fields
// already present in the base are preserved.
func (s *Store) Update(dir string, fields map[string]any) (string, error) {
	lock := s.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()

	base, err := s.Read(dir)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
		base = make(map[string]any)
	}
	for key, value := range fields {
		if _, once := setOnceFields[key]; once {
			if existing, ok := base[key]; ok && existing != "" && existing != nil {
				continue
			}
		}
		base[key] = value
	}
	return s.writeLocked(dir, base)
}

// Checksum computes the canonical SHA-256 of a record. encoding/json sorts
// map keys, which makes the serialization reproducible regardless of
// insertion order.
func Checksum(record map[string]any) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// FileChecksum streams a file through SHA-256 without buffering it in
// memory, for original-upload integrity fingerprints.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// canonicalRecord round-trips the record through encoding/json. Read verifies
// the checksum over decoded values, so the hash must cover those same forms:
// a json.Number literal like "29.970" or a typed slice would otherwise hash
// differently from what the file reads back as.
func canonicalRecord(record map[string]any) (map[string]any, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for key, value := range record {
		out[key] = value
	}
	return out
}
