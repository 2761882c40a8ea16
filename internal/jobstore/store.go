// Package jobstore persists one directory per job under ".vizier/jobs/":
// an atomically-written job.json record plus append-only stdout/stderr
// logs and an optional captured input patch. The atomic-write discipline
// (temp file in the same directory, fsync, rename) is grounded on the
// teacher's internal/storage.FileStorage.atomicWrite and
// internal/pool.Pool.atomicMove helpers.
package jobstore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/JTan2231/vizier/internal/layout"
	"github.com/JTan2231/vizier/internal/schederr"
)

// Store is the Job Store contract (§4.1).
type Store interface {
	Enqueue(record *Record) error
	Load(id string) (*Record, error)
	Update(id string, mutate func(*Record) error) error
	List() ([]*Record, error)
	Delete(id string) error
	StdoutPath(id string) string
	StderrPath(id string) string
	OpenStdoutAppend(id string) (*os.File, error)
	OpenStderrAppend(id string) (*os.File, error)
}

// FileStore implements Store on the local filesystem.
type FileStore struct {
	RepoRoot string
}

// New creates a FileStore rooted at repoRoot.
func New(repoRoot string) *FileStore {
	return &FileStore{RepoRoot: repoRoot}
}

// GenerateID returns a lexicographically-sortable, globally-unique job id:
// a UTC timestamp (nanosecond resolution, sortable as a string) followed by a
// short crypto-random suffix, guaranteeing strict total ordering matching
// enqueue order within one process and uniqueness across restarts.
func GenerateID(now time.Time) string {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return fmt.Sprintf("%s-%08x", now.UTC().Format("20060102T150405.000000000"), now.UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405.000000000"), hex.EncodeToString(suffix))
}

// NewSessionID allocates an opaque session slot id. Sessions themselves are
// produced by command bodies outside the scheduler; the store only reserves
// the id so a record's session_path can be computed before the child runs.
func NewSessionID() string {
	return uuid.NewString()
}

// Enqueue creates the job directory and writes the initial record.
func (s *FileStore) Enqueue(record *Record) error {
	dir := layout.JobDir(s.RepoRoot, record.ID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "create job directory", err)
	}
	if err := s.writeRecord(record); err != nil {
		return err
	}
	return nil
}

// Load reads and parses a single job record.
func (s *FileStore) Load(id string) (*Record, error) {
	path := layout.RecordPath(s.RepoRoot, id)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schederr.Wrap(schederr.KindIoFatal, "read job record "+id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, schederr.Wrap(schederr.KindIoFatal, "parse job record "+id, err)
	}
	return &rec, nil
}

// Update loads a record, applies mutate, and writes the result back
// atomically. No-op writes (identical content) still round-trip through the
// atomic path; callers that want to skip unchanged writes should compare
// before calling Update.
func (s *FileStore) Update(id string, mutate func(*Record) error) error {
	rec, err := s.Load(id)
	if err != nil {
		return err
	}
	if err := mutate(rec); err != nil {
		return err
	}
	return s.writeRecord(rec)
}

// List enumerates job directories, ordered by created_at ascending, ties
// broken by id ascending. Directories missing job.json (a stale or
// half-created directory) are skipped silently; directories with malformed
// JSON are skipped with a logged warning, per §4.1.
func (s *FileStore) List() ([]*Record, error) {
	root := layout.JobsRoot(s.RepoRoot)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, schederr.Wrap(schederr.KindIoFatal, "list job directory", err)
	}

	var records []*Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), layout.JobRecordFile)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobstore: warning: read %s: %v\n", path, err)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			fmt.Fprintf(os.Stderr, "jobstore: warning: parse %s: %v\n", path, err)
			continue
		}
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Delete removes a job directory entirely. Used only by GC.
func (s *FileStore) Delete(id string) error {
	return os.RemoveAll(layout.JobDir(s.RepoRoot, id))
}

// StdoutPath returns the stdout log path for a job, joined onto RepoRoot.
func (s *FileStore) StdoutPath(id string) string { return layout.StdoutPath(s.RepoRoot, id) }

// StderrPath returns the stderr log path for a job, joined onto RepoRoot.
func (s *FileStore) StderrPath(id string) string { return layout.StderrPath(s.RepoRoot, id) }

// OpenStdoutAppend opens (creating if needed) the job's stdout log for
// line-buffered append writes by a spawned child.
func (s *FileStore) OpenStdoutAppend(id string) (*os.File, error) {
	return openAppend(s.StdoutPath(id))
}

// OpenStderrAppend opens (creating if needed) the job's stderr log for
// line-buffered append writes by a spawned child.
func (s *FileStore) OpenStderrAppend(id string) (*os.File, error) {
	return openAppend(s.StderrPath(id))
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
}

// writeRecord performs the atomic write: temp file in the job directory,
// fsync, rename over job.json. A write failure never leaves a half-written
// record — the caller surfaces schederr.KindIoFatal and the tick aborts.
func (s *FileStore) writeRecord(rec *Record) error {
	dir := layout.JobDir(s.RepoRoot, rec.ID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "create job directory", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "marshal job record", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".job-*.tmp")
	if err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "create temp record file", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return schederr.Wrap(schederr.KindIoFatal, "write temp record", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return schederr.Wrap(schederr.KindIoFatal, "sync temp record", err)
	}
	if err := tmp.Close(); err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "close temp record", err)
	}

	finalPath := layout.RecordPath(s.RepoRoot, rec.ID)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "rename record into place", err)
	}
	success = true
	return nil
}
