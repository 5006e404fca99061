package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

const (
	snapshotExt = ".json"
	historyExt  = ".history.jsonl"
)

// FileStore keeps one JSON snapshot per user in a directory
type FileStore struct {
	dir    string
	logger *logging.Logger
	mu     sync.Mutex
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string, logger *logging.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the snapshot directory
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) snapshotPath(userID string) string {
	return filepath.Join(s.dir, url.PathEscape(userID)+snapshotExt)
}

func (s *FileStore) historyPath(userID string) string {
	return filepath.Join(s.dir, url.PathEscape(userID)+historyExt)
}

// Load reads every snapshot in the directory
func (s *FileStore) Load(ctx context.Context) (map[string][]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]models.Job{}, nil
		}
		return nil, fmt.Errorf("read queue directory %s: %w", s.dir, err)
	}

	queues := make(map[string][]models.Job)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return queues, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.WithField("path", path).ErrorWithErr("Failed to read queue snapshot", err)
			continue
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			s.logger.WithField("path", path).ErrorWithErr("Failed to decode queue snapshot", err)
			continue
		}

		userID := snap.UserID
		if userID == "" {
			userID, err = url.PathUnescape(strings.TrimSuffix(name, snapshotExt))
			if err != nil {
				s.logger.WithField("path", path).ErrorWithErr("Unrecognised snapshot file name", err)
				continue
			}
		}
		if jobs := activeJobs(snap.Jobs); len(jobs) > 0 {
			queues[userID] = jobs
		}
	}
	return queues, nil
}

// Save atomically replaces the user's snapshot. An empty queue removes it.
func (s *FileStore) Save(ctx context.Context, userID string, jobs []models.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.snapshotPath(userID)
	if len(jobs) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove queue snapshot %s: %w", path, err)
		}
		return nil
	}

	data, err := encodeSnapshot(userID, jobs)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// Archive appends terminal jobs to the user's history file, one JSON object per line
func (s *FileStore) Archive(ctx context.Context, userID string, jobs []models.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.historyPath(userID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history %s: %w", path, err)
	}

	enc := json.NewEncoder(f)
	for _, job := range jobs {
		if err := enc.Encode(job); err != nil {
			_ = f.Close()
			return fmt.Errorf("append history %s: %w", path, err)
		}
	}
	return f.Close()
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".shorts-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}
