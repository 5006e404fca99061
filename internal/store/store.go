// Package store persists per-user job queues so they survive a restart.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// SchemaVersion is written into every persisted snapshot
const SchemaVersion = 1

// Store is the durable source of truth for queue contents
type Store interface {
	// Load returns every user's non-terminal jobs. A broken record for one
	// user is skipped and does not fail the whole load.
	Load(ctx context.Context) (map[string][]models.Job, error)
	// Save overwrites the durable snapshot of one user's queue.
	Save(ctx context.Context, userID string, jobs []models.Job) error
}

// Archiver keeps terminal jobs for audit after they leave the active queue
type Archiver interface {
	Archive(ctx context.Context, userID string, jobs []models.Job) error
}

// snapshot is the persisted envelope of one user's queue
type snapshot struct {
	SchemaVersion int          `json:"schema_version"`
	UserID        string       `json:"user_id"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Jobs          []models.Job `json:"jobs"`
}

func encodeSnapshot(userID string, jobs []models.Job) ([]byte, error) {
	if jobs == nil {
		jobs = []models.Job{}
	}
	data, err := json.Marshal(snapshot{
		SchemaVersion: SchemaVersion,
		UserID:        userID,
		UpdatedAt:     time.Now().UTC(),
		Jobs:          jobs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue for user %s: %w", userID, err)
	}
	return data, nil
}

// decodeSnapshot accepts the current envelope as well as the bare job array
// written before snapshots were versioned.
func decodeSnapshot(data []byte) (snapshot, error) {
	var snap snapshot
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &snap.Jobs); err != nil {
			return snapshot{}, fmt.Errorf("failed to unmarshal legacy queue: %w", err)
		}
		return snap, nil
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot{}, fmt.Errorf("failed to unmarshal queue snapshot: %w", err)
	}
	if snap.SchemaVersion > SchemaVersion {
		return snapshot{}, fmt.Errorf("unsupported queue schema version %d", snap.SchemaVersion)
	}
	return snap, nil
}

// activeJobs drops terminal and unknown statuses; finished jobs from a
// previous run are never resumed.
func activeJobs(jobs []models.Job) []models.Job {
	out := make([]models.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Status.IsActive() {
			out = append(out, job)
		}
	}
	return out
}
