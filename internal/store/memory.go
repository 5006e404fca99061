package store

import (
	"context"
	"sync"

	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// MemoryStore is an in-process Store, used by tests and local runs
type MemoryStore struct {
	mu       sync.Mutex
	queues   map[string][]models.Job
	archived map[string][]models.Job
	saves    int

	// SaveErr, when set, is returned by every Save
	SaveErr error
	// LoadErr, when set, is returned by Load
	LoadErr error
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues:   make(map[string][]models.Job),
		archived: make(map[string][]models.Job),
	}
}

// Load returns copies of the saved non-terminal jobs
func (s *MemoryStore) Load(ctx context.Context) (map[string][]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	out := make(map[string][]models.Job, len(s.queues))
	for userID, jobs := range s.queues {
		if active := activeJobs(jobs); len(active) > 0 {
			out[userID] = cloneJobs(active)
		}
	}
	return out, nil
}

// Save stores a copy of jobs
func (s *MemoryStore) Save(ctx context.Context, userID string, jobs []models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if len(jobs) == 0 {
		delete(s.queues, userID)
		return nil
	}
	s.queues[userID] = cloneJobs(jobs)
	return nil
}

// Archive records terminal jobs
func (s *MemoryStore) Archive(ctx context.Context, userID string, jobs []models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.archived[userID] = append(s.archived[userID], cloneJobs(jobs)...)
	return nil
}

// Snapshot returns the last saved jobs of a user, terminal ones included
func (s *MemoryStore) Snapshot(userID string) []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJobs(s.queues[userID])
}

// Archived returns the archived jobs of a user
func (s *MemoryStore) Archived(userID string) []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJobs(s.archived[userID])
}

// Saves returns the number of Save calls
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func cloneJobs(jobs []models.Job) []models.Job {
	if jobs == nil {
		return nil
	}
	out := make([]models.Job, len(jobs))
	for i, job := range jobs {
		out[i] = job.Clone()
	}
	return out
}
