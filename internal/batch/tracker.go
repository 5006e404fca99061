// Package batch tracks per-user groups of jobs added together and reports
// when every job of a group has reached a terminal state.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/internal/metrics"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// CompletionHandler receives finished batches
type CompletionHandler interface {
	BatchCompleted(ctx context.Context, result models.BatchResult)
}

// CompletionFunc adapts a function to CompletionHandler
type CompletionFunc func(ctx context.Context, result models.BatchResult)

// BatchCompleted calls f
func (f CompletionFunc) BatchCompleted(ctx context.Context, result models.BatchResult) {
	f(ctx, result)
}

type state struct {
	id        string
	total     int
	completed int
	succeeded int
	startedAt time.Time
	jobs      []models.Job
}

// Tracker holds the counters of each user's current batch
type Tracker struct {
	mu      sync.Mutex
	batches map[string]*state
	handler CompletionHandler
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker. handler may be nil.
func NewTracker(handler CompletionHandler, logger *logging.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	t := &Tracker{
		batches: make(map[string]*state),
		handler: handler,
		logger:  logger.WithComponent("batch"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add counts n more jobs into the user's current batch, starting a new one
// when none is in progress, and returns the batch id.
func (t *Tracker) Add(userID string, n int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.batches[userID]
	if !ok {
		st = &state{id: uuid.New().String(), startedAt: t.now()}
		t.batches[userID] = st
	}
	st.total += n
	return st.id
}

// RecordOutcome counts a job that reached a terminal state. It returns true
// when this outcome completed the batch. Jobs from an earlier, reset batch
// are ignored.
func (t *Tracker) RecordOutcome(ctx context.Context, userID string, job models.Job) bool {
	t.mu.Lock()
	st, ok := t.batches[userID]
	if !ok || (job.BatchID != "" && job.BatchID != st.id) {
		t.mu.Unlock()
		t.logger.WithUserID(userID).WithJobID(job.ID).Debug("Outcome for unknown batch ignored")
		return false
	}

	st.completed++
	if job.Status == models.JobStatusCompleted {
		st.succeeded++
	}
	st.jobs = append(st.jobs, job.Clone())

	if st.completed < st.total {
		t.mu.Unlock()
		return false
	}

	now := t.now()
	result := models.BatchResult{
		UserID:      userID,
		BatchID:     st.id,
		Total:       st.total,
		Succeeded:   st.succeeded,
		Failed:      st.completed - st.succeeded,
		StartedAt:   st.startedAt,
		CompletedAt: now,
		Elapsed:     now.Sub(st.startedAt),
		Jobs:        st.jobs,
	}
	delete(t.batches, userID)
	t.mu.Unlock()

	metrics.RecordBatchCompleted(result.Succeeded, result.Total)
	t.logger.LogBatchCompleted(userID, result.BatchID, result.Succeeded, result.Total, result.Elapsed)
	if t.handler != nil {
		t.handler.BatchCompleted(ctx, result)
	}
	return true
}

// Reset drops the user's batch counters
func (t *Tracker) Reset(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.batches, userID)
}

// Snapshot returns the progress of the user's current batch
func (t *Tracker) Snapshot(userID string) models.BatchProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.batches[userID]
	if !ok {
		return models.BatchProgress{UserID: userID}
	}
	return models.BatchProgress{
		UserID:    userID,
		BatchID:   st.id,
		Total:     st.total,
		Completed: st.completed,
		Succeeded: st.succeeded,
		StartedAt: st.startedAt,
		Active:    true,
	}
}
