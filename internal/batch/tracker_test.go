package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

type recorder struct {
	mu      sync.Mutex
	results []models.BatchResult
}

func (r *recorder) BatchCompleted(ctx context.Context, result models.BatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recorder) all() []models.BatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.BatchResult(nil), r.results...)
}

func finished(id, batchID string, status models.JobStatus) models.Job {
	return models.Job{ID: id, BatchID: batchID, Status: status}
}

func TestTrackerCompletesOnce(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now := start
	rec := &recorder{}
	tr := NewTracker(rec, nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	id := tr.Add("u1", 2)
	assert.Equal(t, id, tr.Add("u1", 1), "adds before completion join the same batch")

	now = start.Add(3 * time.Minute)
	assert.False(t, tr.RecordOutcome(ctx, "u1", finished("a", id, models.JobStatusCompleted)))
	assert.False(t, tr.RecordOutcome(ctx, "u1", finished("b", id, models.JobStatusGenerationFailed)))
	assert.True(t, tr.RecordOutcome(ctx, "u1", finished("c", id, models.JobStatusCompleted)))

	results := rec.all()
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, id, res.BatchID)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3*time.Minute, res.Elapsed)
	assert.Len(t, res.Jobs, 3)

	assert.False(t, tr.Snapshot("u1").Active, "counters reset after completion")
}

func TestTrackerNewBatchAfterCompletion(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, nil)
	ctx := context.Background()

	first := tr.Add("u1", 1)
	tr.RecordOutcome(ctx, "u1", finished("a", first, models.JobStatusCompleted))

	second := tr.Add("u1", 1)
	assert.NotEqual(t, first, second)
}

func TestTrackerIgnoresStaleOutcome(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, nil)
	ctx := context.Background()

	old := tr.Add("u1", 2)
	tr.Reset("u1")
	assert.False(t, tr.RecordOutcome(ctx, "u1", finished("a", old, models.JobStatusCompleted)))

	current := tr.Add("u1", 1)
	assert.False(t, tr.RecordOutcome(ctx, "u1", finished("a", old, models.JobStatusCompleted)))
	assert.True(t, tr.RecordOutcome(ctx, "u1", finished("b", current, models.JobStatusFailed)))

	results := rec.all()
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Succeeded)
}

func TestTrackerUsersAreIndependent(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, nil)
	ctx := context.Background()

	a := tr.Add("alice", 1)
	tr.Add("bob", 1)

	assert.True(t, tr.RecordOutcome(ctx, "alice", finished("x", a, models.JobStatusCompleted)))
	assert.True(t, tr.Snapshot("bob").Active)
	assert.Equal(t, 1, tr.Snapshot("bob").Total)
}

func TestTrackerSnapshot(t *testing.T) {
	tr := NewTracker(nil, nil)
	ctx := context.Background()

	id := tr.Add("u1", 3)
	tr.RecordOutcome(ctx, "u1", finished("a", id, models.JobStatusCompleted))

	progress := tr.Snapshot("u1")
	assert.Equal(t, models.BatchProgress{
		UserID:    "u1",
		BatchID:   id,
		Total:     3,
		Completed: 1,
		Succeeded: 1,
		StartedAt: progress.StartedAt,
		Active:    true,
	}, progress)
}

func TestTrackerConcurrentOutcomes(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(rec, nil)
	ctx := context.Background()

	const n = 50
	id := tr.Add("u1", n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := models.JobStatusCompleted
			if i%5 == 0 {
				status = models.JobStatusFailed
			}
			tr.RecordOutcome(ctx, "u1", finished("job", id, status))
		}(i)
	}
	wg.Wait()

	results := rec.all()
	require.Len(t, results, 1)
	assert.Equal(t, n, results[0].Total)
	assert.Equal(t, 40, results[0].Succeeded)
}
