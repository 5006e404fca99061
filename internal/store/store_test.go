package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

func sampleJobs(userID string) []models.Job {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []models.Job{
		{
			ID:              "job-1",
			UserID:          userID,
			ScheduledTime:   at,
			Status:          models.JobStatusPending,
			NeedsGeneration: true,
			Generation:      &models.GenerationOptions{Prompt: "a cat surfing", Duration: 8, AspectRatio: "9:16"},
			PostProcess:     &models.PostProcessOptions{CaptionText: "surf's up", CaptionPosition: "bottom", MusicVolume: 0.3},
			Metadata:        models.PublishMetadata{Title: "Cat", Tags: []string{"cat", "surf"}, Privacy: models.PrivacyPublic},
			CreatedAt:       at.Add(-time.Hour),
			UpdatedAt:       at.Add(-time.Hour),
		},
		{
			ID:            "job-2",
			UserID:        userID,
			ScheduledTime: at.Add(time.Hour),
			Status:        models.JobStatusGeneratedReady,
			ArtifactPath:  "/tmp/job-2.mp4",
			CreatedAt:     at.Add(-time.Hour),
			UpdatedAt:     at.Add(-time.Hour),
		},
		{
			ID:            "job-3",
			UserID:        userID,
			ScheduledTime: at,
			Status:        models.JobStatusCompleted,
			PublishedURL:  "https://www.youtube.com/shorts/abc",
			CreatedAt:     at.Add(-time.Hour),
			UpdatedAt:     at,
		},
	}
}

// roundTrip checks the shared Load/Save contract of a store
func roundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	jobs := sampleJobs("user/with spaces")
	require.NoError(t, s.Save(ctx, "user/with spaces", jobs))
	require.NoError(t, s.Save(ctx, "user-2", sampleJobs("user-2")[:1]))

	queues, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, queues, 2)

	loaded := queues["user/with spaces"]
	require.Len(t, loaded, 2, "terminal jobs must not be resumed")
	assert.Equal(t, jobs[0], loaded[0])
	assert.Equal(t, jobs[1], loaded[1])

	require.NoError(t, s.Save(ctx, "user-2", nil))
	queues, err = s.Load(ctx)
	require.NoError(t, err)
	_, ok := queues["user-2"]
	assert.False(t, ok)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	roundTrip(t, NewMemoryStore())
}

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	roundTrip(t, s)
}

func TestFileStoreSkipsBrokenSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "good", sampleJobs("good")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))

	queues, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, queues, 1)
	assert.Len(t, queues["good"], 2)
}

func TestFileStoreReadsLegacyArray(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	legacy := `[
		{"id": "old-1", "user_id": "legacy", "status": "pending", "scheduled_time": "2025-01-01T00:00:00Z",
		 "needs_generation": true, "prompt_v0": "ignored field"},
		{"id": "old-2", "user_id": "legacy", "status": "failed", "scheduled_time": "2025-01-01T00:00:00Z"}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legacy.json"), []byte(legacy), 0o644))

	queues, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, queues["legacy"], 1)
	assert.Equal(t, "old-1", queues["legacy"][0].ID)
	assert.True(t, queues["legacy"][0].NeedsGeneration)
}

func TestFileStoreRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	future := `{"schema_version": 99, "user_id": "u", "jobs": [{"id": "x", "status": "pending"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u.json"), []byte(future), 0o644))

	queues, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, queues)
}

func TestFileStoreArchive(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	ctx := context.Background()
	jobs := sampleJobs("u1")
	require.NoError(t, s.Archive(ctx, "u1", jobs[2:]))
	require.NoError(t, s.Archive(ctx, "u1", jobs[2:]))

	data, err := os.ReadFile(filepath.Join(dir, "u1"+historyExt))
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))

	queues, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, queues, "history files are not snapshots")
}

func TestFileStoreNoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(context.Background(), "u1", sampleJobs("u1")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "u1.json", entries[0].Name())
}

func TestObservedArchiveWithoutArchiver(t *testing.T) {
	o := NewObserved(plainStore{}, "plain", nil)
	assert.NoError(t, o.Archive(context.Background(), "u1", sampleJobs("u1")))
}

func TestObservedDelegates(t *testing.T) {
	mem := NewMemoryStore()
	o := NewObserved(mem, "memory", nil)
	ctx := context.Background()

	require.NoError(t, o.Save(ctx, "u1", sampleJobs("u1")))
	require.NoError(t, o.Archive(ctx, "u1", sampleJobs("u1")[2:]))

	queues, err := o.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, queues["u1"], 2)
	assert.Len(t, mem.Archived("u1"), 1)
	assert.Equal(t, 1, mem.Saves())
}

type plainStore struct{}

func (plainStore) Load(context.Context) (map[string][]models.Job, error) { return nil, nil }
func (plainStore) Save(context.Context, string, []models.Job) error     { return nil }

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
