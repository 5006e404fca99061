package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusPending, JobStatusGenerating, true},
		{JobStatusGenerating, JobStatusGeneratedReady, true},
		{JobStatusGeneratedReady, JobStatusUploading, true},
		{JobStatusUploading, JobStatusCompleted, true},
		{JobStatusGenerating, JobStatusGenerationFailed, true},
		{JobStatusUploading, JobStatusFailed, true},
		{JobStatusGeneratedReady, JobStatusFailed, true},
		{JobStatusPending, JobStatusError, true},
		{JobStatusUploading, JobStatusError, true},

		{JobStatusPending, JobStatusUploading, false},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusGeneratedReady, JobStatusCompleted, false},
		{JobStatusGeneratedReady, JobStatusGenerating, false},
		{JobStatusUploading, JobStatusGeneratedReady, false},
		{JobStatusGenerating, JobStatusGenerating, false},
		{JobStatusCompleted, JobStatusPending, false},
		{JobStatusFailed, JobStatusUploading, false},
		{JobStatusError, JobStatusPending, false},
		{JobStatus("bogus"), JobStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCompletedOnlyReachableFromUploading(t *testing.T) {
	for from := range allowedTransitions {
		if CanTransition(from, JobStatusCompleted) {
			assert.Equal(t, JobStatusUploading, from)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for status, next := range allowedTransitions {
		if status.IsTerminal() {
			assert.Empty(t, next, "terminal status %s must not have exits", status)
		} else {
			assert.Contains(t, next, JobStatusError, "active status %s must be able to error", status)
		}
	}
}

func TestTransition(t *testing.T) {
	job := &Job{ID: "job-1", Status: JobStatusPending}

	require.NoError(t, Transition(job, JobStatusGenerating))
	assert.Equal(t, JobStatusGenerating, job.Status)

	err := Transition(job, JobStatusCompleted)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, JobStatusGenerating, job.Status)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusGenerationFailed.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusError.IsTerminal())
	assert.False(t, JobStatusPending.IsTerminal())

	assert.True(t, JobStatusUploading.IsActive())
	assert.False(t, JobStatusCompleted.IsActive())
	assert.False(t, JobStatus("unknown").IsActive())

	assert.True(t, JobStatusGenerating.IsInFlight())
	assert.False(t, JobStatusGeneratedReady.IsInFlight())
}

func TestEligibleForGeneration(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	lead := 5 * time.Minute

	soon := &Job{NeedsGeneration: true, Status: JobStatusPending, ScheduledTime: now.Add(2 * time.Minute)}
	assert.True(t, soon.EligibleForGeneration(now, lead))

	later := &Job{NeedsGeneration: true, Status: JobStatusPending, ScheduledTime: now.Add(10 * time.Minute)}
	assert.False(t, later.EligibleForGeneration(now, lead))
	assert.True(t, later.EligibleForGeneration(now.Add(5*time.Minute), lead))

	overdue := &Job{NeedsGeneration: true, Status: JobStatusPending, ScheduledTime: now.Add(-time.Hour)}
	assert.True(t, overdue.EligibleForGeneration(now, lead))

	withArtifact := &Job{NeedsGeneration: true, Status: JobStatusPending, ArtifactPath: "/tmp/a.mp4", ScheduledTime: now}
	assert.False(t, withArtifact.EligibleForGeneration(now, lead))

	running := &Job{NeedsGeneration: true, Status: JobStatusGenerating, ScheduledTime: now}
	assert.False(t, running.EligibleForGeneration(now, lead))

	noGen := &Job{Status: JobStatusPending, ScheduledTime: now}
	assert.False(t, noGen.EligibleForGeneration(now, lead))
}

func TestEligibleForUpload(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	ready := &Job{Status: JobStatusGeneratedReady, ArtifactPath: "/tmp/a.mp4", ScheduledTime: now}
	assert.True(t, ready.EligibleForUpload(now))

	early := &Job{Status: JobStatusGeneratedReady, ArtifactPath: "/tmp/a.mp4", ScheduledTime: now.Add(time.Second)}
	assert.False(t, early.EligibleForUpload(now))

	uploading := &Job{Status: JobStatusUploading, ArtifactPath: "/tmp/a.mp4", ScheduledTime: now}
	assert.False(t, uploading.EligibleForUpload(now))

	noPath := &Job{Status: JobStatusGeneratedReady, ScheduledTime: now}
	assert.False(t, noPath.EligibleForUpload(now))
}

func TestResumeStatus(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want JobStatus
	}{
		{"generating without artifact", Job{Status: JobStatusGenerating, NeedsGeneration: true}, JobStatusPending},
		{"generating with artifact", Job{Status: JobStatusGenerating, NeedsGeneration: true, ArtifactPath: "/a.mp4"}, JobStatusGeneratedReady},
		{"uploading", Job{Status: JobStatusUploading, ArtifactPath: "/a.mp4"}, JobStatusGeneratedReady},
		{"pending prepared file", Job{Status: JobStatusPending, ArtifactPath: "/a.mp4"}, JobStatusGeneratedReady},
		{"pending generation", Job{Status: JobStatusPending, NeedsGeneration: true}, JobStatusPending},
		{"ready", Job{Status: JobStatusGeneratedReady, ArtifactPath: "/a.mp4"}, JobStatusGeneratedReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResumeStatus(&tt.job))
		})
	}
}

func TestJobClone(t *testing.T) {
	started := time.Now()
	job := Job{
		ID:          "job-1",
		Generation:  &GenerationOptions{Prompt: "a cat surfing"},
		PostProcess: &PostProcessOptions{CaptionText: "hi"},
		Metadata:    PublishMetadata{Tags: []string{"cat"}},
		StartedAt:   &started,
	}

	clone := job.Clone()
	clone.Generation.Prompt = "changed"
	clone.PostProcess.CaptionText = "changed"
	clone.Metadata.Tags[0] = "dog"
	*clone.StartedAt = started.Add(time.Hour)

	assert.Equal(t, "a cat surfing", job.Generation.Prompt)
	assert.Equal(t, "hi", job.PostProcess.CaptionText)
	assert.Equal(t, "cat", job.Metadata.Tags[0])
	assert.Equal(t, started, *job.StartedAt)
}

func TestJobDecodeOlderSchema(t *testing.T) {
	// Snapshot written before post-processing and failure kinds existed.
	data := []byte(`{
		"id": "job-1",
		"user_id": "user-1",
		"scheduled_time": "2025-01-01T12:00:00Z",
		"status": "pending",
		"needs_generation": true,
		"generation": {"prompt": "sunset timelapse", "duration": 8},
		"metadata": {"title": "Sunset"},
		"some_future_field": 42
	}`)

	var job Job
	require.NoError(t, json.Unmarshal(data, &job))

	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Nil(t, job.PostProcess)
	assert.Empty(t, job.FailureKind)
	assert.Equal(t, "sunset timelapse", job.PromptText())
	assert.Equal(t, "", job.Generation.AspectRatio)
}

func TestPostProcessHasWork(t *testing.T) {
	var nilOpts *PostProcessOptions
	assert.False(t, nilOpts.HasWork())
	assert.False(t, (&PostProcessOptions{CaptionSize: 40}).HasWork())
	assert.True(t, (&PostProcessOptions{CaptionText: "hello"}).HasWork())
	assert.True(t, (&PostProcessOptions{MusicPath: "a.mp3"}).HasWork())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, FailureKind(""), ClassifyError(nil))
	assert.Equal(t, FailureGeneration, ClassifyError(fmt.Errorf("poll: %w", ErrGenerationFailure)))
	assert.Equal(t, FailureUpload, ClassifyError(fmt.Errorf("insert: %w", ErrUploadFailure)))
	assert.Equal(t, FailureArtifact, ClassifyError(ErrArtifactMissing))
	assert.Equal(t, FailureUnexpected, ClassifyError(errors.New("boom")))
}

func TestValidCaptionColor(t *testing.T) {
	tests := []struct {
		color string
		want  bool
	}{
		{"white", true},
		{"LightGoldenRodYellow", true},
		{"#FFCC00", true},
		{"#ffcc0080", true},
		{"0xFFCC00", true},
		{"0xFFCC00@0.5", true},
		{"black@1", true},
		{"", false},
		{"#FFF", false},
		{"white@2", false},
		{"white:textfile=/etc/passwd", false},
		{"white[v];movie=/etc/hostname[x", false},
		{"red'", false},
		{"red\\:x", false},
	}

	for _, tt := range tests {
		t.Run(tt.color, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidCaptionColor(tt.color))
		})
	}
}

func TestValidMusicPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"bg.mp3", true},
		{"lofi/track-01.mp3", true},
		{"", false},
		{"/etc/passwd", false},
		{"../secret.mp3", false},
		{"a/../../secret.mp3", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidMusicPath(tt.path))
		})
	}
}
