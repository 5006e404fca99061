package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aiprojectops/youtube-shorts-generator/internal/metrics"
	"github.com/aiprojectops/youtube-shorts-generator/internal/queue"
	"github.com/aiprojectops/youtube-shorts-generator/internal/tracing"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// Pipeline stage names used in logs and metrics
const (
	StageGeneration  = "generation"
	StagePostProcess = "postprocess"
	StageUpload      = "upload"
	StageMetadata    = "metadata"
)

// Generator produces a video from a prompt and stores it locally
type Generator interface {
	GenerateVideo(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error)
}

// PostProcessor overlays captions and mixes background music. It consumes
// its input file on success.
type PostProcessor interface {
	PostProcess(ctx context.Context, inputPath string, opts models.PostProcessOptions) (string, error)
}

// Uploader publishes a local file and returns its public URL. It must
// authenticate from credentialRef on every call.
type Uploader interface {
	Upload(ctx context.Context, filePath string, meta models.PublishMetadata, credentialRef string) (string, error)
}

// MetadataWriter completes publish metadata from a prompt
type MetadataWriter interface {
	Complete(ctx context.Context, prompt string, meta models.PublishMetadata) (models.PublishMetadata, error)
}

// processJob applies the state machine to one job. Nothing that happens
// here may escape and abort the rest of the pass.
func (s *Scheduler) processJob(ctx context.Context, userID string, job models.Job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordError("scheduler", "panic")
			err := fmt.Errorf("%w: panic: %v", models.ErrUnexpected, r)
			s.logger.WithUserID(userID).WithJobID(job.ID).ErrorWithErr("Job evaluation panicked", err)
			s.finish(ctx, userID, job.ID, models.JobStatusError, err)
		}
	}()

	if job.EligibleForGeneration(s.clock.Now(), s.cfg.GenerationLeadTime) {
		next, ok := s.runGeneration(ctx, userID, job)
		if !ok {
			return
		}
		job = next
	}

	if job.EligibleForUpload(s.clock.Now()) {
		s.runUpload(ctx, userID, job)
	}
}

// runGeneration claims the job for generation, runs the generator and the
// optional post-processing, and records the outcome. It reports whether the
// job is now ready for upload.
func (s *Scheduler) runGeneration(ctx context.Context, userID string, job models.Job) (models.Job, bool) {
	claimed, err := s.queue.UpdateStatus(ctx, userID, job.ID, models.JobStatusGenerating)
	if err != nil {
		s.logClaimFailure(userID, job.ID, StageGeneration, err)
		return models.Job{}, false
	}

	span, spanCtx := tracing.StartStageSpan(ctx, "generation", userID, job.ID)
	done := metrics.StageStarted(StageGeneration)
	defer done()
	start := time.Now()

	result, err := s.generator.GenerateVideo(spanCtx, models.NewGenerationRequest(&claimed))
	s.observeStage(StageGeneration, userID, job.ID, start, err)

	path := result.LocalPath
	if err == nil && s.post != nil && claimed.PostProcess.HasWork() {
		path, err = s.postProcess(spanCtx, userID, job.ID, result.LocalPath, *claimed.PostProcess)
		if err != nil {
			err = fmt.Errorf("post-processing: %w", err)
			// Nothing references the raw render once post-processing is lost
			s.removeArtifact(userID, job.ID, result.LocalPath)
		}
	}
	tracing.FinishSpan(span, err)

	if err != nil {
		if ctx.Err() != nil {
			// Shutdown: the job keeps its in-flight status and is re-armed on the next start.
			s.logger.WithUserID(userID).WithJobID(job.ID).Warn("Generation interrupted by shutdown")
			return models.Job{}, false
		}
		if !errors.Is(err, models.ErrGenerationFailure) {
			err = fmt.Errorf("%w: %v", models.ErrGenerationFailure, err)
		}
		s.finish(ctx, userID, job.ID, models.JobStatusGenerationFailed, err)
		return models.Job{}, false
	}

	ready, err := s.queue.UpdateStatus(ctx, userID, job.ID, models.JobStatusGeneratedReady,
		queue.WithArtifact(path, result.SourceURL))
	if err != nil {
		s.logClaimFailure(userID, job.ID, StageGeneration, err)
		return models.Job{}, false
	}
	return ready, true
}

// postProcess runs the post-processor under the process-wide media permit
func (s *Scheduler) postProcess(ctx context.Context, userID, jobID, input string, opts models.PostProcessOptions) (string, error) {
	waitStart := time.Now()
	select {
	case s.mediaPermit <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-s.mediaPermit }()
	metrics.RecordMediaPermitWait(time.Since(waitStart).Seconds())

	span, ctx := tracing.StartStageSpan(ctx, "postprocess", userID, jobID)
	done := metrics.StageStarted(StagePostProcess)
	defer done()
	start := time.Now()

	out, err := s.post.PostProcess(ctx, input, opts)
	s.observeStage(StagePostProcess, userID, jobID, start, err)
	tracing.FinishSpan(span, err)
	return out, err
}

// runUpload publishes a ready job. The artifact must still be on disk
// before the job may enter the uploading state.
func (s *Scheduler) runUpload(ctx context.Context, userID string, job models.Job) {
	if _, err := os.Stat(job.ArtifactPath); err != nil {
		s.finish(ctx, userID, job.ID, models.JobStatusFailed,
			fmt.Errorf("%w: %s: %v", models.ErrArtifactMissing, job.ArtifactPath, err))
		return
	}

	if s.metadata != nil && job.Metadata.Title == "" {
		job = s.completeMetadata(ctx, userID, job)
		if job.ID == "" {
			return
		}
	}

	claimed, err := s.queue.UpdateStatus(ctx, userID, job.ID, models.JobStatusUploading)
	if err != nil {
		s.logClaimFailure(userID, job.ID, StageUpload, err)
		return
	}

	span, spanCtx := tracing.StartStageSpan(ctx, "upload", userID, job.ID)
	done := metrics.StageStarted(StageUpload)
	defer done()
	start := time.Now()

	url, err := s.uploader.Upload(spanCtx, claimed.ArtifactPath, claimed.Metadata, claimed.CredentialRef)
	s.observeStage(StageUpload, userID, job.ID, start, err)
	tracing.FinishSpan(span, err)

	if err != nil {
		if ctx.Err() != nil {
			s.logger.WithUserID(userID).WithJobID(job.ID).Warn("Upload interrupted by shutdown")
			return
		}
		if !errors.Is(err, models.ErrUploadFailure) {
			err = fmt.Errorf("%w: %v", models.ErrUploadFailure, err)
		}
		s.finish(ctx, userID, job.ID, models.JobStatusFailed, err)
		return
	}

	if _, err := s.queue.UpdateStatus(ctx, userID, job.ID, models.JobStatusCompleted, queue.WithPublishedURL(url)); err != nil {
		s.logClaimFailure(userID, job.ID, StageUpload, err)
		return
	}

	if s.cfg.RemoveAfterUpload {
		s.removeArtifact(userID, job.ID, claimed.ArtifactPath)
	}
}

func (s *Scheduler) removeArtifact(userID, jobID, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.WithUserID(userID).WithJobID(jobID).WithField("path", path).ErrorWithErr("Failed to remove artifact", err)
	}
}

// completeMetadata asks the metadata writer for missing fields. A writer
// failure is not fatal; the job is published with what it has. An empty
// job is returned when the job left the queue meanwhile.
func (s *Scheduler) completeMetadata(ctx context.Context, userID string, job models.Job) models.Job {
	start := time.Now()
	meta, err := s.metadata.Complete(ctx, job.PromptText(), job.Metadata)
	s.observeStage(StageMetadata, userID, job.ID, start, err)
	if err != nil {
		return job
	}

	amended, err := s.queue.Amend(ctx, userID, job.ID, queue.WithMetadata(meta))
	if err != nil {
		s.logClaimFailure(userID, job.ID, StageMetadata, err)
		return models.Job{}
	}
	return amended
}

// finish moves a job into a failure state and records why
func (s *Scheduler) finish(ctx context.Context, userID, jobID string, status models.JobStatus, cause error) {
	if _, err := s.queue.UpdateStatus(ctx, userID, jobID, status, queue.WithError(cause)); err != nil {
		s.logClaimFailure(userID, jobID, string(status), err)
		return
	}
	metrics.RecordError("pipeline", string(models.ClassifyError(cause)))
}

func (s *Scheduler) observeStage(stage, userID, jobID string, start time.Time, err error) {
	d := time.Since(start)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.RecordStage(stage, outcome, d.Seconds())
	s.logger.LogStageResult(userID, jobID, stage, d, err)
}

// logClaimFailure logs a write-back that lost the job: it was cleared, or
// another pass already moved it.
func (s *Scheduler) logClaimFailure(userID, jobID, stage string, err error) {
	logger := s.logger.WithUserID(userID).WithJobID(jobID).WithField("stage", stage)
	if errors.Is(err, models.ErrJobNotFound) {
		logger.Warn("Job left the queue while being processed")
		return
	}
	logger.ErrorWithErr("Failed to update job status", err)
}
