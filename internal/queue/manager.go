// Package queue holds the in-memory per-user job queues and mirrors every
// mutation to the persistent store.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiprojectops/youtube-shorts-generator/internal/batch"
	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/internal/metrics"
	"github.com/aiprojectops/youtube-shorts-generator/internal/store"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// Update mutates job fields as part of a status change
type Update func(*models.Job)

// WithArtifact records the produced local file and its source URL
func WithArtifact(path, sourceURL string) Update {
	return func(j *models.Job) {
		j.ArtifactPath = path
		if sourceURL != "" {
			j.SourceURL = sourceURL
		}
	}
}

// WithPublishedURL records where the video was published
func WithPublishedURL(url string) Update {
	return func(j *models.Job) {
		j.PublishedURL = url
	}
}

// WithError records a failure message and its classification
func WithError(err error) Update {
	return func(j *models.Job) {
		if err == nil {
			return
		}
		j.ErrorMessage = err.Error()
		j.FailureKind = models.ClassifyError(err)
	}
}

// WithMetadata replaces the publish metadata
func WithMetadata(meta models.PublishMetadata) Update {
	return func(j *models.Job) {
		j.Metadata = meta
	}
}

// Manager owns every user's queue. A single mutex guards the whole map;
// external calls never run under it.
type Manager struct {
	mu      sync.Mutex
	queues  map[string][]*models.Job
	store   store.Store
	tracker *batch.Tracker
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source used for job timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager backed by st. tracker may be nil.
func NewManager(st store.Store, tracker *batch.Tracker, logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if tracker == nil {
		tracker = batch.NewTracker(nil, logger)
	}
	m := &Manager{
		queues:  make(map[string][]*models.Job),
		store:   st,
		tracker: tracker,
		logger:  logger.WithComponent("queue"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tracker returns the batch tracker fed by this manager
func (m *Manager) Tracker() *batch.Tracker {
	return m.tracker
}

// Restore loads persisted queues. Jobs interrupted mid-stage are re-armed
// for that stage and every restored user starts a fresh batch.
func (m *Manager) Restore(ctx context.Context) error {
	queues, err := m.store.Load(ctx)
	if err != nil {
		metrics.RecordError("queue", "restore")
		return fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	restored := 0
	for userID, jobs := range queues {
		if len(jobs) == 0 {
			continue
		}
		batchID := m.tracker.Add(userID, len(jobs))
		queue := make([]*models.Job, 0, len(jobs))
		for i := range jobs {
			job := jobs[i].Clone()
			job.UserID = userID
			job.BatchID = batchID
			if resumed := models.ResumeStatus(&job); resumed != job.Status {
				m.logger.LogJobEvent(userID, job.ID, "rearmed", string(resumed), map[string]interface{}{
					"previous_status": string(job.Status),
				})
				job.Status = resumed
			}
			queue = append(queue, &job)
		}
		m.queues[userID] = queue
		m.persistLocked(ctx, userID)
		restored += len(queue)
	}

	m.updateGaugeLocked()
	m.logger.WithField("users", len(queues)).WithField("jobs", restored).Info("Queues restored")
	return nil
}

// Rearm moves jobs left generating or uploading by a stopped pipeline back
// to a status the next pass picks up. It must only run while no stage is
// executing. Returns the number of jobs moved.
func (m *Manager) Rearm(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	rearmed := 0
	for userID, queue := range m.queues {
		changed := false
		for _, job := range queue {
			if !job.Status.IsInFlight() {
				continue
			}
			resumed := models.ResumeStatus(job)
			m.logger.LogJobEvent(userID, job.ID, "rearmed", string(resumed), map[string]interface{}{
				"previous_status": string(job.Status),
			})
			job.Status = resumed
			job.UpdatedAt = now
			changed = true
			rearmed++
		}
		if changed {
			m.persistLocked(ctx, userID)
		}
	}

	return rearmed
}

// Add validates and appends a job to the user's queue and current batch.
// A job supplied with a local file enters ready for upload.
func (m *Manager) Add(ctx context.Context, userID string, job models.Job) (string, error) {
	ids, err := m.AddBatch(ctx, userID, []models.Job{job})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddBatch registers several jobs at once. Either all are added or none.
func (m *Manager) AddBatch(ctx context.Context, userID string, jobs []models.Job) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidJob)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: no jobs given", models.ErrInvalidJob)
	}
	for i := range jobs {
		if err := validate(&jobs[i]); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}

	m.mu.Lock()

	seen := make(map[string]bool, len(m.queues[userID])+len(jobs))
	for _, existing := range m.queues[userID] {
		seen[existing.ID] = true
	}

	now := m.now().UTC()
	prepared := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		job := jobs[i].Clone()
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		if seen[job.ID] {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: duplicate job id %s", models.ErrInvalidJob, job.ID)
		}
		seen[job.ID] = true

		job.UserID = userID
		job.Status = models.JobStatusPending
		if job.HasPreparedArtifact() {
			job.Status = models.JobStatusGeneratedReady
		}
		job.PublishedURL = ""
		job.ErrorMessage = ""
		job.FailureKind = ""
		job.StartedAt = nil
		job.CompletedAt = nil
		job.CreatedAt = now
		job.UpdatedAt = now
		prepared = append(prepared, &job)
	}

	batchID := m.tracker.Add(userID, len(prepared))
	ids := make([]string, 0, len(prepared))
	for _, job := range prepared {
		job.BatchID = batchID
		ids = append(ids, job.ID)
		m.queues[userID] = append(m.queues[userID], job)
	}
	m.persistLocked(ctx, userID)
	m.updateGaugeLocked()
	m.mu.Unlock()

	for _, job := range prepared {
		kind := "generate"
		if !job.NeedsGeneration {
			kind = "prepared"
		}
		metrics.RecordJobEnqueued(kind)
		m.logger.LogJobEvent(userID, job.ID, "enqueued", string(job.Status), map[string]interface{}{
			"batch_id":       batchID,
			"scheduled_time": job.ScheduledTime.Format(time.RFC3339),
		})
	}
	return ids, nil
}

// List returns a copy of the user's jobs in insertion order
func (m *Manager) List(userID string) []models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[userID]
	out := make([]models.Job, 0, len(queue))
	for _, job := range queue {
		out = append(out, job.Clone())
	}
	return out
}

// Get returns a copy of one job
func (m *Manager) Get(userID, jobID string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.findLocked(userID, jobID)
	if job == nil {
		return models.Job{}, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
	}
	return job.Clone(), nil
}

// CountActive returns the number of the user's non-terminal jobs
func (m *Manager) CountActive(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, job := range m.queues[userID] {
		if !job.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// ClearAll removes every job of the user and resets the batch. A stage still
// running for a removed job finishes on its own copy; its write-back fails
// with ErrJobNotFound.
func (m *Manager) ClearAll(ctx context.Context, userID string) int {
	m.mu.Lock()
	n := len(m.queues[userID])
	delete(m.queues, userID)
	m.tracker.Reset(userID)
	m.persistLocked(ctx, userID)
	m.updateGaugeLocked()
	m.mu.Unlock()

	metrics.RecordJobsCleared(n)
	m.logger.WithUserID(userID).WithField("jobs", n).Info("Queue cleared")
	return n
}

// UpdateStatus moves a job to status and applies updates atomically. The
// move must be an edge of the state graph, so two callers racing to claim a
// stage cannot both succeed. Reaching a terminal state reports the job to
// the batch tracker.
func (m *Manager) UpdateStatus(ctx context.Context, userID, jobID string, status models.JobStatus, updates ...Update) (models.Job, error) {
	m.mu.Lock()
	job := m.findLocked(userID, jobID)
	if job == nil {
		m.mu.Unlock()
		return models.Job{}, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
	}

	previous := job.Status
	if err := models.Transition(job, status); err != nil {
		m.mu.Unlock()
		return models.Job{}, err
	}
	for _, u := range updates {
		u(job)
	}

	now := m.now().UTC()
	job.UpdatedAt = now
	if status.IsInFlight() && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if status.IsTerminal() {
		job.CompletedAt = &now
	}

	out := job.Clone()
	m.persistLocked(ctx, userID)
	m.updateGaugeLocked()
	m.mu.Unlock()

	m.logger.LogJobEvent(userID, jobID, "status_changed", string(status), map[string]interface{}{
		"previous_status": string(previous),
	})
	if status.IsTerminal() {
		metrics.RecordJobFinished(string(status))
		m.tracker.RecordOutcome(ctx, userID, out)
	}
	return out, nil
}

// Amend applies field updates to a non-terminal job without changing status
func (m *Manager) Amend(ctx context.Context, userID, jobID string, updates ...Update) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.findLocked(userID, jobID)
	if job == nil {
		return models.Job{}, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
	}
	if job.Status.IsTerminal() {
		return models.Job{}, fmt.Errorf("%w: job %s is %s", models.ErrInvalidTransition, jobID, job.Status)
	}

	status := job.Status
	for _, u := range updates {
		u(job)
	}
	job.Status = status
	job.UpdatedAt = m.now().UTC()

	m.persistLocked(ctx, userID)
	return job.Clone(), nil
}

// Users returns the ids of users with a non-empty queue, sorted
func (m *Manager) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]string, 0, len(m.queues))
	for userID, queue := range m.queues {
		if len(queue) > 0 {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users
}

// Eligible returns copies of the user's jobs ready for their next stage at
// now, earliest scheduled first. Upload candidates still need their artifact
// file checked by the caller.
func (m *Manager) Eligible(userID string, now time.Time, leadTime time.Duration) []models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Job
	for _, job := range m.queues[userID] {
		if job.EligibleForGeneration(now, leadTime) || job.EligibleForUpload(now) {
			out = append(out, job.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	return out
}

// RemoveTerminal drops the user's finished jobs from the active queue,
// archiving them first when the store keeps history. It returns the number
// of jobs removed.
func (m *Manager) RemoveTerminal(ctx context.Context, userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.queues[userID]
	kept := queue[:0]
	var removed []models.Job
	for _, job := range queue {
		if job.Status.IsTerminal() {
			removed = append(removed, job.Clone())
			continue
		}
		kept = append(kept, job)
	}
	if len(removed) == 0 {
		return 0
	}
	for i := len(kept); i < len(queue); i++ {
		queue[i] = nil
	}

	if len(kept) == 0 {
		delete(m.queues, userID)
	} else {
		m.queues[userID] = kept
	}

	if archiver, ok := m.store.(store.Archiver); ok {
		if err := archiver.Archive(context.WithoutCancel(ctx), userID, removed); err != nil {
			metrics.RecordError("queue", "archive")
			m.logger.WithUserID(userID).ErrorWithErr("Failed to archive finished jobs", err)
		}
	}
	m.persistLocked(ctx, userID)
	return len(removed)
}

func (m *Manager) findLocked(userID, jobID string) *models.Job {
	for _, job := range m.queues[userID] {
		if job.ID == jobID {
			return job
		}
	}
	return nil
}

// persistLocked writes the user's full queue. Failures leave the in-memory
// queue authoritative until the next successful save.
func (m *Manager) persistLocked(ctx context.Context, userID string) {
	queue := m.queues[userID]
	jobs := make([]models.Job, 0, len(queue))
	for _, job := range queue {
		jobs = append(jobs, job.Clone())
	}

	if err := m.store.Save(context.WithoutCancel(ctx), userID, jobs); err != nil {
		metrics.RecordError("queue", "persistence")
		m.logger.WithUserID(userID).ErrorWithErr("Failed to persist queue", fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err))
	}
}

func (m *Manager) updateGaugeLocked() {
	n := 0
	for _, queue := range m.queues {
		for _, job := range queue {
			if !job.Status.IsTerminal() {
				n++
			}
		}
	}
	metrics.SetActiveJobs(n)
}

// validate checks the fields a job needs before it may be queued
func validate(job *models.Job) error {
	if job.ScheduledTime.IsZero() {
		return fmt.Errorf("%w: scheduled_time is required", models.ErrInvalidJob)
	}
	if job.NeedsGeneration {
		if job.ArtifactPath != "" {
			return fmt.Errorf("%w: a job cannot both request generation and supply a file", models.ErrInvalidJob)
		}
		if job.Generation == nil || job.Generation.Prompt == "" {
			return fmt.Errorf("%w: a prompt is required when generation is requested", models.ErrInvalidJob)
		}
		if job.Generation.Duration < 0 {
			return fmt.Errorf("%w: duration must not be negative", models.ErrInvalidJob)
		}
	} else if job.ArtifactPath == "" {
		return fmt.Errorf("%w: either generation or a local file is required", models.ErrInvalidJob)
	}
	switch job.Metadata.Privacy {
	case "", models.PrivacyPublic, models.PrivacyUnlisted, models.PrivacyPrivate:
	default:
		return fmt.Errorf("%w: unknown privacy %q", models.ErrInvalidJob, job.Metadata.Privacy)
	}
	if pp := job.PostProcess; pp != nil {
		return validatePostProcess(pp)
	}
	return nil
}

// validatePostProcess keeps user input out of the ffmpeg filtergraph and
// inside the music library
func validatePostProcess(pp *models.PostProcessOptions) error {
	if pp.MusicVolume < 0 || pp.MusicVolume > 1 {
		return fmt.Errorf("%w: music_volume must be between 0 and 1", models.ErrInvalidJob)
	}
	if pp.CaptionSize < 0 || pp.CaptionSize > 200 {
		return fmt.Errorf("%w: caption_size must be between 0 and 200", models.ErrInvalidJob)
	}
	switch pp.CaptionPosition {
	case "", models.CaptionTop, models.CaptionCenter, models.CaptionBottom:
	default:
		return fmt.Errorf("%w: unknown caption_position %q", models.ErrInvalidJob, pp.CaptionPosition)
	}
	if pp.CaptionColor != "" && !models.ValidCaptionColor(pp.CaptionColor) {
		return fmt.Errorf("%w: invalid caption_color %q", models.ErrInvalidJob, pp.CaptionColor)
	}
	if pp.MusicPath != "" && !models.ValidMusicPath(pp.MusicPath) {
		return fmt.Errorf("%w: music_path must be relative to the music library", models.ErrInvalidJob)
	}
	return nil
}
