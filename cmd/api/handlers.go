package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/internal/middleware"
	"github.com/aiprojectops/youtube-shorts-generator/internal/queue"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// maxScheduleItems bounds a single bulk registration
const maxScheduleItems = 200

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// API serves the job queue over HTTP
type API struct {
	queue          *queue.Manager
	uploadDir      string
	maxUploadBytes int64
	checks         map[string]HealthCheck
	logger         *logging.Logger
}

// NewAPI creates the HTTP handlers
func NewAPI(q *queue.Manager, uploadDir string, maxUploadBytes int64, logger *logging.Logger) *API {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &API{
		queue:          q,
		uploadDir:      uploadDir,
		maxUploadBytes: maxUploadBytes,
		checks:         make(map[string]HealthCheck),
		logger:         logger.WithComponent("api"),
	}
}

// AddHealthCheck registers a dependency probed by /health
func (api *API) AddHealthCheck(name string, check HealthCheck) {
	api.checks[name] = check
}

func setupRouter(api *API, jwtSecret string, limiter *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(logger))

	// Health check
	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtSecret), middleware.RateLimit(limiter))
	{
		v1.POST("/jobs", api.createJob)
		v1.POST("/jobs/upload", api.uploadJob)
		v1.GET("/jobs", api.listJobs)
		v1.GET("/jobs/active/count", api.countActive)
		v1.GET("/jobs/:id", api.getJob)
		v1.DELETE("/jobs", api.clearJobs)

		v1.POST("/schedules", api.createSchedule)
		v1.GET("/batch", api.getBatch)
	}

	return router
}

// CreateJobRequest registers one job that needs generation
type CreateJobRequest struct {
	ScheduledTime time.Time                  `json:"scheduled_time"`
	CredentialRef string                     `json:"credential_ref"`
	Generation    *models.GenerationOptions  `json:"generation" binding:"required"`
	PostProcess   *models.PostProcessOptions `json:"post_process"`
	Metadata      models.PublishMetadata     `json:"metadata"`
}

func (r CreateJobRequest) job() models.Job {
	return models.Job{
		CredentialRef:   r.CredentialRef,
		ScheduledTime:   r.ScheduledTime,
		NeedsGeneration: true,
		Generation:      r.Generation,
		PostProcess:     r.PostProcess,
		Metadata:        r.Metadata,
	}
}

// ScheduleItem is one prompt of a bulk registration
type ScheduleItem struct {
	Prompt        string     `json:"prompt" binding:"required"`
	ScheduledTime *time.Time `json:"scheduled_time"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Tags          []string   `json:"tags"`
	CaptionText   string     `json:"caption_text"`
}

// ScheduleRequest registers a batch of prompts published one after another.
// Items without their own time are spaced IntervalMinutes apart from
// StartTime.
type ScheduleRequest struct {
	StartTime       time.Time                  `json:"start_time"`
	IntervalMinutes int                        `json:"interval_minutes"`
	CredentialRef   string                     `json:"credential_ref"`
	Duration        int                        `json:"duration"`
	AspectRatio     string                     `json:"aspect_ratio"`
	Model           string                     `json:"model"`
	Privacy         string                     `json:"privacy"`
	PostProcess     *models.PostProcessOptions `json:"post_process"`
	Items           []ScheduleItem             `json:"items" binding:"required,min=1,dive"`
}

func (r ScheduleRequest) jobs() ([]models.Job, error) {
	if len(r.Items) > maxScheduleItems {
		return nil, fmt.Errorf("%w: at most %d items per schedule", models.ErrInvalidJob, maxScheduleItems)
	}
	if r.IntervalMinutes < 0 {
		return nil, fmt.Errorf("%w: interval_minutes must not be negative", models.ErrInvalidJob)
	}

	interval := time.Duration(r.IntervalMinutes) * time.Minute
	jobs := make([]models.Job, 0, len(r.Items))
	for i, item := range r.Items {
		at := r.StartTime.Add(time.Duration(i) * interval)
		if item.ScheduledTime != nil {
			at = *item.ScheduledTime
		}
		if at.IsZero() {
			return nil, fmt.Errorf("%w: item %d has no scheduled time", models.ErrInvalidJob, i)
		}

		var pp *models.PostProcessOptions
		if r.PostProcess != nil || item.CaptionText != "" {
			opts := models.PostProcessOptions{}
			if r.PostProcess != nil {
				opts = *r.PostProcess
			}
			if item.CaptionText != "" {
				opts.CaptionText = item.CaptionText
			}
			pp = &opts
		}

		jobs = append(jobs, models.Job{
			CredentialRef:   r.CredentialRef,
			ScheduledTime:   at,
			NeedsGeneration: true,
			Generation: &models.GenerationOptions{
				Prompt:      item.Prompt,
				Duration:    r.Duration,
				AspectRatio: r.AspectRatio,
				Model:       r.Model,
			},
			PostProcess: pp,
			Metadata: models.PublishMetadata{
				Title:       item.Title,
				Description: item.Description,
				Tags:        item.Tags,
				Privacy:     r.Privacy,
			},
		})
	}
	return jobs, nil
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	failures := gin.H{}
	for name, check := range api.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"errors": failures,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"users":  len(api.queue.Users()),
	})
}

// Create job endpoint
func (api *API) createJob(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := api.queue.Add(c.Request.Context(), userID, req.job())
	if err != nil {
		api.respondError(c, err)
		return
	}

	job, err := api.queue.Get(userID, id)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, publicJob(job))
}

// Upload a finished video to be published at the scheduled time
func (api *API) uploadJob(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	if api.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.maxUploadBytes)
	}

	file, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file provided"})
		return
	}

	scheduledTime, err := time.Parse(time.RFC3339, c.PostForm("scheduled_time"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_time must be RFC3339"})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext == "" {
		ext = ".mp4"
	}
	path := filepath.Join(api.uploadDir, uuid.New().String()+ext)
	if err := c.SaveUploadedFile(file, path); err != nil {
		api.logger.WithUserID(userID).ErrorWithErr("Failed to save uploaded video", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}

	job := models.Job{
		CredentialRef: c.PostForm("credential_ref"),
		ScheduledTime: scheduledTime,
		ArtifactPath:  path,
		Metadata: models.PublishMetadata{
			Title:       c.PostForm("title"),
			Description: c.PostForm("description"),
			Tags:        splitTags(c.PostForm("tags")),
			Privacy:     c.PostForm("privacy"),
		},
	}

	id, err := api.queue.Add(c.Request.Context(), userID, job)
	if err != nil {
		os.Remove(path)
		api.respondError(c, err)
		return
	}

	created, err := api.queue.Get(userID, id)
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, publicJob(created))
}

// Bulk schedule endpoint
func (api *API) createSchedule(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs, err := req.jobs()
	if err != nil {
		api.respondError(c, err)
		return
	}

	ids, err := api.queue.AddBatch(c.Request.Context(), userID, jobs)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"job_ids": ids,
		"batch":   api.queue.Tracker().Snapshot(userID),
	})
}

// List jobs endpoint
func (api *API) listJobs(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	jobs := api.queue.List(userID)
	status := models.JobStatus(c.Query("status"))

	out := make([]models.Job, 0, len(jobs))
	for _, job := range jobs {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, publicJob(job))
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  out,
		"total": len(out),
	})
}

// Get job endpoint
func (api *API) getJob(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	job, err := api.queue.Get(userID, c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, publicJob(job))
}

func (api *API) countActive(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	c.JSON(http.StatusOK, gin.H{"active": api.queue.CountActive(userID)})
}

// Cancel every job of the user
func (api *API) clearJobs(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	removed := api.queue.ClearAll(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (api *API) getBatch(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	c.JSON(http.StatusOK, api.queue.Tracker().Snapshot(userID))
}

func (api *API) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidJob):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	default:
		api.logger.ErrorWithErr("Request failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// publicJob strips fields that must never leave the server
func publicJob(job models.Job) models.Job {
	job.CredentialRef = ""
	return job
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
