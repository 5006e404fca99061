package models

import (
	"path/filepath"
	"regexp"
	"time"
)

// Job represents one scheduled generate / post-process / publish unit of work
type Job struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	BatchID       string    `json:"batch_id,omitempty"`
	CredentialRef string    `json:"credential_ref,omitempty"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Status        JobStatus `json:"status"`

	NeedsGeneration bool                `json:"needs_generation"`
	Generation      *GenerationOptions  `json:"generation,omitempty"`
	PostProcess     *PostProcessOptions `json:"post_process,omitempty"`

	ArtifactPath string `json:"artifact_path,omitempty"`
	SourceURL    string `json:"source_url,omitempty"`

	Metadata PublishMetadata `json:"metadata"`

	PublishedURL string      `json:"published_url,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	FailureKind  FailureKind `json:"failure_kind,omitempty"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// GenerationOptions holds the inputs of the AI generation stage
type GenerationOptions struct {
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration"`               // seconds
	AspectRatio string `json:"aspect_ratio,omitempty"` // e.g. "9:16"
	ImageURL    string `json:"image_url,omitempty"`    // optional seed image
	Model       string `json:"model,omitempty"`
}

// PostProcessOptions holds caption and background music settings
type PostProcessOptions struct {
	CaptionText     string  `json:"caption_text,omitempty"`
	CaptionPosition string  `json:"caption_position,omitempty"` // top, center, bottom
	CaptionSize     int     `json:"caption_size,omitempty"`
	CaptionColor    string  `json:"caption_color,omitempty"`
	MusicPath       string  `json:"music_path,omitempty"`  // relative to the music library
	MusicVolume     float64 `json:"music_volume,omitempty"` // 0.0 - 1.0
}

// HasWork reports whether any post-processing was requested
func (o *PostProcessOptions) HasWork() bool {
	if o == nil {
		return false
	}
	return o.CaptionText != "" || o.MusicPath != ""
}

// Caption positions
const (
	CaptionTop    = "top"
	CaptionCenter = "center"
	CaptionBottom = "bottom"
)

// A named color, #RRGGBB[AA] or 0xRRGGBB[AA], with an optional @alpha
var captionColorPattern = regexp.MustCompile(`^(?:[A-Za-z]{3,20}|#[0-9A-Fa-f]{6}(?:[0-9A-Fa-f]{2})?|0x[0-9A-Fa-f]{6}(?:[0-9A-Fa-f]{2})?)(?:@(?:0(?:\.[0-9]{1,3})?|1(?:\.0{1,3})?))?$`)

// ValidCaptionColor reports whether c is a color ffmpeg's drawtext accepts.
// Nothing else may appear in the value since it is placed in a filtergraph.
func ValidCaptionColor(c string) bool {
	return captionColorPattern.MatchString(c)
}

// ValidMusicPath reports whether p names a file inside the music library:
// relative, without ".." segments.
func ValidMusicPath(p string) bool {
	return filepath.IsLocal(p)
}

// PublishMetadata holds the metadata sent to the video platform
type PublishMetadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Privacy     string   `json:"privacy,omitempty"`
}

// Privacy constants
const (
	PrivacyPublic   = "public"
	PrivacyUnlisted = "unlisted"
	PrivacyPrivate  = "private"
)

// Clone returns a deep copy of the job
func (j Job) Clone() Job {
	out := j
	if j.Generation != nil {
		g := *j.Generation
		out.Generation = &g
	}
	if j.PostProcess != nil {
		p := *j.PostProcess
		out.PostProcess = &p
	}
	if j.Metadata.Tags != nil {
		out.Metadata.Tags = append([]string(nil), j.Metadata.Tags...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// HasPreparedArtifact reports whether the job was supplied with a local file
// and never needs the generation stage
func (j *Job) HasPreparedArtifact() bool {
	return !j.NeedsGeneration && j.ArtifactPath != ""
}

// EligibleForGeneration reports whether the generation stage may start at now.
func (j *Job) EligibleForGeneration(now time.Time, leadTime time.Duration) bool {
	if !j.NeedsGeneration || j.ArtifactPath != "" || j.Status != JobStatusPending {
		return false
	}
	return j.ScheduledTime.Sub(now) <= leadTime
}

// EligibleForUpload reports whether the upload stage may start at now. The
// artifact file itself is checked by the caller.
func (j *Job) EligibleForUpload(now time.Time) bool {
	if j.Status != JobStatusGeneratedReady || j.ArtifactPath == "" {
		return false
	}
	return !j.ScheduledTime.After(now)
}

// PromptText returns the generation prompt, or an empty string
func (j *Job) PromptText() string {
	if j.Generation == nil {
		return ""
	}
	return j.Generation.Prompt
}

// GenerationRequest is sent to the video generation backend
type GenerationRequest struct {
	JobID       string
	Prompt      string
	Duration    int
	AspectRatio string
	ImageURL    string
	Model       string
}

// NewGenerationRequest builds a generation request from a job
func NewGenerationRequest(j *Job) GenerationRequest {
	req := GenerationRequest{JobID: j.ID}
	if j.Generation != nil {
		req.Prompt = j.Generation.Prompt
		req.Duration = j.Generation.Duration
		req.AspectRatio = j.Generation.AspectRatio
		req.ImageURL = j.Generation.ImageURL
		req.Model = j.Generation.Model
	}
	return req
}

// GenerationResult is returned by the video generation backend
type GenerationResult struct {
	LocalPath string
	SourceURL string
}
