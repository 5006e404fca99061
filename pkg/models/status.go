package models

import "fmt"

// JobStatus is the pipeline state of a job
type JobStatus string

// JobStatus constants
const (
	JobStatusPending          JobStatus = "pending"
	JobStatusGenerating       JobStatus = "generating"
	JobStatusGeneratedReady   JobStatus = "generated_ready"
	JobStatusUploading        JobStatus = "uploading"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusGenerationFailed JobStatus = "generation_failed"
	JobStatusFailed           JobStatus = "failed"
	JobStatusError            JobStatus = "error"
)

// allowedTransitions is the directed graph jobs move through. Statuses only
// move forward or sideways into a terminal failure.
var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusGenerating: true,
		JobStatusError:      true,
	},
	JobStatusGenerating: {
		JobStatusGeneratedReady:   true,
		JobStatusGenerationFailed: true,
		JobStatusError:            true,
	},
	JobStatusGeneratedReady: {
		JobStatusUploading: true,
		JobStatusFailed:    true, // artifact vanished before upload
		JobStatusError:     true,
	},
	JobStatusUploading: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
		JobStatusError:     true,
	},
	JobStatusCompleted:        {},
	JobStatusGenerationFailed: {},
	JobStatusFailed:           {},
	JobStatusError:            {},
}

// IsKnown reports whether s is a defined status
func (s JobStatus) IsKnown() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal reports whether no automatic transition leaves s
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusGenerationFailed, JobStatusFailed, JobStatusError:
		return true
	}
	return false
}

// IsActive reports whether s is a known, non-terminal status
func (s JobStatus) IsActive() bool {
	return s.IsKnown() && !s.IsTerminal()
}

// IsInFlight reports whether an external call is running for a job in s
func (s JobStatus) IsInFlight() bool {
	return s == JobStatusGenerating || s == JobStatusUploading
}

// CanTransition reports whether from -> to is an edge of the state graph
func CanTransition(from, to JobStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Transition moves the job to status to, or fails if the edge is not allowed
func Transition(job *Job, to JobStatus) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %q -> %q (job_id=%s)", ErrInvalidTransition, job.Status, to, job.ID)
	}
	job.Status = to
	return nil
}

// ResumeStatus returns the status a job restored after a restart should carry.
// A stage that was in flight when the process stopped has no owner any more,
// so the job is re-armed for that stage.
func ResumeStatus(job *Job) JobStatus {
	switch job.Status {
	case JobStatusGenerating:
		if job.ArtifactPath != "" {
			return JobStatusGeneratedReady
		}
		return JobStatusPending
	case JobStatusUploading:
		return JobStatusGeneratedReady
	case JobStatusPending:
		if job.HasPreparedArtifact() {
			return JobStatusGeneratedReady
		}
	}
	return job.Status
}
