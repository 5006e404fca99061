package models

import (
	"context"
	"errors"
)

// Pipeline error taxonomy
var (
	ErrGenerationFailure  = errors.New("generation failure")
	ErrUploadFailure      = errors.New("upload failure")
	ErrArtifactMissing    = errors.New("artifact missing")
	ErrUnexpected         = errors.New("unexpected error")
	ErrPersistenceFailure = errors.New("persistence failure")
)

// Queue errors
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrInvalidJob        = errors.New("invalid job")
)

// FailureKind classifies why a job reached a failure state
type FailureKind string

// FailureKind constants
const (
	FailureGeneration  FailureKind = "generation_failure"
	FailureUpload      FailureKind = "upload_failure"
	FailureArtifact    FailureKind = "artifact_missing"
	FailureUnexpected  FailureKind = "unexpected_error"
	FailurePersistence FailureKind = "persistence_failure"
)

// ClassifyError maps an error onto the failure taxonomy
func ClassifyError(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGenerationFailure):
		return FailureGeneration
	case errors.Is(err, ErrUploadFailure):
		return FailureUpload
	case errors.Is(err, ErrArtifactMissing):
		return FailureArtifact
	case errors.Is(err, ErrPersistenceFailure):
		return FailurePersistence
	default:
		return FailureUnexpected
	}
}

// IsCanceled reports whether err comes from a cancelled context
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
