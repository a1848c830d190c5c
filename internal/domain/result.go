package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	engerrors "github.com/ahrav/go-crossval/internal/errors"
)

// PipelineOutput is the successful outcome of one external pipeline
// invocation for one document. The engine consumes it at the boundary and
// never inspects how it was produced.
type PipelineOutput struct {
	// Category is the category the pipeline detected for the document.
	Category string `json:"category"`

	// Confidence is the pipeline's confidence in the detected category (0-1).
	Confidence float64 `json:"confidence"`

	// ArtifactCount is the number of generated test artifacts.
	ArtifactCount int `json:"artifact_count"`
}

// ProcessingResult records the terminal state of exactly one processing
// attempt for one (fold, document) pair. Results are append-only: a retry
// produces a new result with an incremented RetryCount, never an edit.
type ProcessingResult struct {
	// AttemptID uniquely identifies this attempt.
	AttemptID string `json:"attempt_id" validate:"required,uuid"`

	// FoldID is the fold whose test set contains the document.
	FoldID int `json:"fold_id" validate:"required,min=1"`

	// DocumentID identifies the processed document.
	DocumentID string `json:"document_id" validate:"required,min=1"`

	// Success reports whether the pipeline call completed without error
	// inside the per-document timeout.
	Success bool `json:"success"`

	// Duration is the wall-clock time of the pipeline call, including the
	// time spent waiting on the call itself but not on gate admission.
	Duration time.Duration `json:"duration_ns"`

	// Category is the detected category. Empty on failure.
	Category string `json:"category,omitempty"`

	// Confidence is the detection confidence. Zero on failure.
	Confidence float64 `json:"confidence,omitempty"`

	// ArtifactCount is the number of generated artifacts. Zero on failure.
	ArtifactCount int `json:"artifact_count,omitempty"`

	// ErrorKind classifies the failure for retry decisions. Empty on success.
	ErrorKind engerrors.ErrorKind `json:"error_kind,omitempty"`

	// ErrorMessage is the contained failure message. Empty on success.
	ErrorMessage string `json:"error_message,omitempty"`

	// RetryCount is how many prior attempts this document had within the
	// batch before this one. Zero for a first attempt.
	RetryCount int `json:"retry_count"`

	// CompletedAt records when the attempt settled.
	CompletedAt time.Time `json:"completed_at"`
}

// NewSuccessResult creates the terminal record for a successful attempt.
func NewSuccessResult(foldID int, documentID string, out PipelineOutput, duration time.Duration, retryCount int) ProcessingResult {
	return ProcessingResult{
		AttemptID:     uuid.New().String(),
		FoldID:        foldID,
		DocumentID:    documentID,
		Success:       true,
		Duration:      duration,
		Category:      out.Category,
		Confidence:    out.Confidence,
		ArtifactCount: out.ArtifactCount,
		RetryCount:    retryCount,
		CompletedAt:   time.Now().UTC(),
	}
}

// NewFailureResult creates the terminal record for a failed attempt. The
// failure is data, not an exception: it never propagates past the task that
// produced it.
func NewFailureResult(foldID int, documentID string, kind engerrors.ErrorKind, message string, duration time.Duration, retryCount int) ProcessingResult {
	return ProcessingResult{
		AttemptID:    uuid.New().String(),
		FoldID:       foldID,
		DocumentID:   documentID,
		Success:      false,
		Duration:     duration,
		ErrorKind:    kind,
		ErrorMessage: message,
		RetryCount:   retryCount,
		CompletedAt:  time.Now().UTC(),
	}
}

// Validate checks the result against its structural constraints.
func (r *ProcessingResult) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	if r.Success && r.ErrorKind != "" {
		return fmt.Errorf("%w: successful result carries error kind %q", ErrInvalidResult, r.ErrorKind)
	}
	if !r.Success && r.ErrorKind == "" {
		return fmt.Errorf("%w: failed result missing error kind", ErrInvalidResult)
	}
	return nil
}
