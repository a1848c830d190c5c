// Package errors defines the failure taxonomy for the cross-validation
// execution engine. It distinguishes fatal pre-execution failures
// (configuration, checkpoint corruption) from per-document failures that are
// contained at the task boundary and recorded as data, enabling consistent
// retry classification across the engine.
package errors

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes document-processing failures for retry classification.
// Kinds determine whether an attempt should be retried within its batch and
// how the failure is recorded on the ProcessingResult.
type ErrorKind string

const (
	// KindPipeline indicates the external pipeline returned an error or
	// raised during the call (retryable).
	KindPipeline ErrorKind = "pipeline_failure"

	// KindTimeout indicates the per-document timeout expired before the
	// pipeline call completed (retryable).
	KindTimeout ErrorKind = "timeout"

	// KindCancelled indicates the fold-level abort signal fired before or
	// during the attempt (non-retryable).
	KindCancelled ErrorKind = "cancelled"

	// KindUnknown indicates an unclassified failure (non-retryable).
	KindUnknown ErrorKind = "unknown"
)

// Common engine errors for consistent error handling.
var (
	// ErrConfiguration indicates invalid or missing partition configuration,
	// inventory, or assignment data. Always fatal before any document work.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrCheckpointCorrupt indicates an unreadable or inconsistent checkpoint.
	// Fatal for a resume attempt only; a fresh run is unaffected.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrFoldOutOfRange indicates a fold index outside 1..k.
	ErrFoldOutOfRange = errors.New("fold index out of range")

	// ErrLimitOutOfRange indicates a concurrency bound outside the supported
	// closed range.
	ErrLimitOutOfRange = errors.New("concurrency limit out of range")

	// ErrMaxRetriesExceeded indicates a document exhausted its bounded retry
	// budget and was recorded permanently failed.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ConfigurationError captures a fatal pre-execution validation failure with
// the source file and field that failed. Configuration errors never trigger
// fallback defaults; the run aborts before any document work begins.
type ConfigurationError struct {
	Source string `json:"source"` // File or loader that produced the failure
	Field  string `json:"field"`  // Offending field, empty for whole-file failures
	Reason string `json:"reason"` // Human-readable explanation
}

// Error returns a formatted configuration error with source context.
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error in %s (field %s): %s", e.Source, e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Source, e.Reason)
}

// Unwrap ties the structured error to the ErrConfiguration sentinel so
// callers can match with errors.Is.
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NewConfigurationError creates a configuration error for the given source.
func NewConfigurationError(source, field, reason string) *ConfigurationError {
	return &ConfigurationError{Source: source, Field: field, Reason: reason}
}

// ProcessingError captures a contained per-document failure. It never crosses
// the task boundary as a raised error; the processor converts it into a failed
// ProcessingResult and sibling tasks continue unaffected.
type ProcessingError struct {
	DocumentID string    `json:"document_id"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Wrapped    error     `json:"-"`
}

// Error returns a formatted processing error with document context.
func (e *ProcessingError) Error() string {
	return fmt.Sprintf("document %s failed (%s): %s", e.DocumentID, e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *ProcessingError) Unwrap() error { return e.Wrapped }

// IsRetryable reports whether the failure warrants another attempt within the
// batch's bounded retry budget.
func (e *ProcessingError) IsRetryable() bool {
	switch e.Kind {
	case KindPipeline, KindTimeout:
		return true
	default:
		return false
	}
}

// NewProcessingError creates a processing error for the given document.
func NewProcessingError(documentID string, kind ErrorKind, cause error) *ProcessingError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &ProcessingError{DocumentID: documentID, Kind: kind, Message: msg, Wrapped: cause}
}

// CheckpointCorruptionError indicates that a checkpoint file could not be
// read, parsed, or verified. It aborts a resume attempt; a fresh run ignores
// the checkpoint entirely.
type CheckpointCorruptionError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Error returns a formatted corruption error with the offending path.
func (e *CheckpointCorruptionError) Error() string {
	return fmt.Sprintf("checkpoint %s is corrupt: %s", e.Path, e.Reason)
}

// Unwrap ties the structured error to the ErrCheckpointCorrupt sentinel.
func (e *CheckpointCorruptionError) Unwrap() error { return ErrCheckpointCorrupt }

// NewCheckpointCorruptionError creates a corruption error for the given path.
func NewCheckpointCorruptionError(path, reason string) *CheckpointCorruptionError {
	return &CheckpointCorruptionError{Path: path, Reason: reason}
}
