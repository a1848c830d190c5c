package errors

import (
	"context"
	"errors"
)

// Classify maps an arbitrary error from a pipeline invocation to an ErrorKind.
// Deadline expiry maps to KindTimeout, caller cancellation to KindCancelled,
// and everything else to KindPipeline. A nil error has no kind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var procErr *ProcessingError
	if errors.As(err, &procErr) {
		return procErr.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindPipeline
	}
}

// IsRetryableError reports whether an error warrants another attempt within
// the bounded per-document retry budget. Cancellation is never retried:
// the abort signal means the operator wants the fold to stop, not to spin.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var procErr *ProcessingError
	if errors.As(err, &procErr) {
		return procErr.IsRetryable()
	}

	switch Classify(err) {
	case KindPipeline, KindTimeout:
		return true
	default:
		return false
	}
}

// IsRetryableKind reports whether a recorded failure kind warrants retry.
// Used by the batch executor when deciding which failed results to re-attempt.
func IsRetryableKind(kind ErrorKind) bool {
	return kind == KindPipeline || kind == KindTimeout
}

// IsConfiguration reports whether err is a fatal configuration failure.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsCheckpointCorrupt reports whether err indicates checkpoint corruption.
func IsCheckpointCorrupt(err error) bool { return errors.Is(err, ErrCheckpointCorrupt) }
