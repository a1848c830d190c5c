// Package domain provides the core data model for the cross-validation
// execution engine: document records, fold assignments, processing results,
// checkpoints, and coverage reports. The types are designed for reproducible,
// auditable fold execution - records are created once and never mutated, and
// every retry produces a new attempt record rather than an edit.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors returned by model constructors and validators.
var (
	// ErrInvalidDocument indicates a document record failed validation.
	ErrInvalidDocument = errors.New("invalid document record")

	// ErrInvalidAssignment indicates a fold assignment failed validation.
	ErrInvalidAssignment = errors.New("invalid fold assignment")

	// ErrInvalidResult indicates a processing result failed validation.
	ErrInvalidResult = errors.New("invalid processing result")
)

// RequirementBreakdown counts the declared requirements in a document by
// class. The breakdown is part of the static inventory and feeds the
// coverage denominator, never the scheduling decisions.
type RequirementBreakdown struct {
	// Functional counts functional ("the system shall ...") requirements.
	Functional int `json:"functional" yaml:"functional" validate:"min=0"`

	// Performance counts timing/throughput requirements.
	Performance int `json:"performance" yaml:"performance" validate:"min=0"`

	// Safety counts safety and compliance requirements.
	Safety int `json:"safety" yaml:"safety" validate:"min=0"`
}

// Total returns the declared requirement count across all classes.
func (r RequirementBreakdown) Total() int {
	return r.Functional + r.Performance + r.Safety
}

// DocumentRecord is the immutable descriptor of one corpus document. It is
// created once at inventory load and never mutated; the engine passes copies
// by value.
type DocumentRecord struct {
	// ID uniquely identifies the document within the corpus.
	ID string `json:"id" yaml:"id" validate:"required,min=1"`

	// SourcePath locates the document content relative to the corpus root.
	SourcePath string `json:"source_path" yaml:"source_path" validate:"required"`

	// Category is the declared category label used for stratification.
	// The engine treats it as opaque; it never decides whether the label
	// is correct.
	Category string `json:"category" yaml:"category" validate:"required,min=1"`

	// Complexity is a non-negative score used for reporting only.
	Complexity float64 `json:"complexity" yaml:"complexity" validate:"min=0"`

	// Requirements is the declared per-class requirement breakdown.
	Requirements RequirementBreakdown `json:"requirements" yaml:"requirements"`
}

// Validate checks the record against its structural constraints.
// Returns nil if valid, or a validation error wrapping ErrInvalidDocument.
func (d *DocumentRecord) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return nil
}
