package domain

import "fmt"

// FoldAssignment is the static partition description for one fold: the fold
// index and the ordered train/test document-id lists. Assignments are produced
// offline by the stratified partitioning process and are read-only at runtime.
type FoldAssignment struct {
	// Index is the 1-based fold index within 1..k.
	Index int `json:"fold" yaml:"fold" validate:"required,min=1"`

	// TrainIDs lists the documents available for prompting/context building.
	TrainIDs []string `json:"train" yaml:"train" validate:"required,min=1"`

	// TestIDs lists the held-out documents the engine will process.
	TestIDs []string `json:"test" yaml:"test" validate:"required,min=1"`
}

// Validate checks structural constraints and train/test disjointness.
// Returns nil if valid, or a validation error wrapping ErrInvalidAssignment.
func (a *FoldAssignment) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAssignment, err)
	}

	seen := make(map[string]struct{}, len(a.TrainIDs))
	for _, id := range a.TrainIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: fold %d train set repeats document %q", ErrInvalidAssignment, a.Index, id)
		}
		seen[id] = struct{}{}
	}
	for _, id := range a.TestIDs {
		if _, overlap := seen[id]; overlap {
			return fmt.Errorf("%w: fold %d document %q appears in both train and test", ErrInvalidAssignment, a.Index, id)
		}
	}

	testSeen := make(map[string]struct{}, len(a.TestIDs))
	for _, id := range a.TestIDs {
		if _, dup := testSeen[id]; dup {
			return fmt.Errorf("%w: fold %d test set repeats document %q", ErrInvalidAssignment, a.Index, id)
		}
		testSeen[id] = struct{}{}
	}
	return nil
}

// TestIDSet returns the test-document ids as a set for membership checks.
func (a *FoldAssignment) TestIDSet() map[string]struct{} {
	set := make(map[string]struct{}, len(a.TestIDs))
	for _, id := range a.TestIDs {
		set[id] = struct{}{}
	}
	return set
}
