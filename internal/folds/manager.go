package folds

import (
	"fmt"

	"github.com/ahrav/go-crossval/internal/domain"
	engerrors "github.com/ahrav/go-crossval/internal/errors"
)

// HydratedFold is one fold with its train/test document ids resolved against
// the inventory.
type HydratedFold struct {
	Index int
	Train []domain.DocumentRecord
	Test  []domain.DocumentRecord
}

// Manager serves hydrated fold data on top of a Store. It holds no mutable
// state and is safe for concurrent use.
type Manager struct {
	store *Store
}

// NewManager creates a fold manager over validated partition data.
func NewManager(store *Store) *Manager { return &Manager{store: store} }

// FoldCount returns k.
func (m *Manager) FoldCount() int { return m.store.FoldCount() }

// Fold returns the hydrated train/test sets for fold n (1 <= n <= k).
// A dangling document reference indicates corrupt input and is a fatal
// ConfigurationError, never a silent skip. Open already verifies references,
// so a failure here means the data changed underneath the process.
func (m *Manager) Fold(n int) (HydratedFold, error) {
	if n < 1 || n > m.store.FoldCount() {
		return HydratedFold{}, fmt.Errorf("%w: %d not in 1..%d", engerrors.ErrFoldOutOfRange, n, m.store.FoldCount())
	}

	var assignment *domain.FoldAssignment
	for i := range m.store.assignments {
		if m.store.assignments[i].Index == n {
			assignment = &m.store.assignments[i]
			break
		}
	}
	if assignment == nil {
		return HydratedFold{}, engerrors.NewConfigurationError(AssignmentsFileName, "folds",
			fmt.Sprintf("no assignment for fold %d", n))
	}

	hydrate := func(ids []string, role string) ([]domain.DocumentRecord, error) {
		out := make([]domain.DocumentRecord, 0, len(ids))
		for _, id := range ids {
			rec, ok := m.store.Document(id)
			if !ok {
				return nil, engerrors.NewConfigurationError(AssignmentsFileName, role,
					fmt.Sprintf("fold %d references unknown document %q", n, id))
			}
			out = append(out, rec)
		}
		return out, nil
	}

	train, err := hydrate(assignment.TrainIDs, "train")
	if err != nil {
		return HydratedFold{}, err
	}
	test, err := hydrate(assignment.TestIDs, "test")
	if err != nil {
		return HydratedFold{}, err
	}

	return HydratedFold{Index: n, Train: train, Test: test}, nil
}
