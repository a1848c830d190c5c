// Package folds loads, validates, and serves the static stratified k-fold
// partition of the document corpus: the partitioning configuration, the
// document inventory, and the per-fold train/test assignments. All three
// sources must load and cross-validate before any fold can be served; any
// failure is fatal and aborts before processing begins.
package folds

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-crossval/internal/domain"
	engerrors "github.com/ahrav/go-crossval/internal/errors"
)

// SupportedMethod is the only partitioning method the engine accepts.
const SupportedMethod = "stratified_kfold"

// SupportedFoldCount is the only fold count the engine accepts. The partition
// data is produced offline for exactly this k; serving any other value would
// silently break the stratification guarantees.
const SupportedFoldCount = 5

// Default file names inside a partition data directory.
const (
	ConfigFileName      = "partition.yaml"
	InventoryFileName   = "inventory.yaml"
	AssignmentsFileName = "assignments.yaml"
)

// validate is the package-level validator for configuration structs.
var validate = validator.New(validator.WithRequiredStructEnabled())

// PartitionConfig is the declarative partitioning configuration. Every field
// is required; absent keys fail validation instead of defaulting.
type PartitionConfig struct {
	// Method must be exactly SupportedMethod.
	Method string `yaml:"method" validate:"required"`

	// Folds must equal SupportedFoldCount.
	Folds int `yaml:"folds" validate:"required,min=1"`

	// ExpectedDocuments is the corpus size the inventory must match exactly.
	ExpectedDocuments int `yaml:"expected_documents" validate:"required,min=1"`

	// BalanceCVThreshold is the maximum per-category coefficient of
	// variation the balance validator tolerates across folds.
	BalanceCVThreshold float64 `yaml:"balance_cv_threshold" validate:"required,gt=0"`
}

// inventoryFile is the on-disk shape of the document inventory.
type inventoryFile struct {
	Documents []domain.DocumentRecord `yaml:"documents"`
}

// assignmentsFile is the on-disk shape of the fold partition.
type assignmentsFile struct {
	Folds []domain.FoldAssignment `yaml:"folds"`
}

// Store serves the validated partition data. It is immutable after Open and
// safe for concurrent readers.
type Store struct {
	cfg         PartitionConfig
	inventory   map[string]domain.DocumentRecord
	order       []string // inventory order, for deterministic iteration
	assignments []domain.FoldAssignment
	logger      *slog.Logger
}

// Open loads the partition configuration, inventory, and assignments from
// dir and verifies the cross-source invariants eagerly: the test sets must
// partition the inventory exactly, and every referenced id must exist. Any
// inconsistency returns a ConfigurationError before any document work.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "fold_store")

	cfg, err := LoadConfig(filepath.Join(dir, ConfigFileName))
	if err != nil {
		return nil, err
	}

	records, err := LoadInventory(filepath.Join(dir, InventoryFileName), cfg.ExpectedDocuments)
	if err != nil {
		return nil, err
	}

	assignments, err := LoadAssignments(filepath.Join(dir, AssignmentsFileName), cfg.Folds)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:         cfg,
		inventory:   make(map[string]domain.DocumentRecord, len(records)),
		order:       make([]string, 0, len(records)),
		assignments: assignments,
		logger:      logger,
	}
	for _, rec := range records {
		if _, dup := s.inventory[rec.ID]; dup {
			return nil, engerrors.NewConfigurationError(InventoryFileName, "documents",
				fmt.Sprintf("duplicate document id %q", rec.ID))
		}
		s.inventory[rec.ID] = rec
		s.order = append(s.order, rec.ID)
	}

	if err := s.verifyPartition(); err != nil {
		return nil, err
	}

	logger.Info("partition data loaded",
		"documents", len(s.order),
		"folds", len(s.assignments),
		"method", cfg.Method)
	return s, nil
}

// LoadConfig reads and validates the partitioning configuration. It fails
// with a ConfigurationError if the method is not stratified k-fold, the fold
// count is unsupported, or any required key is absent. No silent defaulting.
func LoadConfig(path string) (PartitionConfig, error) {
	var cfg PartitionConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, engerrors.NewConfigurationError(filepath.Base(path), "", fmt.Sprintf("read: %v", err))
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, engerrors.NewConfigurationError(filepath.Base(path), "", fmt.Sprintf("parse: %v", err))
	}
	if err := validate.Struct(&cfg); err != nil {
		return cfg, engerrors.NewConfigurationError(filepath.Base(path), "", fmt.Sprintf("missing or invalid keys: %v", err))
	}
	if cfg.Method != SupportedMethod {
		return cfg, engerrors.NewConfigurationError(filepath.Base(path), "method",
			fmt.Sprintf("unsupported partitioning method %q, want %q", cfg.Method, SupportedMethod))
	}
	if cfg.Folds != SupportedFoldCount {
		return cfg, engerrors.NewConfigurationError(filepath.Base(path), "folds",
			fmt.Sprintf("unsupported fold count %d, want %d", cfg.Folds, SupportedFoldCount))
	}
	return cfg, nil
}

// LoadInventory reads the per-document metadata and fails with a
// ConfigurationError if the document count does not match expected or any
// record is structurally invalid.
func LoadInventory(path string, expected int) ([]domain.DocumentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engerrors.NewConfigurationError(filepath.Base(path), "", fmt.Sprintf("read: %v", err))
	}
	var file inventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, engerrors.NewConfigurationError(filepath.Base(path), "", fmt.Sprintf("parse: %v", err))
	}
	if len(file.Documents) != expected {
		return nil, engerrors.NewConfigurationError(filepath.Base(path), "documents",
			fmt.Sprintf("inventory holds %d documents, configuration expects %d", len(file.Documents), expected))
	}
	for i := range file.Documents {
		if err := file.Documents[i].Validate(); err != nil {
			return nil, engerrors.NewConfigurationError(filepath.Base(path), "documents",
				fmt.Sprintf("document %d: %v", i, err))
		}
	}
	return file.Documents, nil
}

// LoadAssignments reads the fold partition and fails with a
// ConfigurationError if the number of folds present does not equal k, an
// index repeats, or an index falls outside 1..k.
func LoadAssignments(path string, k int) ([]domain.FoldAssignment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engerrors.NewConfigurationError(filepath.Base(path), "", fmt.Sprintf("read: %v", err))
	}
	var file assignmentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, engerrors.NewConfigurationError(filepath.Base(path), "", fmt.Sprintf("parse: %v", err))
	}
	if len(file.Folds) != k {
		return nil, engerrors.NewConfigurationError(filepath.Base(path), "folds",
			fmt.Sprintf("assignment data holds %d folds, configuration expects %d", len(file.Folds), k))
	}

	seen := make(map[int]struct{}, k)
	for i := range file.Folds {
		a := &file.Folds[i]
		if err := a.Validate(); err != nil {
			return nil, engerrors.NewConfigurationError(filepath.Base(path), "folds",
				fmt.Sprintf("fold entry %d: %v", i, err))
		}
		if a.Index < 1 || a.Index > k {
			return nil, engerrors.NewConfigurationError(filepath.Base(path), "folds",
				fmt.Sprintf("fold index %d outside 1..%d", a.Index, k))
		}
		if _, dup := seen[a.Index]; dup {
			return nil, engerrors.NewConfigurationError(filepath.Base(path), "folds",
				fmt.Sprintf("fold index %d appears twice", a.Index))
		}
		seen[a.Index] = struct{}{}
	}
	return file.Folds, nil
}

// verifyPartition checks the cross-source invariants: every inventory
// document appears in exactly one fold's test set, and every referenced id
// exists in the inventory.
func (s *Store) verifyPartition() error {
	testOwner := make(map[string]int, len(s.order))
	for _, a := range s.assignments {
		for _, id := range a.TestIDs {
			if _, ok := s.inventory[id]; !ok {
				return engerrors.NewConfigurationError(AssignmentsFileName, "test",
					fmt.Sprintf("fold %d references unknown document %q", a.Index, id))
			}
			if owner, dup := testOwner[id]; dup {
				return engerrors.NewConfigurationError(AssignmentsFileName, "test",
					fmt.Sprintf("document %q held out by both fold %d and fold %d", id, owner, a.Index))
			}
			testOwner[id] = a.Index
		}
		for _, id := range a.TrainIDs {
			if _, ok := s.inventory[id]; !ok {
				return engerrors.NewConfigurationError(AssignmentsFileName, "train",
					fmt.Sprintf("fold %d references unknown document %q", a.Index, id))
			}
		}
	}
	for _, id := range s.order {
		if _, ok := testOwner[id]; !ok {
			return engerrors.NewConfigurationError(AssignmentsFileName, "test",
				fmt.Sprintf("document %q missing from every test set", id))
		}
	}
	return nil
}

// Config returns the validated partitioning configuration.
func (s *Store) Config() PartitionConfig { return s.cfg }

// FoldCount returns k.
func (s *Store) FoldCount() int { return s.cfg.Folds }

// Document resolves an inventory record by id.
func (s *Store) Document(id string) (domain.DocumentRecord, bool) {
	rec, ok := s.inventory[id]
	return rec, ok
}

// Documents returns the inventory in load order.
func (s *Store) Documents() []domain.DocumentRecord {
	out := make([]domain.DocumentRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.inventory[id])
	}
	return out
}

// Assignments returns the raw fold assignments in file order.
func (s *Store) Assignments() []domain.FoldAssignment {
	out := make([]domain.FoldAssignment, len(s.assignments))
	copy(out, s.assignments)
	return out
}
