package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ahrav/go-crossval/internal/domain"
	engerrors "github.com/ahrav/go-crossval/internal/errors"
)

// checkpointVersion is the on-disk checkpoint format version.
const checkpointVersion = "1.0.0"

// ErrNoCheckpoint indicates that no checkpoint exists for the fold. A fresh
// run treats this as normal; a resume falls back to a fresh start.
var ErrNoCheckpoint = errors.New("no checkpoint for fold")

// checkpointEnvelope is the on-disk checkpoint format: the snapshot plus a
// version field and a SHA-256 checksum for corruption detection on resume.
type checkpointEnvelope struct {
	Checkpoint domain.Checkpoint `json:"checkpoint"`
	Version    string            `json:"version"`
	Checksum   string            `json:"checksum"`
}

// CheckpointStore persists fold checkpoints as JSON files, one per fold,
// written atomically (temp file, fsync, rename) so a crash mid-write never
// corrupts the previously valid checkpoint. The batch executor is the only
// writer, so no lock is required.
type CheckpointStore struct {
	dir    string
	logger *slog.Logger
}

// NewCheckpointStore creates a store rooted at dir, creating it if needed.
func NewCheckpointStore(dir string, logger *slog.Logger) (*CheckpointStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint store: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint store: create dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointStore{dir: dir, logger: logger.With("component", "checkpoint_store")}, nil
}

// Path returns the checkpoint file path for a fold.
func (s *CheckpointStore) Path(foldID int) string {
	return filepath.Join(s.dir, fmt.Sprintf("fold-%d.checkpoint.json", foldID))
}

// Save atomically replaces the fold's checkpoint with cp.
func (s *CheckpointStore) Save(cp domain.Checkpoint) error {
	checksum, err := checkpointChecksum(cp)
	if err != nil {
		return fmt.Errorf("checkpoint checksum: %w", err)
	}
	envelope := checkpointEnvelope{Checkpoint: cp, Version: checkpointVersion, Checksum: checksum}

	data, err := json.MarshalIndent(&envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := s.Path(cp.FoldID)
	tempFile, err := os.CreateTemp(s.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tempPath := tempFile.Name()

	committed := false
	defer func() {
		if !committed {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	committed = true

	s.logger.Debug("checkpoint persisted",
		"fold", cp.FoldID,
		"batch_index", cp.BatchIndex,
		"completed", len(cp.CompletedDocumentIDs))
	return nil
}

// Load reads and verifies the fold's checkpoint. Returns ErrNoCheckpoint
// when none exists and a CheckpointCorruptionError when the file cannot be
// parsed, carries a foreign version, fails its checksum, or violates the
// fold-id/monotonicity basics. Corruption is fatal for a resume attempt
// only.
func (s *CheckpointStore) Load(foldID int) (*domain.Checkpoint, error) {
	path := s.Path(foldID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w %d", ErrNoCheckpoint, foldID)
		}
		return nil, engerrors.NewCheckpointCorruptionError(path, fmt.Sprintf("read: %v", err))
	}

	var envelope checkpointEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, engerrors.NewCheckpointCorruptionError(path, fmt.Sprintf("parse: %v", err))
	}
	if envelope.Version != checkpointVersion {
		return nil, engerrors.NewCheckpointCorruptionError(path,
			fmt.Sprintf("version %q, want %q", envelope.Version, checkpointVersion))
	}

	checksum, err := checkpointChecksum(envelope.Checkpoint)
	if err != nil {
		return nil, engerrors.NewCheckpointCorruptionError(path, fmt.Sprintf("checksum: %v", err))
	}
	if checksum != envelope.Checksum {
		return nil, engerrors.NewCheckpointCorruptionError(path, "checksum mismatch")
	}

	cp := envelope.Checkpoint
	if cp.FoldID != foldID {
		return nil, engerrors.NewCheckpointCorruptionError(path,
			fmt.Sprintf("checkpoint belongs to fold %d, expected %d", cp.FoldID, foldID))
	}
	if cp.BatchIndex < 0 {
		return nil, engerrors.NewCheckpointCorruptionError(path,
			fmt.Sprintf("negative batch index %d", cp.BatchIndex))
	}

	// Invariant: every completed id carries a terminal result.
	terminal := make(map[string]struct{}, len(cp.Results))
	for _, res := range cp.Results {
		terminal[res.DocumentID] = struct{}{}
	}
	for _, id := range cp.CompletedDocumentIDs {
		if _, ok := terminal[id]; !ok {
			return nil, engerrors.NewCheckpointCorruptionError(path,
				fmt.Sprintf("completed document %q has no recorded result", id))
		}
	}

	return &cp, nil
}

// checkpointChecksum computes the SHA-256 over the canonical JSON form of
// the checkpoint plus the format version. The checksum field itself is
// excluded.
func checkpointChecksum(cp domain.Checkpoint) (string, error) {
	payload := struct {
		Checkpoint domain.Checkpoint `json:"checkpoint"`
		Version    string            `json:"version"`
	}{Checkpoint: cp, Version: checkpointVersion}

	data, err := json.Marshal(&payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
