package executor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-crossval/internal/domain"
	engerrors "github.com/ahrav/go-crossval/internal/errors"
)

func sampleCheckpoint(foldID, batchIndex int) domain.Checkpoint {
	results := []domain.ProcessingResult{
		{
			AttemptID:   "attempt-1",
			FoldID:      foldID,
			DocumentID:  "doc-01",
			Success:     true,
			Category:    "protocol",
			Duration:    25 * time.Millisecond,
			CompletedAt: time.Now().UTC(),
		},
		{
			AttemptID:    "attempt-2",
			FoldID:       foldID,
			DocumentID:   "doc-02",
			Success:      false,
			ErrorKind:    engerrors.KindPipeline,
			ErrorMessage: "pipeline rejected document",
			Duration:     10 * time.Millisecond,
			CompletedAt:  time.Now().UTC(),
		},
	}
	return domain.NewCheckpoint(foldID, batchIndex, []string{"doc-02", "doc-01"}, results)
}

func TestCheckpointStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir(), nil)
	require.NoError(t, err)

	cp := sampleCheckpoint(2, 3)
	require.NoError(t, store.Save(cp))

	loaded, err := store.Load(2)
	require.NoError(t, err)

	assert.Equal(t, 2, loaded.FoldID)
	assert.Equal(t, 3, loaded.BatchIndex)
	assert.Equal(t, []string{"doc-01", "doc-02"}, loaded.CompletedDocumentIDs, "completed ids are stored sorted")
	require.Len(t, loaded.Results, 2)
	assert.True(t, loaded.Results[0].Success)
	assert.Equal(t, engerrors.KindPipeline, loaded.Results[1].ErrorKind)
}

func TestCheckpointStore_LoadMissing(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = store.Load(1)
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestCheckpointStore_SaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCheckpointStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(sampleCheckpoint(1, 0)))
	require.NoError(t, store.Save(sampleCheckpoint(1, 1)))

	loaded, err := store.Load(1)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.BatchIndex, "latest save wins")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestCheckpointStore_CorruptionDetection(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, path string)
	}{
		{
			name: "truncated file",
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.WriteFile(path, []byte(`{"checkpoint":`), 0o644))
			},
		},
		{
			name: "not json",
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.WriteFile(path, []byte("checkpoint v1"), 0o644))
			},
		},
		{
			name: "foreign version",
			corrupt: func(t *testing.T, path string) {
				rewriteEnvelope(t, path, func(env map[string]json.RawMessage) {
					env["version"] = json.RawMessage(`"9.0.0"`)
				})
			},
		},
		{
			name: "tampered payload fails checksum",
			corrupt: func(t *testing.T, path string) {
				rewriteEnvelope(t, path, func(env map[string]json.RawMessage) {
					var cp domain.Checkpoint
					require.NoError(t, json.Unmarshal(env["checkpoint"], &cp))
					cp.BatchIndex = 99
					raw, err := json.Marshal(&cp)
					require.NoError(t, err)
					env["checkpoint"] = raw
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewCheckpointStore(t.TempDir(), nil)
			require.NoError(t, err)
			require.NoError(t, store.Save(sampleCheckpoint(1, 0)))

			tt.corrupt(t, store.Path(1))

			_, err = store.Load(1)
			require.Error(t, err)
			assert.True(t, engerrors.IsCheckpointCorrupt(err), "want corruption error, got %v", err)
		})
	}
}

func TestCheckpointStore_RejectsForeignFold(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(sampleCheckpoint(4, 0)))

	// A fold-4 checkpoint renamed onto fold 1's path must not silently seed
	// fold 1's resume.
	require.NoError(t, os.Rename(store.Path(4), store.Path(1)))

	_, err = store.Load(1)
	require.Error(t, err)
	assert.True(t, engerrors.IsCheckpointCorrupt(err))
}

func TestCheckpointStore_RejectsCompletedWithoutResult(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir(), nil)
	require.NoError(t, err)

	cp := sampleCheckpoint(1, 0)
	cp.CompletedDocumentIDs = append(cp.CompletedDocumentIDs, "doc-99")
	require.NoError(t, store.Save(cp))

	_, err = store.Load(1)
	require.Error(t, err)
	assert.True(t, engerrors.IsCheckpointCorrupt(err))
	assert.Contains(t, err.Error(), "doc-99")
}

func TestNewCheckpointStore_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "checkpoints")
	store, err := NewCheckpointStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(sampleCheckpoint(1, 0)))

	_, err = NewCheckpointStore("", nil)
	assert.Error(t, err)
}

// rewriteEnvelope loads the stored envelope as raw JSON, lets the test mutate
// it, and writes it back without recomputing the checksum.
func rewriteEnvelope(t *testing.T, path string, mutate func(map[string]json.RawMessage)) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &env))
	mutate(env)

	out, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, out, 0o644))
}
