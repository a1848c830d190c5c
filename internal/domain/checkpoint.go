package domain

import (
	"sort"
	"time"
)

// Checkpoint is the persisted snapshot of batch-execution progress for one
// fold. It is written atomically after every batch and is monotonic: the
// batch index only increases and the completed-id set only grows.
//
// Every id in CompletedDocumentIDs has a terminal result in Results; the
// converse need not hold while a flush is pending.
type Checkpoint struct {
	// FoldID is the fold this checkpoint belongs to.
	FoldID int `json:"fold_id"`

	// BatchIndex is the 0-based index of the last completed batch.
	BatchIndex int `json:"batch_index"`

	// CompletedDocumentIDs lists every document with a terminal outcome,
	// successful or permanently failed, sorted for deterministic output.
	CompletedDocumentIDs []string `json:"completed_document_ids"`

	// Results holds the terminal result per completed document.
	Results []ProcessingResult `json:"results"`

	// Timestamp records when the checkpoint was written.
	Timestamp time.Time `json:"timestamp"`
}

// NewCheckpoint builds a checkpoint snapshot. The completed-id slice is
// copied and sorted so the caller's ordering never leaks into the on-disk
// form.
func NewCheckpoint(foldID, batchIndex int, completedIDs []string, results []ProcessingResult) Checkpoint {
	ids := make([]string, len(completedIDs))
	copy(ids, completedIDs)
	sort.Strings(ids)

	snapshot := make([]ProcessingResult, len(results))
	copy(snapshot, results)

	return Checkpoint{
		FoldID:               foldID,
		BatchIndex:           batchIndex,
		CompletedDocumentIDs: ids,
		Results:              snapshot,
		Timestamp:            time.Now().UTC(),
	}
}

// CompletedSet returns the completed-document ids as a set.
func (c *Checkpoint) CompletedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.CompletedDocumentIDs))
	for _, id := range c.CompletedDocumentIDs {
		set[id] = struct{}{}
	}
	return set
}
