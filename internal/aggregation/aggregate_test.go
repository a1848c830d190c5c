package aggregation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-crossval/internal/domain"
	engerrors "github.com/ahrav/go-crossval/internal/errors"
	"github.com/ahrav/go-crossval/internal/executor"
)

func successResult(foldID int, id, category string, d time.Duration, retries int) domain.ProcessingResult {
	return domain.NewSuccessResult(foldID, id, domain.PipelineOutput{Category: category, Confidence: 0.9}, d, retries)
}

func failureResult(foldID int, id string, d time.Duration) domain.ProcessingResult {
	return domain.NewFailureResult(foldID, id, engerrors.KindPipeline, "pipeline rejected document", d, 0)
}

func TestAggregate_Empty(t *testing.T) {
	_, err := Aggregate(nil)
	require.ErrorIs(t, err, ErrNoOutcomes)
}

func TestAggregate_SingleFold(t *testing.T) {
	outcome := &executor.FoldOutcome{
		FoldID:    1,
		Succeeded: true,
		Results: []domain.ProcessingResult{
			successResult(1, "doc-01", "protocol", 100*time.Millisecond, 0),
			successResult(1, "doc-02", "protocol", 200*time.Millisecond, 1),
			successResult(1, "doc-03", "sop", 300*time.Millisecond, 0),
			failureResult(1, "doc-04", 50*time.Millisecond),
		},
	}

	summary, err := Aggregate([]*executor.FoldOutcome{outcome})
	require.NoError(t, err)
	require.Len(t, summary.Folds, 1)

	fold := summary.Folds[0]
	assert.Equal(t, 1, fold.FoldID)
	assert.True(t, fold.FoldSucceeded)
	assert.Equal(t, 4, fold.Documents)
	assert.Equal(t, 3, fold.Succeeded)
	assert.Equal(t, 1, fold.Failed)
	assert.InDelta(t, 0.75, fold.SuccessRate, 1e-9)
	assert.InDelta(t, 0.25, fold.MeanRetries, 1e-9)

	// Failures count toward documents but not toward the distribution.
	assert.Equal(t, map[string]int{"protocol": 2, "sop": 1}, fold.CategoryDistribution)

	assert.Equal(t, 4, summary.Corpus.Documents)
	assert.Equal(t, 1, summary.Corpus.FoldsSucceeded)
}

func TestAggregate_MultiFoldRollup(t *testing.T) {
	outcomes := []*executor.FoldOutcome{
		{
			FoldID:    1,
			Succeeded: true,
			Results: []domain.ProcessingResult{
				successResult(1, "doc-01", "protocol", 100*time.Millisecond, 0),
				successResult(1, "doc-02", "sop", 100*time.Millisecond, 0),
			},
		},
		{
			FoldID:    2,
			Succeeded: false,
			Results: []domain.ProcessingResult{
				failureResult(2, "doc-03", 100*time.Millisecond),
				failureResult(2, "doc-04", 100*time.Millisecond),
			},
		},
		{
			FoldID:    3,
			Succeeded: true,
			Results: []domain.ProcessingResult{
				successResult(3, "doc-05", "protocol", 100*time.Millisecond, 2),
			},
		},
	}

	summary, err := Aggregate(outcomes)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Corpus.Folds)
	assert.Equal(t, 2, summary.Corpus.FoldsSucceeded)
	assert.Equal(t, 5, summary.Corpus.Documents)
	assert.Equal(t, 3, summary.Corpus.Succeeded)
	assert.Equal(t, 2, summary.Corpus.Failed)
	assert.InDelta(t, 0.6, summary.Corpus.SuccessRate, 1e-9)
	assert.Equal(t, map[string]int{"protocol": 2, "sop": 1}, summary.Corpus.CategoryDistribution)

	// Fold order is preserved.
	ids := []int{summary.Folds[0].FoldID, summary.Folds[1].FoldID, summary.Folds[2].FoldID}
	assert.Equal(t, []int{1, 2, 3}, ids)
}

func TestPercentile_NearestRank(t *testing.T) {
	durations := []time.Duration{
		5 * time.Millisecond,
		1 * time.Millisecond,
		3 * time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
	}

	assert.Equal(t, 3*time.Millisecond, percentile(durations, 50))
	assert.Equal(t, 5*time.Millisecond, percentile(durations, 90))
	assert.Equal(t, 5*time.Millisecond, percentile(durations, 99))
	assert.Equal(t, 1*time.Millisecond, percentile(durations, 1))
	assert.Equal(t, time.Duration(0), percentile(nil, 50))

	single := []time.Duration{7 * time.Millisecond}
	assert.Equal(t, 7*time.Millisecond, percentile(single, 50))
	assert.Equal(t, 7*time.Millisecond, percentile(single, 99))
}

func TestPercentile_DoesNotMutateInput(t *testing.T) {
	durations := []time.Duration{3, 1, 2}
	percentile(durations, 50)
	assert.Equal(t, []time.Duration{3, 1, 2}, durations)
}

func TestResultsByDocument(t *testing.T) {
	outcomes := []*executor.FoldOutcome{
		{FoldID: 1, Results: []domain.ProcessingResult{
			successResult(1, "doc-01", "protocol", time.Millisecond, 0),
		}},
		{FoldID: 2, Results: []domain.ProcessingResult{
			failureResult(2, "doc-02", time.Millisecond),
		}},
	}

	byDoc := ResultsByDocument(outcomes)
	require.Len(t, byDoc, 2)
	assert.True(t, byDoc["doc-01"].Success)
	assert.False(t, byDoc["doc-02"].Success)
	assert.Equal(t, 2, byDoc["doc-02"].FoldID)
}
