// Package aggregation turns fold outcomes into fold- and corpus-level
// statistics: counts, success rates, duration percentiles, and category
// distributions. The aggregator is an explicit object owned by the caller;
// there is no ambient global state.
package aggregation

import (
	"errors"
	"sort"
	"time"

	"github.com/ahrav/go-crossval/internal/domain"
	"github.com/ahrav/go-crossval/internal/executor"
)

// ErrNoOutcomes indicates that no fold outcomes were provided.
var ErrNoOutcomes = errors.New("no fold outcomes to aggregate")

// FoldStats summarizes one fold's terminal results.
type FoldStats struct {
	FoldID    int `json:"fold_id"`
	Documents int `json:"documents"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// SuccessRate is Succeeded / Documents.
	SuccessRate float64 `json:"success_rate"`

	// FoldSucceeded mirrors the fold-level success criterion.
	FoldSucceeded bool `json:"fold_succeeded"`

	// Duration percentiles over terminal attempt durations (nearest-rank).
	DurationP50 time.Duration `json:"duration_p50_ns"`
	DurationP90 time.Duration `json:"duration_p90_ns"`
	DurationP99 time.Duration `json:"duration_p99_ns"`

	// CategoryDistribution counts detected categories among successes.
	CategoryDistribution map[string]int `json:"category_distribution"`

	// MeanRetries is the mean terminal RetryCount across documents.
	MeanRetries float64 `json:"mean_retries"`
}

// CorpusStats is the cross-fold rollup.
type CorpusStats struct {
	Folds          int `json:"folds"`
	FoldsSucceeded int `json:"folds_succeeded"`
	Documents      int `json:"documents"`
	Succeeded      int `json:"succeeded"`
	Failed         int `json:"failed"`

	SuccessRate float64 `json:"success_rate"`

	DurationP50 time.Duration `json:"duration_p50_ns"`
	DurationP90 time.Duration `json:"duration_p90_ns"`
	DurationP99 time.Duration `json:"duration_p99_ns"`

	CategoryDistribution map[string]int `json:"category_distribution"`
}

// Summary is the full aggregation output.
type Summary struct {
	Folds  []FoldStats `json:"folds"`
	Corpus CorpusStats `json:"corpus"`
}

// Aggregate computes per-fold statistics and the corpus rollup from fold
// outcomes. Outcomes are processed in the order given; fold stats are
// reported in the same order.
func Aggregate(outcomes []*executor.FoldOutcome) (*Summary, error) {
	if len(outcomes) == 0 {
		return nil, ErrNoOutcomes
	}

	summary := &Summary{
		Corpus: CorpusStats{CategoryDistribution: make(map[string]int)},
	}
	var corpusDurations []time.Duration

	for _, outcome := range outcomes {
		stats := foldStats(outcome)
		summary.Folds = append(summary.Folds, stats)

		summary.Corpus.Folds++
		if outcome.Succeeded {
			summary.Corpus.FoldsSucceeded++
		}
		summary.Corpus.Documents += stats.Documents
		summary.Corpus.Succeeded += stats.Succeeded
		summary.Corpus.Failed += stats.Failed
		for category, n := range stats.CategoryDistribution {
			summary.Corpus.CategoryDistribution[category] += n
		}
		for _, res := range outcome.Results {
			corpusDurations = append(corpusDurations, res.Duration)
		}
	}

	if summary.Corpus.Documents > 0 {
		summary.Corpus.SuccessRate = float64(summary.Corpus.Succeeded) / float64(summary.Corpus.Documents)
	}
	summary.Corpus.DurationP50 = percentile(corpusDurations, 50)
	summary.Corpus.DurationP90 = percentile(corpusDurations, 90)
	summary.Corpus.DurationP99 = percentile(corpusDurations, 99)

	return summary, nil
}

// foldStats summarizes one fold outcome's terminal results.
func foldStats(outcome *executor.FoldOutcome) FoldStats {
	stats := FoldStats{
		FoldID:               outcome.FoldID,
		FoldSucceeded:        outcome.Succeeded,
		CategoryDistribution: make(map[string]int),
	}

	durations := make([]time.Duration, 0, len(outcome.Results))
	totalRetries := 0
	for _, res := range outcome.Results {
		stats.Documents++
		durations = append(durations, res.Duration)
		totalRetries += res.RetryCount
		if res.Success {
			stats.Succeeded++
			stats.CategoryDistribution[res.Category]++
		} else {
			stats.Failed++
		}
	}

	if stats.Documents > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Documents)
		stats.MeanRetries = float64(totalRetries) / float64(stats.Documents)
	}
	stats.DurationP50 = percentile(durations, 50)
	stats.DurationP90 = percentile(durations, 90)
	stats.DurationP99 = percentile(durations, 99)
	return stats
}

// percentile computes the nearest-rank percentile of durations. An empty
// input yields zero. p is in 1..100.
func percentile(durations []time.Duration, p int) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := (p*len(sorted) + 99) / 100 // ceil(p/100 * n)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// ResultsByDocument indexes terminal results by document id across folds.
// Useful for joining results with coverage analysis.
func ResultsByDocument(outcomes []*executor.FoldOutcome) map[string]domain.ProcessingResult {
	out := make(map[string]domain.ProcessingResult)
	for _, outcome := range outcomes {
		for _, res := range outcome.Results {
			out[res.DocumentID] = res
		}
	}
	return out
}
