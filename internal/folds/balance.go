package folds

import (
	"fmt"
	"math"
	"sort"
)

// CategoryBalance reports how one category's test documents spread across
// folds.
type CategoryBalance struct {
	// PerFold holds the test-set count for the category in fold order 1..k.
	PerFold []int `json:"per_fold"`

	// Mean is the mean per-fold count.
	Mean float64 `json:"mean"`

	// StdDev is the population standard deviation of the per-fold counts.
	StdDev float64 `json:"std_dev"`

	// CV is StdDev / Mean, the coefficient of variation. Zero when the
	// category never appears.
	CV float64 `json:"cv"`

	// Unbalanced is true when CV exceeds the configured threshold.
	Unbalanced bool `json:"unbalanced"`
}

// BalanceReport is the structured outcome of the fold-balance validation.
// It is a read-only diagnostic; producing it never mutates the assignments.
type BalanceReport struct {
	// Passed is false when any category exceeds the CV threshold or any
	// fold's test set has fewer than two distinct categories.
	Passed bool `json:"passed"`

	// CVThreshold is the threshold the report was evaluated against.
	CVThreshold float64 `json:"cv_threshold"`

	// Categories maps each category label to its cross-fold balance detail.
	Categories map[string]CategoryBalance `json:"categories"`

	// Findings lists human-readable failures, each naming the offending
	// category or fold.
	Findings []string `json:"findings"`
}

// ValidateBalance computes the per-category test-set distribution across
// folds and flags the partition as unbalanced when any category's
// coefficient of variation exceeds the configured threshold, or when any
// fold's test set contains fewer than two distinct category labels.
func (m *Manager) ValidateBalance() (BalanceReport, error) {
	k := m.store.FoldCount()
	threshold := m.store.Config().BalanceCVThreshold

	report := BalanceReport{
		Passed:      true,
		CVThreshold: threshold,
		Categories:  make(map[string]CategoryBalance),
	}

	// counts[category][foldIndex-1] = test-set occurrences.
	counts := make(map[string][]int)
	distinctPerFold := make([]map[string]struct{}, k)

	for n := 1; n <= k; n++ {
		fold, err := m.Fold(n)
		if err != nil {
			return BalanceReport{}, err
		}
		distinctPerFold[n-1] = make(map[string]struct{})
		for _, rec := range fold.Test {
			if _, ok := counts[rec.Category]; !ok {
				counts[rec.Category] = make([]int, k)
			}
			counts[rec.Category][n-1]++
			distinctPerFold[n-1][rec.Category] = struct{}{}
		}
	}

	categories := make([]string, 0, len(counts))
	for category := range counts {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		perFold := counts[category]
		mean, stdDev := meanStdDev(perFold)
		cv := 0.0
		if mean > 0 {
			cv = stdDev / mean
		}
		balance := CategoryBalance{
			PerFold:    perFold,
			Mean:       mean,
			StdDev:     stdDev,
			CV:         cv,
			Unbalanced: cv > threshold,
		}
		report.Categories[category] = balance
		if balance.Unbalanced {
			report.Passed = false
			report.Findings = append(report.Findings,
				fmt.Sprintf("category %q unbalanced across folds: cv %.3f exceeds threshold %.3f", category, cv, threshold))
		}
	}

	for n := 1; n <= k; n++ {
		if len(distinctPerFold[n-1]) < 2 {
			report.Passed = false
			only := "none"
			for category := range distinctPerFold[n-1] {
				only = category
			}
			report.Findings = append(report.Findings,
				fmt.Sprintf("fold %d test set contains fewer than two distinct categories (only %q)", n, only))
		}
	}

	return report, nil
}

// meanStdDev returns the mean and population standard deviation of counts.
func meanStdDev(counts []int) (float64, float64) {
	if len(counts) == 0 {
		return 0, 0
	}
	sum := 0
	for _, c := range counts {
		sum += c
	}
	mean := float64(sum) / float64(len(counts))

	variance := 0.0
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	variance /= float64(len(counts))
	return mean, math.Sqrt(variance)
}
