package domain

// CoverageReport summarizes requirement coverage for one document: which of
// its testable requirements have at least one generated artifact confidently
// mapped to them. Reports are derived on demand from results plus parsed
// requirements and are never persisted as mutable state.
type CoverageReport struct {
	// DocumentID identifies the analyzed document.
	DocumentID string `json:"document_id"`

	// TotalRequirements is the number of extracted requirements, testable
	// or not.
	TotalRequirements int `json:"total_requirements"`

	// TestableRequirements is the coverage denominator: requirements the
	// testability heuristic accepted. Non-testable requirements are excluded,
	// never guessed at.
	TestableRequirements int `json:"testable_requirements"`

	// CoveredRequirements counts testable requirements with at least one
	// artifact mapped above the confidence threshold.
	CoveredRequirements int `json:"covered_requirements"`

	// CoveragePercentage is CoveredRequirements / TestableRequirements * 100,
	// or 0 when the denominator is empty.
	CoveragePercentage float64 `json:"coverage_percentage"`

	// MappingConfidence is the mean best-match score across covered
	// requirements.
	MappingConfidence float64 `json:"mapping_confidence"`

	// UncoveredRequirementIDs lists testable requirements no artifact
	// reached.
	UncoveredRequirementIDs []string `json:"uncovered_requirement_ids"`

	// OverTestedRequirementIDs lists requirements with more artifacts mapped
	// than the over-testing threshold allows.
	OverTestedRequirementIDs []string `json:"over_tested_requirement_ids"`
}
