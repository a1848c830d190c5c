package coverage

import (
	"log/slog"
	"sort"

	"github.com/ahrav/go-crossval/internal/domain"
)

// Mapping thresholds.
const (
	// ConfidenceThreshold is the minimum lexical similarity for an artifact
	// to count as covering a requirement.
	ConfidenceThreshold = 0.35

	// OverTestedArtifactCount is the number of mapped artifacts above which
	// a requirement is reported as over-tested.
	OverTestedArtifactCount = 3
)

// Artifact is one generated test artifact presented for mapping. The engine
// never inspects how it was generated.
type Artifact struct {
	// ID uniquely identifies the artifact within the document.
	ID string `json:"id"`

	// Name is the artifact's title or test name.
	Name string `json:"name"`

	// Body is the artifact text used for lexical matching.
	Body string `json:"body"`
}

// Mapping is one artifact-to-requirement match above the confidence
// threshold.
type Mapping struct {
	ArtifactID    string  `json:"artifact_id"`
	RequirementID string  `json:"requirement_id"`
	Score         float64 `json:"score"`
}

// Analyzer maps generated artifacts to extracted requirements and produces
// coverage reports. It holds no state between documents.
type Analyzer struct {
	logger *slog.Logger
}

// NewAnalyzer creates a coverage analyzer.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger.With("component", "coverage_analyzer")}
}

// MapArtifacts computes the lexical similarity of every artifact against
// every requirement and returns the pairs that clear ConfidenceThreshold.
// Below-threshold pairs are simply absent: ambiguity is never resolved by
// guessing. Mappings are ordered by requirement id then artifact id for
// deterministic output.
func (a *Analyzer) MapArtifacts(artifacts []Artifact, requirements []Requirement) []Mapping {
	var mappings []Mapping
	for _, req := range requirements {
		reqTokens := req.tokens
		if reqTokens == nil {
			reqTokens = tokenSet(req.Text)
		}
		for _, artifact := range artifacts {
			score := jaccard(tokenSet(artifact.Name+" "+artifact.Body), reqTokens)
			if score >= ConfidenceThreshold {
				mappings = append(mappings, Mapping{
					ArtifactID:    artifact.ID,
					RequirementID: req.ID,
					Score:         score,
				})
			}
		}
	}
	sort.Slice(mappings, func(i, j int) bool {
		if mappings[i].RequirementID != mappings[j].RequirementID {
			return mappings[i].RequirementID < mappings[j].RequirementID
		}
		return mappings[i].ArtifactID < mappings[j].ArtifactID
	})
	return mappings
}

// Report derives the coverage report for one document from its extracted
// requirements and artifact mappings. Only testable requirements enter the
// denominator; an uncovered requirement stays uncovered.
func (a *Analyzer) Report(documentID string, requirements []Requirement, mappings []Mapping) domain.CoverageReport {
	report := domain.CoverageReport{
		DocumentID:        documentID,
		TotalRequirements: len(requirements),
	}

	mapped := make(map[string][]Mapping)
	for _, m := range mappings {
		mapped[m.RequirementID] = append(mapped[m.RequirementID], m)
	}

	var confidenceSum float64
	for _, req := range requirements {
		hits := mapped[req.ID]
		if len(hits) > OverTestedArtifactCount {
			report.OverTestedRequirementIDs = append(report.OverTestedRequirementIDs, req.ID)
		}
		if !req.Testable {
			continue
		}
		report.TestableRequirements++
		if len(hits) == 0 {
			report.UncoveredRequirementIDs = append(report.UncoveredRequirementIDs, req.ID)
			continue
		}
		report.CoveredRequirements++
		best := 0.0
		for _, hit := range hits {
			if hit.Score > best {
				best = hit.Score
			}
		}
		confidenceSum += best
	}

	if report.TestableRequirements > 0 {
		report.CoveragePercentage = float64(report.CoveredRequirements) / float64(report.TestableRequirements) * 100
	}
	if report.CoveredRequirements > 0 {
		report.MappingConfidence = confidenceSum / float64(report.CoveredRequirements)
	}

	a.logger.Debug("coverage report derived",
		"document", documentID,
		"testable", report.TestableRequirements,
		"covered", report.CoveredRequirements,
		"coverage_pct", report.CoveragePercentage)
	return report
}

// Analyze is the one-call convenience: extract, map, and report.
func (a *Analyzer) Analyze(documentID, documentText string, artifacts []Artifact) domain.CoverageReport {
	requirements := ExtractRequirements(documentText)
	mappings := a.MapArtifacts(artifacts, requirements)
	return a.Report(documentID, requirements, mappings)
}
