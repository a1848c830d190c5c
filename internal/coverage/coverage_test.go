package coverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `Operating Procedure: Telemetry Handling

Introduction paragraph with no requirement content.

REQ-1: The controller shall reject malformed telemetry frames immediately.
REQ-2: The system must log every operator override within five seconds.
REQ-3: The archive service shall record daily sensor snapshots before midnight.

Operators should review historical dashboards periodically.
`

func TestExtractRequirements_TaggedLines(t *testing.T) {
	reqs := ExtractRequirements(sampleDocument)
	require.Len(t, reqs, 4)

	assert.Equal(t, "REQ-1", reqs[0].ID)
	assert.Equal(t, "REQ-2", reqs[1].ID)
	assert.Equal(t, "REQ-3", reqs[2].ID)
	assert.True(t, reqs[0].Testable)
	assert.True(t, reqs[1].Testable)
	assert.True(t, reqs[2].Testable)

	// The bare modal line matches but carries no declared id and none of
	// the testability keywords.
	assert.Equal(t, "R1", reqs[3].ID)
	assert.False(t, reqs[3].Testable)
}

func TestExtractRequirements_NumberedAndModal(t *testing.T) {
	text := `1. The pump must stop within two seconds of an emergency signal.
2.1) Sensors shall report temperature every minute.
Some narrative line without requirement language.
The backup generator should engage on power loss.`

	reqs := ExtractRequirements(text)
	require.Len(t, reqs, 3)

	// All three carry synthesized sequential ids.
	assert.Equal(t, "R1", reqs[0].ID)
	assert.Equal(t, "R2", reqs[1].ID)
	assert.Equal(t, "R3", reqs[2].ID)
	assert.Contains(t, reqs[0].Text, "pump must stop")
	assert.True(t, reqs[0].Testable)
	assert.True(t, reqs[1].Testable)
}

func TestExtractRequirements_DeduplicatesNearIdentical(t *testing.T) {
	text := `REQ-1: The system shall log every access event.
REQ-2: The system shall log every access event now.
REQ-3: The valve must close before pressure exceeds the limit.`

	reqs := ExtractRequirements(text)
	require.Len(t, reqs, 2, "near-identical statement is dropped as a duplicate")
	assert.Equal(t, "REQ-1", reqs[0].ID)
	assert.Equal(t, "REQ-3", reqs[1].ID)
}

func TestExtractRequirements_Empty(t *testing.T) {
	assert.Empty(t, ExtractRequirements(""))
	assert.Empty(t, ExtractRequirements("Plain narrative text.\nNothing testable here."))
}

func TestMatchRequirement(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		matched  bool
		wantID   string
		wantText string
	}{
		{
			name:     "tagged with colon",
			line:     "REQ-4: Frames shall be validated.",
			matched:  true,
			wantID:   "REQ-4",
			wantText: "Frames shall be validated.",
		},
		{
			name:    "tagged lowercase normalizes",
			line:    "req-12.1 - The relay must open.",
			matched: true,
			wantID:  "REQ-12.1",
		},
		{
			name:     "numbered",
			line:     "3. Readings must be archived nightly.",
			matched:  true,
			wantText: "Readings must be archived nightly.",
		},
		{
			name:    "bare modal",
			line:    "The door should remain locked.",
			matched: true,
		},
		{
			name: "no requirement language",
			line: "This section describes the architecture.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := matchRequirement(tt.line)
			assert.Equal(t, tt.matched, outcome.matched)
			if tt.wantID != "" {
				assert.Equal(t, tt.wantID, outcome.id)
			}
			if tt.wantText != "" {
				assert.Equal(t, tt.wantText, outcome.text)
			}
		})
	}
}

func TestJaccard(t *testing.T) {
	a := tokenSet("the controller shall reject malformed frames")
	b := tokenSet("controller shall reject malformed frames")
	assert.Equal(t, 1.0, jaccard(a, b), "stopwords carry no signal")

	disjoint := tokenSet("completely unrelated words here")
	assert.Equal(t, 0.0, jaccard(a, disjoint))
	assert.Equal(t, 0.0, jaccard(nil, nil))
}

func fullCoverageArtifacts() []Artifact {
	return []Artifact{
		{
			ID:   "tc-1",
			Name: "reject malformed telemetry",
			Body: "controller shall reject malformed telemetry frames immediately",
		},
		{
			ID:   "tc-2",
			Name: "log operator override",
			Body: "system must log every operator override within five seconds",
		},
		{
			ID:   "tc-3",
			Name: "record daily snapshots",
			Body: "archive service shall record daily sensor snapshots before midnight",
		},
	}
}

// TestAnalyze_FullCoverage: every testable requirement has exactly one
// confidently mapped artifact, so coverage is complete.
func TestAnalyze_FullCoverage(t *testing.T) {
	analyzer := NewAnalyzer(nil)
	report := analyzer.Analyze("doc-01", sampleDocument, fullCoverageArtifacts())

	assert.Equal(t, "doc-01", report.DocumentID)
	assert.Equal(t, 4, report.TotalRequirements)
	assert.Equal(t, 3, report.TestableRequirements)
	assert.Equal(t, 3, report.CoveredRequirements)
	assert.Equal(t, 100.0, report.CoveragePercentage)
	assert.InDelta(t, 1.0, report.MappingConfidence, 1e-9)
	assert.Empty(t, report.UncoveredRequirementIDs)
	assert.Empty(t, report.OverTestedRequirementIDs)
}

func TestAnalyze_PartialCoverage(t *testing.T) {
	analyzer := NewAnalyzer(nil)
	artifacts := fullCoverageArtifacts()[:1]

	report := analyzer.Analyze("doc-02", sampleDocument, artifacts)

	assert.Equal(t, 3, report.TestableRequirements)
	assert.Equal(t, 1, report.CoveredRequirements)
	assert.InDelta(t, 100.0/3.0, report.CoveragePercentage, 1e-9)
	assert.ElementsMatch(t, []string{"REQ-2", "REQ-3"}, report.UncoveredRequirementIDs)
}

// A weak lexical overlap below the confidence threshold is not counted as
// coverage; the requirement stays uncovered rather than being guessed at.
func TestMapArtifacts_BelowThresholdIsAbsent(t *testing.T) {
	analyzer := NewAnalyzer(nil)
	reqs := ExtractRequirements("REQ-1: The controller shall reject malformed telemetry frames immediately.")
	require.Len(t, reqs, 1)

	weak := []Artifact{{ID: "tc-weak", Name: "telemetry", Body: "unrelated dashboard widget styling checks"}}
	mappings := analyzer.MapArtifacts(weak, reqs)
	assert.Empty(t, mappings)

	report := analyzer.Report("doc-03", reqs, mappings)
	assert.Zero(t, report.CoveredRequirements)
	assert.Equal(t, []string{"REQ-1"}, report.UncoveredRequirementIDs)
}

func TestReport_OverTested(t *testing.T) {
	analyzer := NewAnalyzer(nil)
	reqs := ExtractRequirements("REQ-1: The controller shall reject malformed telemetry frames immediately.")
	require.Len(t, reqs, 1)

	artifacts := make([]Artifact, 0, 4)
	for _, id := range []string{"tc-1", "tc-2", "tc-3", "tc-4"} {
		artifacts = append(artifacts, Artifact{
			ID:   id,
			Name: "reject malformed telemetry",
			Body: "controller shall reject malformed telemetry frames immediately",
		})
	}

	mappings := analyzer.MapArtifacts(artifacts, reqs)
	require.Len(t, mappings, 4)

	report := analyzer.Report("doc-04", reqs, mappings)
	assert.Equal(t, 1, report.CoveredRequirements)
	assert.Equal(t, []string{"REQ-1"}, report.OverTestedRequirementIDs)
}

func TestMapArtifacts_DeterministicOrder(t *testing.T) {
	analyzer := NewAnalyzer(nil)
	reqs := ExtractRequirements(sampleDocument)

	artifacts := fullCoverageArtifacts()
	first := analyzer.MapArtifacts(artifacts, reqs)

	// Reversed artifact input yields the same ordered mappings.
	reversed := []Artifact{artifacts[2], artifacts[1], artifacts[0]}
	second := analyzer.MapArtifacts(reversed, reqs)
	assert.Equal(t, first, second)
}

func TestReport_EmptyDenominator(t *testing.T) {
	analyzer := NewAnalyzer(nil)
	report := analyzer.Report("doc-05", nil, nil)
	assert.Zero(t, report.CoveragePercentage)
	assert.Zero(t, report.MappingConfidence)
}
