// Package coverage extracts candidate testable requirements from document
// text and maps generated test artifacts back to them, producing
// per-document requirement-coverage reports. Mapping is deliberately
// conservative: a below-threshold pair is simply not counted as covered, and
// no fallback guess is ever made for an ambiguous match.
package coverage

import (
	"fmt"
	"regexp"
	"strings"
)

// DuplicateSimilarityThreshold is the word-set similarity above which two
// extracted statements are treated as the same requirement.
const DuplicateSimilarityThreshold = 0.8

// requirementPattern is one extractor in the fixed cascade. Patterns are
// tried in order; the first match wins and produces one deterministic
// outcome for the candidate line.
type requirementPattern struct {
	name string
	re   *regexp.Regexp
	// idGroup is the capture group holding a declared requirement id, or 0
	// when the pattern carries none and an id is synthesized.
	idGroup int
	// textGroup is the capture group holding the requirement text.
	textGroup int
}

// The fixed extractor cascade: explicit REQ-tagged lines first, then
// numbered requirement lines, then bare modal-verb clauses.
var requirementPatterns = []requirementPattern{
	{
		name:      "tagged",
		re:        regexp.MustCompile(`(?i)^\s*\[?(REQ-[0-9]+(?:\.[0-9]+)?)\]?\s*[:.-]\s*(.+)$`),
		idGroup:   1,
		textGroup: 2,
	},
	{
		name:      "numbered",
		re:        regexp.MustCompile(`(?i)^\s*(?:[0-9]+(?:\.[0-9]+)*)[.)]\s+(.*\b(?:shall|must|should)\b.+)$`),
		textGroup: 1,
	},
	{
		name:      "modal",
		re:        regexp.MustCompile(`(?i)^\s*(.*\b(?:shall|must|should)\b.+)$`),
		textGroup: 1,
	},
}

// testabilityKeywords drive the keyword-based testability heuristic: a
// requirement mentioning none of these verbs or measurable terms is excluded
// from the coverage denominator rather than guessed at.
var testabilityKeywords = []string{
	"shall", "must", "verify", "validate", "ensure", "maintain",
	"record", "reject", "within", "at least", "at most", "not exceed",
	"before", "after", "every", "alert", "log",
}

// matchOutcome is the tagged result of trying the extractor cascade against
// one line: either Matched with the captured data or NoMatch. The cascade is
// internal; callers observe exactly one outcome per line.
type matchOutcome struct {
	matched bool
	id      string // empty when the pattern carried no declared id
	text    string
}

// matchRequirement runs the cascade over a single line.
func matchRequirement(line string) matchOutcome {
	for _, pattern := range requirementPatterns {
		groups := pattern.re.FindStringSubmatch(line)
		if groups == nil {
			continue
		}
		outcome := matchOutcome{matched: true, text: strings.TrimSpace(groups[pattern.textGroup])}
		if pattern.idGroup > 0 {
			outcome.id = strings.ToUpper(groups[pattern.idGroup])
		}
		return outcome
	}
	return matchOutcome{}
}

// Requirement is one extracted candidate testable statement.
type Requirement struct {
	// ID is the declared requirement id when the source carried one,
	// otherwise a synthesized sequential id (R1, R2, ...).
	ID string `json:"id"`

	// Text is the normalized requirement statement.
	Text string `json:"text"`

	// Testable reports whether the keyword heuristic accepted the
	// statement. Non-testable requirements are excluded from the coverage
	// denominator.
	Testable bool `json:"testable"`

	tokens map[string]struct{}
}

// ExtractRequirements applies the fixed pattern cascade line by line and
// deduplicates near-identical statements: a candidate whose word-set
// similarity with an already-extracted requirement exceeds
// DuplicateSimilarityThreshold is dropped as a duplicate.
func ExtractRequirements(text string) []Requirement {
	var requirements []Requirement
	synthesized := 0

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		outcome := matchRequirement(line)
		if !outcome.matched {
			continue
		}

		tokens := tokenSet(outcome.text)
		if len(tokens) == 0 {
			continue
		}

		duplicate := false
		for i := range requirements {
			if jaccard(tokens, requirements[i].tokens) > DuplicateSimilarityThreshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}

		id := outcome.id
		if id == "" {
			synthesized++
			id = fmt.Sprintf("R%d", synthesized)
		}
		requirements = append(requirements, Requirement{
			ID:       id,
			Text:     outcome.text,
			Testable: isTestable(outcome.text),
			tokens:   tokens,
		})
	}
	return requirements
}

// isTestable applies the keyword heuristic.
func isTestable(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range testabilityKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// stopwords excluded from token sets; they carry no mapping signal.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "to": {}, "with": {},
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// tokenSet normalizes text into a lowercase word set with stopwords removed.
func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range tokenSplit.Split(strings.ToLower(text), -1) {
		if word == "" {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		set[word] = struct{}{}
	}
	return set
}

// jaccard computes |a ∩ b| / |a ∪ b| over two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
