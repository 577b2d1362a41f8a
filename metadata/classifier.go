package metadata

import "strings"

// Classifier decides whether a free-form string reads like a positive
// or negative generation prompt. All checks are case-insensitive
// substring tests against the catalog's keyword lists. Strong-negative
// phrases short-circuit both directions; this deliberately favors
// recall of negative prompts when a string is ambiguous.
type Classifier struct {
	catalog *Catalog
}

func NewClassifier(c *Catalog) *Classifier {
	return &Classifier{catalog: c}
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func countMatches(lower string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			n++
		}
	}
	return n
}

// IsNegativePrompt reports whether text reads like a negative prompt.
func (c *Classifier) IsNegativePrompt(text string) bool {
	lower := strings.ToLower(text)
	if containsAny(lower, c.catalog.StrongNegative) {
		return true
	}
	neg := countMatches(lower, c.catalog.NegativeKeywords)
	pos := countMatches(lower, c.catalog.PositiveKeywords)
	if neg > pos && neg > 0 {
		return true
	}
	// Short strings lean negative on a single defect keyword.
	return len(text) < 100 && neg > 0
}

// IsPositivePrompt reports whether text reads like a positive prompt.
func (c *Classifier) IsPositivePrompt(text string) bool {
	lower := strings.ToLower(text)
	if containsAny(lower, c.catalog.StrongNegative) {
		return false
	}
	if containsAny(lower, c.catalog.StrongPositive) {
		return true
	}
	pos := countMatches(lower, c.catalog.PositiveKeywords)
	neg := countMatches(lower, c.catalog.NegativeKeywords)
	score := pos
	if len(text) > 50 {
		// Longer prose carries an implicit vote: descriptive prompts
		// tend to be positive ones.
		score++
	}
	return score > neg && pos > 0
}
