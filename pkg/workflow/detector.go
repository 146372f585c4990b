package workflow

import (
	"strings"
)

// Detector scans free text for a recognized phase token across the
// prioritized family catalogs.
type Detector struct {
	catalogs []Catalog
}

// NewDetector creates a detector over the given catalogs. Catalog order is
// the priority order; within a catalog, tokens match longest-first.
func NewDetector(catalogs ...Catalog) *Detector {
	if len(catalogs) == 0 {
		catalogs = DefaultCatalogs()
	}
	return &Detector{catalogs: catalogs}
}

// Detect returns the first phase whose token appears as a whole word in the
// text. Matching is case-insensitive and tolerant of surrounding prose and
// markdown. The second return is false when no catalog token matches.
func (d *Detector) Detect(text string) (Phase, bool) {
	words := tokenize(text)
	if len(words) == 0 {
		return Phase{}, false
	}

	for _, catalog := range d.catalogs {
		for _, phase := range catalog.Phases() {
			if words[phase.Token] {
				return phase, true
			}
		}
	}
	return Phase{}, false
}

// tokenize splits text into a set of lowercase whole words, trimming
// punctuation from the edges so "app-plan-workflow." still matches.
func tokenize(text string) map[string]bool {
	words := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(field, ".,;:!?()[]{}`\"'*_<>")
		if word != "" {
			words[word] = true
		}
	}
	return words
}
