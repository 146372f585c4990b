package workflow

import (
	"strings"
)

// Resolution is the routed result of detecting a phase and scanning the
// remaining text for an instance id and model override.
type Resolution struct {
	// Phase is the detected phase.
	Phase Phase

	// InstanceID is the family-shaped instance id found in the text, or
	// empty when none was supplied.
	InstanceID string

	// Model is the model override from the allow-list, or empty.
	Model string
}

// Resolver extracts an optional instance id and optional model override
// from trigger text.
type Resolver struct {
	models map[string]bool
}

// NewResolver creates a resolver with the given model allow-list.
func NewResolver(models []string) *Resolver {
	allowed := make(map[string]bool, len(models))
	for _, m := range models {
		allowed[strings.ToLower(m)] = true
	}
	return &Resolver{models: allowed}
}

// Resolve scans the whitespace-delimited content case-insensitively for an
// instance id matching the phase family's id shape and a model name from
// the allow-list. Both are optional, order does not matter, and at most one
// of each is accepted per message.
func (r *Resolver) Resolve(phase Phase, text string) Resolution {
	res := Resolution{Phase: phase}
	idPattern := phase.Family.IDPattern()

	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(field, ".,;:!?()[]{}`\"'*_<>")
		if word == "" || word == phase.Token {
			continue
		}
		if res.InstanceID == "" && idPattern.MatchString(word) {
			res.InstanceID = word
			continue
		}
		if res.Model == "" && r.models[word] {
			res.Model = word
		}
	}

	return res
}
