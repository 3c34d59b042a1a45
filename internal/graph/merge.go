package graph

import (
	"strings"
	"unicode"
)

// stepKey normalizes a step's identity for merge matching: lowercase,
// whitespace squeezed, title joined with the first 50 characters of the
// description.
func stepKey(title, description string) string {
	desc := []rune(description)
	if len(desc) > 50 {
		desc = desc[:50]
	}
	return squeezeWhitespace(strings.ToLower(title + "|" + string(desc)))
}

func squeezeWhitespace(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// MergePlans folds a freshly proposed plan into the prior one. Completed old
// steps are preserved first in their original order; proposed steps follow
// in proposal order, with decomposition markers converting a matched step's
// result to the sentinel; old steps the proposal dropped are appended last.
func MergePlans(old, proposed *Plan) *Plan {
	if old == nil {
		return proposed
	}

	merged := &Plan{HasEnoughContext: proposed.HasEnoughContext}
	merged.Locale = proposed.Locale
	if merged.Locale == "" {
		merged.Locale = old.Locale
	}
	merged.Thought = old.Thought
	if merged.Thought == "" {
		merged.Thought = proposed.Thought
	}
	merged.Title = old.Title
	if merged.Title == "" {
		merged.Title = proposed.Title
	}

	seen := map[string]int{}
	for _, s := range old.Steps {
		if !s.Completed() {
			continue
		}
		key := stepKey(s.Title, s.Description)
		seen[key] = len(merged.Steps)
		merged.Steps = append(merged.Steps, s)
	}

	for _, s := range proposed.Steps {
		title := strings.TrimSpace(strings.TrimPrefix(s.Title, DecomposedSentinel))
		desc := strings.TrimSpace(strings.TrimPrefix(s.Description, DecomposedSentinel))
		key := stepKey(title, desc)
		if idx, ok := seen[key]; ok {
			if s.MarkedDecomposed() {
				merged.Steps[idx].ExecutionRes = DecomposedSentinel
				merged.Steps[idx].Title = title
				merged.Steps[idx].Description = desc
			}
			continue
		}
		next := s
		next.Title = title
		next.Description = desc
		if s.MarkedDecomposed() {
			next.ExecutionRes = DecomposedSentinel
		}
		seen[key] = len(merged.Steps)
		merged.Steps = append(merged.Steps, next)
	}

	for _, s := range old.Steps {
		key := stepKey(s.Title, s.Description)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = len(merged.Steps)
		merged.Steps = append(merged.Steps, s)
	}

	return merged
}
