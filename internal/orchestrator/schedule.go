package orchestrator

import "github.com/jotautomation/iris/internal/sequence"

// step is one point in a manifest's execution order: either a "_pre" marker
// (start pre_test as a background task) or the plain case name (run/ensure
// pre_test joined, then test, then post_test in the background).
type step struct {
	CaseName string
	Pre      bool
}

// buildSchedule derives the ordered execution steps for a run: every
// manifest token not in Skip and, when filter is non-empty, not excluded by
// the UI's test_cases_override. A case whose only token is "_pre" still
// gets a trailing plain step appended so it runs to completion.
func buildSchedule(manifest *sequence.Manifest, filter []string) []step {
	allowed := allowedSet(manifest, filter)

	out := make([]step, 0, len(manifest.Tokens))
	seenPlain := make(map[string]bool, len(manifest.Tokens))

	for _, tok := range manifest.Tokens {
		if manifest.Skip[tok.CaseName] || !allowed[tok.CaseName] {
			continue
		}

		if tok.Pre {
			out = append(out, step{CaseName: tok.CaseName, Pre: true})
			continue
		}

		if seenPlain[tok.CaseName] {
			continue
		}

		seenPlain[tok.CaseName] = true
		out = append(out, step{CaseName: tok.CaseName})
	}

	for name := range allowed {
		if !seenPlain[name] {
			out = append(out, step{CaseName: name})
		}
	}

	return out
}

func allowedSet(manifest *sequence.Manifest, filter []string) map[string]bool {
	effective := manifest.EffectiveCases()

	if len(filter) == 0 {
		set := make(map[string]bool, len(effective))
		for _, name := range effective {
			set[name] = true
		}

		return set
	}

	permitted := make(map[string]bool, len(filter))
	for _, name := range filter {
		permitted[name] = true
	}

	set := make(map[string]bool, len(effective))

	for _, name := range effective {
		if permitted[name] {
			set[name] = true
		}
	}

	return set
}
