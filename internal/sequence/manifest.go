// Package sequence implements the Sequence Loader: an explicit, startup-time
// registry of sequence manifests and the case factories they reference, in
// place of resolving test-case modules by name at run time.
package sequence

import (
	"strings"

	"github.com/jotautomation/iris/internal/testcase"
)

// preSuffix marks a TESTS token as the point where a case's pre_test phase
// should be started as a background task, distinct from the point where
// the case's name later appears for its test/post_test phases.
const preSuffix = "_pre"

// Token is one entry of a manifest's ordered TESTS list.
type Token struct {
	CaseName string
	Pre      bool
}

// ParseTokens splits raw TESTS entries into Tokens, stripping the "_pre"
// marker into the Pre flag.
func ParseTokens(raw []string) []Token {
	tokens := make([]Token, 0, len(raw))

	for _, t := range raw {
		if name, ok := strings.CutSuffix(t, preSuffix); ok {
			tokens = append(tokens, Token{CaseName: name, Pre: true})
			continue
		}

		tokens = append(tokens, Token{CaseName: t})
	}

	return tokens
}

// Manifest is one sequence's full definition: its ordered case tokens, skip
// list, limit table, opaque parameters, and expected DUT count.
type Manifest struct {
	Name       string
	Tokens     []Token
	Skip       map[string]bool
	Limits     testcase.Table
	Parameters map[string]any
	Duts       int // 0 means "unspecified"; the orchestrator doesn't gate on it
}

// EffectiveCases returns the ordered, de-duplicated case names that will
// actually run: every TESTS token with its name in Skip is dropped
// entirely, and a name mentioned by both its "_pre" token and its plain
// token appears once, in the order its first token appeared.
func (m *Manifest) EffectiveCases() []string {
	seen := make(map[string]bool, len(m.Tokens))
	out := make([]string, 0, len(m.Tokens))

	for _, tok := range m.Tokens {
		if m.Skip[tok.CaseName] {
			continue
		}

		if seen[tok.CaseName] {
			continue
		}

		seen[tok.CaseName] = true
		out = append(out, tok.CaseName)
	}

	return out
}

// PreToken reports whether caseName has a "_pre" token in this manifest,
// i.e. whether its pre_test phase should be started as a background task
// ahead of the point where the plain name appears.
func (m *Manifest) PreToken(caseName string) bool {
	for _, tok := range m.Tokens {
		if tok.CaseName == caseName && tok.Pre {
			return true
		}
	}

	return false
}
