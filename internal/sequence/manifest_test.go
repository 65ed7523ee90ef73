package sequence

import (
	"reflect"
	"testing"
)

func TestParseTokens(t *testing.T) {
	tokens := ParseTokens([]string{"second_pre", "first", "second"})

	want := []Token{
		{CaseName: "second", Pre: true},
		{CaseName: "first"},
		{CaseName: "second"},
	}

	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("ParseTokens() = %+v, want %+v", tokens, want)
	}
}

func TestEffectiveCasesDropsSkippedAndDuplicates(t *testing.T) {
	m := &Manifest{
		Tokens: ParseTokens([]string{"second_pre", "first", "second", "third", "fourth"}),
		Skip:   map[string]bool{"first": true, "third": true, "fourth": true},
	}

	got := m.EffectiveCases()
	want := []string{"second"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("EffectiveCases() = %v, want %v", got, want)
	}
}

func TestPreToken(t *testing.T) {
	m := &Manifest{Tokens: ParseTokens([]string{"second_pre", "first", "second"})}

	if !m.PreToken("second") {
		t.Error("PreToken(second) = false, want true")
	}

	if m.PreToken("first") {
		t.Error("PreToken(first) = true, want false")
	}
}
