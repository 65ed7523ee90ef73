package sequence

import (
	"errors"
	"reflect"
	"testing"

	"github.com/jotautomation/iris/internal/control"
	"github.com/jotautomation/iris/internal/testcase"
)

func TestLoadDirParsesManifest(t *testing.T) {
	r := NewRegistry()

	if err := r.LoadDir("../../testdata/sequences"); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	m, err := r.Resolve("example_sequence")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := []string{"second"}
	if got := m.EffectiveCases(); !reflect.DeepEqual(got, want) {
		t.Errorf("EffectiveCases() = %v, want %v", got, want)
	}

	if m.Duts != 2 {
		t.Errorf("Duts = %d, want 2", m.Duts)
	}

	if m.Parameters["retries"] != 2 {
		t.Errorf("Parameters[retries] = %v, want 2", m.Parameters["retries"])
	}
}

func TestResolveUnknownSequence(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("does-not-exist")
	if !errors.Is(err, control.ErrUnknownSequence) {
		t.Errorf("err = %v, want wrapping %v", err, control.ErrUnknownSequence)
	}
}

func TestRegisterLimitsAttachesToManifest(t *testing.T) {
	r := NewRegistry()
	r.Register(&Manifest{Name: "seq-a"})

	limits := testcase.Table{"case-a": testcase.CaseLimits{}}

	if err := r.RegisterLimits("seq-a", limits); err != nil {
		t.Fatalf("RegisterLimits: %v", err)
	}

	m, _ := r.Resolve("seq-a")
	if m.Limits == nil {
		t.Error("Limits not attached")
	}
}

func TestRegisterLimitsUnknownSequence(t *testing.T) {
	r := NewRegistry()

	err := r.RegisterLimits("missing", testcase.Table{})
	if !errors.Is(err, control.ErrUnknownSequence) {
		t.Errorf("err = %v, want wrapping %v", err, control.ErrUnknownSequence)
	}
}

func TestCaseFactoryLookup(t *testing.T) {
	r := NewRegistry()

	called := false
	r.RegisterCase("case-a", func(base *testcase.Base) testcase.Case {
		called = true
		return nil
	})

	factory, err := r.CaseFactory("case-a")
	if err != nil {
		t.Fatalf("CaseFactory: %v", err)
	}

	factory(nil)

	if !called {
		t.Error("factory was not the one registered")
	}

	if _, err := r.CaseFactory("missing"); !errors.Is(err, control.ErrUnknownCase) {
		t.Errorf("err = %v, want wrapping %v", err, control.ErrUnknownCase)
	}
}
