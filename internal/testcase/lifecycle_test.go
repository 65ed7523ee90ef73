package testcase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jotautomation/iris/internal/control"
	"github.com/jotautomation/iris/internal/position"
)

// recordingCase is a minimal Case used to exercise the lifecycle without a
// real measurement-producing implementation.
type recordingCase struct {
	*Base

	testErr   error
	cleanPass bool
	cleanFail bool
	cleanErr  bool
}

func newRecordingCase(base *Base) *recordingCase {
	return &recordingCase{Base: base}
}

func (c *recordingCase) Test(ctx context.Context) error {
	return c.testErr
}

func (c *recordingCase) CleanPass() { c.cleanPass = true }
func (c *recordingCase) CleanFail() { c.cleanFail = true }
func (c *recordingCase) CleanError() {
	c.cleanErr = true
}

func positionForTest() *position.TestPosition {
	return position.New("pos-1", "Position 1")
}

func newTestBase(name string, table Table) (*Base, *position.Dut) {
	d := position.NewDut("SN-1", "pos-1", 0)
	base := &Base{
		Name:        name,
		FlowControl: Continue,
		Dut:         d,
		Limits:      table,
	}

	return base, d
}

func TestRunnerHappyPathRecordsPass(t *testing.T) {
	table := Table{
		"case-a": CaseLimits{
			"x": Limit{Check: func(v any) (bool, error) { return v.(int) < 10, nil }},
		},
	}

	base, d := newTestBase("case-a", table)
	c := newRecordingCase(base)
	r := NewRunner(c, base, table)

	if err := r.RunPreTest(context.Background()); err != nil {
		t.Fatalf("RunPreTest: %v", err)
	}

	base.NewMeasurement("x", 5)

	if err := r.RunTest(context.Background()); err != nil {
		t.Fatalf("RunTest: %v", err)
	}

	if err := r.RunPostTest(context.Background()); err != nil {
		t.Fatalf("RunPostTest: %v", err)
	}

	if d.PassFailResult() != control.Pass {
		t.Errorf("PassFailResult() = %v, want %v", d.PassFailResult(), control.Pass)
	}

	if !c.cleanPass || c.cleanFail {
		t.Error("expected CleanPass to run, not CleanFail")
	}

	rec := d.Case("case-a")
	if rec.EndTime.IsZero() {
		t.Error("EndTime was not stamped")
	}
}

func TestRunnerFailingMeasurementStopsOnFail(t *testing.T) {
	table := Table{
		"case-a": CaseLimits{
			"x": Limit{Check: func(v any) (bool, error) { return v.(int) < 10, nil }},
		},
	}

	base, d := newTestBase("case-a", table)
	base.FlowControl = StopOnFail
	base.Position = positionForTest()

	c := newRecordingCase(base)
	r := NewRunner(c, base, table)

	_ = r.RunPreTest(context.Background())
	base.NewMeasurement("x", 42)
	_ = r.RunTest(context.Background())
	_ = r.RunPostTest(context.Background())

	if d.PassFailResult() != control.Fail {
		t.Fatalf("PassFailResult() = %v, want %v", d.PassFailResult(), control.Fail)
	}

	if !c.cleanFail {
		t.Error("expected CleanFail to run")
	}

	if !base.Position.ShouldStopTesting() {
		t.Error("StopOnFail should have set stop_testing")
	}
}

func TestRunnerMissingMandatoryMeasurementErrors(t *testing.T) {
	table := Table{
		"case-a": CaseLimits{
			"x": Limit{},
			"y": Limit{}, // never measured
		},
	}

	base, d := newTestBase("case-a", table)
	c := newRecordingCase(base)
	r := NewRunner(c, base, table)

	_ = r.RunPreTest(context.Background())
	base.NewMeasurement("x", 1)
	_ = r.RunTest(context.Background())
	_ = r.RunPostTest(context.Background())

	if d.PassFailResult() != control.Error {
		t.Fatalf("PassFailResult() = %v, want %v", d.PassFailResult(), control.Error)
	}

	rec := d.Case("case-a")
	if rec.Error != `Measurement "y" missing` {
		t.Errorf("rec.Error = %q, want missing-y message", rec.Error)
	}
}

func TestHandleErrorClassifiesCaseAsError(t *testing.T) {
	base, d := newTestBase("case-a", Table{})
	c := newRecordingCase(base)
	r := NewRunner(c, base, Table{})

	r.HandleError(errors.New("driver exploded"))

	if d.PassFailResult() != control.Error {
		t.Fatalf("PassFailResult() = %v, want %v", d.PassFailResult(), control.Error)
	}

	if !c.cleanErr {
		t.Error("expected CleanError to run")
	}

	rec := d.Case("case-a")
	if rec.Error != "driver exploded" {
		t.Errorf("rec.Error = %q, want %q", rec.Error, "driver exploded")
	}
}

func TestHandleErrorInstrumentFatalCallsAbort(t *testing.T) {
	base, _ := newTestBase("case-a", Table{})

	aborted := false
	base.Abort = func() { aborted = true }

	c := newRecordingCase(base)
	r := NewRunner(c, base, Table{})

	r.HandleError(fmt.Errorf("reading voltage: %w", control.ErrInstrumentFatal))

	if !aborted {
		t.Error("expected ErrInstrumentFatal to call Base.Abort")
	}
}

func TestHandleErrorOrdinaryErrorDoesNotAbort(t *testing.T) {
	base, _ := newTestBase("case-a", Table{})

	aborted := false
	base.Abort = func() { aborted = true }

	c := newRecordingCase(base)
	r := NewRunner(c, base, Table{})

	r.HandleError(errors.New("measurement out of range"))

	if aborted {
		t.Error("expected a non-fatal error not to call Base.Abort")
	}
}

func TestStoreTestDataFileNamesSpacesConsistently(t *testing.T) {
	base, d := newTestBase("case-a", Table{})
	base.RunID = "run-7"

	err := base.StoreTestDataFile(context.Background(), "/tmp/raw.csv", "trace.csv", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("StoreTestDataFile: %v", err)
	}

	rec := d.Case("case-a")
	if len(rec.Media) != 1 {
		t.Fatalf("len(Media) = %d, want 1", len(rec.Media))
	}

	want := "case-a_SN-1_run-7_trace.csv"
	if rec.Media[0].Name != want {
		t.Errorf("Media[0].Name = %q, want %q", rec.Media[0].Name, want)
	}
}
