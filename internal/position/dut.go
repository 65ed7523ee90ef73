package position

import (
	"sync"
	"time"

	"github.com/jotautomation/iris/internal/control"
)

// Measurement is one named value recorded against a case, together with the
// limit it was checked against and the verdict the limit evaluator assigned
// it.
type Measurement struct {
	Name   string
	Value  any
	Limit  string // human-readable limit description, empty when no limit matched
	Unit   string
	Result control.Result
	Error  string
}

// Media is one artefact attached to a case via store_test_data_file.
type Media struct {
	Name string
	Path string
	Meta map[string]any
}

// CaseRecord is the per-case entry held in a DUT's test_cases map.
// It is written by the case instance that owns it (measurement
// intake, verdict) and read by the progress reporter and persistence sinks.
type CaseRecord struct {
	Result       control.Result
	Measurements map[string]*Measurement
	StartTime    time.Time
	EndTime      time.Time
	DurationS    float64
	Error        string
	Media        []*Media
}

// Dut is one Device Under Test bound to a TestPosition for the duration of a
// run. Created by SN Intake; mutated only through
// its owning Test Case Instance (measurements/results) and the orchestrator
// (final pass_fail_result); destroyed at the next PrepareForNewTestRun.
type Dut struct {
	mu sync.RWMutex

	SerialNumber   string
	TestPosition   string // back-reference by name, not by pointer
	HWID           string
	Order          int
	AdditionalInfo map[string]any

	testCases map[string]*CaseRecord

	passFailResult control.Result
	failedSteps    []string
	errorSteps     []string
}

// NewDut constructs a DUT record with the invariant initial verdict state:
// pass_fail_result starts at Testing, not Pass — it is lifted
// upward as cases complete.
func NewDut(serialNumber, testPosition string, order int) *Dut {
	return &Dut{
		SerialNumber:   serialNumber,
		TestPosition:   testPosition,
		Order:          order,
		testCases:      make(map[string]*CaseRecord),
		passFailResult: control.Testing,
	}
}

// Snapshot returns an immutable copy suitable for retention as a position's
// PreviousDut.
func (d *Dut) Snapshot() *DutSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return &DutSnapshot{
		SerialNumber:   d.SerialNumber,
		HWID:           d.HWID,
		Order:          d.Order,
		PassFailResult: d.passFailResult.String(),
		FailedSteps:    append([]string(nil), d.failedSteps...),
		ErrorSteps:     append([]string(nil), d.errorSteps...),
	}
}

// EnsureCase returns the CaseRecord for caseName, creating an empty one (in
// the Testing state) the first time it's requested. Called by
// internal/testcase's run_pre_test before any measurement is recorded.
func (d *Dut) EnsureCase(caseName string) *CaseRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.testCases[caseName]
	if !ok {
		rec = &CaseRecord{
			Result:       control.Testing,
			Measurements: make(map[string]*Measurement),
		}
		d.testCases[caseName] = rec
	}

	return rec
}

// Case returns the CaseRecord for caseName, or nil if no case has run yet.
func (d *Dut) Case(caseName string) *CaseRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.testCases[caseName]
}

// CaseNames returns the names of every case recorded so far, in
// indeterminate order; callers that need run order should consult the
// sequence's TESTS list instead.
func (d *Dut) CaseNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.testCases))
	for name := range d.testCases {
		names = append(names, name)
	}

	return names
}

// Cases returns a snapshot copy of every case recorded so far, keyed by
// case name; used by persistence sinks to serialize a finished run.
func (d *Dut) Cases() map[string]*CaseRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]*CaseRecord, len(d.testCases))
	for name, rec := range d.testCases {
		out[name] = rec
	}

	return out
}

// LiftResult raises the DUT's rolled-up pass_fail_result to at least
// caseResult on the pass<fail<error lattice, and appends caseName to
// failedSteps/errorSteps the first time that case crosses into fail/error;
// each name appears at most once.
func (d *Dut) LiftResult(caseName string, caseResult control.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.passFailResult = control.Lift(d.passFailResult, caseResult)

	switch caseResult {
	case control.Fail:
		if !contains(d.failedSteps, caseName) {
			d.failedSteps = append(d.failedSteps, caseName)
		}
	case control.Error:
		if !contains(d.errorSteps, caseName) {
			d.errorSteps = append(d.errorSteps, caseName)
		}
	}
}

// PassFailResult returns the DUT's current rolled-up verdict.
func (d *Dut) PassFailResult() control.Result {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.passFailResult
}

// FailedSteps returns the ordered list of case names that reached Fail.
func (d *Dut) FailedSteps() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return append([]string(nil), d.failedSteps...)
}

// ErrorSteps returns the ordered list of case names that reached Error.
func (d *Dut) ErrorSteps() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return append([]string(nil), d.errorSteps...)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}

	return false
}
