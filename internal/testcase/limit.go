// Package testcase implements the test-case execution contract: the
// pre/test/post lifecycle, measurement intake, and the limit evaluator that
// reduces measurements into per-case and per-DUT verdicts.
package testcase

import (
	"fmt"

	"github.com/jotautomation/iris/internal/control"
	"github.com/jotautomation/iris/internal/position"
)

// Predicate classifies one measurement value as passing or failing. A
// returned error (including a recovered panic, see checkPredicate)
// escalates the measurement and its case to control.Error.
type Predicate func(value any) (bool, error)

// Limit is one measurement's pass/fail rule within a case's limit table.
type Limit struct {
	Check       Predicate
	Unit        string
	ReportLimit string // human-readable rendering shown in reports/UI
	Optional    bool
}

// CaseLimits maps measurement name to its Limit within one case.
type CaseLimits map[string]Limit

// Table is a sequence's full limit table: case name to its CaseLimits.
type Table map[string]CaseLimits

// evaluateMeasurement applies the limit table entry for (caseName, name),
// if any, to m, and records the resolved result in m.Result. A measurement
// with no matching limit entry is recorded as Pass with an empty Limit
// string, per the engine's stated null-limit policy.
func evaluateMeasurement(table Table, caseName string, m *position.Measurement) {
	caseLimits, ok := table[caseName]
	if !ok {
		m.Result = control.Pass
		m.Limit = ""

		return
	}

	limit, ok := caseLimits[m.Name]
	if !ok {
		m.Result = control.Pass
		m.Limit = ""

		return
	}

	m.Unit = limit.Unit
	m.Limit = limit.ReportLimit

	ok2, err := checkPredicate(limit.Check, m.Value)
	if err != nil {
		m.Result = control.Error
		m.Error = err.Error()

		return
	}

	if ok2 {
		m.Result = control.Pass
	} else {
		m.Result = control.Fail
	}
}

// checkPredicate runs pred, converting a panic inside a user predicate into
// an error instead of crashing the worker.
func checkPredicate(pred Predicate, value any) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", control.ErrLimitPredicate, r)
		}
	}()

	if pred == nil {
		return true, nil
	}

	return pred(value)
}

// checkMissingMandatoryMeasurements walks every (case, measurement) pair in
// the limit table that is not marked optional, and errors the case if its
// DUT has no matching measurement recorded. Mirrors check_measurements_vs_limits,
// run once per case during post-test.
func checkMissingMandatoryMeasurements(table Table, dut *position.Dut, flowControl FlowControl, pos *position.TestPosition) {
	for caseName, limits := range table {
		for measurementName, limit := range limits {
			if limit.Optional {
				continue
			}

			rec := dut.Case(caseName)
			if rec == nil {
				continue // case never ran this cycle (e.g. skipped by stop_testing)
			}

			if _, ok := rec.Measurements[measurementName]; ok {
				continue
			}

			rec.Result = control.Error
			rec.Error = fmt.Sprintf("Measurement %q missing", measurementName)
			dut.LiftResult(caseName, control.Error)

			if flowControl == StopOnFail && pos != nil {
				pos.StopTesting()
			}
		}
	}
}
