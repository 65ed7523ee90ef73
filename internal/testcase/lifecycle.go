package testcase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jotautomation/iris/internal/control"
	"github.com/jotautomation/iris/internal/position"
)

// Runner drives one Case instance through its pre/test/post lifecycle. It
// is constructed fresh for each (position, case) pair of a run; Base holds
// the mutable execution state the lifecycle methods stamp into the DUT's
// case record.
type Runner struct {
	Case  Case
	Base  *Base
	Table Table
}

// NewRunner wires a Case to its Base and initializes the DUT's case record
// for this run, matching the constructor-time record creation a case needs
// before its first measurement.
func NewRunner(c Case, base *Base, table Table) *Runner {
	base.Dut.EnsureCase(base.Name)

	return &Runner{Case: c, Base: base, Table: table}
}

// RunPreTest stamps start times, runs PreTest, then reduces whatever
// measurements it recorded into verdicts.
func (r *Runner) RunPreTest(ctx context.Context) (err error) {
	defer r.recoverInto(&err)

	r.Base.StartTime = time.Now()
	r.Base.StartTimeMonotonic = time.Now()

	if err = r.Case.PreTest(ctx); err != nil {
		return err
	}

	r.evaluateResults()

	return nil
}

// RunTest runs Test, performing the COMPLETED-discipline rendezvous right
// after it returns (before PostTest) when a completed barrier is installed,
// then reduces results again.
func (r *Runner) RunTest(ctx context.Context) (err error) {
	defer r.recoverInto(&err)

	if err = r.Case.Test(ctx); err != nil {
		return err
	}

	if r.Base.CompletedBarrier != nil {
		if syncErr := r.Base.CompletedBarrier.Wait(ctx, r.Base.BarrierTimeout); syncErr != nil {
			return syncErr
		}
	}

	r.evaluateResults()

	return nil
}

// RunPostTest runs PostTest, re-evaluates, checks mandatory-measurement
// coverage, dispatches CleanPass/CleanFail, then Clean, then stamps the
// case record's timing fields.
func (r *Runner) RunPostTest(ctx context.Context) (err error) {
	defer r.recoverInto(&err)
	defer r.stampEndTime()

	if err = r.Case.PostTest(ctx); err != nil {
		return err
	}

	r.evaluateResults()
	checkMissingMandatoryMeasurements(r.Table, r.Base.Dut, r.Base.FlowControl, r.Base.Position)

	if r.Base.Dut.PassFailResult() == control.Pass || r.Base.Dut.PassFailResult() == control.Testing {
		r.Case.CleanPass()
	} else {
		r.Case.CleanFail()
	}

	r.Case.Clean()

	return nil
}

// HandleError classifies the whole case as Error with the given payload,
// stamps end times, and invokes CleanError. Never propagates further —
// the orchestrator's workers call this with the error a phase returned.
func (r *Runner) HandleError(err error) {
	defer r.stampEndTime()

	rec := r.Base.Dut.EnsureCase(r.Base.Name)
	rec.Result = control.Error
	rec.Error = err.Error()

	r.Base.Dut.LiftResult(r.Base.Name, control.Error)

	if r.Base.FlowControl == StopOnFail {
		r.Base.StopTesting()
	}

	if errors.Is(err, control.ErrInstrumentFatal) && r.Base.Abort != nil {
		r.Base.Abort()
	}

	r.Case.CleanError()
}

// evaluateResults applies the limit table to every measurement recorded so
// far for this case, then lifts the case result and the DUT's rolled-up
// verdict. A non-pass case result fires stop_testing when FlowControl is
// StopOnFail.
func (r *Runner) evaluateResults() {
	rec := r.Base.Dut.EnsureCase(r.Base.Name)

	caseResult := control.Pass

	for _, m := range rec.Measurements {
		evaluateMeasurement(r.Table, r.Base.Name, m)
		caseResult = control.Lift(caseResult, m.Result)
	}

	rec.Result = control.Lift(rec.Result, caseResult)
	r.Base.Dut.LiftResult(r.Base.Name, rec.Result)

	if rec.Result != control.Pass && rec.Result != control.Testing && r.Base.FlowControl == StopOnFail {
		r.Base.StopTesting()
	}
}

// stampEndTime records end_time/duration_s into the case record; safe to
// call more than once (HandleError and RunPostTest both defer it).
func (r *Runner) stampEndTime() {
	rec := r.Base.Dut.EnsureCase(r.Base.Name)

	r.Base.EndTime = time.Now()
	r.Base.DurationS = time.Since(r.Base.StartTimeMonotonic).Seconds()

	rec.StartTime = r.Base.StartTime
	rec.EndTime = r.Base.EndTime
	rec.DurationS = r.Base.DurationS
}

// recoverInto turns a panic inside a phase method into an error return,
// so one case's bug can't take down its worker goroutine.
func (r *Runner) recoverInto(err *error) {
	if rec := recover(); rec != nil {
		*err = fmt.Errorf("panic in case %s: %v", r.Base.Name, rec)
	}
}

// StoreTestDataFile relocates a case-produced artefact into the run's
// media list and persists its metadata record. dest is namespaced by case,
// serial number, and run ID so repeated runs never collide.
func (b *Base) StoreTestDataFile(ctx context.Context, sourcePath, destName string, meta map[string]any) error {
	namespaced := fmt.Sprintf("%s_%s_%s_%s", b.Name, b.Dut.SerialNumber, b.RunID, destName)

	media := &position.Media{
		Name: namespaced,
		Path: sourcePath,
		Meta: meta,
	}

	if b.Store != nil {
		if err := b.Store.StoreTestDataFile(ctx, media); err != nil {
			return fmt.Errorf("%w: %v", control.ErrPersistenceFailed, err)
		}
	}

	rec := b.Dut.EnsureCase(b.Name)
	rec.Media = append(rec.Media, media)

	return nil
}
