package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/jotautomation/iris/internal/control"
	"github.com/jotautomation/iris/internal/position"
)

// ReportSink is the persistence boundary FINALIZE and REPORT call through;
// implemented by internal/persistence.
type ReportSink interface {
	// CreateReport writes one loop cycle's report. lastResult is true only
	// on the cycle that ends the run (always true outside LOOP_EXECUTION).
	CreateReport(ctx context.Context, runID string, positions []*position.TestPosition, loopCycle int, lastResult bool) error
	// FinalizeTest persists the run's overall verdict once execution and any
	// looping has ended.
	FinalizeTest(ctx context.Context, verdict control.Result, positions []*position.TestPosition) error
	// TestAborted is called instead of FinalizeTest when the run was
	// cancelled mid-flight.
	TestAborted(ctx context.Context, positions []*position.TestPosition) error
}

// finalize classifies every bound position's final status, advances the
// consecutive-fail warning and Gage-R&R counters, and calls the
// appropriate ReportSink hook. Returns the run's overall (lifted) verdict.
func (o *Orchestrator) finalize(ctx context.Context, aborted bool) control.Result {
	overall := control.Pass

	var anyBound bool

	for _, pos := range o.Positions {
		d := pos.Dut()
		if d == nil {
			continue
		}

		anyBound = true

		verdict := d.PassFailResult()
		overall = control.Lift(overall, verdict)

		switch verdict {
		case control.Pass:
			pos.SetTestStatus(position.TestStatusPass)
		case control.Fail:
			pos.SetTestStatus(position.TestStatusFail)
		case control.Error:
			pos.SetTestStatus(position.TestStatusError)
		}

		pos.SetStatus(position.StatusWait)
		pos.SetStep("")

		o.Logger.Info("dut finalized", "serial_number", d.SerialNumber, "test_position", pos.Name, "result", verdict.String())
	}

	if !anyBound {
		return overall
	}

	if aborted {
		overall = control.Fail

		for _, pos := range o.Positions {
			if pos.Dut() != nil {
				pos.SetTestStatus(position.TestStatusAbort)
			}
		}

		if err := o.Sink.TestAborted(ctx, o.Positions); err != nil {
			o.Logger.Error("test_aborted hook failed", "error", err)
		}
	} else {
		o.checkConsecutiveFails(overall)

		if err := o.Sink.FinalizeTest(ctx, overall, o.Positions); err != nil {
			o.Logger.Error("finalize_test hook failed", "error", err)
		}
	}

	o.Control.AdvanceGageRR()

	return overall
}

// checkConsecutiveFails tracks runs of identical ordered failed-step
// signatures across bound positions, warning the operator once the run
// reaches consecutiveFailThreshold and the pass count since the last
// warning is still below it.
func (o *Orchestrator) checkConsecutiveFails(overall control.Result) {
	if overall == control.Pass {
		o.consecutiveFails = 0
		o.passCountSinceWarn++

		return
	}

	sig := o.failSignature()

	if sig == o.lastFailSignature {
		o.consecutiveFails++
	} else {
		o.consecutiveFails = 1
		o.lastFailSignature = sig
	}

	if o.consecutiveFails >= consecutiveFailThreshold && o.passCountSinceWarn < consecutiveFailThreshold {
		o.Logger.Warn("consecutive failure threshold reached", "count", o.consecutiveFails, "signature", sig)
		o.Progress.ShowOperatorInstructions(fmt.Sprintf("WARNING: %d consecutive failures on %s", o.consecutiveFails, sig), false)
		o.passCountSinceWarn = 0
	}
}

// failSignature builds a stable key from every bound DUT's ordered
// failed/error steps, used to detect "the same failure" across runs.
func (o *Orchestrator) failSignature() string {
	parts := make([]string, 0, len(o.Positions))

	for _, pos := range o.Positions {
		d := pos.Dut()
		if d == nil {
			continue
		}

		steps := append(append([]string(nil), d.FailedSteps()...), d.ErrorSteps()...)
		parts = append(parts, pos.Name+":"+strings.Join(steps, ","))
	}

	return strings.Join(parts, "|")
}
