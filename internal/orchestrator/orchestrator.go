// Package orchestrator implements the Run Orchestrator (C8): the outer
// state machine that drives one test run from instrument check through SN
// intake, sequence execution, finalization, and reporting, looping under
// the gate the station's control surface operates.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jotautomation/iris/internal/control"
	"github.com/jotautomation/iris/internal/intake"
	"github.com/jotautomation/iris/internal/position"
	"github.com/jotautomation/iris/internal/progress"
	"github.com/jotautomation/iris/internal/sequence"
	"github.com/jotautomation/iris/internal/testcase"
)

// Discipline selects how a sequence's cases are fanned out across bound
// positions.
type Discipline int

const (
	// Parallel runs every active position's current case concurrently, with
	// no intra-case rendezvous, fanning in before the next case starts.
	Parallel Discipline = iota
	// PerTestCase is Parallel plus Barrier-based rendezvous per SyncMode.
	PerTestCase
	// PerDut runs one position's entire case list to completion before
	// moving to the next position; never installs barriers.
	PerDut
)

// SyncMode selects which barriers PerTestCase installs on every worker's
// case instance.
type SyncMode int

const (
	SyncNone SyncMode = iota
	// SyncMid installs only the mid-case barrier a case reaches via
	// SyncThreads from inside Test.
	SyncMid
	// SyncCompleted installs only the barrier awaited automatically after
	// Test returns and before PostTest.
	SyncCompleted
	// SyncBoth installs both.
	SyncBoth
)

// Instrument is the subset of a driver the orchestrator needs to gate
// CHECK_INSTRUMENTS; drivers live outside this package.
type Instrument interface {
	Name() string
	Status(ctx context.Context) (string, error)
}

// Intake is satisfied by UIIntake, ExternalIntake, and InstrumentIntake —
// whichever variant the station configured as its single active source.
type Intake interface {
	Run(ctx context.Context) (*intake.Accumulated, error)
}

// SequenceSource resolves manifests and case factories; satisfied by
// *sequence.Registry.
type SequenceSource interface {
	Resolve(name string) (*sequence.Manifest, error)
	CaseFactory(caseName string) (sequence.CaseFactory, error)
}

// Config holds the station-level execution settings the station's config
// loader derives from STATION_SETTINGS / environment.
type Config struct {
	Discipline     Discipline
	SyncMode       SyncMode
	BarrierTimeout time.Duration
	FlowControl    testcase.FlowControl
	LoopExecution  bool
	LoopTimeBudget time.Duration // 0 means unbounded; only stop_looping/abort end the loop
}

// consecutiveFailThreshold is the number of consecutive identical
// failure signatures that triggers an operator warning, reset whenever a
// run passes.
const consecutiveFailThreshold = 5

// Orchestrator wires every other component together and drives the outer
// run loop described by the engine's state machine.
type Orchestrator struct {
	Control   *control.TestControl
	Positions []*position.TestPosition
	Sequences SequenceSource
	Progress  *progress.Reporter
	Intake    Intake
	Sink      ReportSink
	Store     testcase.DataFileStore
	Config    Config
	Logger    *slog.Logger

	instruments      []Instrument
	instrumentsByKey map[string]any

	consecutiveFails   int
	lastFailSignature  string
	passCountSinceWarn int
}

// New creates an Orchestrator ready to Start. instruments is the station's
// configured driver set, used both for CHECK_INSTRUMENTS and for the
// Instruments map every case's Base is populated with.
func New(
	tc *control.TestControl,
	positions []*position.TestPosition,
	seq SequenceSource,
	rep *progress.Reporter,
	in Intake,
	sink ReportSink,
	store testcase.DataFileStore,
	instruments []Instrument,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	byKey := make(map[string]any, len(instruments))
	for _, inst := range instruments {
		byKey[inst.Name()] = inst
	}

	return &Orchestrator{
		Control:          tc,
		Positions:        positions,
		Sequences:        seq,
		Progress:         rep,
		Intake:           in,
		Sink:             sink,
		Store:            store,
		Config:           cfg,
		Logger:           logger,
		instruments:      instruments,
		instrumentsByKey: byKey,
	}
}

// Start blocks, running BOOT once and then the gate→run loop until the
// outer loop is asked to terminate or ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.Progress.SetGeneralState("Boot")
	o.checkInstruments(ctx)
	o.Progress.SetGeneralState("Initialized")

	loopCycle := 0

	for {
		if !o.Control.WaitForRun() {
			o.Progress.SetGeneralState("Shutdown")
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.runOnce(ctx, loopCycle)
		loopCycle++

		if o.Control.SingleRun() {
			o.Control.Terminate()
		}
	}
}

// runOnce executes PREPARE_POSITIONS through REPORT for a single outer-loop
// iteration.
func (o *Orchestrator) runOnce(ctx context.Context, loopCycle int) {
	o.Control.StampRunStart(time.Now())
	defer o.Control.StampRunStop(time.Now())

	o.Progress.SetGeneralState("Prepare")

	for _, pos := range o.Positions {
		pos.PrepareForNewTestRun()
	}

	o.Progress.SetGeneralState("Prepare")

	o.Progress.SetGeneralState("Intake")

	result, err := o.Intake.Run(ctx)
	if err != nil {
		o.Logger.Error("sn intake failed", "error", err)
		return
	}

	o.bindDuts(result.Result())

	if result.Sequence == "" {
		o.Logger.Error("intake completed without a sequence name")
		return
	}

	manifest, err := o.Sequences.Resolve(result.Sequence)
	if err != nil {
		o.Logger.Error("unable to resolve sequence", "sequence", result.Sequence, "error", err)
		return
	}

	o.Progress.SetSequenceName(manifest.Name)
	o.Control.SetRunningMode(result.RunningMode)
	o.Progress.SetRunMetadata(
		o.Control.SNFromUI(),
		o.Control.TestSequences(),
		map[string][]string{manifest.Name: manifest.EffectiveCases()},
		result.RunningMode,
		o.Control.GageRRState(),
	)

	schedule := buildSchedule(manifest, result.TestCases)

	runID := uuid.NewString()

	o.Progress.SetGeneralState("testing")
	o.executeLoop(ctx, runID, manifest, schedule, loopCycle)

	o.Progress.SetGeneralState("finalize")

	aborted := o.Control.ConsumeAbort()
	overall := o.finalize(ctx, aborted)

	o.Progress.SetOverallResult(overall.String())
}

// executeLoop runs EXECUTE_CASES once, or repeatedly under LOOP_EXECUTION
// until a position requests stop_looping, the configured time budget is
// exceeded, or the run is aborted/terminated. Loop-mode reports are emitted
// once per cycle with lastResult true only on the final cycle.
func (o *Orchestrator) executeLoop(ctx context.Context, runID string, manifest *sequence.Manifest, schedule []step, outerCycle int) {
	cycle := 0

	for {
		o.execute(ctx, runID, manifest, schedule)

		last := !o.Config.LoopExecution || o.loopShouldStop(cycle)

		if !o.Control.ReportOff() && !o.Control.IsAborted() {
			if err := o.Sink.CreateReport(ctx, runID, o.Positions, outerCycle*1000+cycle, last); err != nil {
				o.Logger.Error("report sink failed", "error", err)
			}
		}

		cycle++

		if last {
			return
		}
	}
}

func (o *Orchestrator) loopShouldStop(cycle int) bool {
	if o.Control.ShouldTerminate() || o.Control.IsAborted() {
		return true
	}

	for _, pos := range o.Positions {
		if pos.ShouldStopLooping() {
			return true
		}
	}

	if o.Config.LoopTimeBudget > 0 && time.Since(o.Control.RunStart()) >= o.Config.LoopTimeBudget {
		return true
	}

	return false
}

func (o *Orchestrator) execute(ctx context.Context, runID string, manifest *sequence.Manifest, schedule []step) {
	switch o.Config.Discipline {
	case PerDut:
		o.executePerDut(ctx, runID, manifest, schedule)
	default:
		o.executeFanOut(ctx, runID, manifest, schedule)
	}
}

// bindDuts constructs a DUT for every position the intake reported a
// non-empty serial for; positions left unmentioned stay idle for this run.
func (o *Orchestrator) bindDuts(result intake.Result) {
	for i, pos := range o.Positions {
		sn := result.Serials[pos.Name]
		if sn == "" {
			continue
		}

		dut := position.NewDut(sn, pos.Name, i)
		pos.BindDut(dut)
		pos.SetStatus(position.StatusTesting)
		pos.SetTestStatus(position.TestStatusTesting)
	}
}

func (o *Orchestrator) activePositions() []*position.TestPosition {
	active := make([]*position.TestPosition, 0, len(o.Positions))

	for _, pos := range o.Positions {
		if pos.Dut() != nil && !pos.ShouldStopTesting() {
			active = append(active, pos)
		}
	}

	return active
}

// checkInstruments blocks until every configured instrument reports "OK" or
// is covered by a mock, polling once a second.
func (o *Orchestrator) checkInstruments(ctx context.Context) {
	for _, inst := range o.instruments {
		name := inst.Name()

		if o.isMocked(name) {
			o.Progress.SetInstrumentStatus(name, "mocked")
			continue
		}

		for {
			if ctx.Err() != nil {
				return
			}

			status, err := inst.Status(ctx)
			if err != nil {
				o.Logger.Warn("instrument status check failed", "instrument", name, "error", err)
				time.Sleep(time.Second)

				continue
			}

			o.Progress.SetInstrumentStatus(name, status)

			if status == "OK" {
				break
			}

			time.Sleep(time.Second)
		}
	}
}

func (o *Orchestrator) isMocked(name string) bool {
	if o.Control.DryRun() {
		return true
	}

	for _, m := range o.Control.Mock() {
		if m == name {
			return true
		}
	}

	inverse := o.Control.InverseMock()
	if len(inverse) == 0 {
		return false
	}

	for _, m := range inverse {
		if m == name {
			return false
		}
	}

	return true
}

func (o *Orchestrator) newBase(pos *position.TestPosition, runID string, manifest *sequence.Manifest, caseName string, mid, completed *testcase.Barrier) *testcase.Base {
	return &testcase.Base{
		Name:             caseName,
		FlowControl:      o.Config.FlowControl,
		Logger:           o.Logger,
		Parameters:       manifest.Parameters,
		Instruments:      o.instrumentsByKey,
		Limits:           manifest.Limits,
		Dut:              pos.Dut(),
		Position:         pos,
		Progress:         o.Progress,
		Store:            o.Store,
		RunID:            runID,
		MidBarrier:       mid,
		CompletedBarrier: completed,
		BarrierTimeout:   o.Config.BarrierTimeout,
		Abort:            o.Control.Abort,
	}
}

func (o *Orchestrator) caseRunner(pos *position.TestPosition, runID string, manifest *sequence.Manifest, caseName string, mid, completed *testcase.Barrier) (*testcase.Runner, error) {
	factory, err := o.Sequences.CaseFactory(caseName)
	if err != nil {
		return nil, fmt.Errorf("resolving case %s: %w", caseName, err)
	}

	base := o.newBase(pos, runID, manifest, caseName, mid, completed)
	c := factory(base)

	return testcase.NewRunner(c, base, manifest.Limits), nil
}
