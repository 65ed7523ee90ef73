package testcase

import (
	"context"
	"log/slog"
	"time"

	"github.com/jotautomation/iris/internal/position"
)

// FlowControl selects what happens to the rest of a DUT's case list after
// a non-pass verdict.
type FlowControl int

const (
	// Continue runs every case in the sequence regardless of outcome.
	Continue FlowControl = iota
	// StopOnFail stops a DUT's remaining cases as soon as one is non-pass.
	StopOnFail
)

// ProgressReporter is the subset of the progress reporter a case needs;
// defined here so testcase never imports internal/progress.
type ProgressReporter interface {
	ShowOperatorInstructions(message string, append bool)
}

// DataFileStore persists the metadata record for a file a case attaches via
// StoreTestDataFile. Implemented by internal/persistence; nil is a valid
// no-op store for tests.
type DataFileStore interface {
	StoreTestDataFile(ctx context.Context, rec *position.Media) error
}

// Case is the three user-overridable phases of a test case. PreTest and
// PostTest default to no-ops in Base; Test has no default because every
// case must define one.
type Case interface {
	PreTest(ctx context.Context) error
	Test(ctx context.Context) error
	PostTest(ctx context.Context) error

	Clean()
	CleanPass()
	CleanFail()
	CleanError()
}

// Base implements PreTest/PostTest and Clean/CleanPass/CleanFail/CleanError
// as no-ops, leaves Test to the embedding struct, and carries the
// engine-provided helpers (NewMeasurement, StopTesting, SyncThreads, ...).
// A concrete case embeds *Base and overrides Test (required) and whichever
// of PreTest/PostTest it needs.
type Base struct {
	Name string

	FlowControl FlowControl
	Logger      *slog.Logger
	Parameters  map[string]any
	Instruments map[string]any
	Limits      Table

	Dut      *position.Dut
	Position *position.TestPosition
	Progress ProgressReporter
	Store    DataFileStore

	RunID string

	StartTime          time.Time
	StartTimeMonotonic time.Time
	EndTime            time.Time
	DurationS          float64

	// MidBarrier and CompletedBarrier are installed by the orchestrator only
	// under PER_TEST_CASE; both nil under PARALLEL/PER_DUT.
	MidBarrier       *Barrier
	CompletedBarrier *Barrier
	BarrierTimeout   time.Duration

	// Abort, when set by the orchestrator, cancels the whole in-flight run
	// rather than just this case; HandleError calls it on
	// control.ErrInstrumentFatal.
	Abort func()
}

// PreTest's, PostTest's, Clean*'s default no-op bodies: a case that doesn't
// need a phase simply doesn't override it.
func (b *Base) PreTest(_ context.Context) error  { return nil }
func (b *Base) PostTest(_ context.Context) error { return nil }
func (b *Base) Clean()                           {}
func (b *Base) CleanPass()                       {}
func (b *Base) CleanFail()                       {}
func (b *Base) CleanError()                      {}

// NewMeasurement records value under name in the current case record,
// last-write-wins on repeated names.
func (b *Base) NewMeasurement(name string, value any) {
	rec := b.Dut.EnsureCase(b.Name)

	m, ok := rec.Measurements[name]
	if !ok {
		m = &position.Measurement{Name: name}
		rec.Measurements[name] = m
	}

	m.Value = value
}

// ShowOperatorInstructions emits an instruction event through the progress
// reporter; append concatenates onto the previous message with a newline.
func (b *Base) ShowOperatorInstructions(message string, append bool) {
	if b.Progress != nil {
		b.Progress.ShowOperatorInstructions(message, append)
	}
}

// StopTesting sets stop_testing on the owning position, effective before
// the next case.
func (b *Base) StopTesting() {
	if b.Position != nil {
		b.Position.StopTesting()
	}
}

// StopLooping sets stop_looping on the owning position, effective before
// the next loop cycle.
func (b *Base) StopLooping() {
	if b.Position != nil {
		b.Position.StopLooping()
	}
}

// SyncThreads performs a cooperative mid-case rendezvous across every live
// position under PER_TEST_CASE/MID or /BOTH. It is a no-op when no mid
// barrier was installed for this run (PARALLEL, PER_DUT, or COMPLETED-only).
func (b *Base) SyncThreads(ctx context.Context, timeout time.Duration) error {
	if b.MidBarrier == nil {
		return nil
	}

	if timeout <= 0 {
		timeout = b.BarrierTimeout
	}

	return b.MidBarrier.Wait(ctx, timeout)
}
