package control

import "errors"

// Sentinel errors for the engine-wide error taxonomy.
// These are designed for errors.Is()/errors.As() checking and wrapping with
// fmt.Errorf("%w: ..."), following the same sentinel-error style used across the codebase.
var (
	// Configuration errors: fatal at run start, never fatal to the process.

	// ErrUnknownSequence is returned when a requested sequence name has no
	// registered manifest.
	ErrUnknownSequence = errors.New("unknown sequence")
	// ErrUnknownCase is returned when a sequence references a case name that
	// has no registered factory.
	ErrUnknownCase = errors.New("unknown test case")
	// ErrUnknownRunningMode names a running mode outside the station's
	// configured RunningModes. Intake does not check running modes, so no
	// code path returns it.
	ErrUnknownRunningMode = errors.New("unknown running mode")
	// ErrUnknownPosition names a serial keyed by a position name the station
	// doesn't know about. Intake does not check position names, so no code
	// path returns it.
	ErrUnknownPosition = errors.New("unknown test position")
	// ErrIntakeRejected marks an intake message that failed validation; the
	// consumer logs it and keeps waiting for a corrected one.
	ErrIntakeRejected = errors.New("intake message rejected")

	// Instrument errors.

	// ErrInstrumentFatal is returned by a driver when the station should
	// abort the in-flight run.
	ErrInstrumentFatal = errors.New("fatal instrument error")

	// Case errors.

	// ErrMeasurementMissing names a mandatory limit with no matching
	// measurement. The missing-measurement check records a message on the
	// case record and does not return this error.
	ErrMeasurementMissing = errors.New("measurement missing")
	// ErrLimitPredicate wraps a panic recovered while evaluating a limit
	// predicate; an error the predicate returns is recorded unwrapped.
	ErrLimitPredicate = errors.New("limit predicate error")
	// ErrSyncTimeout is returned when a barrier rendezvous does not
	// complete within its configured timeout.
	ErrSyncTimeout = errors.New("thread synchronization timeout")
	// ErrSyncAborted is returned to every waiter of a barrier that was
	// invalidated by an abort.
	ErrSyncAborted = errors.New("thread synchronization aborted")

	// Run-level errors.

	// ErrAborted marks a run that was cancelled mid-flight; no report is
	// written for it.
	ErrAborted = errors.New("run aborted")
	// ErrTerminated marks the outer orchestrator loop ending by request.
	ErrTerminated = errors.New("orchestrator terminated")

	// Persistence errors are always logged, never propagated.

	// ErrPersistenceFailed wraps any report-sink or DB-handler failure.
	ErrPersistenceFailed = errors.New("persistence sink failed")
)
