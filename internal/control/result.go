// Package control provides the cross-cutting run-control surface shared by every
// component of the sequencer engine: the pass/fail/error result lattice, the
// engine-wide error taxonomy, and the mutable TestControl record that the outer
// run loop, the SN intake, and the HTTP control surface all read and write.
package control

// Result is a verdict on the pass < fail < error lattice. Zero value is
// Testing, the state a case or DUT starts in before any verdict has been
// produced.
type Result int

const (
	// Testing is the initial state before any measurement has been evaluated.
	Testing Result = iota
	// Pass means every measurement satisfied its limit.
	Pass
	// Fail means at least one measurement failed its limit, but nothing errored.
	Fail
	// Error means a measurement, predicate, or phase raised an error.
	Error
	// NA marks a case that was never instantiated (e.g. skipped by SKIP list).
	NA
)

// String renders the result: lowercase for the lattice states, with
// "Idle"/"Testing" reserved for position test_status display.
func (r Result) String() string {
	switch r {
	case Testing:
		return "testing"
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Error:
		return "error"
	case NA:
		return "NA"
	default:
		return "unknown"
	}
}

// rank maps a Result onto its position in the monotone lattice. NA is
// deliberately excluded from the pass<fail<error ordering: it is not a
// verdict, it is the absence of one, and must never be compared against one.
func rank(r Result) int {
	switch r {
	case Testing:
		return 0
	case Pass:
		return 1
	case Fail:
		return 2
	case Error:
		return 3
	default:
		return -1
	}
}

// Lift returns the monotone join of current and incoming on the
// pass < fail < error lattice: the result never moves back toward Pass once
// it has risen above it.
func Lift(current, incoming Result) Result {
	if incoming == NA {
		return current
	}

	if current == NA {
		return incoming
	}

	if rank(incoming) > rank(current) {
		return incoming
	}

	return current
}
