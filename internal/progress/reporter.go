package progress

import (
	"sync"

	"github.com/jotautomation/iris/internal/position"
)

// defaultQueueSize bounds the subscriber channel; once full, the oldest
// queued snapshot is dropped to make room for the newest one. State fields
// are always re-derivable from the next emission, so losing an
// intermediate snapshot is harmless.
const defaultQueueSize = 64

// PositionSource is the subset of position.TestPosition the reporter reads
// to build a snapshot's Duts map.
type PositionSource interface {
	String() string
	Step() string
	GetStatus() position.Status
	GetTestStatus() position.TestStatus
	Dut() *position.Dut
	PreviousDut() *position.DutSnapshot
}

// Reporter is the mutable aggregate described by the Progress Reporter
// contract: every public method is thread-safe and ends by pushing a fresh
// Snapshot to subscribers.
type Reporter struct {
	mu sync.Mutex

	generalState  string
	positions     []PositionSource
	sequenceName  string
	getSNFromUI   bool
	testSequences []string
	testCases     map[string][]string
	runningMode   string
	gageRR        any

	overallResult string
	statistics    any

	instrumentStatus map[string]string
	versionInfo      map[string]string

	operatorInstructions string
	reportPaths          map[string]string

	subscribers []chan Snapshot
}

// New creates an empty Reporter; positions are attached once via
// SetPositions before the first run starts.
func New() *Reporter {
	return &Reporter{
		instrumentStatus: make(map[string]string),
		versionInfo:      make(map[string]string),
		reportPaths:      make(map[string]string),
	}
}

// Subscribe returns a bounded, drop-oldest channel of snapshots. Every call
// creates an independent subscriber; there is no Unsubscribe because the
// engine's subscribers live for the process lifetime.
func (r *Reporter) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, defaultQueueSize)

	r.mu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.mu.Unlock()

	return ch
}

// SetPositions attaches the station's test positions so every snapshot can
// include their live state. Called once at boot.
func (r *Reporter) SetPositions(positions []PositionSource) {
	r.mu.Lock()
	r.positions = positions
	r.mu.Unlock()
}

// SetGeneralState updates the top-level run-loop state and emits. The
// orchestrator sets Boot, Initialized, Prepare, Intake, testing, finalize
// and Shutdown; the report step sets no state of its own.
func (r *Reporter) SetGeneralState(state string) {
	r.mu.Lock()
	r.generalState = state
	r.mu.Unlock()
	r.emit()
}

// SetSequenceName records the active sequence name and emits.
func (r *Reporter) SetSequenceName(name string) {
	r.mu.Lock()
	r.sequenceName = name
	r.mu.Unlock()
	r.emit()
}

// SetRunMetadata merges the fields the outer loop derives from TestControl
// (get_sn_from_ui, test_sequences, test_cases, running_mode, gage_rr) and
// emits, mirroring set_progress(**kwargs) merging arbitrary fields in one
// locked step.
func (r *Reporter) SetRunMetadata(getSNFromUI bool, testSequences []string, testCases map[string][]string, runningMode string, gageRR any) {
	r.mu.Lock()
	r.getSNFromUI = getSNFromUI
	r.testSequences = testSequences
	r.testCases = testCases
	r.runningMode = runningMode
	r.gageRR = gageRR
	r.mu.Unlock()
	r.emit()
}

// SetOverallResult records the finalized run verdict and emits.
func (r *Reporter) SetOverallResult(result string) {
	r.mu.Lock()
	r.overallResult = result
	r.mu.Unlock()
	r.emit()
}

// SetStatistics records an opaque statistics payload (pass rates, counts,
// Gage-R&R progress) and emits.
func (r *Reporter) SetStatistics(stats any) {
	r.mu.Lock()
	r.statistics = stats
	r.mu.Unlock()
	r.emit()
}

// SetInstrumentStatus performs a sparse per-instrument map update and emits.
func (r *Reporter) SetInstrumentStatus(name, status string) {
	r.mu.Lock()
	r.instrumentStatus[name] = status
	r.mu.Unlock()
	r.emit()
}

// SetVersionInfo performs a sparse version-info map update and emits.
func (r *Reporter) SetVersionInfo(key, value string) {
	r.mu.Lock()
	r.versionInfo[key] = value
	r.mu.Unlock()
	r.emit()
}

// ShowOperatorInstructions emits an instruction event; append concatenates
// onto the previous message with a newline separator instead of replacing
// it.
func (r *Reporter) ShowOperatorInstructions(message string, append bool) {
	r.mu.Lock()

	if append && r.operatorInstructions != "" {
		r.operatorInstructions = r.operatorInstructions + "\n" + message
	} else {
		r.operatorInstructions = message
	}

	r.mu.Unlock()
	r.emit()
}

// SetReportPaths records the artefact paths produced by the last finalized
// run and emits.
func (r *Reporter) SetReportPaths(paths map[string]string) {
	r.mu.Lock()
	r.reportPaths = paths
	r.mu.Unlock()
	r.emit()
}

// Snapshot returns the current aggregate without emitting — used by
// callers (e.g. an HTTP poll handler) that want the latest state on demand
// rather than subscribing to the stream.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.buildLocked()
}

// emit serialises the aggregate and pushes it to every subscriber,
// dropping the oldest queued snapshot on a full channel so emission never
// blocks the caller longer than one enqueue.
func (r *Reporter) emit() {
	r.mu.Lock()
	snap := r.buildLocked()
	subs := append([]chan Snapshot(nil), r.subscribers...)
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}

			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// buildLocked assembles a Snapshot from the aggregate; callers must hold mu.
func (r *Reporter) buildLocked() Snapshot {
	duts := make(map[string]PositionSnapshot, len(r.positions))

	for _, p := range r.positions {
		var sn string

		var dutClass any

		if d := p.Dut(); d != nil {
			sn = d.SerialNumber
			dutClass = d.Snapshot()
		} else if prev := p.PreviousDut(); prev != nil {
			dutClass = prev
		}

		duts[p.String()] = PositionSnapshot{
			Step:       p.Step(),
			Status:     string(p.GetStatus()),
			SN:         sn,
			TestStatus: string(p.GetTestStatus()),
			DutClass:   dutClass,
		}
	}

	return Snapshot{
		GeneralState:         r.generalState,
		Duts:                 duts,
		SequenceName:         r.sequenceName,
		GetSNFromUI:          r.getSNFromUI,
		TestSequences:        r.testSequences,
		TestCases:            r.testCases,
		RunningMode:          r.runningMode,
		GageRR:               r.gageRR,
		OverallResult:        r.overallResult,
		Statistics:           r.statistics,
		InstrumentStatus:     r.instrumentStatus,
		VersionInfo:          r.versionInfo,
		OperatorInstructions: r.operatorInstructions,
		ReportPaths:          r.reportPaths,
	}
}
