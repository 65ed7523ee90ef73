package control

import (
	"sync"
	"time"
)

// GageRR holds the station's Gage R&R study configuration and its live
// counters.
type GageRR struct {
	Operators int
	Duts      int
	Trials    int

	// Live counters, advanced trial → dut → operator, wrapping to Completed
	// once every operator has run every DUT through every trial.
	Trial     int
	Dut       int
	Operator  int
	Completed bool
}

// Advance moves the Gage-R&R counter triple one step: trial first, then
// dut, then operator, wrapping each into the next when it reaches its
// configured bound. Setting Completed once every operator has been
// exhausted.
func (g *GageRR) Advance() {
	if g == nil || g.Completed {
		return
	}

	g.Trial++
	if g.Trial < g.Trials {
		return
	}

	g.Trial = 0
	g.Dut++

	if g.Dut < g.Duts {
		return
	}

	g.Dut = 0
	g.Operator++

	if g.Operator >= g.Operators {
		g.Completed = true
	}
}

// TestControl is the mutex-guarded record of every run-control flag the
// outer loop, the intake, and the control surface share. Booleans that gate
// run-loop behaviour are read/written under mu; the run gate itself is a
// dedicated condition variable so pause/resume never races a reader blocked
// in Wait.
type TestControl struct {
	mu sync.Mutex

	// runCond gates entry into a new run: Pause blocks it, Resume releases
	// all waiters. It never interrupts a run already in flight.
	runCond    *sync.Cond
	runAllowed bool

	terminate bool
	abort     bool

	singleRun   bool
	reportOff   bool
	dryRun      bool
	mock        []string
	inverseMock []string

	getSNFromUI     bool
	getSNExternally bool
	testSequences   []string
	testCases       map[string][]string // sequence -> case filter, from intake "testCases"
	runningMode     string
	gageRR          *GageRR

	startTimeMonotonic time.Time
	stopTimeMonotonic  time.Time
	stopTimeTimestamp  time.Time
	testTime           time.Duration

	plcModule []string
}

// NewTestControl creates a TestControl with the run gate open, ready for
// the orchestrator's first run at boot.
func NewTestControl() *TestControl {
	tc := &TestControl{
		runAllowed: true,
		testCases:  make(map[string][]string),
	}
	tc.runCond = sync.NewCond(&tc.mu)

	return tc
}

// WaitForRun blocks until the run gate is open or the outer loop has been
// asked to terminate. Returns false if it woke up because of Terminate.
func (tc *TestControl) WaitForRun() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	for !tc.runAllowed && !tc.terminate {
		tc.runCond.Wait()
	}

	return !tc.terminate
}

// Pause closes the run gate; a run already in flight is unaffected.
func (tc *TestControl) Pause() {
	tc.mu.Lock()
	tc.runAllowed = false
	tc.mu.Unlock()
}

// Resume opens the run gate and wakes every waiter.
func (tc *TestControl) Resume() {
	tc.mu.Lock()
	tc.runAllowed = true
	tc.mu.Unlock()
	tc.runCond.Broadcast()
}

// Terminate ends the outer orchestrator loop after the current run
// completes, and wakes any goroutine blocked in WaitForRun.
func (tc *TestControl) Terminate() {
	tc.mu.Lock()
	tc.terminate = true
	tc.mu.Unlock()
	tc.runCond.Broadcast()
}

// ShouldTerminate reports whether the outer loop has been asked to stop.
func (tc *TestControl) ShouldTerminate() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return tc.terminate
}

// Abort cancels only the current run; the next outer-loop iteration
// proceeds normally.
func (tc *TestControl) Abort() {
	tc.mu.Lock()
	tc.abort = true
	tc.mu.Unlock()
}

// ConsumeAbort reports whether abort was requested and clears the flag,
// so the next run starts from a clean slate.
func (tc *TestControl) ConsumeAbort() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	aborted := tc.abort
	tc.abort = false

	return aborted
}

// IsAborted reports the abort flag without clearing it.
func (tc *TestControl) IsAborted() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return tc.abort
}

// SetSingleRun / SingleRun control whether the outer loop terminates itself
// after one run (the --single-run CLI flag).
func (tc *TestControl) SetSingleRun(v bool) {
	tc.mu.Lock()
	tc.singleRun = v
	tc.mu.Unlock()
}

func (tc *TestControl) SingleRun() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return tc.singleRun
}

// SetReportOff / ReportOff control whether the orchestrator calls the report
// sink's CreateReport after each loop cycle; FinalizeTest is called either way.
func (tc *TestControl) SetReportOff(v bool) {
	tc.mu.Lock()
	tc.reportOff = v
	tc.mu.Unlock()
}

func (tc *TestControl) ReportOff() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return tc.reportOff
}

// SetDryRun / DryRun control whether instrument drivers are replaced by mocks.
func (tc *TestControl) SetDryRun(v bool) {
	tc.mu.Lock()
	tc.dryRun = v
	tc.mu.Unlock()
}

func (tc *TestControl) DryRun() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return tc.dryRun
}

// SetMock / Mock control the explicit mock instrument allow-list.
func (tc *TestControl) SetMock(names []string) {
	tc.mu.Lock()
	tc.mock = append([]string(nil), names...)
	tc.mu.Unlock()
}

func (tc *TestControl) Mock() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return append([]string(nil), tc.mock...)
}

// SetInverseMock / InverseMock control the inverse mock instrument list
// (every instrument except these is mocked).
func (tc *TestControl) SetInverseMock(names []string) {
	tc.mu.Lock()
	tc.inverseMock = append([]string(nil), names...)
	tc.mu.Unlock()
}

func (tc *TestControl) InverseMock() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return append([]string(nil), tc.inverseMock...)
}

// SetSNSource configures which of the three SN intake variants is active.
func (tc *TestControl) SetSNSource(fromUI, externally bool) {
	tc.mu.Lock()
	tc.getSNFromUI = fromUI
	tc.getSNExternally = externally
	tc.mu.Unlock()
}

func (tc *TestControl) SNFromUI() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return tc.getSNFromUI
}

func (tc *TestControl) SNExternally() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return tc.getSNExternally
}

// SetTestSequences / TestSequences record the known sequence names, surfaced
// to the progress snapshot as "test_sequences".
func (tc *TestControl) SetTestSequences(names []string) {
	tc.mu.Lock()
	tc.testSequences = append([]string(nil), names...)
	tc.mu.Unlock()
}

func (tc *TestControl) TestSequences() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return append([]string(nil), tc.testSequences...)
}

// SetRunningMode / RunningMode record the active running mode
// (Production/Debug/GageRR/...).
func (tc *TestControl) SetRunningMode(mode string) {
	tc.mu.Lock()
	tc.runningMode = mode
	tc.mu.Unlock()
}

func (tc *TestControl) RunningMode() string {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return tc.runningMode
}

// SetGageRR / GageRRState manage the Gage-R&R study configuration/counters.
func (tc *TestControl) SetGageRR(g *GageRR) {
	tc.mu.Lock()
	tc.gageRR = g
	tc.mu.Unlock()
}

func (tc *TestControl) GageRRState() *GageRR {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return tc.gageRR
}

// AdvanceGageRR advances the live Gage-R&R counter under lock, a no-op if
// Gage-R&R is not configured.
func (tc *TestControl) AdvanceGageRR() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.gageRR.Advance()
}

// StampRunStart / StampRunStop record the monotonic timestamps used by
// LOOP_TIME_IN_SECONDS budget checks.
func (tc *TestControl) StampRunStart(t time.Time) {
	tc.mu.Lock()
	tc.startTimeMonotonic = t
	tc.mu.Unlock()
}

func (tc *TestControl) StampRunStop(t time.Time) {
	tc.mu.Lock()
	tc.stopTimeMonotonic = t
	tc.stopTimeTimestamp = time.Now()
	tc.mu.Unlock()
}

func (tc *TestControl) RunStart() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return tc.startTimeMonotonic
}
