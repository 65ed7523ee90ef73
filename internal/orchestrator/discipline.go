package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/jotautomation/iris/internal/control"
	"github.com/jotautomation/iris/internal/position"
	"github.com/jotautomation/iris/internal/sequence"
	"github.com/jotautomation/iris/internal/testcase"
)

// abortPollInterval is how often watchAbort checks TestControl's abort flag
// for a worker parked in a barrier wait; short enough that an operator's
// abort is felt well inside a typical BarrierTimeout, not at its tail.
const abortPollInterval = 50 * time.Millisecond

// watchAbort releases every non-nil barrier the instant the run is
// aborted or ctx is cancelled, so a worker blocked in Barrier.Wait doesn't
// sit out the full BarrierTimeout. The returned stop func must be called
// once the step's barriers are no longer in use.
func watchAbort(ctx context.Context, tc *control.TestControl, barriers ...*testcase.Barrier) (stop func()) {
	live := make([]*testcase.Barrier, 0, len(barriers))

	for _, b := range barriers {
		if b != nil {
			live = append(live, b)
		}
	}

	if len(live) == 0 {
		return func() {}
	}

	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(abortPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				for _, b := range live {
					b.Abort()
				}

				return
			case <-ticker.C:
				if tc.IsAborted() {
					for _, b := range live {
						b.Abort()
					}

					return
				}
			}
		}
	}()

	return func() { close(done) }
}

// pendingPre tracks a case's in-flight background pre_test, started at its
// "_pre" token and joined when the plain token for the same case appears.
type pendingPre struct {
	runner *testcase.Runner
	done   chan error
}

// executeFanOut implements PARALLEL and PER_TEST_CASE: for every step, all
// active positions run it concurrently and the orchestrator waits for the
// whole fan-out to finish before moving to the next step. PER_TEST_CASE
// additionally installs fresh Mid/Completed barriers, sized to the active
// position count, on every plain step.
func (o *Orchestrator) executeFanOut(ctx context.Context, runID string, manifest *sequence.Manifest, schedule []step) {
	preTasks := make(map[*position.TestPosition]map[string]pendingPre, len(o.Positions))

	for _, pos := range o.Positions {
		preTasks[pos] = make(map[string]pendingPre)
	}

	for _, st := range schedule {
		active := o.activePositions()
		if len(active) == 0 {
			break
		}

		if st.Pre {
			for _, pos := range active {
				runner, err := o.caseRunner(pos, runID, manifest, st.CaseName, nil, nil)
				if err != nil {
					o.Logger.Error("starting pre_test", "case", st.CaseName, "error", err)
					continue
				}

				done := make(chan error, 1)

				go func(r *testcase.Runner) { done <- r.RunPreTest(ctx) }(runner)

				preTasks[pos][st.CaseName] = pendingPre{runner: runner, done: done}
			}

			continue
		}

		var mid, completed *testcase.Barrier

		if o.Config.Discipline == PerTestCase {
			n := len(active)

			if o.Config.SyncMode == SyncMid || o.Config.SyncMode == SyncBoth {
				mid = testcase.NewBarrier(n)
			}

			if o.Config.SyncMode == SyncCompleted || o.Config.SyncMode == SyncBoth {
				completed = testcase.NewBarrier(n)
			}
		}

		abortStop := watchAbort(ctx, o.Control, mid, completed)

		var wg, postWG sync.WaitGroup

		for _, pos := range active {
			wg.Add(1)

			go func(pos *position.TestPosition) {
				defer wg.Done()

				pos.SetStep(st.CaseName)

				var runner *testcase.Runner

				if pending, ok := preTasks[pos][st.CaseName]; ok {
					delete(preTasks[pos], st.CaseName)

					runner = pending.runner
					runner.Base.MidBarrier = mid
					runner.Base.CompletedBarrier = completed
					runner.Base.BarrierTimeout = o.Config.BarrierTimeout

					if err := <-pending.done; err != nil {
						runner.HandleError(err)
						return
					}
				} else {
					var err error

					runner, err = o.caseRunner(pos, runID, manifest, st.CaseName, mid, completed)
					if err != nil {
						o.Logger.Error("starting case", "case", st.CaseName, "error", err)
						return
					}

					if err := runner.RunPreTest(ctx); err != nil {
						runner.HandleError(err)
						return
					}
				}

				if err := runner.RunTest(ctx); err != nil {
					runner.HandleError(err)
					return
				}

				postWG.Add(1)

				go func(r *testcase.Runner) {
					defer postWG.Done()

					if err := r.RunPostTest(ctx); err != nil {
						r.HandleError(err)
					}
				}(runner)
			}(pos)
		}

		wg.Wait()
		abortStop()
		// post_test runs concurrently across this step's active positions but
		// must be joined here, before the schedule advances to the next case's
		// pre_test or plain step: a worker's post_test always happens-before
		// the next case starts on that position.
		postWG.Wait()
	}
}

// executePerDut implements PER_DUT: each position's entire case list runs
// to completion, serially, before the next position starts. No barriers are
// ever installed.
func (o *Orchestrator) executePerDut(ctx context.Context, runID string, manifest *sequence.Manifest, schedule []step) {
	for _, pos := range o.Positions {
		if pos.Dut() == nil || pos.ShouldStopTesting() {
			continue
		}

		preTasks := make(map[string]pendingPre)

		for _, st := range schedule {
			if pos.ShouldStopTesting() {
				break
			}

			pos.SetStep(st.CaseName)

			if st.Pre {
				runner, err := o.caseRunner(pos, runID, manifest, st.CaseName, nil, nil)
				if err != nil {
					o.Logger.Error("starting pre_test", "case", st.CaseName, "error", err)
					continue
				}

				done := make(chan error, 1)

				go func(r *testcase.Runner) { done <- r.RunPreTest(ctx) }(runner)

				preTasks[st.CaseName] = pendingPre{runner: runner, done: done}

				continue
			}

			var runner *testcase.Runner

			if pending, ok := preTasks[st.CaseName]; ok {
				delete(preTasks, st.CaseName)

				runner = pending.runner
				if err := <-pending.done; err != nil {
					runner.HandleError(err)
					continue
				}
			} else {
				var err error

				runner, err = o.caseRunner(pos, runID, manifest, st.CaseName, nil, nil)
				if err != nil {
					o.Logger.Error("starting case", "case", st.CaseName, "error", err)
					continue
				}

				if err := runner.RunPreTest(ctx); err != nil {
					runner.HandleError(err)
					continue
				}
			}

			if err := runner.RunTest(ctx); err != nil {
				runner.HandleError(err)
				continue
			}

			var postWG sync.WaitGroup

			postWG.Add(1)

			go func(r *testcase.Runner) {
				defer postWG.Done()

				if err := r.RunPostTest(ctx); err != nil {
					r.HandleError(err)
				}
			}(runner)

			// Joined here, before the loop advances to the next schedule
			// token, so this position's post_test always happens-before its
			// next case's pre_test or plain step.
			postWG.Wait()
		}
	}
}
