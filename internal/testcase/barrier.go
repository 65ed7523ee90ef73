package testcase

import (
	"context"
	"sync"
	"time"

	"github.com/jotautomation/iris/internal/control"
)

// generation is one round of a Barrier: size waiters arrive, the last one
// closes done and the Barrier moves to a fresh generation. A round that
// times out or is aborted is marked failed before done is closed, so
// waiters woken by the close can tell success from failure apart — this is
// the fix for the classic races that a barrier reused-immediately-after-reset.
type generation struct {
	done   chan struct{}
	count  int
	closed bool
	failed bool
	err    error
}

// Barrier is a reusable rendezvous point for a fixed number of workers. Its
// generation counter means a worker returning from round N can never
// consume round N+1's slot, which a naively reset barrier allows.
type Barrier struct {
	mu      sync.Mutex
	size    int
	gen     *generation
	aborted bool
}

// NewBarrier creates a Barrier that releases its waiters once size of them
// have called Wait in the same generation.
func NewBarrier(size int) *Barrier {
	return &Barrier{
		size: size,
		gen:  &generation{done: make(chan struct{})},
	}
}

// Wait blocks until every other worker in this round has also called Wait,
// the round times out, the round is aborted, or ctx is cancelled. The last
// arrival returns immediately without blocking.
func (b *Barrier) Wait(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()

	if b.aborted {
		b.mu.Unlock()

		return control.ErrSyncAborted
	}

	g := b.gen
	g.count++

	if g.count >= b.size {
		g.closed = true
		close(g.done)
		b.gen = &generation{done: make(chan struct{})}
		b.mu.Unlock()

		return nil
	}

	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.done:
		if g.failed {
			return g.err
		}

		return nil
	case <-timer.C:
		b.invalidate(g, control.ErrSyncTimeout)

		return control.ErrSyncTimeout
	case <-ctx.Done():
		b.invalidate(g, control.ErrSyncAborted)

		return control.ErrSyncAborted
	}
}

// invalidate fails the given generation exactly once and rotates the
// Barrier to a new one, so waiters still arriving don't join a dead round.
func (b *Barrier) invalidate(g *generation, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if g.closed {
		return
	}

	g.closed = true
	g.failed = true
	g.err = err
	close(g.done)

	if b.gen == g {
		b.gen = &generation{done: make(chan struct{})}
	}
}

// Abort permanently fails the in-flight round and every round after it,
// until Reset is called. Used when the orchestrator cancels the whole run.
func (b *Barrier) Abort() {
	b.mu.Lock()
	b.aborted = true
	g := b.gen
	b.mu.Unlock()

	b.invalidate(g, control.ErrSyncAborted)
}

// Reset clears Abort, starting a fresh generation for the next run.
func (b *Barrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.aborted = false
	b.gen = &generation{done: make(chan struct{})}
}
