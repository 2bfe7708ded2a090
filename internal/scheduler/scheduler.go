// Package scheduler implements the Builder: the worker pool that drives
// actions from pending to ready to complete, per §4.E and §5.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nrednay/sebuild/internal/console"
	"github.com/nrednay/sebuild/internal/core"
	"github.com/nrednay/sebuild/internal/state"
	"golang.org/x/sync/errgroup"
)

// ActionRunner executes one action's Command, given its finalized I/O. It
// may release lock around blocking operations (subprocess I/O) and must
// reacquire it before returning; cancelCtx is done once the build has been
// interrupted, so an in-flight subprocess can be killed. Implemented by
// runner.ExecutionRunner and, decorating that, cache.CachingRunner.
type ActionRunner interface {
	Run(cancelCtx context.Context, a *core.Action, as *state.ActionState, lock sync.Locker, log core.LogSink) bool
}

// TestResult records the outcome of one registered Test for the final
// report.
type TestResult struct {
	Test   *core.Test
	Cached bool // true if the result artifact wasn't dirty at registration
	Passed bool
	Err    error
}

// Builder is the Scheduler of §4.E: it owns the StateMap, the ready queue,
// and drives N workers to completion or first failure.
type Builder struct {
	fsRead func(filename string) ([]byte, error)
	states *state.StateMap
	runner ActionRunner
	jobs   int

	console *console.Status

	cancel context.CancelFunc
	ctx    context.Context

	mu          sync.Mutex
	queue       []*core.Action
	numPending  int
	idle        int // workers currently parked because the queue is empty
	failed      bool
	failCause   error
	interrupted bool

	pending []*core.Action // every action ever marked IsPending, for cycle diagnosis
	tests   []*TestResult
}

// New constructs a Builder. fsRead is used only by PrintTestResults to read
// test result artifact contents after the build finishes.
func New(states *state.StateMap, runner ActionRunner, jobs int, fsRead func(string) ([]byte, error)) *Builder {
	if jobs < 1 {
		jobs = 1
	}
	return &Builder{
		fsRead:  fsRead,
		states:  states,
		runner:  runner,
		jobs:    jobs,
		console: console.New(jobs),
	}
}

// AddRule registers every output artifact of an already-expanded rule.
func (b *Builder) AddRule(rule *core.Rule) error {
	for _, a := range rule.Outputs {
		if err := b.AddArtifact(a); err != nil {
			return err
		}
	}
	return nil
}

// AddTest registers a test's two artifacts and records it for the final
// report. cached reflects whether the result was already clean at
// registration time (a pre-existing pass/fail that this build won't rerun).
func (b *Builder) AddTest(t *core.Test) error {
	b.mu.Lock()
	st, err := b.states.Artifact(t.ResultArtifact)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.tests = append(b.tests, &TestResult{Test: t, Cached: !st.IsDirty})
	if err := b.AddArtifact(t.ResultArtifact); err != nil {
		return err
	}
	return b.AddArtifact(t.OutputArtifact)
}

// AddArtifact adds a's producing action (and recursively its blockers) if a
// is currently dirty.
func (b *Builder) AddArtifact(a *core.Artifact) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, err := b.states.Artifact(a)
	if err != nil {
		return err
	}
	if !st.IsDirty || a.Action == nil {
		return nil
	}
	return b.addActionLocked(a.Action)
}

func (b *Builder) addActionLocked(a *core.Action) error {
	as := b.states.Action(a)
	if as.IsPending {
		return nil
	}
	as.IsPending = true
	b.numPending++
	b.pending = append(b.pending, a)

	newlyReady, err := b.states.UpdateReadiness(a)
	if err != nil {
		return err
	}
	if newlyReady {
		b.pushFront(a)
		return nil
	}
	for blocker := range as.Blocking {
		if err := b.addActionLocked(blocker); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) pushFront(a *core.Action) {
	b.queue = append([]*core.Action{a}, b.queue...)
}

// Build runs workers until nothing is pending or a failure occurred. If ctx
// is cancelled (e.g. by a user interrupt), Interrupt() is called
// automatically and in-flight subprocesses are killed.
func (b *Builder) Build(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(context.Background())
	defer b.cancel()

	go func() {
		select {
		case <-ctx.Done():
			b.Interrupt()
			b.cancel()
		case <-b.ctx.Done():
		}
	}()

	eg := new(errgroup.Group)
	for i := 0; i < b.jobs; i++ {
		worker := i
		eg.Go(func() error { return b.workerLoop(worker) })
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failed {
		return b.failCause
	}
	return nil
}

func (b *Builder) workerLoop(worker int) error {
	b.mu.Lock()
	for {
		if b.failed {
			b.mu.Unlock()
			return nil
		}
		if b.numPending == 0 {
			b.mu.Unlock()
			return nil
		}
		if len(b.queue) == 0 {
			b.idle++
			if b.idle == b.jobs {
				// Every worker is parked, work remains pending, and nothing
				// is in flight to ever unblock it: the remaining actions
				// form a dependency cycle.
				err := b.detectDeadlock()
				b.failed = true
				b.failCause = err
				b.mu.Unlock()
				return err
			}
			b.mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			b.mu.Lock()
			b.idle--
			continue
		}
		a := b.queue[0]
		b.queue = b.queue[1:]
		b.numPending--
		as := b.states.Action(a)

		b.console.Update(worker+1, a.StatusName())
		log := &bufferedLog{}
		ok := b.runner.Run(b.ctx, a, as, &b.mu, log)
		log.flush(a)

		if !ok {
			b.failed = true
			if b.interrupted {
				b.failCause = &core.Cancellation{}
			} else {
				b.failCause = &core.CommandFailure{Action: a}
			}
			b.console.Refresh()
			b.mu.Unlock()
			return b.failCause
		}

		blocked := b.states.Complete(a, time.Now())
		for _, dep := range blocked {
			depState := b.states.Action(dep)
			if !depState.IsPending {
				continue
			}
			newlyReady, err := b.states.UpdateReadiness(dep)
			if err != nil {
				b.failed = true
				b.failCause = err
				b.mu.Unlock()
				return err
			}
			if newlyReady {
				b.pushFront(dep)
				continue
			}
			for blocker := range depState.Blocking {
				if bs := b.states.Action(blocker); !bs.IsPending {
					if err := b.addActionLocked(blocker); err != nil {
						b.failed = true
						b.failCause = err
						b.mu.Unlock()
						return err
					}
				}
			}
		}
		b.console.Update(worker+1, "idle")
	}
}

// detectDeadlock is called once every worker is simultaneously idle with
// work still pending: nothing can possibly complete to unblock anything
// else, so the remaining pending actions form a dependency cycle. Builds the
// action graph state.StateMap already tracked and hands it to
// core.DetectCycle for a full trace.
func (b *Builder) detectDeadlock() error {
	edges := make(map[*core.Action][]*core.Action)
	seen := make(map[*core.Action]bool)
	var collect func(a *core.Action)
	collect = func(a *core.Action) {
		if seen[a] {
			return
		}
		seen[a] = true
		as := b.states.Action(a)
		var deps []*core.Action
		for blocker := range as.Blocking {
			deps = append(deps, blocker)
			collect(blocker)
		}
		edges[a] = deps
	}
	for _, a := range b.pending {
		if as := b.states.Action(a); as.IsPending && !as.IsReady {
			collect(a)
		}
	}
	if err := core.DetectCycle(edges); err != nil {
		return err
	}
	return core.DefinitionErrorf("build deadlocked: pending actions form a cycle not reachable from the queue")
}

// Interrupt marks the build failed with the distinguished INTERRUPTED cause;
// in-flight workers observe it on their next loop iteration.
func (b *Builder) Interrupt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = true
	b.interrupted = true
	b.failCause = &core.Cancellation{}
}

type bufferedLog struct {
	lines []string
}

func (l *bufferedLog) Printf(format string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *bufferedLog) flush(a *core.Action) {
	// Buffered and emitted atomically after the action finishes, so
	// concurrent actions never interleave their diagnostics.
	if len(l.lines) == 0 {
		return
	}
	console.PrintActionLog(a.StatusName(), l.lines)
}
