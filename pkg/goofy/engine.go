// Package goofy is the test execution engine. It walks a built test list,
// dispatches leaf tests to an Invoker and applies the retry, parallel,
// barrier, teardown and action_on_failure rules of the tree.
//
// All run state is owned by a single control loop (Engine.Run). Requests
// and task completions reach it through an inbox; readers get copies.
package goofy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"code.cloudfoundry.org/clock"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/expr"
	"github.com/arccode/factory-sub002/pkg/logger"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

var (
	// ErrClosed is returned by requests made after the control loop exited.
	ErrClosed = errors.New("engine is not running")
	// ErrBusy is returned by requests that need an idle engine.
	ErrBusy = errors.New("a run is in progress")
	// ErrUnknownPath is returned for run requests naming no test.
	ErrUnknownPath = errors.New("no test at path")
)

// Config configures an Engine.
type Config struct {
	TestList *testlist.TestList
	Invoker  core.Invoker

	// Operator confirms barriers. Without one, barriers pass immediately.
	Operator core.Operator
	// Device supplies the device snapshot seen by expressions.
	Device core.DeviceDataSource
	// StateProxy is exposed to test arguments as state_proxy.
	StateProxy expr.Object

	Observers []core.Observer

	// InitialStates restores states saved by a previous process.
	InitialStates map[string]core.RunState

	// NoStartRuns skips the runs queued by auto_run_on_start and
	// retry_failed_on_start. clear_state_on_start still applies.
	NoStartRuns bool

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Engine runs tests from one test list.
type Engine struct {
	tl         *testlist.TestList
	invoker    core.Invoker
	operator   core.Operator
	device     core.DeviceDataSource
	stateProxy expr.Object
	observers  []core.Observer
	clock      clock.Clock
	initial    map[string]core.RunState
	noStart    bool

	inbox chan message
	done  chan struct{}
	once  sync.Once

	mu      sync.RWMutex
	states  map[string]core.RunState
	current *core.RunInfo
	last    *core.RunInfo

	// Owned by the control loop
	seq         uint64
	run         *run
	queue       []*runRequest
	waiters     []chan struct{}
	resources   *resourceTable
	tasks       map[string]*task
	skipForever map[string]bool
}

// New creates an Engine. Call Run to start it.
func New(cfg Config) (*Engine, error) {
	if cfg.TestList == nil {
		return nil, fmt.Errorf("no test list")
	}
	if cfg.Invoker == nil {
		return nil, fmt.Errorf("no invoker")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.Device == nil {
		cfg.Device = core.StaticDeviceData{}
	}

	return &Engine{
		tl:          cfg.TestList,
		invoker:     cfg.Invoker,
		operator:    cfg.Operator,
		device:      cfg.Device,
		stateProxy:  cfg.StateProxy,
		observers:   cfg.Observers,
		clock:       cfg.Clock,
		initial:     cfg.InitialStates,
		noStart:     cfg.NoStartRuns,
		inbox:       make(chan message, 64),
		done:        make(chan struct{}),
		states:      make(map[string]core.RunState),
		resources:   newResourceTable(),
		tasks:       make(map[string]*task),
		skipForever: make(map[string]bool),
	}, nil
}

// TestList returns the test list the engine runs
func (e *Engine) TestList() *testlist.TestList {
	return e.tl
}

// Run executes the control loop until ctx is done. The start-up options of
// the test list are applied first. Run may only be called once.
func (e *Engine) Run(ctx context.Context) error {
	ran := false
	e.once.Do(func() { ran = true })
	if !ran {
		return fmt.Errorf("engine already started")
	}
	defer close(e.done)

	e.restore(ctx)
	e.safely(ctx, "start options", func() {
		e.applyStartOptions()
		e.pump(ctx)
	})

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case m := <-e.inbox:
			e.handle(ctx, m)
		}
	}
}

// RunTests runs the tests under path whose status is in filter. An empty
// filter runs every test.
func (e *Engine) RunTests(path string, filter ...core.TestStatus) error {
	return e.submit(&runRequest{root: path, filter: filter})
}

// RestartTests clears and reruns path. When the parent group is not
// independently retestable the whole group is rerun instead.
func (e *Engine) RestartTests(path string) error {
	return e.submit(&runRequest{root: path, restart: true})
}

// AutoRun runs every test that has not finished yet.
func (e *Engine) AutoRun() error {
	return e.submit(autoRunRequest())
}

// RetryFailed reruns every failed test.
func (e *Engine) RetryFailed() error {
	return e.submit(retryFailedRequest())
}

// Stop cancels the current run and any queued runs. Running tests are
// marked FAILED with reason; teardown tests still run.
func (e *Engine) Stop(reason string) error {
	return e.request(&stopRequest{reason: reason, reply: make(chan error, 1)})
}

// ClearState resets every test to UNTESTED. It fails while a run is active.
func (e *Engine) ClearState() error {
	return e.request(&clearRequest{reply: make(chan error, 1)})
}

// Wait blocks until no run is active or queued.
func (e *Engine) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	if err := e.send(ctx, &waitRequest{done: ch}); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// States returns a copy of every node's state keyed by path.
func (e *Engine) States() map[string]core.RunState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]core.RunState, len(e.states))
	for k, v := range e.states {
		out[k] = v
	}
	return out
}

// State returns a copy of one node's state.
func (e *Engine) State(path string) (core.RunState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[path]
	return st, ok
}

// Summary computes counts over every leaf test.
func (e *Engine) Summary() core.Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.summaryLocked(e.tl.Root.Leaves())
}

// CurrentRun returns the active run, if any.
func (e *Engine) CurrentRun() (core.RunInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return core.RunInfo{}, false
	}
	return *e.current, true
}

// LastRun returns the most recently finished run, if any.
func (e *Engine) LastRun() (core.RunInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return core.RunInfo{}, false
	}
	return *e.last, true
}

func (e *Engine) submit(req *runRequest) error {
	if _, ok := e.tl.Lookup(req.root); !ok {
		return fmt.Errorf("%w %q", ErrUnknownPath, req.root)
	}
	req.reply = make(chan error, 1)
	return e.request(req)
}

// request sends m and waits for the loop to accept it.
func (e *Engine) request(m replier) error {
	if err := e.send(context.Background(), m); err != nil {
		return err
	}
	select {
	case err := <-m.replyChan():
		return err
	case <-e.done:
		return ErrClosed
	}
}

func (e *Engine) send(ctx context.Context, m message) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	select {
	case e.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// post delivers a task completion, dropping it once the loop has exited.
func (e *Engine) post(m message) {
	select {
	case e.inbox <- m:
	case <-e.done:
	}
}

// handle processes one message and advances the run.
func (e *Engine) handle(ctx context.Context, m message) {
	e.safely(ctx, fmt.Sprintf("%T", m), func() {
		switch m := m.(type) {
		case *runRequest:
			m.reply <- nil
			e.queue = append(e.queue, m)
		case *stopRequest:
			e.stop(m.reason)
			m.reply <- nil
		case *clearRequest:
			if e.run != nil || len(e.queue) > 0 {
				m.reply <- ErrBusy
				return
			}
			e.clearState()
			m.reply <- nil
		case *waitRequest:
			e.waiters = append(e.waiters, m.done)
		case *taskDone:
			e.handleTaskDone(ctx, m)
		default:
			panic(fmt.Sprintf("unknown message %T", m))
		}
		e.pump(ctx)
	})
}

// safely runs fn on the control loop. A panic is an engine bug: it is
// logged and the run is forced to stop.
func (e *Engine) safely(ctx context.Context, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Internal engine error in %s: %v", what, r)
			e.forceStop(ctx, core.ErrInternal.WithMessage(fmt.Sprintf("internal error: %v", r)).Error())
		}
	}()
	fn()
}

// applyStartOptions queues the runs the test list asks for at start-up.
func (e *Engine) applyStartOptions() {
	opts := e.tl.Options
	if opts.ClearStateOnStart {
		e.clearState()
	}
	if e.noStart {
		return
	}
	switch {
	case opts.RetryFailedOnStart:
		e.queue = append(e.queue, retryFailedRequest())
	case opts.AutoRunOnStart:
		e.queue = append(e.queue, autoRunRequest())
	}
}

// forceStop brings the run to a safe stop after an internal error. If that
// fails too, the run is abandoned with every active test marked FAILED.
func (e *Engine) forceStop(ctx context.Context, reason string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Unable to stop run cleanly, abandoning it: %v", r)
			e.abandon(reason)
		}
	}()
	e.stop(reason)
	e.pump(ctx)
}

// shutdown cancels everything when the loop exits.
func (e *Engine) shutdown() {
	for _, t := range e.tasks {
		t.cancel()
	}
	if e.run != nil {
		e.abandon("engine shut down")
	}
	for _, w := range e.waiters {
		close(w)
	}
	e.waiters = nil
}
