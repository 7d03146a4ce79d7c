package goofy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/logger"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

// pump starts queued runs and moves the current run forward until it has
// to wait for a task.
func (e *Engine) pump(ctx context.Context) {
	for {
		if e.run == nil {
			if len(e.queue) == 0 {
				e.releaseWaiters()
				return
			}
			req := e.queue[0]
			e.queue = e.queue[1:]
			e.startRun(ctx, req)
			continue
		}

		e.advance(ctx)
		if len(e.run.stack) > 0 || len(e.tasks) > 0 {
			return
		}
		e.finishRun()
	}
}

func (e *Engine) releaseWaiters() {
	for _, w := range e.waiters {
		close(w)
	}
	e.waiters = nil
}

func (e *Engine) startRun(ctx context.Context, req *runRequest) {
	root := e.tl.MustLookup(req.root)
	if req.restart {
		root = retestRoot(root)
		e.reset(root)
		e.markSkipForever()
	}

	r := newRun(e.tl, root, req.filter)
	r.info.ID = ulid.Make().String()
	r.info.StartTime = e.clock.Now()
	r.env = e.tl.Env(e.deviceData(ctx))
	r.env.StateProxy = e.stateProxy
	e.run = r

	info := r.info
	e.mu.Lock()
	e.current = &info
	e.mu.Unlock()

	logger.Info("Run %s started on %s", r.info.ID, describe(root))
	e.notifyRunStarted(info)

	for _, p := range r.lineage {
		e.update(p.Path, func(st *core.RunState) {
			st.Status = core.StatusActive
			st.Skipped = false
		})
	}
}

func (e *Engine) finishRun() {
	r := e.run
	for _, p := range r.lineage {
		e.settle(p)
	}

	r.info.EndTime = e.clock.Now()
	r.info.Summary = e.summaryLocked(runLeaves(r.root))
	info := r.info

	e.mu.Lock()
	e.current = nil
	e.last = &info
	e.mu.Unlock()

	logger.Info("Run %s finished: %d passed, %d failed, %d skipped, %d untested",
		info.ID, info.Summary.Passed, info.Summary.Failed, info.Summary.Skipped, info.Summary.Untested)
	e.notifyRunFinished(info)
	e.run = nil
}

// retestRoot climbs from n while the parent group does not allow its
// children to be retested on their own.
func retestRoot(n *testlist.Node) *testlist.Node {
	for n.Parent != nil && !n.Parent.Retestable {
		n = n.Parent
	}
	return n
}

func runLeaves(root *testlist.Node) []*testlist.Node {
	if root.IsLeaf() && !root.IsRoot() {
		return []*testlist.Node{root}
	}
	return root.Leaves()
}

// advance steps the innermost frame until it has to wait.
func (e *Engine) advance(ctx context.Context) {
	r := e.run
	for len(r.stack) > 0 {
		if !e.step(ctx, r.top()) {
			return
		}
	}
}

// step moves f forward and reports whether the frame stack changed.
func (e *Engine) step(ctx context.Context, f *frame) bool {
	e.retryBlocked(ctx, f)
	for {
		if !f.parallel && f.busy() {
			return false
		}
		if f.next >= len(f.children) {
			if f.busy() {
				return false
			}
			e.leave(f)
			return true
		}

		n := f.children[f.next]
		if n.IsBarrier() && f.busy() {
			return false
		}
		f.next++
		if !e.shouldVisit(f, n) {
			continue
		}
		if e.enter(ctx, f, n) {
			return true
		}
	}
}

// shouldVisit decides whether n is entered in the current run.
func (e *Engine) shouldVisit(f *frame, n *testlist.Node) bool {
	r := e.run
	if e.skipForever[n.Path] {
		if !e.states[n.Path].IsSkipped() {
			e.skip(n, "skipped_tests")
		}
		return false
	}
	if r.teardownOnly || f.abort {
		return hasTeardown(n)
	}
	if r.filter == nil || n.Teardown {
		return true
	}

	wanted := false
	n.Walk(func(c *testlist.Node) bool {
		if wanted {
			return false
		}
		if c.Teardown {
			wanted = true
			return false
		}
		if c.IsLeaf() {
			// run_if skips pass every filter so that run_if is checked again
			st := e.states[c.Path]
			if st.Skipped {
				wanted = !e.skipForever[c.Path]
			} else {
				wanted = r.filter[st.Status]
			}
		}
		return true
	})
	return wanted
}

func hasTeardown(n *testlist.Node) bool {
	found := false
	n.Walk(func(c *testlist.Node) bool {
		if c.Teardown {
			found = true
		}
		return !found
	})
	return found
}

// enter starts n and reports whether a frame was pushed for it.
func (e *Engine) enter(ctx context.Context, f *frame, n *testlist.Node) bool {
	if !n.IsBarrier() && !e.run.env.ShouldRun(n) {
		e.skip(n, "run_if is false")
		return false
	}
	if n.IsLeaf() && !n.IsRoot() {
		e.startLeaf(ctx, f, n)
		return false
	}

	e.startNode(n, true)
	e.run.push(newFrame(n, f.abort && !n.Teardown))
	return true
}

// startNode marks n ACTIVE. Fresh starts reset its iteration counters.
func (e *Engine) startNode(n *testlist.Node, fresh bool) core.RunState {
	return e.update(n.Path, func(st *core.RunState) {
		st.Status = core.StatusActive
		st.Skipped = false
		st.ErrorMsg = ""
		st.Visible = true
		st.Count++
		st.StartTime = e.clock.Now()
		st.EndTime = time.Time{}
		if fresh {
			st.IterationsLeft = n.Iterations
			st.RetriesLeft = n.Retries
		}
		if n.IsLeaf() {
			st.InvocationID = uuid.NewString()
		}
	})
}

// startLeaf dispatches leaf n, or parks it on f when one of its exclusive
// resources is taken.
func (e *Engine) startLeaf(ctx context.Context, f *frame, n *testlist.Node) {
	if !e.resources.tryAcquire(n.Path, n.ExclusiveResources) {
		logger.Debug("Test %s waits for resources %v", n.Path, n.ExclusiveResources)
		f.blocked = append(f.blocked, n)
		return
	}
	f.running[n.Path] = true
	st := e.startNode(n, true)
	e.dispatch(ctx, n, st)
}

// retryBlocked starts parked leaves whose resources became free.
func (e *Engine) retryBlocked(ctx context.Context, f *frame) {
	if len(f.blocked) == 0 {
		return
	}
	blocked := f.blocked
	f.blocked = nil
	for _, n := range blocked {
		if (e.run.teardownOnly || f.abort) && !n.Teardown {
			continue
		}
		e.startLeaf(ctx, f, n)
	}
}

// handleTaskDone records the result of a leaf and applies its iteration,
// retry and failure policies.
func (e *Engine) handleTaskDone(ctx context.Context, m *taskDone) {
	t, ok := e.tasks[m.path]
	if !ok || t.invocationID != m.invocationID {
		logger.Debug("Ignoring stale result for %s", m.path)
		return
	}
	delete(e.tasks, m.path)

	r := e.run
	if m.device != nil {
		r.env.Device = m.device
	}
	n := e.tl.MustLookup(m.path)
	f := r.frameRunning(m.path)
	if f == nil {
		panic(fmt.Sprintf("no frame is running %s", m.path))
	}
	delete(f.running, m.path)

	res := m.result
	passed := res.Status == core.StatusPassed
	st := e.states[n.Path]
	if !n.IsBarrier() && !(f.abort && !n.Teardown) && e.again(n, &st, passed) {
		e.finishAttempt(n, st, res)
		f.running[n.Path] = true
		e.dispatch(ctx, n, e.startNode(n, false))
		return
	}

	e.resources.release(n.Path)
	e.finishAttempt(n, st, res)
	if passed {
		return
	}

	switch {
	case n.IsBarrier():
		logger.Warn("Run stopped at barrier %s: %s", n.Path, res.ErrorMsg)
		e.stop(fmt.Sprintf("barrier %s: %s", n.Path, res.ErrorMsg))
	case n.Teardown:
		logger.Warn("Teardown test %s failed: %s", n.Path, res.ErrorMsg)
	default:
		e.applyPolicy(f, n)
	}
}

func (e *Engine) finishAttempt(n *testlist.Node, st core.RunState, res *core.InvocationResult) {
	st.Status = res.Status
	st.ErrorMsg = res.ErrorMsg
	st.EndTime = e.clock.Now()
	e.setState(n.Path, st, res.Attachments...)
}

// again consumes one iteration or retry from st and reports whether n
// runs again. -1 counters never run out.
func (e *Engine) again(n *testlist.Node, st *core.RunState, passed bool) bool {
	if e.run.teardownOnly && !n.Teardown {
		return false
	}
	if passed {
		if st.IterationsLeft > 0 {
			st.IterationsLeft--
		}
		return st.IterationsLeft != 0
	}
	if st.RetriesLeft == 0 {
		return false
	}
	if st.RetriesLeft > 0 {
		st.RetriesLeft--
	}
	return true
}

// leave finishes the group of frame f.
func (e *Engine) leave(f *frame) {
	r := e.run
	r.pop()
	if f.scope {
		return
	}

	n := f.node
	status, skipped := e.aggregate(n)
	st := e.states[n.Path]
	if status.IsTerminal() && e.again(n, &st, status == core.StatusPassed) {
		logger.Debug("Running group %s again (%d iterations, %d retries left)", n.Path, st.IterationsLeft, st.RetriesLeft)
		e.setState(n.Path, st)
		for _, c := range n.Children {
			e.reset(c)
		}
		e.startNode(n, false)
		parent := r.top()
		r.push(newFrame(n, parent != nil && parent.abort && !n.Teardown))
		return
	}

	st.Status = status
	st.Skipped = skipped
	st.EndTime = e.clock.Now()
	e.setState(n.Path, st)

	if status == core.StatusFailed && !n.Teardown {
		if parent := r.top(); parent != nil {
			e.applyPolicy(parent, n)
		}
	}
}

// applyPolicy reacts to the failure of n, a child of f.
func (e *Engine) applyPolicy(f *frame, n *testlist.Node) {
	action := n.ActionOnFailure
	if e.tl.Options.StopOnFailure {
		action = core.ActionStop
	}

	switch action {
	case core.ActionParent:
		logger.Info("%s failed, skipping its remaining siblings", n.Path)
		f.abort = true
		f.blocked = keepTeardown(f.blocked)
	case core.ActionStop:
		logger.Info("%s failed, stopping run", n.Path)
		r := e.run
		r.teardownOnly = true
		r.info.Stopped = true
		r.info.Reason = fmt.Sprintf("%s failed", n.Path)
		for _, fr := range r.stack {
			fr.blocked = keepTeardown(fr.blocked)
		}
	}
}

// stop cancels the current run and drops queued runs. Active tests other
// than teardown and disable_abort ones fail as cancelled.
func (e *Engine) stop(reason string) {
	e.queue = nil
	r := e.run
	if r == nil {
		return
	}
	logger.Info("Stopping run %s: %s", r.info.ID, reason)
	r.teardownOnly = true
	r.info.Stopped = true
	r.info.Reason = reason

	paths := make([]string, 0, len(e.tasks))
	for p := range e.tasks {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	msg := core.ErrCancelled.WithMessage("cancelled: " + reason).Error()
	for _, p := range paths {
		n := e.tl.MustLookup(p)
		if n.Teardown || n.DisableAbort {
			continue
		}
		e.tasks[p].cancel()
		delete(e.tasks, p)
		e.resources.release(p)
		if f := r.frameRunning(p); f != nil {
			delete(f.running, p)
		}
		e.update(p, func(st *core.RunState) {
			st.Status = core.StatusFailed
			st.ErrorMsg = msg
			st.EndTime = e.clock.Now()
		})
	}
	for _, f := range r.stack {
		f.blocked = keepTeardown(f.blocked)
	}
}

// abandon ends the current run without walking the tree any further.
func (e *Engine) abandon(reason string) {
	r := e.run
	if r == nil {
		return
	}
	for p, t := range e.tasks {
		t.cancel()
		e.resources.release(p)
	}
	e.tasks = make(map[string]*task)

	r.stack = nil
	r.info.Stopped = true
	r.info.Reason = reason
	for _, n := range e.tl.Nodes() {
		if e.states[n.Path].Status != core.StatusActive || n.IsGroup() || n.IsRoot() {
			continue
		}
		e.update(n.Path, func(st *core.RunState) {
			st.Status = core.StatusFailed
			st.ErrorMsg = reason
			st.EndTime = e.clock.Now()
		})
	}
	nodes := e.tl.Nodes()
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].IsGroup() && e.states[nodes[i].Path].Status == core.StatusActive {
			e.settle(nodes[i])
		}
	}
	e.finishRun()
}

func keepTeardown(nodes []*testlist.Node) []*testlist.Node {
	var out []*testlist.Node
	for _, n := range nodes {
		if n.Teardown {
			out = append(out, n)
		}
	}
	return out
}
