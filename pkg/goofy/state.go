package goofy

import (
	"context"
	"fmt"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/logger"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

const unexpectedShutdown = "unexpected shutdown while test was running"

// setState stores st for path and tells observers. Only the control loop
// writes states.
func (e *Engine) setState(path string, st core.RunState, attachments ...core.Attachment) {
	e.mu.Lock()
	e.states[path] = st
	e.mu.Unlock()

	e.seq++
	change := core.StateChange{
		Seq:   e.seq,
		Path:  path,
		State: st,
		Time:  e.clock.Now(),

		Attachments: attachments,
	}
	if e.run != nil {
		change.RunID = e.run.info.ID
	}
	for _, o := range e.observers {
		e.notify("StateChanged", func() { o.StateChanged(change) })
	}
}

// update applies fn to a copy of path's state and stores the result.
func (e *Engine) update(path string, fn func(st *core.RunState)) core.RunState {
	st := e.states[path]
	fn(&st)
	e.setState(path, st)
	return st
}

// notify calls an observer, containing any panic it raises.
func (e *Engine) notify(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Observer %s panicked: %v", what, r)
		}
	}()
	fn()
}

func (e *Engine) notifyRunStarted(info core.RunInfo) {
	for _, o := range e.observers {
		e.notify("RunStarted", func() { o.RunStarted(info) })
	}
}

func (e *Engine) notifyRunFinished(info core.RunInfo) {
	for _, o := range e.observers {
		e.notify("RunFinished", func() { o.RunFinished(info) })
	}
}

// aggregate derives a group's status from its children. Skipped children
// do not count; a failed teardown child only fails a teardown group.
func (e *Engine) aggregate(n *testlist.Node) (core.TestStatus, bool) {
	var active, failed, untested, counted int
	for _, c := range n.Children {
		st := e.states[c.Path]
		if st.IsSkipped() {
			continue
		}
		counted++
		switch st.Status {
		case core.StatusActive:
			active++
		case core.StatusFailed:
			if !c.Teardown || n.Teardown {
				failed++
			}
		case core.StatusUntested:
			untested++
		}
	}

	switch {
	case counted == 0:
		return core.StatusUntested, len(n.Children) > 0
	case active > 0:
		return core.StatusActive, false
	case failed > 0:
		return core.StatusFailed, false
	case untested > 0:
		return core.StatusUntested, false
	}
	return core.StatusPassed, false
}

// settle stores the aggregate status of group n.
func (e *Engine) settle(n *testlist.Node) core.RunState {
	status, skipped := e.aggregate(n)
	return e.update(n.Path, func(st *core.RunState) {
		if st.Status == core.StatusActive && status != core.StatusActive {
			st.EndTime = e.clock.Now()
		}
		st.Status = status
		st.Skipped = skipped
		if status != core.StatusFailed {
			st.ErrorMsg = ""
		}
	})
}

// skip marks n and its subtree as skipped.
func (e *Engine) skip(n *testlist.Node, why string) {
	logger.Debug("Skipping %s: %s", describe(n), why)
	n.Walk(func(c *testlist.Node) bool {
		e.update(c.Path, func(st *core.RunState) {
			st.Status = core.StatusUntested
			st.Skipped = true
			st.ErrorMsg = ""
		})
		return true
	})
}

// reset returns every node under n to UNTESTED.
func (e *Engine) reset(n *testlist.Node) {
	n.Walk(func(c *testlist.Node) bool {
		old := e.states[c.Path]
		if old.Status == core.StatusUntested && !old.Skipped && old.ErrorMsg == "" {
			return true
		}
		e.setState(c.Path, core.RunState{
			Status:  core.StatusUntested,
			Visible: old.Visible,
			Count:   old.Count,
		})
		return true
	})
}

// clearState resets the whole tree, keeping skipped_tests entries skipped.
func (e *Engine) clearState() {
	e.reset(e.tl.Root)
	e.markSkipForever()
}

func (e *Engine) markSkipForever() {
	for _, n := range e.tl.Nodes() {
		if e.skipForever[n.Path] && !e.states[n.Path].IsSkipped() {
			e.skip(n, "skipped_tests")
		}
	}
}

// restore builds the initial state table. Tests that were ACTIVE when the
// previous process exited are finished: a test allowed to reboot the
// device passed, any other failed.
func (e *Engine) restore(ctx context.Context) {
	nodes := e.tl.Nodes()
	e.mu.Lock()
	for _, n := range nodes {
		st, ok := e.initial[n.Path]
		if !ok {
			st = core.RunState{Status: core.StatusUntested}
		}
		if n.IsLeaf() && !n.IsRoot() && st.Status == core.StatusActive {
			if n.AllowReboot {
				st.Status = core.StatusPassed
			} else {
				st.Status = core.StatusFailed
				st.ErrorMsg = unexpectedShutdown
				logger.Warn("Test %s was running at shutdown", n.Path)
			}
		}
		e.states[n.Path] = st
	}
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if !n.IsGroup() {
			continue
		}
		st := e.states[n.Path]
		st.Status, st.Skipped = e.aggregate(n)
		e.states[n.Path] = st
	}
	e.mu.Unlock()

	device := e.deviceData(ctx)
	for _, p := range e.tl.SkippedPaths(device) {
		e.skipForever[p] = true
	}
	e.markSkipForever()
}

func (e *Engine) summaryLocked(leaves []*testlist.Node) core.Summary {
	states := make([]core.RunState, len(leaves))
	for i, n := range leaves {
		states[i] = e.states[n.Path]
	}
	return core.ComputeSummary(states)
}

func describe(n *testlist.Node) string {
	if n.IsRoot() {
		return "test list root"
	}
	return fmt.Sprintf("%s (%s)", n.Path, n.Label.Default())
}
