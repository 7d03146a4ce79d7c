package goofy

import (
	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

// message is anything the control loop accepts on its inbox.
type message interface{}

// replier is a message answered on its own channel once accepted.
type replier interface {
	replyChan() chan error
}

type runRequest struct {
	root    string
	filter  []core.TestStatus
	restart bool
	reply   chan error
}

func (r *runRequest) replyChan() chan error { return r.reply }

type stopRequest struct {
	reason string
	reply  chan error
}

func (r *stopRequest) replyChan() chan error { return r.reply }

type clearRequest struct {
	reply chan error
}

func (r *clearRequest) replyChan() chan error { return r.reply }

type waitRequest struct {
	done chan struct{}
}

// taskDone reports the end of one dispatched leaf or barrier.
type taskDone struct {
	path         string
	invocationID string
	result       *core.InvocationResult
	device       map[string]interface{}
}

func autoRunRequest() *runRequest {
	return &runRequest{filter: []core.TestStatus{core.StatusUntested, core.StatusActive}}
}

func retryFailedRequest() *runRequest {
	return &runRequest{filter: []core.TestStatus{core.StatusFailed}}
}

// run is one pass over a subtree, from a run request until the last task
// finishes.
type run struct {
	info   core.RunInfo
	root   *testlist.Node
	filter map[core.TestStatus]bool

	// lineage holds the ancestors of root, nearest first. They are ACTIVE
	// for the duration of the run.
	lineage []*testlist.Node

	stack []*frame
	env   testlist.Env

	// teardownOnly is set by STOP: only teardown tests may start.
	teardownOnly bool

	attempts map[string]int
}

func newRun(tl *testlist.TestList, root *testlist.Node, filter []core.TestStatus) *run {
	r := &run{
		info:     core.RunInfo{TestListID: tl.ID, Root: root.Path},
		root:     root,
		attempts: make(map[string]int),
	}
	if len(filter) > 0 {
		r.filter = make(map[core.TestStatus]bool, len(filter))
		for _, s := range filter {
			r.filter[s] = true
		}
	}
	for p := root.Parent; p != nil; p = p.Parent {
		r.lineage = append(r.lineage, p)
	}
	r.push(&frame{
		node:     root.Parent,
		children: []*testlist.Node{root},
		running:  make(map[string]bool),
		scope:    true,
	})
	return r
}

func (r *run) push(f *frame) {
	r.stack = append(r.stack, f)
}

func (r *run) pop() {
	r.stack = r.stack[:len(r.stack)-1]
}

func (r *run) top() *frame {
	if len(r.stack) == 0 {
		return nil
	}
	return r.stack[len(r.stack)-1]
}

// frameRunning returns the frame that dispatched path.
func (r *run) frameRunning(path string) *frame {
	for i := len(r.stack) - 1; i >= 0; i-- {
		if r.stack[i].running[path] {
			return r.stack[i]
		}
	}
	return nil
}

// frame walks the children of one group. The outermost frame of a run is
// a scope frame holding only the run's root node.
type frame struct {
	node     *testlist.Node
	children []*testlist.Node
	next     int

	running map[string]bool
	// blocked holds leaves waiting for an exclusive resource.
	blocked []*testlist.Node

	// abort is set by a PARENT failure: remaining siblings are skipped
	// except for teardown.
	abort    bool
	parallel bool
	scope    bool
}

func newFrame(n *testlist.Node, abort bool) *frame {
	return &frame{
		node:     n,
		children: n.Children,
		running:  make(map[string]bool),
		abort:    abort,
		parallel: n.Parallel,
	}
}

// busy reports whether any child is still running or waiting to start.
func (f *frame) busy() bool {
	return len(f.running) > 0 || len(f.blocked) > 0
}
