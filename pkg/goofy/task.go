package goofy

import (
	"context"
	"fmt"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/logger"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

// task is the handle of one dispatched leaf or barrier.
type task struct {
	invocationID string
	cancel       context.CancelFunc
}

// dispatch starts the goroutine for leaf n. Its completion comes back to the
// control loop as a taskDone message.
func (e *Engine) dispatch(ctx context.Context, n *testlist.Node, st core.RunState) {
	tctx, cancel := context.WithCancel(ctx)
	t := &task{invocationID: st.InvocationID, cancel: cancel}
	e.tasks[n.Path] = t

	r := e.run
	r.attempts[n.Path]++

	if n.IsBarrier() {
		req := &core.BarrierRequest{
			ID:      st.InvocationID,
			RunID:   r.info.ID,
			Path:    n.Path,
			Label:   n.Label.Default(),
			Summary: e.summaryLocked(precedingLeaves(n)),
		}
		go e.confirm(tctx, t, req)
		return
	}

	inv := &core.Invocation{
		ID:                 st.InvocationID,
		RunID:              r.info.ID,
		Path:               n.Path,
		PytestName:         n.PytestName,
		Teardown:           n.Teardown,
		AllowReboot:        n.AllowReboot,
		ExclusiveResources: n.ExclusiveResources,
		Iteration:          r.attempts[n.Path],
	}
	go e.invoke(tctx, t, n, inv, r.env)
}

// invoke runs one leaf test on the invoker.
func (e *Engine) invoke(ctx context.Context, t *task, n *testlist.Node, inv *core.Invocation, env testlist.Env) {
	defer t.cancel()

	device := e.deviceData(ctx)
	env.Device = device
	res := e.callInvoker(ctx, n, inv, env)

	logger.Debug("Test %s finished: %s %s", n.Path, res.Status, res.ErrorMsg)
	e.post(&taskDone{
		path:         n.Path,
		invocationID: t.invocationID,
		result:       res,
		device:       device,
	})
}

// callInvoker resolves arguments and calls the invoker. Every error and
// panic becomes a FAILED result.
func (e *Engine) callInvoker(ctx context.Context, n *testlist.Node, inv *core.Invocation, env testlist.Env) (res *core.InvocationResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Invoker panicked running %s: %v", n.Path, r)
			res = core.Failed(fmt.Sprintf("invoker panic: %v", r))
		}
	}()

	args, err := env.ResolveArgs(n)
	if err != nil {
		return core.Failed(fmt.Sprintf("resolving arguments: %v", err))
	}
	inv.Args = args

	res, err = e.invoker.Invoke(ctx, inv)
	if err != nil {
		return core.Failed(core.ErrTestExecution.WithCause(err).Error())
	}
	if res == nil {
		return core.Failed("invoker returned no result")
	}
	if !res.Status.IsTerminal() {
		return core.Failed(fmt.Sprintf("invoker reported status %s", res.Status))
	}
	return res
}

// confirm asks the operator whether to continue past a barrier.
func (e *Engine) confirm(ctx context.Context, t *task, req *core.BarrierRequest) {
	defer t.cancel()

	res := core.Passed()
	if e.operator != nil {
		ok, err := e.callOperator(ctx, req)
		switch {
		case err != nil:
			res = core.Failed(fmt.Sprintf("barrier: %v", err))
		case !ok:
			res = core.Failed(core.ErrCancelled.WithMessage("aborted by operator").Error())
		}
	}
	e.post(&taskDone{path: req.Path, invocationID: t.invocationID, result: res})
}

func (e *Engine) callOperator(ctx context.Context, req *core.BarrierRequest) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Operator panicked at barrier %s: %v", req.Path, r)
			ok, err = false, fmt.Errorf("operator panic: %v", r)
		}
	}()
	return e.operator.ConfirmBarrier(ctx, req)
}

// deviceData reads the device snapshot. A failing source yields an empty
// snapshot.
func (e *Engine) deviceData(ctx context.Context) map[string]interface{} {
	d, err := e.device.DeviceData(ctx)
	if err != nil {
		logger.Warn("Reading device data failed: %v", err)
		return map[string]interface{}{}
	}
	if d == nil {
		d = map[string]interface{}{}
	}
	return d
}

// precedingLeaves returns the leaves of the siblings declared before n.
func precedingLeaves(n *testlist.Node) []*testlist.Node {
	var out []*testlist.Node
	for _, s := range n.Parent.Children {
		if s == n {
			break
		}
		if s.IsLeaf() {
			out = append(out, s)
			continue
		}
		out = append(out, s.Leaves()...)
	}
	return out
}
