package core

import (
	"context"
	"time"
)

// Invoker runs a single leaf test outside the engine.
// Implementations: pytest subprocess runner, scripted mock.
// The engine handles ordering and policy; Invoker just runs one test.
type Invoker interface {
	// Invoke blocks until the test finishes or ctx is cancelled.
	// A returned error is treated as a FAILED result carrying the error text.
	Invoke(ctx context.Context, inv *Invocation) (*InvocationResult, error)
}

// Invocation describes one run of a leaf test
type Invocation struct {
	ID         string                 `json:"id"`    // uuid, unique per dispatch
	RunID      string                 `json:"runId"` // run this dispatch belongs to
	Path       string                 `json:"path"`
	PytestName string                 `json:"pytestName"`
	Args       map[string]interface{} `json:"args"`

	Teardown           bool     `json:"teardown,omitempty"`
	AllowReboot        bool     `json:"allowReboot,omitempty"`
	ExclusiveResources []string `json:"exclusiveResources,omitempty"`
	Iteration          int      `json:"iteration"` // 1-based attempt counter
}

// InvocationResult is what the external test process reports back
type InvocationResult struct {
	Status      TestStatus    `json:"status"` // PASSED or FAILED
	ErrorMsg    string        `json:"errorMsg,omitempty"`
	Duration    time.Duration `json:"duration"`
	Attachments []Attachment  `json:"attachments,omitempty"`
}

// Passed builds a successful result
func Passed() *InvocationResult {
	return &InvocationResult{Status: StatusPassed}
}

// Failed builds a failed result with a message
func Failed(msg string) *InvocationResult {
	return &InvocationResult{Status: StatusFailed, ErrorMsg: msg}
}

// Operator is consulted when a barrier is reached.
// It returns true to continue the run and false to abort it.
type Operator interface {
	ConfirmBarrier(ctx context.Context, req *BarrierRequest) (bool, error)
}

// BarrierRequest is shown to the operator at a barrier
type BarrierRequest struct {
	ID      string  `json:"id"`
	RunID   string  `json:"runId"`
	Path    string  `json:"path"`
	Label   string  `json:"label"`
	Summary Summary `json:"summary"` // states of everything that ran before the barrier
}

// OperatorFunc adapts a function to the Operator interface
type OperatorFunc func(ctx context.Context, req *BarrierRequest) (bool, error)

// ConfirmBarrier calls f
func (f OperatorFunc) ConfirmBarrier(ctx context.Context, req *BarrierRequest) (bool, error) {
	return f(ctx, req)
}

// DeviceDataSource supplies the read-only device snapshot seen by expressions as `device`.
type DeviceDataSource interface {
	DeviceData(ctx context.Context) (map[string]interface{}, error)
}

// StaticDeviceData is a fixed device snapshot
type StaticDeviceData map[string]interface{}

// DeviceData returns a copy of the snapshot
func (d StaticDeviceData) DeviceData(context.Context) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out, nil
}
