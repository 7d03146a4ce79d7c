// Package mock provides a scripted test invoker for running test lists
// without a device or a pytest installation.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arccode/factory-sub002/pkg/core"
)

// Invoker is a scripted implementation of core.Invoker.
type Invoker struct {
	// Configuration
	Config Config

	mu        sync.Mutex
	calls     []core.Invocation
	running   map[string]bool
	maxActive int
}

// Config configures mock invoker behavior.
type Config struct {
	// Failures maps a test path or pytest name to the failure message it reports.
	Failures map[string]string
	// FailTimes limits how many times a scripted failure fires per path. 0 = always.
	FailTimes int
	// Delay adds artificial run time per invocation
	Delay time.Duration
	// Func, when set, decides the result instead of Failures.
	Func func(ctx context.Context, inv *core.Invocation) (*core.InvocationResult, error)
}

// New creates a new mock invoker.
func New(cfg Config) *Invoker {
	return &Invoker{Config: cfg, running: make(map[string]bool)}
}

// Invoke records the invocation and returns the scripted result. A
// cancelled context ends the invocation early with a failure.
func (m *Invoker) Invoke(ctx context.Context, inv *core.Invocation) (*core.InvocationResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, *inv)
	previous := 0
	for _, c := range m.calls[:len(m.calls)-1] {
		if c.Path == inv.Path {
			previous++
		}
	}
	m.running[inv.Path] = true
	if n := len(m.running); n > m.maxActive {
		m.maxActive = n
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.running, inv.Path)
		m.mu.Unlock()
	}()

	start := time.Now()
	if m.Config.Delay > 0 {
		select {
		case <-time.After(m.Config.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.Config.Func != nil {
		return m.Config.Func(ctx, inv)
	}

	msg, ok := m.Config.Failures[inv.Path]
	if !ok {
		msg, ok = m.Config.Failures[inv.PytestName]
	}
	if ok && (m.Config.FailTimes == 0 || previous < m.Config.FailTimes) {
		res := core.Failed(msg)
		res.Duration = time.Since(start)
		return res, nil
	}

	res := core.Passed()
	res.Duration = time.Since(start)
	res.Attachments = append(res.Attachments, core.NewLogAttachment(core.AttachmentStdout, "",
		[]byte(fmt.Sprintf("mock executed %s (%s)\n", inv.PytestName, inv.Path))))
	return res, nil
}

// Calls returns a copy of every invocation received so far, in order.
func (m *Invoker) Calls() []core.Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Invocation(nil), m.calls...)
}

// Paths returns the test path of every invocation, in order.
func (m *Invoker) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Path
	}
	return out
}

// MaxConcurrent returns the largest number of invocations seen running at once.
func (m *Invoker) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}
