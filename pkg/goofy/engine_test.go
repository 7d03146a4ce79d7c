package goofy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/google/go-cmp/cmp"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/invoker/mock"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

// recorder is an Observer that keeps every notification.
type recorder struct {
	mu       sync.Mutex
	changes  []core.StateChange
	events   []string
	started  []core.RunInfo
	finished []core.RunInfo
}

func (r *recorder) RunStarted(info core.RunInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, info)
	r.events = append(r.events, "start:"+info.Root)
}

func (r *recorder) StateChanged(c core.StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) RunFinished(info core.RunInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, info)
	r.events = append(r.events, "finish:"+info.Root)
}

func (r *recorder) Changes() []core.StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.StateChange(nil), r.changes...)
}

// statuses returns every status path went through, in order.
func (r *recorder) statuses(path string) []core.TestStatus {
	var out []core.TestStatus
	for _, c := range r.Changes() {
		if c.Path == path {
			out = append(out, c.State.Status)
		}
	}
	return out
}

type harness struct {
	engine  *Engine
	invoker *mock.Invoker
	rec     *recorder
	clock   *fakeclock.FakeClock
}

var epoch = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func buildList(t *testing.T, doc string) *testlist.TestList {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.test_list.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	tl, err := testlist.NewManager(testlist.NewLoader(dir, ""), nil).Get("main")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return tl
}

func newHarness(t *testing.T, doc string, mcfg mock.Config, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		invoker: mock.New(mcfg),
		rec:     &recorder{},
		clock:   fakeclock.NewFakeClock(epoch),
	}
	cfg := Config{
		TestList:  buildList(t, doc),
		Invoker:   h.invoker,
		Observers: []core.Observer{h.rec},
		Clock:     h.clock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.engine = e

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.engine.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func (h *harness) status(t *testing.T, path string) core.RunState {
	t.Helper()
	st, ok := h.engine.State(path)
	if !ok {
		t.Fatalf("State(%q) not found", path)
	}
	return st
}

func (h *harness) wantStatus(t *testing.T, want map[string]core.TestStatus) {
	t.Helper()
	got := make(map[string]core.TestStatus, len(want))
	for path := range want {
		got[path] = h.status(t, path).Status
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_AutoRunOnStart(t *testing.T) {
	h := newHarness(t, `{"tests": [
		{"id": "A", "pytest_name": "a"},
		{"id": "G", "subtests": [
			{"id": "B", "pytest_name": "b"},
			{"id": "C", "pytest_name": "c"}
		]}
	]}`, mock.Config{})
	h.wait(t)

	if diff := cmp.Diff([]string{"A", "G.B", "G.C"}, h.invoker.Paths()); diff != "" {
		t.Errorf("invocation order mismatch (-want +got):\n%s", diff)
	}
	h.wantStatus(t, map[string]core.TestStatus{
		"":    core.StatusPassed,
		"A":   core.StatusPassed,
		"G":   core.StatusPassed,
		"G.B": core.StatusPassed,
		"G.C": core.StatusPassed,
	})

	last, ok := h.engine.LastRun()
	if !ok {
		t.Fatal("LastRun() = false, want a finished run")
	}
	if last.Summary.Passed != 3 || last.Summary.Status != core.StatusPassed {
		t.Errorf("LastRun().Summary = %+v, want 3 passed", last.Summary)
	}
	if !last.StartTime.Equal(epoch) {
		t.Errorf("LastRun().StartTime = %v, want %v", last.StartTime, epoch)
	}
	if _, ok := h.engine.CurrentRun(); ok {
		t.Error("CurrentRun() = true after the run finished")
	}

	st := h.status(t, "G.B")
	if st.Count != 1 || st.InvocationID == "" || !st.Visible {
		t.Errorf("State(G.B) = %+v, want one visible invocation", st)
	}
}

func TestEngine_NoStartRuns(t *testing.T) {
	h := newHarness(t, `{"tests": [{"id": "A", "pytest_name": "a"}]}`, mock.Config{},
		func(c *Config) { c.NoStartRuns = true })
	h.wait(t)

	if got := h.invoker.Paths(); len(got) != 0 {
		t.Errorf("invocations = %v, want none before a request", got)
	}
	if err := h.engine.RunTests("A"); err != nil {
		t.Fatalf("RunTests() error = %v", err)
	}
	h.wait(t)
	h.wantStatus(t, map[string]core.TestStatus{"A": core.StatusPassed})
}

func TestEngine_FinishedStateCarriesAttachments(t *testing.T) {
	h := newHarness(t, `{"tests": [{"id": "A", "pytest_name": "a"}]}`, mock.Config{})
	h.wait(t)

	var finished []core.StateChange
	for _, c := range h.rec.Changes() {
		if c.Path == "A" && len(c.Attachments) > 0 {
			finished = append(finished, c)
		}
	}
	if len(finished) != 1 {
		t.Fatalf("changes with attachments = %d, want 1", len(finished))
	}
	if got := finished[0]; got.State.Status != core.StatusPassed || got.Attachments[0].Name != core.AttachmentStdout {
		t.Errorf("change = %s %+v, want PASSED with stdout", got.State.Status, got.Attachments)
	}
}

func TestEngine_NotificationsAreOrdered(t *testing.T) {
	h := newHarness(t, `{"tests": [
		{"id": "P", "parallel": true, "subtests": [
			{"id": "A", "pytest_name": "a"},
			{"id": "B", "pytest_name": "b"},
			{"id": "C", "pytest_name": "c"}
		]}
	]}`, mock.Config{Delay: 5 * time.Millisecond})
	h.wait(t)

	changes := h.rec.Changes()
	if len(changes) == 0 {
		t.Fatal("no state changes recorded")
	}
	for i := 1; i < len(changes); i++ {
		if changes[i].Seq != changes[i-1].Seq+1 {
			t.Fatalf("change %d has seq %d after %d", i, changes[i].Seq, changes[i-1].Seq)
		}
	}

	// Replaying the changes reproduces the final snapshot.
	replayed := make(map[string]core.RunState)
	for _, c := range changes {
		replayed[c.Path] = c.State
	}
	for path, st := range h.engine.States() {
		if got, ok := replayed[path]; ok && got.Status != st.Status {
			t.Errorf("replayed %s = %s, want %s", path, got.Status, st.Status)
		}
	}
	for _, c := range changes {
		if c.RunID == "" {
			t.Errorf("change for %s has no run id", c.Path)
		}
	}
}

func TestEngine_RunIfFalseSkipsGroup(t *testing.T) {
	h := newHarness(t, `{"tests": [
		{"id": "A", "pytest_name": "a"},
		{"id": "G", "run_if": "False", "subtests": [
			{"id": "B", "pytest_name": "b"},
			{"id": "C", "pytest_name": "c"}
		]}
	]}`, mock.Config{})
	h.wait(t)

	for _, path := range []string{"G", "G.B", "G.C"} {
		if st := h.status(t, path); !st.IsSkipped() {
			t.Errorf("State(%s) = %+v, want skipped", path, st)
		}
		for _, s := range h.rec.statuses(path) {
			if s == core.StatusPassed || s == core.StatusFailed || s == core.StatusActive {
				t.Errorf("%s went through %s, want only skipped transitions", path, s)
			}
		}
	}
	if diff := cmp.Diff([]string{"A"}, h.invoker.Paths()); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	if got := h.status(t, "").Status; got != core.StatusPassed {
		t.Errorf("root status = %s, want PASSED", got)
	}
	if got := h.engine.Summary(); got.Skipped != 2 || got.Passed != 1 {
		t.Errorf("Summary() = %+v, want 1 passed and 2 skipped", got)
	}
}

func TestEngine_RunIfUsesDeviceData(t *testing.T) {
	h := newHarness(t, `{"tests": [
		{"id": "A", "pytest_name": "a", "args": {"serial": "eval! device.serial"}},
		{"id": "B", "pytest_name": "b", "run_if": "device.serial == 'X2'"}
	]}`, mock.Config{}, func(c *Config) {
		c.Device = core.StaticDeviceData{"serial": "X1"}
	})
	h.wait(t)

	calls := h.invoker.Calls()
	if len(calls) != 1 {
		t.Fatalf("Calls() = %d invocations, want 1", len(calls))
	}
	if got := calls[0].Args["serial"]; got != "X1" {
		t.Errorf("args.serial = %v, want X1", got)
	}
	if !h.status(t, "B").IsSkipped() {
		t.Errorf("State(B) = %+v, want skipped", h.status(t, "B"))
	}
}

// switchableDevice is device data a test can change between runs.
type switchableDevice struct {
	mu   sync.Mutex
	data map[string]interface{}
}

func (d *switchableDevice) set(key string, v interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = v
}

func (d *switchableDevice) DeviceData(context.Context) (map[string]interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]interface{}, len(d.data))
	for k, v := range d.data {
		out[k] = v
	}
	return out, nil
}

func TestEngine_FilteredRunRechecksRunIf(t *testing.T) {
	device := &switchableDevice{data: map[string]interface{}{"lte": false}}
	h := newHarness(t, `{
		"options": {"auto_run_on_start": false, "phase": "PVT", "skipped_tests": {"PVT": ["C"]}},
		"tests": [
			{"id": "A", "pytest_name": "a"},
			{"id": "B", "pytest_name": "b", "run_if": "device.lte"},
			{"id": "C", "pytest_name": "c"}
		]
	}`, mock.Config{}, func(c *Config) {
		c.Device = device
	})

	if err := h.engine.AutoRun(); err != nil {
		t.Fatalf("AutoRun() error = %v", err)
	}
	h.wait(t)
	if !h.status(t, "B").IsSkipped() {
		t.Fatalf("State(B) = %+v, want skipped", h.status(t, "B"))
	}

	device.set("lte", true)
	if err := h.engine.AutoRun(); err != nil {
		t.Fatalf("AutoRun() error = %v", err)
	}
	h.wait(t)

	if diff := cmp.Diff([]string{"A", "B"}, h.invoker.Paths()); diff != "" {
		t.Errorf("Paths() mismatch (-want +got):\n%s", diff)
	}
	if st := h.status(t, "B"); st.Status != core.StatusPassed || st.Skipped {
		t.Errorf("State(B) = %+v, want PASSED", st)
	}
	if !h.status(t, "C").IsSkipped() {
		t.Errorf("State(C) = %+v, want skipped by skipped_tests", h.status(t, "C"))
	}
}

func TestEngine_ExclusiveResourcesInParallelGroup(t *testing.T) {
	h := newHarness(t, `{"tests": [
		{"id": "P", "parallel": true, "subtests": [
			{"id": "A", "pytest_name": "a", "exclusive_resources": ["POWER"]},
			{"id": "B", "pytest_name": "b", "exclusive_resources": ["POWER"]},
			{"id": "C", "pytest_name": "c"}
		]}
	]}`, mock.Config{Delay: 20 * time.Millisecond})
	h.wait(t)

	active := make(map[string]bool)
	for _, c := range h.rec.Changes() {
		active[c.Path] = c.State.Status == core.StatusActive
		if active["P.A"] && active["P.B"] {
			t.Fatalf("P.A and P.B were ACTIVE together at seq %d", c.Seq)
		}
	}
	if got := len(h.invoker.Calls()); got != 3 {
		t.Errorf("Calls() = %d, want 3", got)
	}
	if got := h.invoker.MaxConcurrent(); got < 2 {
		t.Errorf("MaxConcurrent() = %d, want parallel dispatch", got)
	}
	h.wantStatus(t, map[string]core.TestStatus{
		"P":   core.StatusPassed,
		"P.A": core.StatusPassed,
		"P.B": core.StatusPassed,
		"P.C": core.StatusPassed,
	})
}

func TestEngine_ActionStopRunsOnlyTeardown(t *testing.T) {
	h := newHarness(t, `{"tests": [
		{"id": "A", "pytest_name": "a"},
		{"id": "X", "pytest_name": "x", "action_on_failure": "STOP"},
		{"id": "Y", "pytest_name": "y"},
		{"id": "G", "subtests": [{"id": "Z", "pytest_name": "z"}]},
		{"id": "T", "pytest_name": "t", "teardown": true}
	]}`, mock.Config{Failures: map[string]string{"x": "boom"}})
	h.wait(t)

	if diff := cmp.Diff([]string{"A", "X", "T"}, h.invoker.Paths()); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	for _, path := range []string{"Y", "G", "G.Z"} {
		for _, s := range h.rec.statuses(path) {
			if s == core.StatusActive {
				t.Errorf("%s became ACTIVE after STOP", path)
			}
		}
	}
	h.wantStatus(t, map[string]core.TestStatus{
		"":  core.StatusFailed,
		"X": core.StatusFailed,
		"Y": core.StatusUntested,
		"T": core.StatusPassed,
	})
	if got := h.status(t, "X").ErrorMsg; got != "boom" {
		t.Errorf("X.ErrorMsg = %q, want boom", got)
	}
	last, _ := h.engine.LastRun()
	if !last.Stopped {
		t.Errorf("LastRun().Stopped = false, want true")
	}
}

func TestEngine_ActionParentSkipsSiblings(t *testing.T) {
	h := newHarness(t, `{"tests": [
		{"id": "G", "subtests": [
			{"id": "A", "pytest_name": "a", "action_on_failure": "PARENT"},
			{"id": "B", "pytest_name": "b"},
			{"id": "T", "pytest_name": "t", "teardown": true}
		]},
		{"id": "C", "pytest_name": "c"}
	]}`, mock.Config{Failures: map[string]string{"a": "bad"}})
	h.wait(t)

	if diff := cmp.Diff([]string{"G.A", "G.T", "C"}, h.invoker.Paths()); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	h.wantStatus(t, map[string]core.TestStatus{
		"G":   core.StatusFailed,
		"G.A": core.StatusFailed,
		"G.B": core.StatusUntested,
		"G.T": core.StatusPassed,
		"C":   core.StatusPassed,
	})
}

func TestEngine_ActionNextDefersGroupFailure(t *testing.T) {
	h := newHarness(t, `{"tests": [
		{"id": "G", "subtests": [
			{"id": "A", "pytest_name": "a"},
			{"id": "B", "pytest_name": "b"}
		]}
	]}`, mock.Config{Failures: map[string]string{"G.A": "bad"}})
	h.wait(t)

	if diff := cmp.Diff([]string{"G.A", "G.B"}, h.invoker.Paths()); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	h.wantStatus(t, map[string]core.TestStatus{
		"G":   core.StatusFailed,
		"G.A": core.StatusFailed,
		"G.B": core.StatusPassed,
	})
}

func TestEngine_TeardownFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, `{"tests": [
		{"id": "A", "pytest_name": "a"},
		{"id": "Cleanup", "teardown": true, "subtests": [
			{"id": "T1", "pytest_name": "t1", "action_on_failure": "STOP"},
			{"id": "T2", "pytest_name": "t2"}
		]}
	]}`, mock.Config{Failures: map[string]string{"t1": "flaky cleanup"}})
	h.wait(t)

	if diff := cmp.Diff([]string{"A", "Cleanup.T1", "Cleanup.T2"}, h.invoker.Paths()); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	if got := h.status(t, "").Status; got != core.StatusPassed {
		t.Errorf("root status = %s, want PASSED", got)
	}
	if got := h.status(t, "Cleanup").Status; got != core.StatusFailed {
		t.Errorf("Cleanup status = %s, want FAILED", got)
	}
	if last, _ := h.engine.LastRun(); last.Stopped {
		t.Error("a teardown failure stopped the run")
	}
}

func TestEngine_StopOnFailureOption(t *testing.T) {
	h := newHarness(t, `{
		"options": {"stop_on_failure": true},
		"tests": [
			{"id": "A", "pytest_name": "a"},
			{"id": "B", "pytest_name": "b"}
		]
	}`, mock.Config{Failures: map[string]string{"a": "bad"}})
	h.wait(t)

	if diff := cmp.Diff([]string{"A"}, h.invoker.Paths()); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_IterationsAndRetries(t *testing.T) {
	h := newHarness(t, `{"tests": [
		{"id": "A", "pytest_name": "a", "retries": 2},
		{"id": "B", "pytest_name": "b", "iterations": 3},
		{"id": "C", "pytest_name": "c", "retries": 1},
		{"id": "G", "retries": 2, "subtests": [{"id": "D", "pytest_name": "d"}]}
	]}`, mock.Config{
		Failures:  map[string]string{"a": "flaky", "c": "broken", "d": "once"},
		FailTimes: 2,
	})
	h.wait(t)

	want := []string{"A", "A", "A", "B", "B", "B", "C", "C", "G.D", "G.D", "G.D"}
	if diff := cmp.Diff(want, h.invoker.Paths()); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	h.wantStatus(t, map[string]core.TestStatus{
		"A":   core.StatusPassed,
		"B":   core.StatusPassed,
		"C":   core.StatusFailed,
		"G":   core.StatusPassed,
		"G.D": core.StatusPassed,
	})

	var iterations []int
	for _, c := range h.invoker.Calls() {
		if c.Path == "B" {
			iterations = append(iterations, c.Iteration)
		}
	}
	if diff := cmp.Diff([]int{1, 2, 3}, iterations); diff != "" {
		t.Errorf("B iterations mismatch (-want +got):\n%s", diff)
	}
	if got := h.status(t, "A").Count; got != 3 {
		t.Errorf("A.Count = %d, want 3", got)
	}
}

func TestEngine_Barrier(t *testing.T) {
	doc := `{"tests": [
		{"id": "A", "pytest_name": "a"},
		{"id": "Check", "inherit": "Barrier"},
		{"id": "B", "pytest_name": "b"},
		{"id": "T", "pytest_name": "t", "teardown": true}
	]}`

	t.Run("no operator continues", func(t *testing.T) {
		h := newHarness(t, doc, mock.Config{})
		h.wait(t)
		if diff := cmp.Diff([]string{"A", "B", "T"}, h.invoker.Paths()); diff != "" {
			t.Errorf("invocations mismatch (-want +got):\n%s", diff)
		}
		if got := h.status(t, "Check").Status; got != core.StatusPassed {
			t.Errorf("Check status = %s, want PASSED", got)
		}
	})

	t.Run("operator aborts", func(t *testing.T) {
		reqs := make(chan core.BarrierRequest, 1)
		op := core.OperatorFunc(func(ctx context.Context, req *core.BarrierRequest) (bool, error) {
			reqs <- *req
			return false, nil
		})
		h := newHarness(t, doc, mock.Config{Failures: map[string]string{"a": "bad"}}, func(c *Config) {
			c.Operator = op
		})
		h.wait(t)

		req := <-reqs
		if req.Path != "Check" || req.Summary.Failed != 1 || req.Summary.Total != 1 {
			t.Errorf("barrier request = %+v, want Check with one failed test before it", req)
		}
		if diff := cmp.Diff([]string{"A", "T"}, h.invoker.Paths()); diff != "" {
			t.Errorf("invocations mismatch (-want +got):\n%s", diff)
		}
		h.wantStatus(t, map[string]core.TestStatus{
			"Check": core.StatusFailed,
			"B":     core.StatusUntested,
			"T":     core.StatusPassed,
		})
		if last, _ := h.engine.LastRun(); !last.Stopped {
			t.Error("LastRun().Stopped = false after barrier abort")
		}
	})
}

func TestEngine_StopCancelsActiveTests(t *testing.T) {
	started := make(chan string, 1)
	h := newHarness(t, `{"tests": [
		{"id": "Slow", "pytest_name": "slow"},
		{"id": "B", "pytest_name": "b"},
		{"id": "T", "pytest_name": "t", "teardown": true}
	]}`, mock.Config{Func: func(ctx context.Context, inv *core.Invocation) (*core.InvocationResult, error) {
		if inv.Path != "Slow" {
			return core.Passed(), nil
		}
		started <- inv.Path
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("Slow never started")
	}
	if err := h.engine.Stop("operator request"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	h.wait(t)

	st := h.status(t, "Slow")
	if st.Status != core.StatusFailed || !strings.Contains(st.ErrorMsg, "cancelled: operator request") {
		t.Errorf("State(Slow) = %+v, want FAILED with cancel reason", st)
	}
	if diff := cmp.Diff([]string{"Slow", "T"}, h.invoker.Paths()); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	last, _ := h.engine.LastRun()
	if !last.Stopped || last.Reason != "operator request" {
		t.Errorf("LastRun() = %+v, want stopped with reason", last)
	}
}

func TestEngine_RestartTests(t *testing.T) {
	h := newHarness(t, `{
		"options": {"auto_run_on_start": false},
		"tests": [
			{"id": "Seq", "subtests": [
				{"id": "A", "pytest_name": "a"},
				{"id": "B", "pytest_name": "b"}
			]},
			{"id": "Free", "inherit": "TestGroup", "subtests": [
				{"id": "C", "pytest_name": "c"},
				{"id": "D", "pytest_name": "d"}
			]}
		]
	}`, mock.Config{})

	if err := h.engine.RunTests(""); err != nil {
		t.Fatalf("RunTests() error = %v", err)
	}
	h.wait(t)
	if got := len(h.invoker.Calls()); got != 4 {
		t.Fatalf("Calls() = %d after full run, want 4", got)
	}

	if err := h.engine.RestartTests("Seq.B"); err != nil {
		t.Fatalf("RestartTests() error = %v", err)
	}
	h.wait(t)
	if err := h.engine.RestartTests("Free.D"); err != nil {
		t.Fatalf("RestartTests() error = %v", err)
	}
	h.wait(t)

	want := []string{"Seq.A", "Seq.B", "Free.C", "Free.D", "Seq.A", "Seq.B", "Free.D"}
	if diff := cmp.Diff(want, h.invoker.Paths()); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	if got := h.status(t, "Free.C"); got.Status != core.StatusPassed || got.Count != 1 {
		t.Errorf("State(Free.C) = %+v, want untouched PASSED", got)
	}
	if got := h.status(t, "").Status; got != core.StatusPassed {
		t.Errorf("root status = %s, want PASSED", got)
	}

	if err := h.engine.RunTests("Nope"); err == nil {
		t.Error("RunTests() of an unknown path should fail")
	}
}

func TestEngine_RunsAreQueued(t *testing.T) {
	h := newHarness(t, `{
		"options": {"auto_run_on_start": false},
		"tests": [
			{"id": "A", "pytest_name": "a"},
			{"id": "B", "pytest_name": "b"}
		]
	}`, mock.Config{Delay: 5 * time.Millisecond})

	if err := h.engine.RunTests("A"); err != nil {
		t.Fatalf("RunTests(A) error = %v", err)
	}
	if err := h.engine.RunTests("B"); err != nil {
		t.Fatalf("RunTests(B) error = %v", err)
	}
	h.wait(t)

	h.rec.mu.Lock()
	events := append([]string(nil), h.rec.events...)
	started := append([]core.RunInfo(nil), h.rec.started...)
	h.rec.mu.Unlock()

	if diff := cmp.Diff([]string{"start:A", "finish:A", "start:B", "finish:B"}, events); diff != "" {
		t.Errorf("run events mismatch (-want +got):\n%s", diff)
	}
	if len(started) == 2 && started[0].ID == started[1].ID {
		t.Errorf("runs share id %s", started[0].ID)
	}
}

func TestEngine_RestoresInitialStates(t *testing.T) {
	h := newHarness(t, `{
		"options": {"auto_run_on_start": false},
		"tests": [
			{"id": "A", "pytest_name": "a"},
			{"id": "R", "inherit": "RebootStep"},
			{"id": "C", "pytest_name": "c"}
		]
	}`, mock.Config{}, func(c *Config) {
		c.InitialStates = map[string]core.RunState{
			"":        {Status: core.StatusActive},
			"A":       {Status: core.StatusActive},
			"R":       {Status: core.StatusActive},
			"C":       {Status: core.StatusPassed, Count: 1},
			"Removed": {Status: core.StatusFailed},
		}
	})
	h.wait(t)

	h.wantStatus(t, map[string]core.TestStatus{
		"":  core.StatusFailed,
		"A": core.StatusFailed,
		"R": core.StatusPassed,
		"C": core.StatusPassed,
	})
	if got := h.status(t, "A").ErrorMsg; got != unexpectedShutdown {
		t.Errorf("A.ErrorMsg = %q, want %q", got, unexpectedShutdown)
	}
	if _, ok := h.engine.State("Removed"); ok {
		t.Error("State() kept a path that is not in the test list")
	}

	if err := h.engine.RetryFailed(); err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	h.wait(t)
	if diff := cmp.Diff([]string{"A"}, h.invoker.Paths()); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	if got := h.status(t, "").Status; got != core.StatusPassed {
		t.Errorf("root status = %s, want PASSED", got)
	}
}

func TestEngine_SkippedTestsOption(t *testing.T) {
	h := newHarness(t, `{
		"options": {
			"phase": "PVT",
			"skipped_tests": {"PVT": ["*.B"], "EVT": ["A"]}
		},
		"tests": [
			{"id": "A", "pytest_name": "a"},
			{"id": "G", "subtests": [
				{"id": "B", "pytest_name": "b"},
				{"id": "C", "pytest_name": "c"}
			]}
		]
	}`, mock.Config{})
	h.wait(t)

	if diff := cmp.Diff([]string{"A", "G.C"}, h.invoker.Paths()); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	if !h.status(t, "G.B").IsSkipped() {
		t.Errorf("State(G.B) = %+v, want skipped", h.status(t, "G.B"))
	}
	if got := h.status(t, "G").Status; got != core.StatusPassed {
		t.Errorf("G status = %s, want PASSED", got)
	}
}

func TestEngine_ClearState(t *testing.T) {
	h := newHarness(t, `{"tests": [{"id": "A", "pytest_name": "a"}]}`,
		mock.Config{Failures: map[string]string{"a": "bad"}})
	h.wait(t)

	if got := h.status(t, "A").Status; got != core.StatusFailed {
		t.Fatalf("A status = %s, want FAILED", got)
	}
	if err := h.engine.ClearState(); err != nil {
		t.Fatalf("ClearState() error = %v", err)
	}
	h.wantStatus(t, map[string]core.TestStatus{
		"":  core.StatusUntested,
		"A": core.StatusUntested,
	})
	if got := h.status(t, "A").ErrorMsg; got != "" {
		t.Errorf("A.ErrorMsg = %q after ClearState", got)
	}
}

func TestEngine_InvokerErrorsBecomeFailures(t *testing.T) {
	h := newHarness(t, `{"tests": [
		{"id": "Err", "pytest_name": "err"},
		{"id": "Panic", "pytest_name": "panic"},
		{"id": "Nil", "pytest_name": "nil"},
		{"id": "Ok", "pytest_name": "ok"}
	]}`, mock.Config{Func: func(ctx context.Context, inv *core.Invocation) (*core.InvocationResult, error) {
		switch inv.PytestName {
		case "err":
			return nil, context.DeadlineExceeded
		case "panic":
			panic("test process exploded")
		case "nil":
			return nil, nil
		}
		return core.Passed(), nil
	}})
	h.wait(t)

	h.wantStatus(t, map[string]core.TestStatus{
		"Err":   core.StatusFailed,
		"Panic": core.StatusFailed,
		"Nil":   core.StatusFailed,
		"Ok":    core.StatusPassed,
	})
	if got := h.status(t, "Panic").ErrorMsg; !strings.Contains(got, "exploded") {
		t.Errorf("Panic.ErrorMsg = %q, want the panic value", got)
	}
}

func TestEngine_ObserverPanicIsContained(t *testing.T) {
	bad := core.ObserverFuncs{OnStateChanged: func(core.StateChange) { panic("observer bug") }}
	h := newHarness(t, `{"tests": [{"id": "A", "pytest_name": "a"}]}`, mock.Config{}, func(c *Config) {
		c.Observers = append([]core.Observer{bad}, c.Observers...)
	})
	h.wait(t)

	if got := h.status(t, "A").Status; got != core.StatusPassed {
		t.Errorf("A status = %s, want PASSED", got)
	}
	if len(h.rec.statuses("A")) == 0 {
		t.Error("observers after a panicking one were not notified")
	}
}

func TestNew_RequiresTestListAndInvoker(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without a test list should fail")
	}
	tl := buildList(t, `{"tests": []}`)
	if _, err := New(Config{TestList: tl}); err == nil {
		t.Error("New() without an invoker should fail")
	}
}

func TestResourceTable(t *testing.T) {
	rt := newResourceTable()
	if !rt.tryAcquire("A", []string{"POWER", "NETWORK"}) {
		t.Fatal("tryAcquire(A) = false on an empty table")
	}
	if rt.tryAcquire("B", []string{"CPU", "POWER"}) {
		t.Fatal("tryAcquire(B) = true while A holds POWER")
	}
	if diff := cmp.Diff([]string{"NETWORK", "POWER"}, rt.held()); diff != "" {
		t.Errorf("held() mismatch (-want +got):\n%s", diff)
	}
	if !rt.tryAcquire("A", []string{"POWER"}) {
		t.Error("tryAcquire() should be reentrant for the holder")
	}
	rt.release("A")
	if !rt.tryAcquire("B", []string{"CPU", "POWER"}) {
		t.Error("tryAcquire(B) = false after A released")
	}
}
