package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/goofy"
	"github.com/arccode/factory-sub002/pkg/invoker/mock"
	"github.com/arccode/factory-sub002/pkg/store"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

const testDoc = `{
	"options": {"auto_run_on_start": false},
	"tests": [
		{"id": "A", "pytest_name": "a"},
		{"id": "Check", "inherit": "Barrier"},
		{"id": "B", "pytest_name": "b"}
	]
}`

type fixture struct {
	srv      *Server
	engine   *goofy.Engine
	barriers *Barriers
	store    *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.test_list.json"), []byte(testDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	manager := testlist.NewManager(testlist.NewLoader(dir, ""), nil)
	tl, err := manager.Get("main")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	barriers := NewBarriers()
	engine, err := goofy.New(goofy.Config{
		TestList:  tl,
		Invoker:   mock.New(mock.Config{}),
		Operator:  barriers,
		Observers: []core.Observer{st},
	})
	if err != nil {
		t.Fatalf("goofy.New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = engine.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &fixture{
		srv:      New(engine, barriers, WithStore(st), WithManager(manager)),
		engine:   engine,
		barriers: barriers,
		store:    st,
	}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	return w
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.engine.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
}

// waitForBarrier polls the API until a barrier is pending.
func (f *fixture) waitForBarrier(t *testing.T) core.BarrierRequest {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var pending []core.BarrierRequest
		decode(t, f.do(t, http.MethodGet, "/api/barriers", ""), &pending)
		if len(pending) > 0 {
			return pending[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no barrier became pending")
	return core.BarrierRequest{}
}

func TestServer_TreeAndTestLists(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/tree", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/tree = %d", w.Code)
	}
	var tree struct {
		Subtests []struct {
			Path string `json:"path"`
		} `json:"subtests"`
	}
	decode(t, w, &tree)
	if len(tree.Subtests) != 3 || tree.Subtests[1].Path != "Check" {
		t.Errorf("tree = %+v", tree)
	}

	var lists []TestListInfo
	decode(t, f.do(t, http.MethodGet, "/api/test-lists", ""), &lists)
	if len(lists) != 1 || lists[0].ID != "main" || !lists[0].Active {
		t.Errorf("test lists = %+v", lists)
	}
}

func TestServer_RunThroughBarrier(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/api/run", `{"path": ""}`); w.Code != http.StatusAccepted {
		t.Fatalf("POST /api/run = %d %s", w.Code, w.Body.String())
	}

	req := f.waitForBarrier(t)
	if req.Path != "Check" || req.Summary.Passed != 1 {
		t.Errorf("barrier = %+v, want Check after one passed test", req)
	}

	if w := f.do(t, http.MethodPost, "/api/clear", ""); w.Code != http.StatusConflict {
		t.Errorf("POST /api/clear during a run = %d, want 409", w.Code)
	}

	if w := f.do(t, http.MethodPost, "/api/barriers/"+req.ID, `{"continue": true}`); w.Code != http.StatusNoContent {
		t.Fatalf("POST /api/barriers/{id} = %d %s", w.Code, w.Body.String())
	}
	f.wait(t)

	var states map[string]core.RunState
	decode(t, f.do(t, http.MethodGet, "/api/states", ""), &states)
	for _, p := range []string{"A", "Check", "B"} {
		if states[p].Status != core.StatusPassed {
			t.Errorf("%s = %s, want PASSED", p, states[p].Status)
		}
	}

	var summary SummaryResponse
	decode(t, f.do(t, http.MethodGet, "/api/summary", ""), &summary)
	if summary.Current != nil || summary.Last == nil || summary.Summary.Passed != 3 {
		t.Errorf("summary = %+v", summary)
	}

	var history []store.Invocation
	decode(t, f.do(t, http.MethodGet, "/api/history?path=A", ""), &history)
	if len(history) != 1 || history[0].Status != core.StatusPassed {
		t.Errorf("history = %+v", history)
	}

	var runs []core.RunInfo
	decode(t, f.do(t, http.MethodGet, "/api/runs?limit=5", ""), &runs)
	if len(runs) != 1 || runs[0].Summary.Status != core.StatusPassed {
		t.Errorf("runs = %+v", runs)
	}
}

func TestServer_AbortAtBarrier(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/api/auto-run", ""); w.Code != http.StatusAccepted {
		t.Fatalf("POST /api/auto-run = %d", w.Code)
	}
	req := f.waitForBarrier(t)
	if w := f.do(t, http.MethodPost, "/api/barriers/"+req.ID, `{"continue": false}`); w.Code != http.StatusNoContent {
		t.Fatalf("POST /api/barriers/{id} = %d", w.Code)
	}
	f.wait(t)

	if st, _ := f.engine.State("B"); st.Status != core.StatusUntested {
		t.Errorf("B = %s, want UNTESTED after abort", st.Status)
	}
	if st, _ := f.engine.State("Check"); st.Status != core.StatusFailed {
		t.Errorf("Check = %s, want FAILED", st.Status)
	}
}

func TestServer_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"unknown path", http.MethodPost, "/api/run", `{"path": "Nope"}`, http.StatusNotFound},
		{"bad filter", http.MethodPost, "/api/run", `{"filter": ["DONE"]}`, http.StatusBadRequest},
		{"bad body", http.MethodPost, "/api/restart", `{"path": 3}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/stop", `{"why": "x"}`, http.StatusBadRequest},
		{"unknown barrier", http.MethodPost, "/api/barriers/nope", `{"continue": true}`, http.StatusNotFound},
		{"history of unknown path", http.MethodGet, "/api/history?path=Nope", "", http.StatusNotFound},
		{"bad limit", http.MethodGet, "/api/runs?limit=x", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.target, tt.body)
			if w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.target, w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestServer_StopAndClear(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/api/stop", ""); w.Code != http.StatusAccepted {
		t.Errorf("POST /api/stop when idle = %d, want 202", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/clear", ""); w.Code != http.StatusAccepted {
		t.Errorf("POST /api/clear when idle = %d, want 202", w.Code)
	}
}

func TestBarriers_ContextCancel(t *testing.T) {
	b := NewBarriers()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := b.ConfirmBarrier(ctx, &core.BarrierRequest{ID: "b1", Path: "Check"})
		errCh <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(b.Pending()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("barrier never became pending")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-errCh; err == nil {
		t.Error("ConfirmBarrier() error = nil after cancel")
	}
	if got := b.Pending(); len(got) != 0 {
		t.Errorf("Pending() = %v after cancel, want empty", got)
	}
	if err := b.Answer("b1", true); err != ErrNoBarrier {
		t.Errorf("Answer() error = %v, want ErrNoBarrier", err)
	}
}
