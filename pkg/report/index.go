package report

import (
	"path/filepath"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/logger"
)

// DebounceInterval delays flushes of progress (non-terminal) updates.
const DebounceInterval = 100 * time.Millisecond

// IndexWriter keeps report.json in sync with engine notifications.
// It implements core.Observer.
type IndexWriter struct {
	mu        sync.Mutex
	outputDir string
	path      string
	index     *Index
	byPath    map[string]int
	clock     clock.Clock
	dirty     bool

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewIndexWriter creates a writer for index and writes it once.
// A nil clk uses the wall clock.
func NewIndexWriter(outputDir string, index *Index, clk clock.Clock) *IndexWriter {
	if clk == nil {
		clk = clock.NewClock()
	}
	w := &IndexWriter{
		outputDir: outputDir,
		path:      filepath.Join(outputDir, IndexFile),
		index:     index,
		byPath:    make(map[string]int, len(index.Tests)),
		clock:     clk,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for i, t := range index.Tests {
		w.byPath[t.Path] = i
	}

	w.mu.Lock()
	w.flushLocked()
	w.mu.Unlock()

	w.wg.Add(1)
	go w.flushLoop()
	return w
}

// Path returns the location of report.json.
func (w *IndexWriter) Path() string {
	return w.path
}

// RunStarted resets the run fields of the index.
func (w *IndexWriter) RunStarted(run core.RunInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := run.StartTime
	w.index.RunID = run.ID
	w.index.Root = run.Root
	w.index.Status = core.StatusActive
	w.index.StartTime = &start
	w.index.EndTime = nil
	w.index.Stopped = false
	w.index.Reason = ""

	w.flushLocked()
}

// StateChanged updates one test entry. Terminal states flush immediately;
// progress updates are debounced to reduce I/O.
func (w *IndexWriter) StateChanged(change core.StateChange) {
	w.mu.Lock()
	defer w.mu.Unlock()

	i, ok := w.byPath[change.Path]
	if !ok {
		if change.Path != "" {
			logger.Debug("report: no entry for %s", change.Path)
		}
		return
	}
	w.applyChange(&w.index.Tests[i], change)
	w.dirty = true

	if isTerminal(change.State) {
		w.flushLocked()
		return
	}
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// RunFinished records the outcome of the run.
func (w *IndexWriter) RunFinished(run core.RunInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()

	end := run.EndTime
	w.index.EndTime = &end
	w.index.Stopped = run.Stopped
	w.index.Reason = run.Reason

	w.flushLocked()
}

// Close stops the flush loop and writes pending updates.
func (w *IndexWriter) Close() {
	close(w.done)
	w.wg.Wait()
	w.flush()
}

// GetIndex returns a copy of the current index.
func (w *IndexWriter) GetIndex() Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := *w.index
	idx.Tests = append([]TestEntry(nil), w.index.Tests...)
	return idx
}

// flushLoop waits for a progress update, then flushes once the debounce
// interval has passed.
func (w *IndexWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.kick:
		case <-w.done:
			return
		}

		t := w.clock.NewTimer(DebounceInterval)
		select {
		case <-t.C():
			w.flush()
		case <-w.done:
			t.Stop()
			return
		}
	}
}

func (w *IndexWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirty {
		w.flushLocked()
	}
}

// flushLocked writes the index while holding the lock.
func (w *IndexWriter) flushLocked() {
	w.index.UpdateSeq++
	w.index.LastUpdated = w.clock.Now()
	w.index.Summary = w.computeSummary()
	if w.index.RunID != "" {
		w.index.Status = w.computeRunStatus()
	}
	w.dirty = false

	if err := atomicWriteJSON(w.path, w.index); err != nil {
		logger.Warn("report: writing %s: %v", w.path, err)
	}
}

func (w *IndexWriter) applyChange(e *TestEntry, change core.StateChange) {
	st := change.State
	prev := e.Status

	e.Status = st.Status
	e.Skipped = st.Skipped
	e.Error = st.ErrorMsg
	e.Count = st.Count
	e.InvocationID = st.InvocationID
	e.StartTime = timePtr(st.StartTime)
	e.EndTime = timePtr(st.EndTime)
	e.Duration = nil
	if !st.StartTime.IsZero() && !st.EndTime.IsZero() {
		ms := st.EndTime.Sub(st.StartTime).Milliseconds()
		e.Duration = &ms
	}
	e.UpdateSeq++
	e.LastUpdated = timePtr(change.Time)

	if !e.Group && prev == core.StatusActive && st.Status.IsTerminal() {
		var ms int64
		if e.Duration != nil {
			ms = *e.Duration
		}
		e.Attempts = append(e.Attempts, AttemptEntry{
			Attempt:      len(e.Attempts) + 1,
			InvocationID: st.InvocationID,
			Status:       st.Status,
			Duration:     ms,
			Error:        st.ErrorMsg,
		})
	}
}

// computeSummary counts leaf entries.
func (w *IndexWriter) computeSummary() core.Summary {
	var states []core.RunState
	for _, t := range w.index.Tests {
		if t.Group {
			continue
		}
		states = append(states, core.RunState{Status: t.Status, Skipped: t.Skipped})
	}
	return core.ComputeSummary(states)
}

// computeRunStatus is ACTIVE until the run finished, then the summary status.
func (w *IndexWriter) computeRunStatus() core.TestStatus {
	if w.index.EndTime == nil {
		return core.StatusActive
	}
	return w.index.Summary.Status
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
