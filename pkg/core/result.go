package core

import (
	"time"
)

// RunState is the mutable per-node record owned by the execution engine
type RunState struct {
	Status   TestStatus `json:"status"`
	ErrorMsg string     `json:"errorMsg,omitempty"`
	Visible  bool       `json:"visible"`

	// Skipped is a terminal sub-state of UNTESTED set by run_if or skipped_tests
	Skipped bool `json:"skipped,omitempty"`

	// Count is how many times the node has been started
	Count        int    `json:"count"`
	InvocationID string `json:"invocation,omitempty"`

	IterationsLeft int `json:"iterationsLeft"`
	RetriesLeft    int `json:"retriesLeft"`

	StartTime time.Time `json:"startTime,omitempty"`
	EndTime   time.Time `json:"endTime,omitempty"`
}

// IsSkipped reports whether the node was skipped rather than run
func (s RunState) IsSkipped() bool {
	return s.Status == StatusUntested && s.Skipped
}

// StateChange is one ordered, path-stamped transition delivered to observers
type StateChange struct {
	Seq   uint64    `json:"seq"`
	RunID string    `json:"runId,omitempty"`
	Path  string    `json:"path"`
	State RunState  `json:"state"`
	Time  time.Time `json:"time"`

	// Attachments are the files of a finished invocation
	Attachments []Attachment `json:"attachments,omitempty"`
}

// RunInfo describes one engine run
type RunInfo struct {
	ID         string    `json:"id"`
	TestListID string    `json:"testListId"`
	Root       string    `json:"root"` // path the run was started on, "" for the whole list
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime,omitempty"`
	Stopped    bool      `json:"stopped,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Summary    Summary   `json:"summary"`
}

// Duration returns how long the run took, or zero while running
func (r RunInfo) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Observer receives engine notifications in transition order.
// Calls come from the engine loop; implementations must not block for long.
type Observer interface {
	RunStarted(run RunInfo)
	StateChanged(change StateChange)
	RunFinished(run RunInfo)
}

// ObserverFuncs adapts optional callbacks to the Observer interface
type ObserverFuncs struct {
	OnRunStarted   func(run RunInfo)
	OnStateChanged func(change StateChange)
	OnRunFinished  func(run RunInfo)
}

// RunStarted calls OnRunStarted if set
func (o ObserverFuncs) RunStarted(run RunInfo) {
	if o.OnRunStarted != nil {
		o.OnRunStarted(run)
	}
}

// StateChanged calls OnStateChanged if set
func (o ObserverFuncs) StateChanged(change StateChange) {
	if o.OnStateChanged != nil {
		o.OnStateChanged(change)
	}
}

// RunFinished calls OnRunFinished if set
func (o ObserverFuncs) RunFinished(run RunInfo) {
	if o.OnRunFinished != nil {
		o.OnRunFinished(run)
	}
}

// Summary counts leaf test states
type Summary struct {
	Total    int        `json:"total"`
	Untested int        `json:"untested"`
	Active   int        `json:"active"`
	Passed   int        `json:"passed"`
	Failed   int        `json:"failed"`
	Skipped  int        `json:"skipped"`
	Status   TestStatus `json:"status"`
}

// ComputeSummary calculates counts and the overall status from leaf states
// Rules:
// - Any FAILED leaf → FAILED
// - Otherwise any ACTIVE leaf → ACTIVE
// - Otherwise any UNTESTED (not skipped) leaf → UNTESTED
// - Otherwise → PASSED
func ComputeSummary(states []RunState) Summary {
	s := Summary{Total: len(states)}
	for _, st := range states {
		switch {
		case st.IsSkipped():
			s.Skipped++
		case st.Status == StatusUntested:
			s.Untested++
		case st.Status == StatusActive:
			s.Active++
		case st.Status == StatusPassed:
			s.Passed++
		case st.Status == StatusFailed:
			s.Failed++
		}
	}

	switch {
	case s.Failed > 0:
		s.Status = StatusFailed
	case s.Active > 0:
		s.Status = StatusActive
	case s.Untested > 0:
		s.Status = StatusUntested
	default:
		s.Status = StatusPassed
	}
	return s
}

// Success returns true if every leaf passed or was skipped
func (s Summary) Success() bool {
	return s.Total > 0 && s.Status == StatusPassed
}
