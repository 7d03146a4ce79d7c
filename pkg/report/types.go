// Package report keeps a JSON report of the current run up to date.
//
// Layout:
//   - report.json: the index (small, rewritten atomically on every flush)
//
// The index is the single source of truth for external consumers. They poll
// report.json and use UpdateSeq (index-wide and per test) to detect changes.
package report

import (
	"time"

	"github.com/arccode/factory-sub002/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// IndexFile is the name of the index inside the report directory.
const IndexFile = "report.json"

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the main report file.
type Index struct {
	Version     string          `json:"version"`
	UpdateSeq   uint64          `json:"updateSeq"`
	TestListID  string          `json:"testListId"`
	RunID       string          `json:"runId,omitempty"`
	Root        string          `json:"root,omitempty"`
	Status      core.TestStatus `json:"status"`
	StartTime   *time.Time      `json:"startTime,omitempty"`
	EndTime     *time.Time      `json:"endTime,omitempty"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Stopped     bool            `json:"stopped,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Device      Device          `json:"device"`
	Summary     core.Summary    `json:"summary"`
	Tests       []TestEntry     `json:"tests"`
}

// Device identifies the station the report was produced on.
type Device struct {
	Hostname     string `json:"hostname,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
}

// TestEntry is the index entry of one node.
type TestEntry struct {
	Path         string          `json:"path"`
	Label        string          `json:"label"`
	PytestName   string          `json:"pytestName,omitempty"`
	Group        bool            `json:"group,omitempty"`
	Status       core.TestStatus `json:"status"`
	Skipped      bool            `json:"skipped,omitempty"`
	Error        string          `json:"error,omitempty"`
	Count        int             `json:"count"`
	InvocationID string          `json:"invocation,omitempty"`
	UpdateSeq    uint64          `json:"updateSeq"`
	StartTime    *time.Time      `json:"startTime,omitempty"`
	EndTime      *time.Time      `json:"endTime,omitempty"`
	Duration     *int64          `json:"duration,omitempty"` // milliseconds
	LastUpdated  *time.Time      `json:"lastUpdated,omitempty"`
	Attempts     []AttemptEntry  `json:"attempts,omitempty"`
}

// AttemptEntry records one finished invocation of a leaf.
type AttemptEntry struct {
	Attempt      int             `json:"attempt"`
	InvocationID string          `json:"invocation"`
	Status       core.TestStatus `json:"status"`
	Duration     int64           `json:"duration"` // milliseconds
	Error        string          `json:"error,omitempty"`
}

// isTerminal reports whether a state should be flushed without delay.
func isTerminal(st core.RunState) bool {
	return st.Status.IsTerminal() || st.IsSkipped()
}
