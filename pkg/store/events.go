package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arccode/factory-sub002/pkg/core"
)

// EventLog is an append-only JSONL log of state changes.
type EventLog struct {
	path string
	file *os.File
}

// OpenEventLog opens path for appending, creating parent directories.
func OpenEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dirs: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &EventLog{path: path, file: file}, nil
}

// Path returns the log file path.
func (l *EventLog) Path() string {
	return l.path
}

// Append writes one change as a JSON line and syncs it.
func (l *EventLog) Append(change *core.StateChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event line: %w", err)
	}
	return l.file.Sync()
}

// Close closes the file.
func (l *EventLog) Close() error {
	return l.file.Close()
}

// Replay reads every change from a JSONL log in order. A truncated last line,
// left by a crash mid-write, is ignored; any other malformed line is an error.
func Replay(path string) ([]core.StateChange, error) {
	file, err := os.Open(path) //#nosec G304 -- path is the configured event log
	if err != nil {
		return nil, fmt.Errorf("open event log for replay: %w", err)
	}
	defer func() { _ = file.Close() }()

	var (
		changes []core.StateChange
		bad     error
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if bad != nil {
			return nil, bad
		}
		var change core.StateChange
		if err := json.Unmarshal([]byte(line), &change); err != nil {
			bad = fmt.Errorf("parse event line %d: %w", lineNo, err)
			continue
		}
		changes = append(changes, change)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return changes, nil
}

// LatestStates folds a replayed log into the last state of every path.
func LatestStates(changes []core.StateChange) map[string]core.RunState {
	out := make(map[string]core.RunState)
	for _, c := range changes {
		out[c.Path] = c.State
	}
	return out
}
