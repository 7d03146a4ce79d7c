package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

// BuilderConfig configures skeleton generation.
type BuilderConfig struct {
	OutputDir string
	Device    Device
	// States seeds entries with previously saved states.
	States map[string]core.RunState
}

// BuildSkeleton creates an index with one UNTESTED entry per node of the
// list, in tree order.
func BuildSkeleton(tl *testlist.TestList, cfg BuilderConfig) *Index {
	index := &Index{
		Version:    Version,
		TestListID: tl.ID,
		Status:     core.StatusUntested,
		Device:     cfg.Device,
	}

	for _, n := range tl.Nodes() {
		if n.IsRoot() {
			continue
		}
		e := TestEntry{
			Path:       n.Path,
			Label:      n.Label.Default(),
			PytestName: n.PytestName,
			Group:      n.IsGroup(),
		}
		if st, ok := cfg.States[n.Path]; ok {
			e.Status = st.Status
			e.Skipped = st.Skipped
			e.Error = st.ErrorMsg
			e.Count = st.Count
			e.InvocationID = st.InvocationID
			e.StartTime = timePtr(st.StartTime)
			e.EndTime = timePtr(st.EndTime)
		}
		index.Tests = append(index.Tests, e)
	}
	return index
}

// ReadIndex loads report.json from a report directory.
func ReadIndex(reportDir string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(reportDir, IndexFile)) //#nosec G304 -- caller-provided report dir
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", IndexFile, err)
	}
	return &idx, nil
}

// atomicWriteJSON writes data as indented JSON through a temp file and rename.
func atomicWriteJSON(path string, data interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
