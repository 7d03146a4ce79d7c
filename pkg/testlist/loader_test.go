package testlist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/arccode/factory-sub002/pkg/core"
)

func TestLoader_PrivateShadowsPublic(t *testing.T) {
	public, private := t.TempDir(), t.TempDir()
	writeList(t, public, "main", `{"label": "Public"}`)
	writeList(t, public, "base", `{}`)
	privatePath := writeList(t, private, "main", `{"label": "Private"}`)

	l := NewLoader(public, private)
	path, err := l.Path("main")
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if path != privatePath {
		t.Errorf("Path() = %s, want %s", path, privatePath)
	}

	ids, err := l.FindIDs()
	if err != nil {
		t.Fatalf("FindIDs() error = %v", err)
	}
	if diff := cmp.Diff([]string{"base", "main"}, ids); diff != "" {
		t.Errorf("FindIDs() mismatch (-want +got):\n%s", diff)
	}

	cfg, err := l.LoadConfig("main")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Label.String() != "Private" {
		t.Errorf("Label = %v, want Private", cfg.Label)
	}
}

func TestLoader_ActiveID(t *testing.T) {
	public, private := t.TempDir(), t.TempDir()
	writeList(t, public, "main", `{}`)
	writeList(t, public, "other", `{}`)
	l := NewLoader(public, private)

	id, err := l.ActiveID()
	if err != nil {
		t.Fatalf("ActiveID() error = %v", err)
	}
	if id != DefaultActiveID {
		t.Errorf("ActiveID() = %s, want %s", id, DefaultActiveID)
	}

	if err := os.WriteFile(filepath.Join(public, ActiveMarker), []byte("main\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := l.SetActiveID("other"); err != nil {
		t.Fatalf("SetActiveID() error = %v", err)
	}
	if id, _ := l.ActiveID(); id != "other" {
		t.Errorf("ActiveID() = %s, want other", id)
	}
	if _, err := os.Stat(filepath.Join(private, ActiveMarker)); err != nil {
		t.Errorf("SetActiveID() should write the private marker: %v", err)
	}

	if err := l.SetActiveID("missing"); err == nil {
		t.Error("SetActiveID() should reject unknown test lists")
	}
}

func TestLoader_InvalidID(t *testing.T) {
	l := NewLoader(t.TempDir(), "")
	for _, id := range []string{"", "../main", `a\b`} {
		if _, err := l.Path(id); err == nil {
			t.Errorf("Path(%q) error = nil, want error", id)
		}
	}
}

func TestLoadConfig_DocumentPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeList(t, dir, "a", `{"constants": {"k": "a", "onlyA": 1, "nested": {"x": 1}}}`)
	writeList(t, dir, "b", `{"constants": {"k": "b", "nested": {"y": 2}}}`)
	writeList(t, dir, "main", `{"inherit": ["a", "b"], "constants": {"own": true}}`)
	writeList(t, dir, "reversed", `{"inherit": ["b", "a"]}`)
	writeList(t, dir, "override", `{"inherit": ["a", "b"], "constants": {"k": "override"}}`)

	l := NewLoader(dir, "")
	tests := []struct {
		id    string
		k     string
		chain []string
	}{
		{"main", "b", []string{"a", "b", "main"}},
		{"reversed", "a", []string{"b", "a", "reversed"}},
		{"override", "override", []string{"a", "b", "override"}},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			cfg, err := l.LoadConfig(tt.id)
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if k, _ := cfg.Constants.Get("k"); k.String() != tt.k {
				t.Errorf("constants.k = %v, want %s", k, tt.k)
			}
			if diff := cmp.Diff(tt.chain, cfg.Chain); diff != "" {
				t.Errorf("Chain mismatch (-want +got):\n%s", diff)
			}
			nested, _ := cfg.Constants.Get("nested")
			if !nested.Has("x") || !nested.Has("y") {
				t.Errorf("constants.nested = %v, want both x and y", nested)
			}
		})
	}
}

func TestLoadConfig_SharedParentLoadedOnce(t *testing.T) {
	dir := t.TempDir()
	writeList(t, dir, "common", `{"constants": {"k": "common"}}`)
	writeList(t, dir, "left", `{"inherit": "common"}`)
	writeList(t, dir, "right", `{"inherit": "common", "constants": {"k": "right"}}`)
	writeList(t, dir, "main", `{"inherit": ["left", "right"]}`)

	cfg, err := NewLoader(dir, "").LoadConfig("main")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if diff := cmp.Diff([]string{"common", "left", "right", "main"}, cfg.Chain); diff != "" {
		t.Errorf("Chain mismatch (-want +got):\n%s", diff)
	}
	if k, _ := cfg.Constants.Get("k"); k.String() != "right" {
		t.Errorf("constants.k = %v, want right", k)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		docs map[string]string
		want error
	}{
		{
			name: "loop",
			docs: map[string]string{"main": `{"inherit": "a"}`, "a": `{"inherit": "main"}`},
			want: core.ErrInconsistentHierarchy,
		},
		{
			name: "missing parent",
			docs: map[string]string{"main": `{"inherit": "gone"}`},
			want: core.ErrUndefinedDefinition,
		},
		{
			name: "unknown top-level field",
			docs: map[string]string{"main": `{"test": []}`},
			want: core.ErrConfigSyntax,
		},
		{
			name: "tests is not a list",
			docs: map[string]string{"main": `{"tests": {}}`},
			want: core.ErrConfigSyntax,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for id, content := range tt.docs {
				writeList(t, dir, id, content)
			}
			_, err := NewLoader(dir, "").LoadConfig("main")
			if !errors.Is(err, tt.want) {
				t.Errorf("LoadConfig() error = %v, want %v", err, tt.want)
			}
		})
	}

	_, err := NewLoader(t.TempDir(), "").LoadConfig("main")
	if !NotFound(err) {
		t.Errorf("LoadConfig() of a missing list error = %v, want not found", err)
	}
}
