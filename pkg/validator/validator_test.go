package validator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

func writeLists(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for id, doc := range docs {
		path := filepath.Join(dir, id+testlist.FileSuffix)
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return dir
}

func newValidator(t *testing.T, docs map[string]string, opts ...Option) *Validator {
	t.Helper()
	dir := writeLists(t, docs)
	return New(testlist.NewManager(testlist.NewLoader(dir, ""), nil), opts...)
}

func TestValidate_AllValid(t *testing.T) {
	v := newValidator(t, map[string]string{
		"main": `{"inherit": ["base"], "tests": [{"id": "A", "pytest_name": "a"}, {"id": "B", "pytest_name": "b"}]}`,
		"base": `{"constants": {"retries": 1}}`,
	})

	result, err := v.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.IsValid() {
		t.Fatalf("Validate() errors = %v", result.Err())
	}

	var ids []string
	for _, l := range result.Lists {
		ids = append(ids, l.ID)
	}
	if diff := cmp.Diff([]string{"base", "main"}, ids); diff != "" {
		t.Errorf("lists mismatch (-want +got):\n%s", diff)
	}
	if main := result.Lists[1]; main.Tests != 2 {
		t.Errorf("main.Tests = %d, want 2", main.Tests)
	}
	if base := result.Lists[0]; len(base.Warnings) != 1 {
		t.Errorf("base.Warnings = %v, want an empty-list warning", base.Warnings)
	}
}

func TestValidate_CollectsEveryError(t *testing.T) {
	v := newValidator(t, map[string]string{
		"good":      `{"tests": [{"id": "A", "pytest_name": "a"}]}`,
		"undefined": `{"tests": [{"inherit": "Missing"}]}`,
		"duplicate": `{"tests": [{"id": "A", "pytest_name": "a"}, {"id": "A", "pytest_name": "b"}]}`,
		"syntax":    `{"tests": [`,
	})

	result, err := v.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.IsValid() {
		t.Fatal("Validate() reported no errors")
	}
	if n := len(result.Errors.Errors); n != 3 {
		t.Fatalf("got %d errors, want 3: %v", n, result.Err())
	}
	if len(result.Lists) != 1 || result.Lists[0].ID != "good" {
		t.Errorf("Lists = %+v, want only good", result.Lists)
	}

	// Errors are ordered by list id.
	var lists []string
	for _, e := range result.Errors.Errors {
		var ve *ValidationError
		if !errors.As(e, &ve) {
			t.Fatalf("error %v is not a ValidationError", e)
		}
		lists = append(lists, ve.List)
	}
	if diff := cmp.Diff([]string{"duplicate", "syntax", "undefined"}, lists); diff != "" {
		t.Errorf("error order mismatch (-want +got):\n%s", diff)
	}

	if !errors.Is(result.Errors.Errors[0], core.ErrDuplicatePath) {
		t.Errorf("duplicate error = %v, want ErrDuplicatePath", result.Errors.Errors[0])
	}
	if !errors.Is(result.Errors.Errors[2], core.ErrUndefinedDefinition) {
		t.Errorf("undefined error = %v, want ErrUndefinedDefinition", result.Errors.Errors[2])
	}
}

func TestValidate_SelectedIDs(t *testing.T) {
	v := newValidator(t, map[string]string{
		"good": `{"tests": [{"id": "A", "pytest_name": "a"}]}`,
		"bad":  `{"tests": [{"inherit": "Missing"}]}`,
	})

	result, err := v.Validate(context.Background(), "good")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.IsValid() || len(result.Lists) != 1 {
		t.Errorf("Validate(good) = %+v, %v", result.Lists, result.Err())
	}
}

func TestValidate_PytestDir(t *testing.T) {
	pytests := t.TempDir()
	if err := os.WriteFile(filepath.Join(pytests, "touchscreen.py"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(pytests, "audio", "loop"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pytests, "audio", "loop", "__init__.py"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	v := newValidator(t, map[string]string{
		"main": `{"tests": [
			{"id": "Touch", "pytest_name": "touchscreen"},
			{"id": "Audio", "pytest_name": "audio.loop"},
			{"id": "Lid", "pytest_name": "lid_switch"},
			{"id": "Check", "inherit": "Barrier"}
		]}`,
	}, WithPytestDir(pytests), WithWorkers(1))

	result, err := v.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.IsValid() || len(result.Errors.Errors) != 1 {
		t.Fatalf("Validate() errors = %v, want one", result.Err())
	}
	var ve *ValidationError
	if !errors.As(result.Errors.Errors[0], &ve) || ve.Path != "Lid" {
		t.Errorf("error = %v, want one for Lid", result.Errors.Errors[0])
	}
}

func TestValidate_SharedResourceWarning(t *testing.T) {
	v := newValidator(t, map[string]string{
		"main": `{"tests": [
			{"id": "P", "parallel": true, "subtests": [
				{"id": "A", "pytest_name": "a", "exclusive_resources": ["NETWORK"]},
				{"id": "B", "pytest_name": "b", "exclusive_resources": "NETWORK"},
				{"id": "C", "pytest_name": "c"}
			]}
		]}`,
	})

	result, err := v.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.IsValid() {
		t.Fatalf("Validate() errors = %v", result.Err())
	}
	warnings := result.Lists[0].Warnings
	if len(warnings) != 1 || !strings.Contains(warnings[0], "NETWORK is shared by P.A, P.B") {
		t.Errorf("Warnings = %v", warnings)
	}
}

func TestValidate_Cancelled(t *testing.T) {
	v := newValidator(t, map[string]string{"main": `{"tests": []}`})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := v.Validate(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Validate() error = %v, want context.Canceled", err)
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{List: "main", Path: "SMT.Probe", Err: core.ErrMissingPytestName}
	if got := err.Error(); !strings.HasPrefix(got, "main: SMT.Probe: ") {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, core.ErrMissingPytestName) {
		t.Error("ValidationError should unwrap to its cause")
	}
}
