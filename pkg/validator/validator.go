// Package validator checks test lists before they are run.
// It builds every list upfront and reports all problems at once.
package validator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/arccode/factory-sub002/pkg/testlist"
)

// ValidationError is a problem found in one test list.
type ValidationError struct {
	List string
	Path string // test path, empty for list-level problems
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.List, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.List, e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ListReport describes one list that built successfully.
type ListReport struct {
	ID       string
	Tests    int // number of leaf tests
	Chain    []string
	Warnings []string
}

// Result contains the validation result.
type Result struct {
	// Lists holds the lists that built, sorted by id.
	Lists []ListReport
	// Errors holds every problem found, grouped by list.
	Errors *multierror.Error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return r.Errors.ErrorOrNil() == nil
}

// Err returns the combined error, or nil.
func (r *Result) Err() error {
	return r.Errors.ErrorOrNil()
}

// Validator validates test lists.
type Validator struct {
	manager *testlist.Manager
	// pytestDir, when set, is searched for every pytest_name.
	pytestDir string
	workers   int
}

// Option configures a Validator.
type Option func(*Validator)

// WithPytestDir checks that every pytest_name has a module under dir.
func WithPytestDir(dir string) Option {
	return func(v *Validator) {
		v.pytestDir = dir
	}
}

// WithWorkers bounds how many lists are built concurrently.
func WithWorkers(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.workers = n
		}
	}
}

// New creates a new Validator.
func New(m *testlist.Manager, opts ...Option) *Validator {
	v := &Validator{manager: m, workers: 4}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type outcome struct {
	report *ListReport
	errs   []error
}

// Validate builds the given lists, or every list when ids is empty.
func (v *Validator) Validate(ctx context.Context, ids ...string) (*Result, error) {
	if len(ids) == 0 {
		found, err := v.manager.Loader().FindIDs()
		if err != nil {
			return nil, fmt.Errorf("scanning test list directories: %w", err)
		}
		ids = found
	}
	ids = append([]string(nil), ids...)
	sort.Strings(ids)

	outcomes := make([]outcome, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcomes[i] = v.validateList(id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, o := range outcomes {
		if o.report != nil {
			result.Lists = append(result.Lists, *o.report)
		}
		for _, err := range o.errs {
			result.Errors = multierror.Append(result.Errors, err)
		}
	}
	return result, nil
}

func (v *Validator) validateList(id string) outcome {
	tl, err := v.manager.Build(id)
	if err != nil {
		return outcome{errs: []error{&ValidationError{List: id, Err: err}}}
	}

	report := &ListReport{ID: id, Chain: tl.Chain}
	var errs []error

	leaves := tl.Root.Leaves()
	report.Tests = len(leaves)
	if len(leaves) == 0 {
		report.Warnings = append(report.Warnings, "test list has no tests")
	}

	for _, n := range leaves {
		if n.IsBarrier() || v.pytestDir == "" || n.PytestName == "" {
			continue
		}
		if !v.pytestExists(n.PytestName) {
			errs = append(errs, &ValidationError{
				List: id,
				Path: n.Path,
				Err:  fmt.Errorf("pytest %q not found under %s", n.PytestName, v.pytestDir),
			})
		}
	}

	for _, n := range tl.Nodes() {
		if n.Parallel {
			report.Warnings = append(report.Warnings, sharedResourceWarnings(n)...)
		}
	}
	return outcome{report: report, errs: errs}
}

// pytestExists looks for <dir>/<a>/<b>.py or the package <dir>/<a>/<b>/__init__.py
// for pytest name "a.b".
func (v *Validator) pytestExists(name string) bool {
	rel := filepath.Join(strings.Split(name, ".")...)
	for _, candidate := range []string{rel + ".py", filepath.Join(rel, "__init__.py")} {
		if _, err := os.Stat(filepath.Join(v.pytestDir, candidate)); err == nil {
			return true
		}
	}
	return false
}

// sharedResourceWarnings reports resources held by more than one test of a
// parallel group. Such tests cannot actually run in parallel.
func sharedResourceWarnings(group *testlist.Node) []string {
	holders := make(map[string][]string)
	for _, c := range group.Children {
		for _, r := range c.ExclusiveResources {
			holders[r] = append(holders[r], c.Path)
		}
	}

	resources := make([]string, 0, len(holders))
	for r, paths := range holders {
		if len(paths) > 1 {
			resources = append(resources, r)
		}
	}
	sort.Strings(resources)

	out := make([]string, 0, len(resources))
	for _, r := range resources {
		out = append(out, fmt.Sprintf("%s: resource %s is shared by %s; these tests will run one at a time",
			group.Path, r, strings.Join(holders[r], ", ")))
	}
	return out
}
