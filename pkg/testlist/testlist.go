package testlist

import (
	"fmt"
	"time"

	"github.com/arccode/factory-sub002/pkg/i18n"
	"github.com/arccode/factory-sub002/pkg/value"
)

// TestList is a fully built, validated test list ready to run.
type TestList struct {
	ID    string
	Label i18n.Text

	// Chain lists the documents merged into the list, least specific first.
	Chain []string

	Constants map[string]interface{}
	Options   *Options
	Root      *Node
	ModTime   time.Time

	catalog *i18n.Catalog
	nodes   map[string]*Node
	order   []*Node
}

// Build turns a merged Config into a TestList. Any error means the list
// must not be run.
func Build(cfg *Config, catalog *i18n.Catalog) (*TestList, error) {
	constants := value.Settle(cfg.Constants).Map()

	opts, err := ParseOptions(value.Settle(cfg.Options), constants)
	if err != nil {
		return nil, wrapLoad(cfg.ID, err)
	}

	label := i18n.Untranslated(cfg.ID)
	if s, ok := cfg.Label.Str(); ok {
		label, _ = catalog.MayTranslate(s, true)
	}

	env := Env{
		Constants: constants,
		Options:   opts.Namespace(),
		Catalog:   catalog,
	}
	b := newBuilder(cfg.Definitions, env, opts.StrictIDs)
	root, err := b.build(label, cfg.Tests)
	if err != nil {
		return nil, wrapLoad(cfg.ID, err)
	}
	if err := b.applyOverrides(cfg.OverrideArgs); err != nil {
		return nil, wrapLoad(cfg.ID, err)
	}

	tl := &TestList{
		ID:        cfg.ID,
		Label:     label,
		Chain:     cfg.Chain,
		Constants: constants,
		Options:   opts,
		Root:      root,
		ModTime:   cfg.ModTime,
		catalog:   catalog,
		nodes:     b.nodes,
	}
	root.Walk(func(n *Node) bool {
		tl.order = append(tl.order, n)
		return true
	})
	return tl, nil
}

// Lookup returns the node at path; "" is the root.
func (tl *TestList) Lookup(path string) (*Node, bool) {
	n, ok := tl.nodes[path]
	return n, ok
}

// MustLookup is Lookup for paths known to exist.
func (tl *TestList) MustLookup(path string) *Node {
	n, ok := tl.nodes[path]
	if !ok {
		panic(fmt.Sprintf("testlist %s: no test at %q", tl.ID, path))
	}
	return n
}

// Nodes returns every node in pre-order, root first.
func (tl *TestList) Nodes() []*Node {
	return tl.order
}

// Paths returns every node path in pre-order, root first.
func (tl *TestList) Paths() []string {
	out := make([]string, len(tl.order))
	for i, n := range tl.order {
		out[i] = n.Path
	}
	return out
}

// Env returns the evaluation context for this list with the given device data.
func (tl *TestList) Env(device map[string]interface{}) Env {
	return Env{
		Constants: tl.Constants,
		Options:   tl.Options.Namespace(),
		Device:    device,
		Catalog:   tl.catalog,
	}
}

// SkippedPaths returns the paths of nodes selected by the skipped_tests
// option, in tree order.
func (tl *TestList) SkippedPaths(device map[string]interface{}) []string {
	patterns := tl.Options.SkipPatterns(tl.Env(device))
	if len(patterns) == 0 {
		return nil
	}

	var out []string
	for _, n := range tl.order[1:] {
		for _, p := range patterns {
			if MatchSkipPattern(p, n.Path) {
				out = append(out, n.Path)
				break
			}
		}
	}
	return out
}
