package testlist

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arccode/factory-sub002/pkg/expr"
	"github.com/arccode/factory-sub002/pkg/i18n"
	"github.com/arccode/factory-sub002/pkg/logger"
	"github.com/arccode/factory-sub002/pkg/value"
)

// Names visible to expressions
const (
	NameConstants  = "constants"
	NameOptions    = "options"
	NameLocals     = "locals"
	NameDevice     = "device"
	NameDUT        = "dut"
	NameStation    = "station"
	NameStateProxy = "state_proxy"
)

var (
	// ArgNames are visible to "eval! " test arguments and locals.
	ArgNames = []string{NameConstants, NameOptions, NameLocals, NameDevice, NameDUT, NameStation, NameStateProxy}
	// RunIfNames are visible to run_if conditions.
	RunIfNames = []string{NameConstants, NameOptions, NameDevice, NameLocals}
	// OptionNames are visible to "eval! " option values.
	OptionNames = []string{NameConstants}
)

// Env is the dispatch-time context expressions are evaluated in.
type Env struct {
	Constants map[string]interface{}
	Options   map[string]interface{}
	Device    map[string]interface{}

	// DUT and Station are external handles, nil when unavailable.
	DUT        interface{}
	Station    interface{}
	StateProxy expr.Object

	Catalog *i18n.Catalog
}

// ArgsNamespace returns the namespace for n's arguments.
func (e Env) ArgsNamespace(n *Node) expr.Namespace {
	ns := expr.Namespace{
		NameConstants:  nonNilMap(e.Constants),
		NameOptions:    nonNilMap(e.Options),
		NameLocals:     nonNilMap(n.Locals),
		NameDevice:     nonNilMap(e.Device),
		NameDUT:        e.DUT,
		NameStation:    e.Station,
		NameStateProxy: nil,
	}
	if e.StateProxy != nil {
		ns[NameStateProxy] = e.StateProxy
	}
	return ns
}

// RunIfNamespace returns the namespace for n's run_if condition.
func (e Env) RunIfNamespace(n *Node) expr.Namespace {
	return expr.Namespace{
		NameConstants: nonNilMap(e.Constants),
		NameOptions:   nonNilMap(e.Options),
		NameDevice:    nonNilMap(e.Device),
		NameLocals:    nonNilMap(n.Locals),
	}
}

// ResolveArgs evaluates n's arguments for one invocation.
func (e Env) ResolveArgs(n *Node) (map[string]interface{}, error) {
	resolved, err := ResolveValue(n.Args.Interface(), e.ArgsNamespace(n), e.Catalog)
	if err != nil {
		return nil, fmt.Errorf("test %s: %w", n.Path, err)
	}
	if m, ok := resolved.(map[string]interface{}); ok {
		return m, nil
	}
	return map[string]interface{}{}, nil
}

// ShouldRun evaluates n's run_if condition. A node without one always runs;
// a condition that fails to evaluate is logged and treated as true.
func (e Env) ShouldRun(n *Node) bool {
	if n.RunIf == "" {
		return true
	}
	v, err := expr.Eval(n.RunIf, e.RunIfNamespace(n))
	if err != nil {
		logger.Warn("Evaluating run_if of %s failed, running anyway: %v", n.Path, err)
		return true
	}
	return expr.Truthy(v)
}

// ResolveValue walks v and replaces "eval! " strings with their value and
// "i18n! " strings with their translations. Evaluated results are not
// walked again.
func ResolveValue(v interface{}, ns expr.Namespace, catalog *i18n.Catalog) (interface{}, error) {
	switch x := v.(type) {
	case string:
		if src, ok := expr.StripEval(x); ok {
			return expr.Eval(src, ns)
		}
		if t, ok := catalog.MayTranslate(x, false); ok {
			return textValue(t), nil
		}
		return x, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for _, k := range sortedKeys(x) {
			r, err := ResolveValue(x[k], ns, catalog)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			r, err := ResolveValue(item, ns, catalog)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

// resolveTree is ResolveValue over a value.Value. Mapping replace flags
// survive so the result can still be merged.
func resolveTree(v value.Value, ns expr.Namespace, catalog *i18n.Catalog) (value.Value, error) {
	switch v.Kind() {
	case value.Mapping:
		out := v
		for _, k := range v.Keys() {
			item, _ := v.Get(k)
			r, err := resolveTree(item, ns, catalog)
			if err != nil {
				return value.Value{}, fmt.Errorf("%s: %w", k, err)
			}
			out = out.With(k, r)
		}
		return out, nil
	case value.Sequence:
		items := make([]value.Value, len(v.Items()))
		for i, item := range v.Items() {
			r, err := resolveTree(item, ns, catalog)
			if err != nil {
				return value.Value{}, err
			}
			items[i] = r
		}
		return value.NewSequence(items), nil
	case value.Scalar:
		if _, ok := v.Str(); !ok {
			return v, nil
		}
		r, err := ResolveValue(v.Interface(), ns, catalog)
		if err != nil {
			return value.Value{}, err
		}
		return value.FromInterface(r)
	}
	return v, nil
}

// checkValue compiles every "eval! " string in v against names.
func checkValue(v value.Value, names []string, where string) error {
	switch v.Kind() {
	case value.Scalar:
		s, ok := v.Str()
		if !ok {
			return nil
		}
		if src, ok := expr.StripEval(s); ok {
			if err := expr.Check(src, names); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
		}
	case value.Mapping:
		for _, k := range v.Keys() {
			item, _ := v.Get(k)
			if err := checkValue(item, names, where+"."+k); err != nil {
				return err
			}
		}
	case value.Sequence:
		for i, item := range v.Items() {
			if err := checkValue(item, names, fmt.Sprintf("%s[%d]", where, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func textValue(t i18n.Text) map[string]interface{} {
	out := make(map[string]interface{}, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isEvalString(v value.Value) (string, bool) {
	s, ok := v.Str()
	if !ok || !strings.HasPrefix(s, expr.EvalPrefix) {
		return "", false
	}
	return strings.TrimPrefix(s, expr.EvalPrefix), true
}
