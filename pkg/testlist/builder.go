package testlist

import (
	"fmt"
	"strings"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/expr"
	"github.com/arccode/factory-sub002/pkg/i18n"
	"github.com/arccode/factory-sub002/pkg/logger"
	"github.com/arccode/factory-sub002/pkg/value"
)

// Node spec field names
const (
	FieldPytestName           = "pytest_name"
	FieldArgs                 = "args"
	FieldSubtests             = "subtests"
	FieldLocals               = "locals"
	FieldRunIf                = "run_if"
	FieldActionOnFailure      = "action_on_failure"
	FieldChildActionOnFailure = "child_action_on_failure"
	FieldParallel             = "parallel"
	FieldTeardown             = "teardown"
	FieldAllowReboot          = "allow_reboot"
	FieldIterations           = "iterations"
	FieldRetries              = "retries"
	FieldExclusiveResources   = "exclusive_resources"
	FieldNoHost               = "no_host"
	FieldDisableAbort         = "disable_abort"
	FieldRetestable           = "retestable"
)

var nodeFields = map[string]bool{
	FieldID:                   true,
	FieldLabel:                true,
	FieldInherit:              true,
	FieldComment:              true,
	FieldPytestName:           true,
	FieldArgs:                 true,
	FieldSubtests:             true,
	FieldLocals:               true,
	FieldRunIf:                true,
	FieldActionOnFailure:      true,
	FieldChildActionOnFailure: true,
	FieldParallel:             true,
	FieldTeardown:             true,
	FieldAllowReboot:          true,
	FieldIterations:           true,
	FieldRetries:              true,
	FieldExclusiveResources:   true,
	FieldNoHost:               true,
	FieldDisableAbort:         true,
	FieldRetestable:           true,
}

// builder expands resolved definitions into a tree of Nodes.
type builder struct {
	resolver  *Resolver
	env       Env
	strictIDs bool
	nodes     map[string]*Node
}

func newBuilder(definitions value.Value, env Env, strictIDs bool) *builder {
	return &builder{
		resolver:  NewResolver(definitions),
		env:       env,
		strictIDs: strictIDs,
		nodes:     make(map[string]*Node),
	}
}

// build expands tests under a synthetic root node.
func (b *builder) build(label i18n.Text, tests value.Value) (*Node, error) {
	root := &Node{
		Label:           label,
		Class:           ClassTestGroup,
		Args:            value.NewMapping(nil),
		Locals:          map[string]interface{}{},
		ActionOnFailure: core.ActionNext,
		Iterations:      1,
		Retestable:      true,
		Spec:            value.NewMapping(nil),
	}
	b.nodes[""] = root

	if err := b.buildChildren(root, tests.Items(), nil); err != nil {
		return nil, err
	}
	return root, nil
}

func (b *builder) buildChildren(parent *Node, items []value.Value, childAction *core.Action) error {
	used := make(map[string]bool, len(items))
	seenTeardown := false

	for i, raw := range items {
		n, err := b.buildNode(parent, raw, childAction, used)
		if err != nil {
			return fmt.Errorf("%s: %w", describeSlot(parent, i), err)
		}
		if n.Teardown {
			seenTeardown = true
		} else if seenTeardown && !parent.Teardown {
			return core.ErrTestList.Errorf(
				"%s: non-teardown test %s follows a teardown test", describeSlot(parent, i), n.Path)
		}
		parent.Children = append(parent.Children, n)
	}
	return nil
}

func (b *builder) buildNode(parent *Node, raw value.Value, childAction *core.Action, used map[string]bool) (*Node, error) {
	def, err := b.resolver.ResolveNode(raw)
	if err != nil {
		return nil, err
	}
	spec := value.Settle(def.Spec.Without(FieldComment))
	for _, k := range spec.Keys() {
		if !nodeFields[k] {
			return nil, core.ErrConfigSyntax.Errorf("unknown test field %q", k)
		}
	}

	f := fieldReader{spec: spec}
	n := &Node{
		Class:        def.Class,
		Parent:       parent,
		Spec:         spec,
		PytestName:   f.str(FieldPytestName),
		RunIf:        f.str(FieldRunIf),
		Parallel:     f.boolean(FieldParallel),
		Teardown:     f.boolean(FieldTeardown) || parent.Teardown,
		AllowReboot:  f.boolean(FieldAllowReboot),
		NoHost:       f.boolean(FieldNoHost),
		DisableAbort: f.boolean(FieldDisableAbort),
		Retestable:   f.boolean(FieldRetestable),
		Iterations:   f.integer(FieldIterations, 1),
		Retries:      f.integer(FieldRetries, 0),
	}
	n.ExclusiveResources, err = stringList(spec, FieldExclusiveResources)
	if err != nil {
		f.fail(err)
	}
	subtests := f.seq(FieldSubtests)
	args := f.mapping(FieldArgs)
	locals := f.mapping(FieldLocals)
	if raw, ok := def.Spec.Get(FieldLocals); ok && raw.IsMapping() {
		// keep replace flags so a local can replace the inherited one
		locals = raw
	}
	explicitID := f.str(FieldID)
	explicitLabel := f.str(FieldLabel)
	action := f.action(FieldActionOnFailure)
	childDefault := f.action(FieldChildActionOnFailure)
	if f.err != nil {
		return nil, f.err
	}

	if n.PytestName != "" && len(subtests) > 0 {
		return nil, core.ErrConfigSyntax.Errorf("test %s has both pytest_name and subtests", n.PytestName)
	}
	if n.Iterations == 0 || n.Iterations < -1 {
		return nil, core.ErrConfigSyntax.Errorf("iterations must be a positive integer or -1, got %d", n.Iterations)
	}
	if n.Retries < -1 {
		return nil, core.ErrConfigSyntax.Errorf("retries must be a non-negative integer or -1, got %d", n.Retries)
	}

	if err := b.assignIdentity(n, explicitID, explicitLabel, used); err != nil {
		return nil, err
	}

	switch {
	case action != nil:
		n.ActionOnFailure = *action
	case childAction != nil:
		n.ActionOnFailure = *childAction
	default:
		n.ActionOnFailure = core.ActionNext
	}
	if n.Teardown && n.ActionOnFailure != core.ActionNext {
		logger.Warn("Teardown test %s has action_on_failure %s, using NEXT", n.Path, n.ActionOnFailure)
		n.ActionOnFailure = core.ActionNext
	}

	if n.Locals, err = b.evalLocals(parent, locals); err != nil {
		return nil, fmt.Errorf("test %s: locals: %w", n.Path, err)
	}
	if err := checkValue(args, ArgNames, n.Path+".args"); err != nil {
		return nil, err
	}
	n.Args = args
	if n.RunIf != "" {
		if err := expr.Check(n.RunIf, RunIfNames); err != nil {
			return nil, fmt.Errorf("test %s: run_if: %w", n.Path, err)
		}
	}

	if err := b.buildChildren(n, subtests, childDefault); err != nil {
		return nil, err
	}
	return n, b.checkShape(n)
}

// assignIdentity picks n's id, label and path. The id is the explicit or
// definition-provided one, else derived from the label, else from the
// pytest name. Colliding sibling ids get a _2, _3, ... suffix.
func (b *builder) assignIdentity(n *Node, id, label string, used map[string]bool) error {
	catalog := b.env.Catalog

	switch {
	case label != "":
		n.Label, _ = catalog.MayTranslate(label, true)
	case n.PytestName != "":
		n.Label = catalog.Translate(PytestNameToLabel(n.PytestName))
	case id != "":
		n.Label = i18n.Untranslated(id)
	default:
		n.Label = i18n.Untranslated(DefaultGroupLabel)
	}

	if id == "" {
		switch {
		case label != "":
			id = LabelToID(strings.TrimPrefix(label, i18n.Prefix))
		case n.PytestName != "":
			id = LabelToID(PytestNameToLabel(n.PytestName))
		default:
			id = LabelToID(DefaultGroupLabel)
		}
	}
	if !ValidID(id) {
		return core.ErrConfigSyntax.Errorf("invalid test id %q: ids may only contain letters and digits", id)
	}

	if used[id] {
		if b.strictIDs {
			return core.ErrDuplicatePath.Errorf("duplicate sibling id %s", id)
		}
		base := id
		for i := 2; used[id]; i++ {
			id = fmt.Sprintf("%s_%d", base, i)
		}
	}
	used[id] = true

	n.ID = id
	n.Path = id
	if !n.Parent.IsRoot() {
		n.Path = n.Parent.Path + "." + id
	}
	if _, dup := b.nodes[n.Path]; dup {
		return core.ErrDuplicatePath.Errorf("duplicate test path %s", n.Path)
	}
	b.nodes[n.Path] = n
	return nil
}

// evalLocals evaluates a node's own locals in its parent's scope and merges
// them over the parent's locals.
func (b *builder) evalLocals(parent *Node, own value.Value) (map[string]interface{}, error) {
	env := b.env
	env.DUT, env.Station, env.StateProxy = nil, nil, nil

	ownValue, err := resolveTree(own, env.ArgsNamespace(parent), env.Catalog)
	if err != nil {
		return nil, err
	}
	inherited, err := value.FromInterface(parent.Locals)
	if err != nil {
		return nil, err
	}
	return value.Settle(value.Merge(inherited, ownValue)).Map(), nil
}

func (b *builder) checkShape(n *Node) error {
	if n.Parallel {
		if n.IsLeaf() {
			return core.ErrTestList.Errorf("parallel test %s has no subtests", n.Path)
		}
		for _, c := range n.Children {
			if !c.IsLeaf() {
				return core.ErrTestList.Errorf("parallel test %s may only contain leaf tests, %s is a group", n.Path, c.Path)
			}
		}
	}
	if n.IsLeaf() && n.PytestName == "" && !n.IsBarrier() && !IsGroupClass(n.Class) {
		return core.ErrMissingPytestName.Errorf("leaf test %s has no pytest_name", n.Path)
	}
	return nil
}

// applyOverrides merges override_args patches into the args of the nodes
// they name. Unknown paths are logged and ignored.
func (b *builder) applyOverrides(overrides value.Value) error {
	for _, path := range overrides.Keys() {
		patch, _ := overrides.Get(path)
		n, ok := b.nodes[path]
		if !ok || path == "" {
			logger.Warn("override_args: no test at path %q, ignoring", path)
			continue
		}
		if !patch.IsMapping() {
			return core.ErrConfigSyntax.Errorf("override_args for %s must be an object", path)
		}
		args := value.Settle(value.Merge(n.Args, patch))
		if err := checkValue(args, ArgNames, path+".args"); err != nil {
			return err
		}
		n.Args = args
	}
	return nil
}

func describeSlot(parent *Node, i int) string {
	if parent.IsRoot() {
		return fmt.Sprintf("tests[%d]", i)
	}
	return fmt.Sprintf("%s.subtests[%d]", parent.Path, i)
}

// fieldReader reads typed fields from a spec, remembering the first error.
type fieldReader struct {
	spec value.Value
	err  error
}

func (f *fieldReader) fail(err error) {
	if f.err == nil {
		f.err = core.ErrConfigSyntax.WithMessage(err.Error())
	}
}

func (f *fieldReader) get(key string) (value.Value, bool) {
	v, ok := f.spec.Get(key)
	if !ok || v.IsNull() {
		return value.Value{}, false
	}
	return v, true
}

func (f *fieldReader) str(key string) string {
	v, ok := f.get(key)
	if !ok {
		return ""
	}
	s, ok := v.Str()
	if !ok {
		f.fail(fmt.Errorf("%s must be a string, got %v", key, v))
	}
	return s
}

func (f *fieldReader) boolean(key string) bool {
	v, ok := f.get(key)
	if !ok {
		return false
	}
	b, ok := v.Bool()
	if !ok {
		f.fail(fmt.Errorf("%s must be a bool, got %v", key, v))
	}
	return b
}

func (f *fieldReader) integer(key string, def int) int {
	v, ok := f.get(key)
	if !ok {
		return def
	}
	i, ok := v.Int()
	if !ok {
		f.fail(fmt.Errorf("%s must be an integer, got %v", key, v))
		return def
	}
	return int(i)
}

func (f *fieldReader) seq(key string) []value.Value {
	v, ok := f.get(key)
	if !ok {
		return nil
	}
	if !v.IsSequence() {
		f.fail(fmt.Errorf("%s must be a list", key))
		return nil
	}
	return v.Items()
}

func (f *fieldReader) mapping(key string) value.Value {
	v, ok := f.get(key)
	if !ok {
		return value.NewMapping(nil)
	}
	if !v.IsMapping() {
		f.fail(fmt.Errorf("%s must be an object", key))
		return value.NewMapping(nil)
	}
	return v
}

func (f *fieldReader) action(key string) *core.Action {
	s := f.str(key)
	if s == "" {
		return nil
	}
	a, err := core.ParseAction(s)
	if err != nil {
		f.fail(fmt.Errorf("%s: %v", key, err))
		return nil
	}
	return &a
}
