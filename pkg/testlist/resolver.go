package testlist

import (
	"strings"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/value"
)

// FieldID is the node id field; definitions default it to their own name.
const FieldID = "id"

// Definition is a fully resolved definition: every inherited field merged
// into one immutable spec.
type Definition struct {
	Name string

	// Class is the most specific intrinsic base, e.g. FactoryTest or TestGroup.
	Class string

	// Linearization lists the definitions merged, most specific first.
	Linearization []string

	// Spec holds the merged fields without inherit.
	Spec value.Value
}

// Resolver resolves inherit chains within one merged definitions table.
// It caches results and is not safe for concurrent use.
type Resolver struct {
	defs     value.Value
	linear   map[string][]string
	resolved map[string]*Definition
	visiting map[string]bool
}

// NewResolver creates a Resolver over a definitions mapping.
func NewResolver(definitions value.Value) *Resolver {
	return &Resolver{
		defs:     definitions,
		linear:   make(map[string][]string),
		resolved: make(map[string]*Definition),
		visiting: make(map[string]bool),
	}
}

// parentsOf returns the inherit list of a spec; FactoryTest when absent.
func parentsOf(spec value.Value) ([]string, error) {
	parents, err := stringList(spec, FieldInherit)
	if err != nil {
		return nil, core.ErrConfigSyntax.WithMessage(err.Error())
	}
	if len(parents) == 0 {
		return []string{ClassFactoryTest}, nil
	}
	return parents, nil
}

// IsIntrinsic reports whether name is a self-inheriting definition.
func (r *Resolver) IsIntrinsic(name string) bool {
	spec, ok := r.defs.Get(name)
	if !ok {
		return false
	}
	parents, err := stringList(spec, FieldInherit)
	return err == nil && len(parents) == 1 && parents[0] == name
}

// Linearize returns the C3 order of name, most specific first.
func (r *Resolver) Linearize(name string) ([]string, error) {
	if l, ok := r.linear[name]; ok {
		return l, nil
	}
	if r.visiting[name] {
		return nil, core.ErrInconsistentHierarchy.Errorf("detected inheritance loop at definition %s", name)
	}

	spec, ok := r.defs.Get(name)
	if !ok {
		return nil, core.ErrUndefinedDefinition.Errorf("definition %s is not defined", name)
	}
	if !spec.IsMapping() {
		return nil, core.ErrConfigSyntax.Errorf("definition %s must be an object", name)
	}

	if r.IsIntrinsic(name) {
		r.linear[name] = []string{name}
		return r.linear[name], nil
	}

	parents, err := parentsOf(spec)
	if err != nil {
		return nil, err
	}

	r.visiting[name] = true
	tail, err := r.linearizeParents(name, parents)
	delete(r.visiting, name)
	if err != nil {
		return nil, err
	}

	l := append([]string{name}, tail...)
	r.linear[name] = l
	return l, nil
}

func (r *Resolver) linearizeParents(owner string, parents []string) ([]string, error) {
	seqs := make([][]string, 0, len(parents)+1)
	for _, p := range parents {
		if p == owner {
			return nil, core.ErrInconsistentHierarchy.Errorf("%s lists itself among several bases", owner)
		}
		if !r.defs.Has(p) {
			return nil, core.ErrUndefinedDefinition.Errorf("%s inherits %s, which is not defined", describe(owner), p)
		}
		l, err := r.Linearize(p)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, l)
	}
	seqs = append(seqs, parents)

	out, ok := c3Merge(seqs)
	if !ok {
		return nil, core.ErrInconsistentHierarchy.Errorf(
			"cannot create a consistent inheritance order for %s with bases %s", describe(owner), strings.Join(parents, ", "))
	}
	return out, nil
}

// Resolve returns the merged definition for name.
func (r *Resolver) Resolve(name string) (*Definition, error) {
	if d, ok := r.resolved[name]; ok {
		return d, nil
	}

	l, err := r.Linearize(name)
	if err != nil {
		return nil, err
	}

	d := &Definition{
		Name:          name,
		Class:         r.classOf(l),
		Linearization: l,
		Spec:          r.fold(l),
	}
	r.resolved[name] = d
	return d, nil
}

// ResolveNode resolves an anonymous node from tests or subtests. A bare
// string is shorthand for {"inherit": name}.
func (r *Resolver) ResolveNode(raw value.Value) (*Definition, error) {
	if s, ok := raw.Str(); ok {
		return r.Resolve(s)
	}
	if !raw.IsMapping() {
		return nil, core.ErrConfigSyntax.Errorf("test must be an object or a definition name, got %v", raw)
	}

	parents, err := parentsOf(raw)
	if err != nil {
		return nil, err
	}
	tail, err := r.linearizeParents("", parents)
	if err != nil {
		return nil, err
	}

	spec := value.Merge(r.fold(tail), raw.Without(FieldInherit).ClearReplace())
	return &Definition{
		Class:         r.classOf(tail),
		Linearization: tail,
		Spec:          spec,
	}, nil
}

// fold merges the definitions of l from least to most specific. Named
// non-intrinsic definitions contribute their name as default id.
func (r *Resolver) fold(l []string) value.Value {
	acc := value.NewMapping(nil)
	for i := len(l) - 1; i >= 0; i-- {
		name := l[i]
		spec, _ := r.defs.Get(name)
		spec = spec.Without(FieldInherit).ClearReplace()
		if !r.IsIntrinsic(name) && !spec.Has(FieldID) {
			spec = spec.With(FieldID, value.NewString(name))
		}
		acc = value.Merge(acc, spec)
	}
	return acc
}

func (r *Resolver) classOf(l []string) string {
	for _, name := range l {
		if r.IsIntrinsic(name) {
			return name
		}
	}
	return ClassFactoryTest
}

func describe(owner string) string {
	if owner == "" {
		return "test"
	}
	return owner
}
