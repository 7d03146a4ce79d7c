// Package testlist loads JSON test-list documents, resolves their
// inheritance, and builds the executable test tree.
//
// A test list is a chain of documents. Each document may inherit other
// documents; their constants, options, definitions and override_args are
// merged with later parents taking precedence and the document itself
// applied last. Definitions then resolve their own inherit chains with C3
// linearization inside the merged table, and the tests section is expanded
// into a tree of Nodes with unique dotted paths.
package testlist

import (
	"fmt"
	"time"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/value"
)

// Document field names
const (
	FieldInherit      = "inherit"
	FieldLabel        = "label"
	FieldConstants    = "constants"
	FieldOptions      = "options"
	FieldDefinitions  = "definitions"
	FieldTests        = "tests"
	FieldOverrideArgs = "override_args"
	FieldComment      = "__comment"
)

var documentFields = map[string]bool{
	FieldInherit:      true,
	FieldLabel:        true,
	FieldConstants:    true,
	FieldOptions:      true,
	FieldDefinitions:  true,
	FieldTests:        true,
	FieldOverrideArgs: true,
	FieldComment:      true,
}

// Document is one parsed <id>.test_list.json file. It is immutable after parsing.
type Document struct {
	ID      string
	Path    string
	ModTime time.Time

	Inherit []string

	// Body holds every field except inherit and __comment, ready to be merged.
	Body value.Value
}

// ParseDocument parses and validates the top-level shape of a document.
func ParseDocument(id string, data []byte) (*Document, error) {
	raw, err := value.Parse(data)
	if err != nil {
		return nil, core.ErrConfigSyntax.Errorf("test list %s: malformed JSON", id).WithCause(err)
	}
	return NewDocument(id, raw)
}

// NewDocument validates an already decoded document.
func NewDocument(id string, raw value.Value) (*Document, error) {
	if !raw.IsMapping() {
		return nil, core.ErrConfigSyntax.Errorf("test list %s: top level must be an object", id)
	}

	for _, k := range raw.Keys() {
		if !documentFields[k] {
			return nil, core.ErrConfigSyntax.Errorf("test list %s: unknown field %q", id, k)
		}
	}

	inherit, err := stringList(raw, FieldInherit)
	if err != nil {
		return nil, core.ErrConfigSyntax.Errorf("test list %s: %v", id, err)
	}

	for _, k := range []string{FieldConstants, FieldOptions, FieldDefinitions, FieldOverrideArgs} {
		if v, ok := raw.Get(k); ok && !v.IsMapping() {
			return nil, core.ErrConfigSyntax.Errorf("test list %s: %s must be an object", id, k)
		}
	}
	if v, ok := raw.Get(FieldTests); ok && !v.IsSequence() {
		return nil, core.ErrConfigSyntax.Errorf("test list %s: tests must be a list", id)
	}

	return &Document{
		ID:      id,
		Inherit: inherit,
		Body:    raw.Without(FieldInherit, FieldComment),
	}, nil
}

// stringList reads a field that may be absent, a string, or a list of strings.
func stringList(v value.Value, key string) ([]string, error) {
	f, ok := v.Get(key)
	if !ok || f.IsNull() {
		return nil, nil
	}
	if s, ok := f.Str(); ok {
		return []string{s}, nil
	}
	if !f.IsSequence() {
		return nil, fmt.Errorf("%s must be a string or a list of strings", key)
	}

	out := make([]string, 0, f.Len())
	for _, item := range f.Items() {
		s, ok := item.Str()
		if !ok {
			return nil, fmt.Errorf("%s must be a string or a list of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}
