package testlist

import (
	"strings"
	"time"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/value"
)

// Config is a document merged with everything it inherits.
type Config struct {
	ID string

	// Chain lists the merged documents, least specific first, ending with ID.
	Chain []string

	Label        value.Value
	Constants    value.Value
	Options      value.Value
	Definitions  value.Value
	Tests        value.Value
	OverrideArgs value.Value

	// ModTime is the newest modification time in the chain.
	ModTime time.Time
}

// LoadConfig loads id and every document it inherits, and merges them.
func (l *Loader) LoadConfig(id string) (*Config, error) {
	docs := make(map[string]*Document)
	order, err := l.linearizeDocuments(id, docs, nil)
	if err != nil {
		return nil, err
	}
	return mergeDocuments(id, order, docs), nil
}

// linearizeDocuments returns the document precedence order for id, most
// specific first. Parents listed later in inherit have higher precedence.
func (l *Loader) linearizeDocuments(id string, docs map[string]*Document, stack []string) ([]string, error) {
	for _, s := range stack {
		if s == id {
			return nil, core.ErrInconsistentHierarchy.Errorf(
				"test list inheritance loop: %s", strings.Join(append(stack, id), " -> "))
		}
	}

	doc, ok := docs[id]
	if !ok {
		var err error
		if doc, err = l.Load(id); err != nil {
			if NotFound(err) && len(stack) > 0 {
				return nil, core.ErrUndefinedDefinition.Errorf(
					"test list %s inherits %s, which does not exist", stack[len(stack)-1], id)
			}
			return nil, err
		}
		docs[id] = doc
	}

	parents := make([]string, len(doc.Inherit))
	for i, p := range doc.Inherit {
		parents[len(doc.Inherit)-1-i] = p
	}

	seqs := make([][]string, 0, len(parents)+1)
	for _, p := range parents {
		sub, err := l.linearizeDocuments(p, docs, append(stack, id))
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, sub)
	}
	seqs = append(seqs, parents)

	tail, ok := c3Merge(seqs)
	if !ok {
		return nil, core.ErrInconsistentHierarchy.Errorf(
			"test list %s: cannot order inherited documents %v", id, doc.Inherit)
	}
	return append([]string{id}, tail...), nil
}

func mergeDocuments(id string, order []string, docs map[string]*Document) *Config {
	merged := intrinsicDocument()
	cfg := &Config{ID: id}

	for i := len(order) - 1; i >= 0; i-- {
		doc := docs[order[i]]
		merged = value.Merge(merged, doc.Body)
		cfg.Chain = append(cfg.Chain, doc.ID)
		if doc.ModTime.After(cfg.ModTime) {
			cfg.ModTime = doc.ModTime
		}
	}

	field := func(key string, empty value.Value) value.Value {
		if v, ok := merged.Get(key); ok && !v.IsNull() {
			return v
		}
		return empty
	}
	emptyMap := value.NewMapping(nil)

	cfg.Label = field(FieldLabel, value.NewString(id))
	cfg.Constants = field(FieldConstants, emptyMap)
	cfg.Options = field(FieldOptions, emptyMap)
	cfg.Definitions = consumeReplace(field(FieldDefinitions, emptyMap))
	cfg.Tests = field(FieldTests, value.NewSequence(nil))
	cfg.OverrideArgs = field(FieldOverrideArgs, emptyMap)
	return cfg
}

// consumeReplace clears the top-level replace flag of every definition once
// documents are merged, so that definition inheritance folds over a fixed
// table.
func consumeReplace(defs value.Value) value.Value {
	if !defs.IsMapping() {
		return defs
	}
	out := defs.ClearReplace()
	for _, name := range defs.Keys() {
		d, _ := defs.Get(name)
		out = out.With(name, d.ClearReplace())
	}
	return out
}
