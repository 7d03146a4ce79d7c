package testlist

import (
	"encoding/json"
	"strings"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/i18n"
	"github.com/arccode/factory-sub002/pkg/value"
)

// Node is one test in a built tree. Nodes are read-only once the tree is
// built; run state lives in the engine, keyed by Path.
type Node struct {
	ID    string
	Path  string
	Label i18n.Text
	Class string

	PytestName string
	Args       value.Value
	Locals     map[string]interface{}
	RunIf      string

	ActionOnFailure core.Action
	Parallel        bool
	Teardown        bool
	AllowReboot     bool

	// Iterations is how many passing runs are wanted, -1 for forever.
	Iterations int
	// Retries is how many failed runs are tolerated, -1 for forever.
	Retries int

	ExclusiveResources []string
	Retestable         bool
	NoHost             bool
	DisableAbort       bool

	Parent   *Node
	Children []*Node

	// Spec is the resolved definition the node was built from.
	Spec value.Value
}

// IsRoot reports whether n is the synthetic root of a tree
func (n *Node) IsRoot() bool {
	return n.Parent == nil
}

// IsLeaf reports whether n has no subtests
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// IsGroup reports whether n has subtests
func (n *Node) IsGroup() bool {
	return len(n.Children) > 0
}

// IsBarrier reports whether n is an operator barrier
func (n *Node) IsBarrier() bool {
	return n.Class == ClassBarrier
}

// Walk calls fn on n and every descendant in pre-order. Returning false
// from fn skips the node's subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Leaves returns the leaves under n in execution order
func (n *Node) Leaves() []*Node {
	var out []*Node
	n.Walk(func(c *Node) bool {
		if c.IsLeaf() && !c.IsRoot() {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Contains reports whether path names n or one of its descendants.
func (n *Node) Contains(path string) bool {
	if n.Path == "" || n.Path == path {
		return true
	}
	return strings.HasPrefix(path, n.Path+".")
}

type nodeJSON struct {
	ID                 string                 `json:"id"`
	Path               string                 `json:"path"`
	Label              i18n.Text              `json:"label"`
	Class              string                 `json:"class"`
	PytestName         string                 `json:"pytestName,omitempty"`
	Args               value.Value            `json:"args,omitempty"`
	Locals             map[string]interface{} `json:"locals,omitempty"`
	RunIf              string                 `json:"runIf,omitempty"`
	ActionOnFailure    core.Action            `json:"actionOnFailure"`
	Parallel           bool                   `json:"parallel,omitempty"`
	Teardown           bool                   `json:"teardown,omitempty"`
	AllowReboot        bool                   `json:"allowReboot,omitempty"`
	Iterations         int                    `json:"iterations"`
	Retries            int                    `json:"retries"`
	ExclusiveResources []string               `json:"exclusiveResources,omitempty"`
	Retestable         bool                   `json:"retestable,omitempty"`
	Subtests           []*Node                `json:"subtests,omitempty"`
}

// MarshalJSON renders the subtree rooted at n for external UIs.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeJSON{
		ID:                 n.ID,
		Path:               n.Path,
		Label:              n.Label,
		Class:              n.Class,
		PytestName:         n.PytestName,
		Args:               n.Args,
		Locals:             n.Locals,
		RunIf:              n.RunIf,
		ActionOnFailure:    n.ActionOnFailure,
		Parallel:           n.Parallel,
		Teardown:           n.Teardown,
		AllowReboot:        n.AllowReboot,
		Iterations:         n.Iterations,
		Retries:            n.Retries,
		ExclusiveResources: n.ExclusiveResources,
		Retestable:         n.Retestable,
		Subtests:           n.Children,
	})
}
