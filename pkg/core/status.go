package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TestStatus represents the run status of a test node
type TestStatus int

const (
	StatusUntested TestStatus = iota // Not run yet, or cleared by a restart
	StatusActive                     // Currently executing
	StatusPassed                     // Completed successfully
	StatusFailed                     // Completed with a failure, or cancelled
)

// String returns the wire name of TestStatus
func (s TestStatus) String() string {
	switch s {
	case StatusUntested:
		return "UNTESTED"
	case StatusActive:
		return "ACTIVE"
	case StatusPassed:
		return "PASSED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true if the status is a final state
func (s TestStatus) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed
}

// ParseStatus converts a wire name back to a TestStatus.
func ParseStatus(s string) (TestStatus, error) {
	switch strings.ToUpper(s) {
	case "UNTESTED":
		return StatusUntested, nil
	case "ACTIVE":
		return StatusActive, nil
	case "PASSED":
		return StatusPassed, nil
	case "FAILED":
		return StatusFailed, nil
	}
	return StatusUntested, fmt.Errorf("unknown test status %q", s)
}

// MarshalJSON encodes the status as its wire name.
func (s TestStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a wire name.
func (s *TestStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Action is the control-flow policy applied after a node fails
type Action int

const (
	ActionNext   Action = iota // Continue with the next sibling
	ActionParent               // Skip remaining siblings, let the parent decide
	ActionStop                 // Only teardown tests may run afterwards
)

// String returns the wire name of Action
func (a Action) String() string {
	switch a {
	case ActionNext:
		return "NEXT"
	case ActionParent:
		return "PARENT"
	case ActionStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// ParseAction converts a configured action_on_failure value.
func ParseAction(s string) (Action, error) {
	switch s {
	case "NEXT":
		return ActionNext, nil
	case "PARENT":
		return ActionParent, nil
	case "STOP":
		return ActionStop, nil
	}
	return ActionNext, ErrConfigSyntax.WithMessage(
		fmt.Sprintf("action_on_failure must be one of NEXT, PARENT, STOP, got %q", s))
}

// MarshalJSON encodes the action as its wire name.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// ErrorCategory classifies harness errors
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryConfig                          // Malformed JSON, bad expression, bad option
	ErrCategoryResolution                      // Inheritance graph problems
	ErrCategoryBuild                           // Tree construction problems
	ErrCategoryExecution                       // A single test failed at run time
	ErrCategoryCancelled                       // Operator abort
	ErrCategoryInternal                        // Engine bug
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryResolution:
		return "resolution"
	case ErrCategoryBuild:
		return "build"
	case ErrCategoryExecution:
		return "execution"
	case ErrCategoryCancelled:
		return "cancelled"
	case ErrCategoryInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// IsLoadTime reports whether errors of this category prevent a run from starting.
func (c ErrorCategory) IsLoadTime() bool {
	return c == ErrCategoryConfig || c == ErrCategoryResolution || c == ErrCategoryBuild
}
