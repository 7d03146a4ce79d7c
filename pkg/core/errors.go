package core

import (
	"errors"
	"fmt"
)

// Error represents a structured harness error with category and details
type Error struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: undefined_definition, cancelled, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context (path, definition, file)
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Code, so derived copies still match
// the predefined sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.Cause = cause
	return &c
}

// WithMessage returns a copy of the error with a custom message
func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

// Errorf returns a copy of the error with a formatted message
func (e *Error) Errorf(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	merged := make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	c := *e
	c.Details = merged
	return &c
}

// Predefined errors
var (
	// Load time
	ErrConfigSyntax = &Error{
		Category: ErrCategoryConfig,
		Code:     "config_syntax",
		Message:  "syntax error in test list",
	}
	ErrUndefinedDefinition = &Error{
		Category: ErrCategoryResolution,
		Code:     "undefined_definition",
		Message:  "inherits an undefined definition",
	}
	ErrInconsistentHierarchy = &Error{
		Category: ErrCategoryResolution,
		Code:     "inconsistent_hierarchy",
		Message:  "cannot create a consistent inheritance order",
	}
	ErrDuplicatePath = &Error{
		Category: ErrCategoryBuild,
		Code:     "duplicate_path",
		Message:  "duplicate test path",
	}
	ErrMissingPytestName = &Error{
		Category: ErrCategoryBuild,
		Code:     "missing_pytest_name",
		Message:  "leaf test has no pytest_name",
	}
	ErrTestList = &Error{
		Category: ErrCategoryBuild,
		Code:     "test_list",
		Message:  "invalid test list",
	}

	// Run time
	ErrTestExecution = &Error{
		Category: ErrCategoryExecution,
		Code:     "test_execution",
		Message:  "test failed",
	}
	ErrCancelled = &Error{
		Category: ErrCategoryCancelled,
		Code:     "cancelled",
		Message:  "cancelled",
	}
	ErrInternal = &Error{
		Category: ErrCategoryInternal,
		Code:     "internal",
		Message:  "internal engine error",
	}
)

// NewError creates a new Error with the given parameters
func NewError(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf returns the category of the first *Error in err's chain.
func CategoryOf(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ErrCategoryNone
}
