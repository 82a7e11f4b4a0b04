package registry

import (
	"errors"
	"fmt"
)

// ToolError represents a structured handler failure that preserves message
// and causal context while still implementing the standard error interface.
// Tool errors may be nested via Cause to retain diagnostics when results are
// serialized back to the generation service.
type ToolError struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying tool error, enabling error chains with errors.Is/As.
	Cause *ToolError
}

// NewToolError constructs a ToolError with the provided message. Use when the
// failure does not wrap an underlying error but still requires structured
// reporting.
func NewToolError(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// ToolErrorf formats according to a format specifier and returns the string
// as a ToolError.
func ToolErrorf(format string, args ...any) *ToolError {
	return NewToolError(fmt.Sprintf(format, args...))
}

// ToolErrorFromError converts an arbitrary error into a ToolError chain.
func ToolErrorFromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{
		Message: err.Error(),
		Cause:   ToolErrorFromError(errors.Unwrap(err)),
	}
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}
