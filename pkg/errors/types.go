package errors

import (
	"fmt"
)

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// DuplicateProjectError is returned when two projects share a name.
type DuplicateProjectError struct {
	Name string
}

func (err DuplicateProjectError) Error() string {
	return fmt.Sprintf("project %q is defined more than once", err.Name)
}

// UnknownProjectError is returned when an operation refers to a project that
// was never registered.
type UnknownProjectError struct {
	Name string
}

func (err UnknownProjectError) Error() string {
	return fmt.Sprintf("unknown project %q", err.Name)
}
