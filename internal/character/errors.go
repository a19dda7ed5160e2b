package character

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a character, scene or background is unknown.
	ErrNotFound = errors.New("not found")
	// ErrBuiltin is returned when an operation would modify built-in content.
	ErrBuiltin = errors.New("built-in content cannot be changed")
)

// RegistryError reports a malformed create request. The registry is left
// unchanged when one is returned.
type RegistryError struct {
	Field  string
	Reason string
	// Err is an optional sentinel such as ErrBuiltin.
	Err error
}

func (e *RegistryError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}
