package calendar

import (
	"errors"
	"fmt"
)

// ErrNoEvents is returned when multi-event extraction yields an empty list.
var ErrNoEvents = errors.New("no events extracted")

// SchemaError reports the first event field that violates the event shape.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid event field %q: %s", e.Field, e.Reason)
}

// ExtractionError wraps a model, parse or validation failure during
// extraction in the given mode.
type ExtractionError struct {
	Mode Mode
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s event extraction failed: %v", e.Mode, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// CalendarError wraps a calendar backend failure for one operation.
type CalendarError struct {
	Op  string
	Err error
}

func (e *CalendarError) Error() string {
	return fmt.Sprintf("calendar %s: %v", e.Op, e.Err)
}

func (e *CalendarError) Unwrap() error {
	return e.Err
}
