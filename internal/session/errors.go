package session

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the referenced session does not exist or
// has already been removed. Callers cannot distinguish "never existed"
// from "already swept".
var ErrNotFound = errors.New("session: not found")

// ErrNotActive is returned when a mutation targets a session that is in
// a terminal state or logically expired.
var ErrNotActive = errors.New("session: not active")

// ValidationError describes malformed input with field-level detail.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session: invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
