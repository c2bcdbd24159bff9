package phase

import (
	"errors"
	"fmt"
)

// RecoverableError marks a transient failure: the phase is left unchanged
// and the saga is retried on the next trigger.
type RecoverableError struct {
	msg string
}

func (e *RecoverableError) Error() string { return e.msg }

// Recoverable builds a transient phase error.
func Recoverable(format string, args ...any) error {
	return &RecoverableError{msg: fmt.Sprintf(format, args...)}
}

// UnrecoverableError marks a terminal business failure: the saga transitions
// to failed and is not auto-retried.
type UnrecoverableError struct {
	msg string
}

func (e *UnrecoverableError) Error() string { return e.msg }

// Unrecoverable builds a terminal phase error.
func Unrecoverable(format string, args ...any) error {
	return &UnrecoverableError{msg: fmt.Sprintf(format, args...)}
}

// IsRecoverable reports whether the error should leave the phase unchanged
// for a later retry. Errors without an explicit classification are treated
// as terminal.
func IsRecoverable(err error) bool {
	var recoverable *RecoverableError
	return errors.As(err, &recoverable)
}
