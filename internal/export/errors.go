package export

import (
	"errors"
	"fmt"
)

// UserError marks failures the operator can fix: bad configuration, a
// missing input file, a table without its required columns, a malformed
// row. The CLI maps these to the "user error" exit status; everything else
// is an internal error with a distinct status, so on-call can tell the two
// classes apart from the exit code alone.
type UserError struct {
	Err error
}

func (e *UserError) Error() string { return e.Err.Error() }
func (e *UserError) Unwrap() error { return e.Err }

// Userf builds a UserError from a format string.
func Userf(format string, a ...any) error {
	return &UserError{Err: fmt.Errorf(format, a...)}
}

// AsUser wraps err as a UserError, preserving the chain for errors.Is/As.
func AsUser(err error) error {
	if err == nil {
		return nil
	}
	return &UserError{Err: err}
}

// IsUserError reports whether err belongs to the operator-fixable class.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}
