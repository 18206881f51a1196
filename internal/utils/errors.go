package utils

import (
	"errors"
	"strings"
)

// AppError records which component operation failed, what it was doing and
// the underlying cause.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// OpOf returns the operation of the outermost AppError in err's chain, or "".
func OpOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Op
	}
	return ""
}
