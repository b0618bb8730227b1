package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code Code
	Op   string
	Err  error
}

func (e *AppError) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return fmt.Sprintf("[%s] %s", e.Code, e.Op)
	case e.Op == "":
		return fmt.Sprintf("[%s] %v", e.Code, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Op, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError with the same code, so callers can branch on
// the sentinels declared in errors_code.go.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func WrapWithCode(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code: code,
		Op:   op,
		Err:  err,
	}
}

// New builds an AppError from a plain message.
func New(code Code, op string, format string, args ...interface{}) error {
	return &AppError{
		Code: code,
		Op:   op,
		Err:  fmt.Errorf(format, args...),
	}
}

// CodeOf returns the code of the outermost AppError in the chain, or
// Fatal for errors that never went through this package.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Fatal
}

// Is is a shortcut for checking the code of err.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
