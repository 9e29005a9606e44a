// Package kerrors defines the error taxonomy shared by every core
// subsystem (boot, memory, cache, update, jit), so callers can use a
// single errors.As to inspect a failure regardless of which subsystem
// produced it.
package kerrors

import "fmt"

// Code is the closed set of error kinds a subsystem may report.
type Code string

const (
	InvalidArgument   Code = "INVALID_ARGUMENT"
	NotFound          Code = "NOT_FOUND"
	AlreadyExists     Code = "ALREADY_EXISTS"
	VerificationFailed Code = "VERIFICATION_FAILED"
	DependencyError   Code = "DEPENDENCY_ERROR"
	PrerequisiteError Code = "PREREQUISITE_ERROR"
	ApplyError        Code = "APPLY_ERROR"
	RollbackError     Code = "ROLLBACK_ERROR"
	OutOfMemory       Code = "OUT_OF_MEMORY"
	IoError           Code = "IO_ERROR"
	Unsupported       Code = "UNSUPPORTED"
	Cancelled         Code = "CANCELLED"
	Fatal             Code = "FATAL"
)

// Error wraps a Code with the operation that raised it and, optionally,
// the underlying cause.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, kerrors.New(code, "", "")) style checks by
// comparing codes rather than identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New builds a plain error for Code with a descriptive message.
func New(code Code, op, msg string) error {
	return &Error{Code: code, Op: op, Msg: msg}
}

// Wrap builds an error for Code that carries the underlying cause.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the Code from err, or "" if err is not (or does not
// wrap) a *Error.
func CodeOf(err error) Code {
	var e *Error
	for err != nil {
		if ke, ok := err.(*Error); ok {
			e = ke
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Code
}
