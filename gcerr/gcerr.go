// Package gcerr defines the service-specific error taxonomy shared by the
// allocator, mapper, and host channel (spec.md §7).
package gcerr

import (
	"errors"
	"fmt"
)

// Code is a service-specific status code, analogous to a HIDL/AIDL
// service-specific error.
type Code int

const (
	// BadDescriptor: malformed or unsupported allocator descriptor fields.
	BadDescriptor Code = iota + 1
	// Unsupported: format or metadata type not implemented.
	Unsupported
	// NoResources: host allocator exhausted, refcount pipe failure,
	// color-buffer creation failure, mmap failure, fence-wait error.
	NoResources
	// BadBuffer: unknown handle, double-lock, unlock-without-lock,
	// flush/reread without the matching CPU bit.
	BadBuffer
	// BadValue: access region out of bounds/degenerate, or a metadata
	// payload that fails to parse.
	BadValue
)

func (c Code) String() string {
	switch c {
	case BadDescriptor:
		return "BAD_DESCRIPTOR"
	case Unsupported:
		return "UNSUPPORTED"
	case NoResources:
		return "NO_RESOURCES"
	case BadBuffer:
		return "BAD_BUFFER"
	case BadValue:
		return "BAD_VALUE"
	default:
		return "UNKNOWN"
	}
}

// ServiceError is the error type returned by every allocator and mapper
// operation that can fail with one of the service-specific status codes.
type ServiceError struct {
	Code  Code
	Op    string // operation name, e.g. "allocate", "lock"
	Msg   string
	Cause error
}

func (e *ServiceError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Msg)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// New creates a ServiceError with no underlying cause.
func New(op string, code Code, msg string) *ServiceError {
	return &ServiceError{Op: op, Code: code, Msg: msg}
}

// Newf creates a ServiceError with a formatted message.
func Newf(op string, code Code, format string, args ...any) *ServiceError {
	return &ServiceError{Op: op, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps an underlying error with a service-specific code.
func Wrap(op string, code Code, cause error) *ServiceError {
	return &ServiceError{Op: op, Code: code, Msg: cause.Error(), Cause: cause}
}

// CodeOf extracts the Code from err, or 0 if err is nil or not a
// *ServiceError.
func CodeOf(err error) Code {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// Fatal aborts the process via a panic carrying msg. Reserved for broken
// invariants (magic mismatch, impossible internal state) per spec.md §7 —
// these always-on assertions intentionally do not return an error.
func Fatal(op, msg string) {
	panic(fmt.Sprintf("gralloc: fatal: %s: %s", op, msg))
}
