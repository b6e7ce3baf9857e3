// Package ustoreerr defines the server's error taxonomy and its mapping onto
// gRPC status codes.
package ustoreerr

import (
	"fmt"

	"google.golang.org/grpc/codes"
)

// Code is one of the seven error classes a handler may return.
type Code string

const (
	InvalidArgument   Code = "invalid-argument"
	NotFound          Code = "not-found"
	Conflict          Code = "conflict"
	CapacityExhausted Code = "capacity-exhausted"
	EngineFailure     Code = "engine-failure"
	NotImplemented    Code = "not-implemented"
	Internal          Code = "internal"
)

// GRPCCode maps a Code onto the gRPC status code the transport reports.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case InvalidArgument:
		return codes.InvalidArgument
	case NotFound:
		return codes.NotFound
	case Conflict:
		return codes.Aborted
	case CapacityExhausted:
		return codes.ResourceExhausted
	case EngineFailure:
		return codes.Internal
	case NotImplemented:
		return codes.Unimplemented
	case Internal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// ErrUstore is a sentinel for use with errors.Is to check whether any error in
// a chain is an *Error.
var ErrUstore = &Error{}

// Error represents a server error carrying one of the seven taxonomy codes.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is supports errors.Is by matching any *Error target.
func (e *Error) Is(target error) bool {
	_, ok := target.(*Error)
	return ok
}

// New builds an *Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func InvalidArgumentf(format string, args ...any) *Error {
	return New(InvalidArgument, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, format, args...)
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, format, args...)
}

func CapacityExhaustedf(format string, args ...any) *Error {
	return New(CapacityExhausted, format, args...)
}

func EngineFailuref(format string, args ...any) *Error {
	return New(EngineFailure, format, args...)
}

func NotImplementedf(format string, args ...any) *Error {
	return New(NotImplemented, format, args...)
}

func Internalf(format string, args ...any) *Error {
	return New(Internal, format, args...)
}

// AsUstoreError extracts the *Error from err if present, wrapping unknown
// errors as Internal so every path through the dispatcher yields a code.
func AsUstoreError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Code: Internal, Message: err.Error()}
}
