// Package scadaerr defines the error taxonomy crossing component boundaries.
package scadaerr

import "fmt"

// Code classifies a failure so callers can decide whether to retry, abort, or
// surface it unchanged. See spec §7.
type Code int

const (
	InvalidParam Code = iota
	NoMemory
	IO
	Timeout
	Protocol
	NotFound
	AlreadyExists
	NotConnected
	Full
	Internal
)

func (c Code) String() string {
	switch c {
	case InvalidParam:
		return "INVALID_PARAM"
	case NoMemory:
		return "NO_MEMORY"
	case IO:
		return "IO"
	case Timeout:
		return "TIMEOUT"
	case Protocol:
		return "PROTOCOL"
	case NotFound:
		return "NOT_FOUND"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case NotConnected:
		return "NOT_CONNECTED"
	case Full:
		return "FULL"
	case Internal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error is the typed error every component boundary returns.
type Error struct {
	Code    Code
	Context string
	Cause   error
}

func New(code Code, context string) *Error {
	return &Error{Code: code, Context: context}
}

func Wrap(code Code, context string, cause error) *Error {
	return &Error{Code: code, Context: context, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Context)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err carries the given code, unwrapping nested *Error
// values along the way.
func Is(err error, code Code) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			if se.Code == code {
				return true
			}
			err = se.Cause
			continue
		}
		return false
	}
	return false
}
