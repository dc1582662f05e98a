package service

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Match with errors.Is(err, ErrValidation) and so on.
var (
	ErrValidation    = errors.New("validation error")
	ErrSerialization = errors.New("serialization error")
	ErrWrite         = errors.New("write error")
	ErrParse         = errors.New("parse error")
	ErrHandler       = errors.New("handler error")

	// ErrArtifactExists is a WriteError: the final name for the id is taken.
	ErrArtifactExists = errors.New("artifact already exists")

	// ErrAlreadyHandled is returned by a Handler for an event it applied
	// before. The consumer archives the artifact as processed.
	ErrAlreadyHandled = errors.New("status already handled")
)

// Error carries a kind, a human-readable reason and the underlying cause.
type Error struct {
	Kind   error
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: cause}
}

func validationf(format string, args ...interface{}) *Error {
	return newError(ErrValidation, nil, format, args...)
}

// Reason returns the human-readable part of err.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// KindName is the short label of err's kind, used for metrics.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrSerialization):
		return "serialization"
	case errors.Is(err, ErrWrite):
		return "write"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrHandler):
		return "handler"
	default:
		return "unknown"
	}
}
