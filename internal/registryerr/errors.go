// Package registryerr classifies registry failures so callers can tell a bad
// request from a state conflict or an unmet precondition.
package registryerr

import "errors"

type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindPrecondition Kind = "precondition"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindInternal     Kind = "internal"
)

// Error is a classified sentinel. Declare package-level values with the
// constructors below and compare with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error {
	return newError(KindValidation, code, message)
}

func Conflict(code, message string) *Error {
	return newError(KindConflict, code, message)
}

func Precondition(code, message string) *Error {
	return newError(KindPrecondition, code, message)
}

func NotFound(code, message string) *Error {
	return newError(KindNotFound, code, message)
}

func Forbidden(code, message string) *Error {
	return newError(KindForbidden, code, message)
}

// KindOf reports the kind of the first classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns the first classified error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// MessageOf returns the human readable message for err.
func MessageOf(err error) string {
	if e, ok := As(err); ok && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
