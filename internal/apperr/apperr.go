// Package apperr defines the typed rejections returned by route and series
// operations. Each Error carries a Kind whose string is the caller-visible
// reason code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a rejected operation.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindValidation         Kind = "validation"
	KindInvalidState       Kind = "invalid_state"
	KindAbsenceConflict    Kind = "absence_conflict"
	KindMembershipConflict Kind = "membership_conflict"
	KindConflict           Kind = "conflict"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrAbsenceConflict    = &Error{Kind: KindAbsenceConflict}
	ErrMembershipConflict = &Error{Kind: KindMembershipConflict}
	ErrConflict           = &Error{Kind: KindConflict}
)

// Error is a domain rejection. It never wraps infrastructure failures.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return e.Msg
}

// Is matches any *Error of the same kind, so wrapped errors compare equal to
// the package sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// NotFound returns a not_found rejection.
func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

// Validation returns a validation rejection.
func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// InvalidState returns an invalid_state rejection.
func InvalidState(format string, args ...interface{}) *Error {
	return newf(KindInvalidState, format, args...)
}

// AbsenceConflict returns an absence_conflict rejection.
func AbsenceConflict(format string, args ...interface{}) *Error {
	return newf(KindAbsenceConflict, format, args...)
}

// MembershipConflict returns a membership_conflict rejection.
func MembershipConflict(format string, args ...interface{}) *Error {
	return newf(KindMembershipConflict, format, args...)
}

// Conflict returns a generic conflict rejection.
func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// is not a domain rejection.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps err to the status code a request handler should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidState, KindAbsenceConflict, KindMembershipConflict, KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
