// Package apperrors classifies failures into the outcome categories reported by the API.
//
// Services return errors built with the constructors below; the HTTP layer maps the
// Kind to a status code via httputil.WriteAppError. Errors that carry no Kind are
// treated as infrastructure failures and surface as 500s.
package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Kind identifies the outcome category of an error
type Kind string

const (
	KindValidation    Kind = "validation"
	KindBusinessRule  Kind = "business_rule"
	KindAccessDenied  Kind = "access_denied"
	KindNotFound      Kind = "not_found"
	KindUnprocessable Kind = "unprocessable"
	KindInternal      Kind = "internal"
	KindUnauthorized  Kind = "unauthorized"
)

// Error is a classified error with a human-readable reason
type Error struct {
	Kind   Kind
	Reason string
	Err    error
	// Fields maps offending input fields to the failed constraint
	Fields map[string]string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input or a field constraint violation
func Validation(format string, args ...interface{}) error {
	return newf(KindValidation, format, args...)
}

// InvalidFields reports per-field validation failures
func InvalidFields(fields map[string]string) error {
	return &Error{Kind: KindValidation, Reason: "invalid request", Fields: fields}
}

// FieldsOf returns the per-field failures of a validation error, if any
func FieldsOf(err error) map[string]string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Fields
	}
	return nil
}

// BusinessRule reports a well-formed request the state machine refuses
func BusinessRule(format string, args ...interface{}) error {
	return newf(KindBusinessRule, format, args...)
}

// AccessDenied reports a deny decision
func AccessDenied(format string, args ...interface{}) error {
	return newf(KindAccessDenied, format, args...)
}

// NotFound reports an id that does not resolve in the (possibly scoped) collection
func NotFound(format string, args ...interface{}) error {
	return newf(KindNotFound, format, args...)
}

// Unprocessable reports a semantically invalid request
func Unprocessable(format string, args ...interface{}) error {
	return newf(KindUnprocessable, format, args...)
}

// Unauthorized reports missing or bad credentials
func Unauthorized(format string, args ...interface{}) error {
	return newf(KindUnauthorized, format, args...)
}

// Internal reports an invariant step that failed mid-operation
func Internal(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindInternal, Reason: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the first classified error in the chain
func KindOf(err error) (Kind, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return "", false
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ReasonOf returns the client-facing reason of a classified error.
// Internal errors never expose their cause.
func ReasonOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return "internal server error"
}

// FromDB classifies constraint violations raised by postgres or sqlite.
// Other errors are returned unchanged.
func FromDB(err error, what string) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return &Error{Kind: KindBusinessRule, Reason: what + " already exists", Err: err}
		case "foreign_key_violation":
			return &Error{Kind: KindValidation, Reason: what + " references a record that does not exist", Err: err}
		case "check_violation", "not_null_violation":
			return &Error{Kind: KindValidation, Reason: "invalid " + what, Err: err}
		}
		return err
	}

	// go-sqlite3 only exposes typed errors under cgo; the message prefixes are stable.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return &Error{Kind: KindBusinessRule, Reason: what + " already exists", Err: err}
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return &Error{Kind: KindValidation, Reason: what + " references a record that does not exist", Err: err}
	case strings.Contains(msg, "CHECK constraint failed"), strings.Contains(msg, "NOT NULL constraint failed"):
		return &Error{Kind: KindValidation, Reason: "invalid " + what, Err: err}
	}
	return err
}
