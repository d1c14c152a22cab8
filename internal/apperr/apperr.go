// Package apperr defines the error kinds surfaced by the scheduling and attendance services
// and how each maps to an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindForbidden          Kind = "FORBIDDEN"
	KindNotFound           Kind = "NOT_FOUND"
	KindSchedulingConflict Kind = "SCHEDULING_CONFLICT"
	KindInvalidEnrollment  Kind = "INVALID_ENROLLMENT"
	KindSessionLocked      Kind = "SESSION_LOCKED"
	KindInternal           Kind = "INTERNAL"
)

// CodeInvalidRecurrence is the validation code for a bad weekly rule.
const CodeInvalidRecurrence = "INVALID_RECURRENCE"

// Error is the typed error returned across package boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]string
	// ConflictSessionID is set for KindSchedulingConflict.
	ConflictSessionID string
	// StudentIDs lists offending students for KindInvalidEnrollment.
	StudentIDs []string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(string(e.Kind))
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a validation error with optional field detail.
func Validation(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: string(KindValidation), Message: msg, Fields: fields}
}

// Field is a shortcut for a validation error on a single field.
func Field(field, problem string) *Error {
	return Validation(field+" "+problem, map[string]string{field: problem})
}

// InvalidRecurrence reports a weekly rule that cannot produce sessions.
func InvalidRecurrence(msg string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidRecurrence, Message: msg}
}

// Forbidden reports an actor that may not touch the resource.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Code: string(KindForbidden), Message: msg}
}

// Unauthorized reports a missing or invalid identity.
func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Code: string(KindUnauthorized), Message: msg}
}

// NotFound reports a missing referenced entity.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Code: string(KindNotFound), Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// Conflict reports an overlapping session of the same teacher.
func Conflict(sessionID string) *Error {
	return &Error{
		Kind:              KindSchedulingConflict,
		Code:              string(KindSchedulingConflict),
		Message:           "teacher already has session " + sessionID + " in this time slot",
		ConflictSessionID: sessionID,
	}
}

// InvalidEnrollment reports students without an active enrollment.
func InvalidEnrollment(studentIDs []string) *Error {
	ids := append([]string(nil), studentIDs...)
	sort.Strings(ids)
	return &Error{
		Kind:       KindInvalidEnrollment,
		Code:       string(KindInvalidEnrollment),
		Message:    "students not enrolled in class section: " + strings.Join(ids, ", "),
		StudentIDs: ids,
	}
}

// SessionLocked reports a session that no longer accepts attendance.
func SessionLocked(msg string) *Error {
	return &Error{Kind: KindSessionLocked, Code: string(KindSessionLocked), Message: msg}
}

// Internal wraps an unexpected failure. The message shown to callers stays generic.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: string(KindInternal), Message: "internal error", Err: err}
}

// As extracts an *Error from err. Anything else is reported as KindInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindValidation, KindSessionLocked:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindSchedulingConflict:
		return http.StatusConflict
	case KindInvalidEnrollment:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
