package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies domain errors so adapters can render a specific remediation.
type ErrorKind string

const (
	KindAlreadyActive           ErrorKind = "ALREADY_ACTIVE"
	KindInvalidSessionState     ErrorKind = "INVALID_SESSION_STATE"
	KindInsufficientRole        ErrorKind = "INSUFFICIENT_ROLE"
	KindOverrideNotAllowed      ErrorKind = "OVERRIDE_NOT_ALLOWED"
	KindSelfAuthorizationDenied ErrorKind = "SELF_AUTHORIZATION_DENIED"
	KindUserInactive            ErrorKind = "USER_INACTIVE"
	KindOutOfRange              ErrorKind = "OUT_OF_RANGE"
	KindSensorUnavailable       ErrorKind = "SENSOR_UNAVAILABLE"
	KindSessionNotFound         ErrorKind = "SESSION_NOT_FOUND"
	KindUserNotFound            ErrorKind = "USER_NOT_FOUND"
	KindInvalidSignoff          ErrorKind = "INVALID_SIGNOFF"
	KindAuditFailed             ErrorKind = "AUDIT_FAILED"
	KindPersistenceFailed       ErrorKind = "PERSISTENCE_FAILED"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its Kind.
var (
	ErrAlreadyActive           = &Error{Kind: KindAlreadyActive}
	ErrInvalidSessionState     = &Error{Kind: KindInvalidSessionState}
	ErrInsufficientRole        = &Error{Kind: KindInsufficientRole}
	ErrOverrideNotAllowed      = &Error{Kind: KindOverrideNotAllowed}
	ErrSelfAuthorizationDenied = &Error{Kind: KindSelfAuthorizationDenied}
	ErrUserInactive            = &Error{Kind: KindUserInactive}
	ErrOutOfRange              = &Error{Kind: KindOutOfRange}
	ErrSensorUnavailable       = &Error{Kind: KindSensorUnavailable}
	ErrSessionNotFound         = &Error{Kind: KindSessionNotFound}
	ErrUserNotFound            = &Error{Kind: KindUserNotFound}
	ErrInvalidSignoff          = &Error{Kind: KindInvalidSignoff}
	ErrAuditFailed             = &Error{Kind: KindAuditFailed}
	ErrPersistenceFailed       = &Error{Kind: KindPersistenceFailed}
)

// Error is a typed domain error carrying the detail needed to explain it.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	SessionID  string    `json:"sessionId,omitempty"`
	PlantID    int64     `json:"plantId,omitempty"`
	StepNumber int       `json:"stepNumber,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	Parameter  string    `json:"parameter,omitempty"`
	Constraint string    `json:"constraint,omitempty"`
	Err        error     `json:"-"`
}

// NewError builds an *Error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithSession attaches the session id.
func (e *Error) WithSession(id string) *Error {
	e.SessionID = id
	return e
}

// WithStep attaches the step number.
func (e *Error) WithStep(step int) *Error {
	e.StepNumber = step
	return e
}

// WithUser attaches the user id.
func (e *Error) WithUser(id string) *Error {
	e.UserID = id
	return e
}

// WithConstraint attaches the violated constraint.
func (e *Error) WithConstraint(c string) *Error {
	e.Constraint = c
	return e
}

// Wrap attaches a cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the kind of err, or "" when err is not a domain error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
