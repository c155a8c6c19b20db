// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/turbine-shutdown/backend/internal/models"
)

// APIError represents a structured API error response
type APIError struct {
	Status     int    `json:"-" msgpack:"-"`
	Code       string `json:"code" msgpack:"code"`
	Message    string `json:"message" msgpack:"message"`
	Details    string `json:"details,omitempty" msgpack:"details,omitempty"`
	SessionID  string `json:"sessionId,omitempty" msgpack:"sessionId,omitempty"`
	StepNumber int    `json:"stepNumber,omitempty" msgpack:"stepNumber,omitempty"`
	UserID     string `json:"userId,omitempty" msgpack:"userId,omitempty"`
	Parameter  string `json:"parameter,omitempty" msgpack:"parameter,omitempty"`
	Constraint string `json:"constraint,omitempty" msgpack:"constraint,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewUnauthorizedError creates a 401 error for requests without a user id
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

var kindStatus = map[models.ErrorKind]int{
	models.KindAlreadyActive:           http.StatusConflict,
	models.KindInvalidSessionState:     http.StatusConflict,
	models.KindInsufficientRole:        http.StatusForbidden,
	models.KindOverrideNotAllowed:      http.StatusUnprocessableEntity,
	models.KindSelfAuthorizationDenied: http.StatusForbidden,
	models.KindUserInactive:            http.StatusForbidden,
	models.KindOutOfRange:              http.StatusConflict,
	models.KindSensorUnavailable:       http.StatusServiceUnavailable,
	models.KindSessionNotFound:         http.StatusNotFound,
	models.KindUserNotFound:            http.StatusUnauthorized,
	models.KindInvalidSignoff:          http.StatusUnprocessableEntity,
	models.KindAuditFailed:             http.StatusInternalServerError,
	models.KindPersistenceFailed:       http.StatusInternalServerError,
}

// FromDomainError converts a models.Error into an APIError carrying every
// structured field. Other errors become a generic 500.
func FromDomainError(err error) *APIError {
	var de *models.Error
	if !errors.As(err, &de) {
		return NewInternalError("An unexpected error occurred", err)
	}
	status, ok := kindStatus[de.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	apiErr := &APIError{
		Status:     status,
		Code:       string(de.Kind),
		Message:    de.Message,
		SessionID:  de.SessionID,
		StepNumber: de.StepNumber,
		UserID:     de.UserID,
		Parameter:  de.Parameter,
		Constraint: de.Constraint,
	}
	if de.Err != nil {
		apiErr.Details = de.Err.Error()
	}
	return apiErr
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError
	var domainErr *models.Error

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &domainErr):
		apiErr = FromDomainError(domainErr)
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = NewInternalError("An unexpected error occurred", err)
	}

	_ = respond(c, apiErr.Status, apiErr)
}
